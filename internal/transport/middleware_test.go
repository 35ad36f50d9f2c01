package transport

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/quorumdocs/docflow/internal/config"
	"github.com/quorumdocs/docflow/model"
)

func TestRequestIDGeneratesAndEchoes(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationIDFrom(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" {
		t.Fatal("no correlation id generated")
	}
	if got := rec.Header().Get("X-Correlation-Id"); got != seen {
		t.Errorf("response header = %q, context = %q", got, seen)
	}

	// A client-supplied id is propagated unchanged.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Correlation-Id", "corr-123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if seen != "corr-123" {
		t.Errorf("correlation id = %q, want corr-123", seen)
	}
}

func TestBuildRequestContextFromClaims(t *testing.T) {
	var rctx *model.RequestContext
	h := BuildRequestContext(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rctx = model.RequestContextFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Timezone", "America/New_York")
	ctx := WithClaims(req.Context(), map[string]any{
		"sub":   "user-7",
		"email": "u7@example.com",
		"roles": []any{"AUTHOR", "OPR"},
		"sid":   "sess-1",
	})
	h.ServeHTTP(httptest.NewRecorder(), req.WithContext(ctx))

	if rctx == nil {
		t.Fatal("no request context built")
	}
	if rctx.ActorID != "user-7" || rctx.Email != "u7@example.com" {
		t.Errorf("actor = %q email = %q", rctx.ActorID, rctx.Email)
	}
	if len(rctx.Roles) != 2 || rctx.Roles[0] != "AUTHOR" {
		t.Errorf("roles = %v", rctx.Roles)
	}
	if rctx.Timezone != "America/New_York" {
		t.Errorf("timezone = %q", rctx.Timezone)
	}
}

func TestBuildRequestContextWithoutClaims(t *testing.T) {
	var rctx *model.RequestContext
	h := BuildRequestContext(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rctx = model.RequestContextFrom(r.Context())
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if rctx == nil {
		t.Fatal("request context should exist even without claims")
	}
	if rctx.ActorID != "" || rctx.Roles != nil {
		t.Errorf("anonymous context = %+v", rctx)
	}
}

func TestRecoveryTurnsPanicInto500(t *testing.T) {
	h := Recovery(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	mw := CORS(config.CORSConfig{
		AllowedOrigins: []string{"https://app.example.com"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Authorization"},
		MaxAge:         300,
	})
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("allow-origin = %q", got)
	}

	// Unlisted origins get no CORS headers.
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("allow-origin for unlisted origin = %q", got)
	}

	// Preflight short-circuits.
	req = httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rec.Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q", got)
	}
}
