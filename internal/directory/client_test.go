package directory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/quorumdocs/docflow/internal/config"
	"github.com/quorumdocs/docflow/model"
)

func serviceConfig(baseURL string) config.ServiceConfig {
	return config.ServiceConfig{
		BaseURL: baseURL,
		Timeout: time.Second,
		CircuitBreaker: config.CircuitBreakerConfig{
			FailureThreshold: 2,
			SuccessThreshold: 1,
			Timeout:          time.Minute,
		},
	}
}

func TestUserClientGetUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/users/user-1" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(User{
			ID:        "user-1",
			FirstName: "Ada",
			LastName:  "Reviewer",
			Role:      Role{Name: "LEGAL_REVIEWER", Permissions: []string{"review"}},
		})
	}))
	defer srv.Close()

	c := NewUserClient(serviceConfig(srv.URL), zap.NewNop())

	user, err := c.GetUser(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if user.Role.Name != "LEGAL_REVIEWER" {
		t.Errorf("Role.Name = %q", user.Role.Name)
	}
	if user.DisplayName() != "Ada Reviewer" {
		t.Errorf("DisplayName() = %q", user.DisplayName())
	}

	_, err = c.GetUser(context.Background(), "missing")
	if env, ok := err.(*model.ErrorEnvelope); !ok || env.Code != model.ErrNotFound {
		t.Errorf("GetUser(missing) = %v, want NOT_FOUND", err)
	}
}

func TestDocumentClientUpdateCustomFields(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPatch {
			json.NewDecoder(r.Body).Decode(&received)
			w.WriteHeader(http.StatusOK)
			return
		}
		json.NewEncoder(w).Encode(Document{ID: "doc-1", Title: "Policy"})
	}))
	defer srv.Close()

	c := NewDocumentClient(serviceConfig(srv.URL), zap.NewNop())

	doc, err := c.GetDocument(context.Background(), "doc-1")
	if err != nil || doc.Title != "Policy" {
		t.Fatalf("GetDocument() = %+v, %v", doc, err)
	}

	err = c.UpdateCustomFields(context.Background(), "doc-1", map[string]any{"workflow": map[string]any{"stage": "2"}})
	if err != nil {
		t.Fatalf("UpdateCustomFields() error = %v", err)
	}
	if received["customFields"] == nil {
		t.Errorf("server received %v, want customFields payload", received)
	}
}

func TestClientBreakerOpensOnServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewUserClient(serviceConfig(srv.URL), zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := c.GetUser(ctx, "user-1"); err == nil {
			t.Fatal("GetUser() = nil error from failing server")
		}
	}

	// Breaker is now open; the next call fails without reaching the server.
	_, err := c.GetUser(ctx, "user-1")
	if env, ok := err.(*model.ErrorEnvelope); !ok || env.Code != model.ErrDirectoryUnavailable {
		t.Errorf("GetUser() with open breaker = %v, want DIRECTORY_UNAVAILABLE", err)
	}
}

func TestClientNotFoundDoesNotTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewUserClient(serviceConfig(srv.URL), zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := c.GetUser(ctx, "missing"); err == nil {
			t.Fatal("GetUser(missing) = nil error")
		}
	}
	if c.breaker.State() != BreakerClosed {
		t.Errorf("breaker state = %v after 404s, want closed", c.breaker.State())
	}
}
