// Package integration provides a reusable test harness for end-to-end
// testing of the docflow server. It starts a full HTTP server with mock
// directory services, in-memory stores, and a test JWT issuer.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/quorumdocs/docflow/internal/config"
	"github.com/quorumdocs/docflow/internal/definition"
	"github.com/quorumdocs/docflow/internal/directory"
	"github.com/quorumdocs/docflow/internal/history"
	"github.com/quorumdocs/docflow/internal/lifecycle"
	"github.com/quorumdocs/docflow/internal/observability"
	"github.com/quorumdocs/docflow/internal/policy"
	"github.com/quorumdocs/docflow/internal/projector"
	"github.com/quorumdocs/docflow/internal/store"
	"github.com/quorumdocs/docflow/internal/transition"
	"github.com/quorumdocs/docflow/internal/transport"
)

// TestHarness encapsulates a fully wired docflow instance with mock
// directory backends for integration testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	// Internal components exposed for advanced test scenarios.
	Registry      *definition.Registry
	InstanceStore *store.MemoryStore
	Manager       *lifecycle.Manager
	Engine        *transition.Engine
	Documents     *MockDocumentService
	Users         *MockUserService
	Projector     *projector.DocumentProjector

	cfg *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	definitionDirs []string
	policyFile     string
	handlerTimeout time.Duration
}

// WithDefinitions sets the definition directories to load. Relative paths
// are resolved from the testdata directory.
func WithDefinitions(dirs ...string) HarnessOption {
	return func(c *harnessConfig) {
		c.definitionDirs = dirs
	}
}

// WithPolicyFile sets the policy YAML file for the authorization gate.
func WithPolicyFile(path string) HarnessOption {
	return func(c *harnessConfig) {
		c.policyFile = path
	}
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.handlerTimeout = d
	}
}

// NewTestHarness creates and starts a full docflow test instance. The server
// is automatically cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		handlerTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(hc)
	}

	if len(hc.definitionDirs) == 0 {
		hc.definitionDirs = []string{filepath.Join(testdataDir(), "definitions")}
	}

	h := &TestHarness{t: t}
	logger := zap.NewNop()

	// Step 1: Mock directory backends.
	h.Documents = newMockDocumentService(t)
	h.Users = newMockUserService(t)

	// Step 2: Load and validate definitions.
	loader := definition.NewLoader()
	files, err := loader.LoadAll(hc.definitionDirs)
	if err != nil {
		t.Fatalf("load definitions: %v", err)
	}
	validator := definition.NewValidator()
	if verrs := validator.Validate(files); len(verrs) > 0 {
		t.Fatalf("definition validation: %v", verrs)
	}
	h.Registry = definition.NewRegistry(files)

	// Step 3: Authorization gate.
	var gate *policy.Gate
	if hc.policyFile != "" {
		gate, err = policy.NewGate(hc.policyFile)
		if err != nil {
			t.Fatalf("load policy: %v", err)
		}
	} else {
		gate = policy.Default()
	}

	// Step 4: Stores and directory clients.
	h.InstanceStore = store.NewMemoryStore()

	svcCfg := func(baseURL string) config.ServiceConfig {
		return config.ServiceConfig{
			BaseURL: baseURL,
			Timeout: 5 * time.Second,
			CircuitBreaker: config.CircuitBreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 1,
				Timeout:          time.Second,
			},
		}
	}
	docs := directory.NewDocumentClient(svcCfg(h.Documents.URL()), logger)
	users := directory.NewUserClient(svcCfg(h.Users.URL()), logger)

	// Step 5: Projector pushing to the mock document service.
	h.Projector = projector.NewDocumentProjector(docs, 16, logger)
	t.Cleanup(h.Projector.Close)

	// Step 6: Domain services.
	h.Manager = lifecycle.NewManager(h.Registry, h.InstanceStore, store.NoopCache{}, h.Projector, logger)
	h.Engine = transition.NewEngine(h.Registry, h.InstanceStore, store.NoopCache{}, gate, users, h.Projector, logger)
	recorder := history.NewRecorder(h.InstanceStore, users, logger)

	// Step 7: JWT issuer and config.
	h.issuer = newTokenIssuer(t)

	h.cfg = config.Defaults()
	h.cfg.Server.HandlerTimeout = hc.handlerTimeout
	h.cfg.Observability.Metrics.Enabled = false
	h.cfg.Identity = config.IdentityConfig{
		Issuer:       h.issuer.Issuer(),
		Audience:     h.issuer.Audience(),
		JWKSURL:      h.issuer.JWKSURL(),
		JWKSCacheTTL: time.Hour,
		Algorithms:   []string{"RS256"},
	}

	// Step 8: Router and server.
	jwks := transport.NewJWKSClient(h.issuer.JWKSURL(), time.Hour, logger)

	router := transport.NewRouter(transport.Dependencies{
		Config:           h.cfg,
		Logger:           logger,
		Authenticate:     transport.JWTAuthenticator(h.cfg.Identity, jwks),
		Manager:          h.Manager,
		Engine:           h.Engine,
		Recorder:         recorder,
		Registry:         h.Registry,
		IdempotencyStore: transport.NewMemoryIdempotencyStore(),
		ReadinessChecks: observability.ReadinessChecks{
			DefinitionsLoaded: func() bool { return len(h.Registry.AllWorkflows()) > 0 },
			InstanceStore:     h.InstanceStore,
		},
	})

	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)

	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// GenerateToken creates a valid JWT token with the given claims.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// GenerateExpiredToken creates a JWT that has already expired.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

// WaitForProjection polls the mock document service until a custom-fields
// bag for the document arrives or the deadline passes. Returns nil on
// timeout.
func (h *TestHarness) WaitForProjection(documentID string) map[string]any {
	h.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if fields := h.Documents.CustomFields(documentID); fields != nil {
			return fields
		}
		time.Sleep(10 * time.Millisecond)
	}
	return nil
}

// --- HTTP client helpers ---

// GET performs an authenticated GET request.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodGet, path, nil, token, nil)
}

// POST performs an authenticated POST request with a JSON body.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodPost, path, body, token, nil)
}

// POSTWithHeaders performs an authenticated POST request with extra headers.
func (h *TestHarness) POSTWithHeaders(path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodPost, path, body, token, headers)
}

// DELETE performs an authenticated DELETE request.
func (h *TestHarness) DELETE(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodDelete, path, nil, token, nil)
}

func (h *TestHarness) doRequest(method, path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, h.server.URL+path, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks the expected status and parses the body into target.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// --- Default test claims ---

// AuthorClaims returns TestClaims for a document author.
func AuthorClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-author",
		Email:     "author@quorum.example.com",
		Roles:     []string{"AUTHOR"},
	}
}

// AdminClaims returns TestClaims for a workflow administrator.
func AdminClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-admin",
		Email:     "admin@quorum.example.com",
		Roles:     []string{"WORKFLOW_ADMIN"},
	}
}

// ReviewerClaims returns TestClaims for a legal reviewer.
func ReviewerClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-reviewer",
		Email:     "reviewer@quorum.example.com",
		Roles:     []string{"LEGAL_REVIEWER"},
	}
}

// AdminUser returns a directory record matching AdminClaims.
func AdminUser() directory.User {
	return directory.User{
		ID:        "user-admin",
		FirstName: "Wanda",
		LastName:  "Admin",
		Email:     "admin@quorum.example.com",
		Role: directory.Role{
			Name:        "WORKFLOW_ADMIN",
			Permissions: []string{"MANAGE_WORKFLOW", "MOVE_BACKWARD"},
		},
	}
}

// AuthorUser returns a directory record matching AuthorClaims.
func AuthorUser() directory.User {
	return directory.User{
		ID:        "user-author",
		FirstName: "Alex",
		LastName:  "Author",
		Email:     "author@quorum.example.com",
		Role:      directory.Role{Name: "AUTHOR"},
	}
}

// ReviewerUser returns a directory record matching ReviewerClaims.
func ReviewerUser() directory.User {
	return directory.User{
		ID:        "user-reviewer",
		FirstName: "Rita",
		LastName:  "Reviewer",
		Email:     "reviewer@quorum.example.com",
		Role:      directory.Role{Name: "LEGAL_REVIEWER"},
	}
}

// --- Helpers ---

// testdataDir returns the absolute path to the testdata directory.
func testdataDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "testdata")
}

// FormatJSON converts a value to indented JSON for test output.
func FormatJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
