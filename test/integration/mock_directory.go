package integration

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/quorumdocs/docflow/internal/directory"
)

// MockDocumentService is a fake document service backend. It serves documents
// over HTTP and records custom-field updates pushed by the projector.
type MockDocumentService struct {
	mu     sync.Mutex
	server *httptest.Server
	docs   map[string]directory.Document
	fields map[string]map[string]any
	fail   bool
}

func newMockDocumentService(t *testing.T) *MockDocumentService {
	t.Helper()

	m := &MockDocumentService{
		docs:   make(map[string]directory.Document),
		fields: make(map[string]map[string]any),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/documents/{id}", func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		doc, ok := m.docs[r.PathValue("id")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(doc)
	})
	mux.HandleFunc("PATCH /api/documents/{id}/custom-fields", func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		var body struct {
			CustomFields map[string]any `json:"customFields"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		m.fields[r.PathValue("id")] = body.CustomFields
		w.WriteHeader(http.StatusOK)
	})

	m.server = httptest.NewServer(mux)
	t.Cleanup(m.server.Close)
	return m
}

// URL returns the base URL of the mock service.
func (m *MockDocumentService) URL() string {
	return m.server.URL
}

// AddDocument registers a document that GetDocument will serve.
func (m *MockDocumentService) AddDocument(doc directory.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.ID] = doc
}

// CustomFields returns the last custom-fields bag pushed for the document,
// or nil if none was pushed.
func (m *MockDocumentService) CustomFields(documentID string) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fields[documentID]
}

// SetFailing makes the backend answer 500 to every request.
func (m *MockDocumentService) SetFailing(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = fail
}

// MockUserService is a fake user directory backend.
type MockUserService struct {
	mu     sync.Mutex
	server *httptest.Server
	users  map[string]directory.User
}

func newMockUserService(t *testing.T) *MockUserService {
	t.Helper()

	m := &MockUserService{users: make(map[string]directory.User)}

	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/api/users/")
		m.mu.Lock()
		user, ok := m.users[id]
		m.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(user)
	}))
	t.Cleanup(m.server.Close)
	return m
}

// URL returns the base URL of the mock service.
func (m *MockUserService) URL() string {
	return m.server.URL
}

// AddUser registers a user that GetUser will serve.
func (m *MockUserService) AddUser(user directory.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
}
