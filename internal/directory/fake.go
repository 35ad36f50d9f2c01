package directory

import (
	"context"
	"fmt"
	"sync"

	"github.com/quorumdocs/docflow/model"
)

// FakeDocumentService is an in-memory DocumentService for tests.
type FakeDocumentService struct {
	mu   sync.Mutex
	docs map[string]Document
}

// NewFakeDocumentService creates a fake seeded with the given documents.
func NewFakeDocumentService(docs ...Document) *FakeDocumentService {
	f := &FakeDocumentService{docs: make(map[string]Document)}
	for _, d := range docs {
		f.docs[d.ID] = d
	}
	return f
}

func (f *FakeDocumentService) GetDocument(_ context.Context, documentID string) (Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[documentID]
	if !ok {
		return Document{}, model.NewNotFoundError(fmt.Sprintf("document %q not found", documentID))
	}
	return doc, nil
}

func (f *FakeDocumentService) UpdateCustomFields(_ context.Context, documentID string, fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[documentID]
	if !ok {
		return model.NewNotFoundError(fmt.Sprintf("document %q not found", documentID))
	}
	doc.CustomFields = fields
	f.docs[documentID] = doc
	return nil
}

// CustomFields returns the stored custom fields for assertions.
func (f *FakeDocumentService) CustomFields(documentID string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.docs[documentID].CustomFields
}

// FakeUserDirectory is an in-memory UserDirectory for tests.
type FakeUserDirectory struct {
	mu    sync.Mutex
	users map[string]User
}

// NewFakeUserDirectory creates a fake seeded with the given users.
func NewFakeUserDirectory(users ...User) *FakeUserDirectory {
	f := &FakeUserDirectory{users: make(map[string]User)}
	for _, u := range users {
		f.users[u.ID] = u
	}
	return f
}

func (f *FakeUserDirectory) GetUser(_ context.Context, userID string) (User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return User{}, model.NewNotFoundError(fmt.Sprintf("user %q not found", userID))
	}
	return user, nil
}
