// Package directory holds typed clients for the document and user services
// the workflow engine collaborates with. Both are consumed, never owned:
// the engine reads documents and users and writes only the legacy workflow
// mirror in a document's custom fields.
package directory

import "context"

// Document is the subset of the document service's record the engine needs.
type Document struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	OrganizationID string         `json:"organizationId"`
	CustomFields   map[string]any `json:"customFields,omitempty"`
}

// User is the subset of the user service's record the engine needs.
type User struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Role      Role   `json:"role"`
}

// Role carries a role name and its granted permissions.
type Role struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
}

// DisplayName returns the user's full name, falling back to the email.
func (u User) DisplayName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	default:
		return u.Email
	}
}

// DocumentService reads documents and updates their custom-fields bag.
type DocumentService interface {
	GetDocument(ctx context.Context, documentID string) (Document, error)
	UpdateCustomFields(ctx context.Context, documentID string, fields map[string]any) error
}

// UserDirectory resolves users and their roles.
type UserDirectory interface {
	GetUser(ctx context.Context, userID string) (User, error)
}
