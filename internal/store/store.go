// Package store persists workflow instances and their append-only history.
package store

import (
	"context"

	"github.com/quorumdocs/docflow/model"
)

// InstanceStore is the persistence interface for workflow instances and
// history. History rows are append-only; they are deleted only together with
// their instance.
type InstanceStore interface {
	// CreateIfAbsent inserts the instance unless one already exists for the
	// same (document, workflow) pair. It returns the stored instance and
	// whether this call created it. Losing an insert race returns the
	// winner's row, not an error.
	CreateIfAbsent(ctx context.Context, inst model.WorkflowInstance) (model.WorkflowInstance, bool, error)

	// GetByID retrieves an instance by its ID.
	GetByID(ctx context.Context, instanceID string) (model.WorkflowInstance, error)

	// GetNewestByDocument retrieves the most recently created instance for a
	// document.
	GetNewestByDocument(ctx context.Context, documentID string) (model.WorkflowInstance, error)

	// ListByDocument returns all instances for a document, newest first.
	ListByDocument(ctx context.Context, documentID string) ([]model.WorkflowInstance, error)

	// Update persists instance state. Last write wins; the history trail is
	// the durable record of what happened.
	Update(ctx context.Context, inst model.WorkflowInstance) error

	// ApplyTransition persists an instance update together with a history
	// entry as one atomic unit. Either both are stored or neither is.
	ApplyTransition(ctx context.Context, inst model.WorkflowInstance, entry model.HistoryEntry) error

	// DeleteByDocument removes all instances for a document and their
	// history. Returns the number of instances removed.
	DeleteByDocument(ctx context.Context, documentID string) (int, error)

	// PruneDuplicates keeps the newest instance for a document and deletes
	// the rest with their history. The delete set is computed from a single
	// consistent ordered read. Returns the number of instances removed.
	PruneDuplicates(ctx context.Context, documentID string) (int, error)

	// AppendHistory adds a history entry.
	AppendHistory(ctx context.Context, entry model.HistoryEntry) error

	// ListHistory returns all history for an instance, oldest first.
	ListHistory(ctx context.Context, instanceID string) ([]model.HistoryEntry, error)

	// RecentHistory returns up to limit entries for an instance, newest first.
	RecentHistory(ctx context.Context, instanceID string, limit int) ([]model.HistoryEntry, error)

	// ListDocumentIDs returns the distinct document IDs holding instances.
	ListDocumentIDs(ctx context.Context) ([]string, error)

	// DeactivateAll marks every active instance inactive. Returns the number
	// of instances deactivated.
	DeactivateAll(ctx context.Context) (int, error)

	// Stats aggregates instance counts and completion timing.
	Stats(ctx context.Context) (model.WorkflowStats, error)

	// HealthCheck verifies the store is reachable.
	HealthCheck(ctx context.Context) error
}
