package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/quorumdocs/docflow/model"
)

// MemoryStore is an in-memory InstanceStore for testing and single-node use.
type MemoryStore struct {
	mu        sync.RWMutex
	instances map[string]model.WorkflowInstance // key: instance ID
	history   map[string][]model.HistoryEntry   // key: instance ID
}

// NewMemoryStore creates a new in-memory instance store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		instances: make(map[string]model.WorkflowInstance),
		history:   make(map[string][]model.HistoryEntry),
	}
}

// CreateIfAbsent inserts the instance unless one exists for the same
// (document, workflow) pair.
func (s *MemoryStore) CreateIfAbsent(_ context.Context, inst model.WorkflowInstance) (model.WorkflowInstance, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.instances {
		if existing.DocumentID == inst.DocumentID && existing.WorkflowID == inst.WorkflowID {
			return existing, false, nil
		}
	}
	if _, exists := s.instances[inst.ID]; exists {
		return model.WorkflowInstance{}, false, model.NewConflictError(
			fmt.Sprintf("workflow instance %q already exists", inst.ID),
		)
	}

	s.instances[inst.ID] = inst
	return inst, true, nil
}

// GetByID retrieves an instance by ID.
func (s *MemoryStore) GetByID(_ context.Context, instanceID string) (model.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, exists := s.instances[instanceID]
	if !exists {
		return model.WorkflowInstance{}, model.NewWorkflowNotFoundError(
			fmt.Sprintf("workflow instance %q not found", instanceID),
		)
	}
	return inst, nil
}

// GetNewestByDocument retrieves the most recently created instance for a document.
func (s *MemoryStore) GetNewestByDocument(ctx context.Context, documentID string) (model.WorkflowInstance, error) {
	instances, err := s.ListByDocument(ctx, documentID)
	if err != nil {
		return model.WorkflowInstance{}, err
	}
	if len(instances) == 0 {
		return model.WorkflowInstance{}, model.NewWorkflowNotFoundError(
			fmt.Sprintf("no workflow instance found for document %q", documentID),
		)
	}
	return instances[0], nil
}

// ListByDocument returns all instances for a document, newest first.
func (s *MemoryStore) ListByDocument(_ context.Context, documentID string) ([]model.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listByDocumentLocked(documentID), nil
}

func (s *MemoryStore) listByDocumentLocked(documentID string) []model.WorkflowInstance {
	var result []model.WorkflowInstance
	for _, inst := range s.instances {
		if inst.DocumentID == documentID {
			result = append(result, inst)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})
	return result
}

// Update persists instance state. Last write wins.
func (s *MemoryStore) Update(_ context.Context, inst model.WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(inst)
}

func (s *MemoryStore) updateLocked(inst model.WorkflowInstance) error {
	if _, exists := s.instances[inst.ID]; !exists {
		return model.NewWorkflowNotFoundError(
			fmt.Sprintf("workflow instance %q not found", inst.ID),
		)
	}
	inst.UpdatedAt = time.Now().UTC()
	s.instances[inst.ID] = inst
	return nil
}

// ApplyTransition persists an instance update and a history entry atomically.
func (s *MemoryStore) ApplyTransition(_ context.Context, inst model.WorkflowInstance, entry model.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.updateLocked(inst); err != nil {
		return err
	}
	s.history[entry.WorkflowInstanceID] = append(s.history[entry.WorkflowInstanceID], entry)
	return nil
}

// DeleteByDocument removes all instances for a document and their history.
func (s *MemoryStore) DeleteByDocument(_ context.Context, documentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, inst := range s.instances {
		if inst.DocumentID == documentID {
			delete(s.history, id)
			delete(s.instances, id)
			deleted++
		}
	}
	return deleted, nil
}

// PruneDuplicates keeps the newest instance for a document and removes the rest.
func (s *MemoryStore) PruneDuplicates(_ context.Context, documentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	instances := s.listByDocumentLocked(documentID)
	if len(instances) <= 1 {
		return 0, nil
	}

	for _, inst := range instances[1:] {
		delete(s.history, inst.ID)
		delete(s.instances, inst.ID)
	}
	return len(instances) - 1, nil
}

// AppendHistory adds a history entry.
func (s *MemoryStore) AppendHistory(_ context.Context, entry model.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history[entry.WorkflowInstanceID] = append(s.history[entry.WorkflowInstanceID], entry)
	return nil
}

// ListHistory returns all history for an instance, oldest first.
func (s *MemoryStore) ListHistory(_ context.Context, instanceID string) ([]model.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.history[instanceID]
	result := make([]model.HistoryEntry, len(entries))
	copy(result, entries)
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// RecentHistory returns up to limit entries for an instance, newest first.
func (s *MemoryStore) RecentHistory(ctx context.Context, instanceID string, limit int) ([]model.HistoryEntry, error) {
	entries, err := s.ListHistory(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	// Reverse to newest first.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return entries, nil
}

// ListDocumentIDs returns the distinct document IDs holding instances.
func (s *MemoryStore) ListDocumentIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var ids []string
	for _, inst := range s.instances {
		if !seen[inst.DocumentID] {
			seen[inst.DocumentID] = true
			ids = append(ids, inst.DocumentID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// DeactivateAll marks every active instance inactive.
func (s *MemoryStore) DeactivateAll(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	count := 0
	for id, inst := range s.instances {
		if inst.IsActive {
			inst.IsActive = false
			inst.UpdatedAt = now
			s.instances[id] = inst
			count++
		}
	}
	return count, nil
}

// Stats aggregates instance counts and completion timing.
func (s *MemoryStore) Stats(_ context.Context) (model.WorkflowStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats model.WorkflowStats
	var totalSeconds float64
	for _, inst := range s.instances {
		stats.Total++
		switch {
		case inst.CompletedAt != nil:
			stats.Completed++
			totalSeconds += inst.CompletedAt.Sub(inst.CreatedAt).Seconds()
		case inst.IsActive:
			stats.Active++
		default:
			stats.Inactive++
		}
	}
	if stats.Completed > 0 {
		stats.AverageCompletionSeconds = totalSeconds / float64(stats.Completed)
	}
	return stats, nil
}

// HealthCheck always succeeds for the in-memory store.
func (s *MemoryStore) HealthCheck(_ context.Context) error {
	return nil
}

// Len returns the total number of instances. For testing.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.instances)
}
