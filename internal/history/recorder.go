// Package history is the read path for workflow audit trails. Writes happen
// inside the transition transaction; this package enriches stored entries
// with actor display information from the user directory.
package history

import (
	"context"

	"go.uber.org/zap"

	"github.com/quorumdocs/docflow/internal/directory"
	"github.com/quorumdocs/docflow/internal/store"
	"github.com/quorumdocs/docflow/model"
)

// Recorder reads workflow history and resolves actors.
type Recorder struct {
	store  store.InstanceStore
	users  directory.UserDirectory
	logger *zap.Logger
}

// NewRecorder creates a history recorder.
func NewRecorder(st store.InstanceStore, users directory.UserDirectory, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{store: st, users: users, logger: logger}
}

// History returns the full audit trail for an instance, oldest first, with
// actor display info resolved through the user directory. A failed lookup
// leaves the entry's actor nil; the trail itself is never withheld because
// the directory is down.
func (r *Recorder) History(ctx context.Context, instanceID string) ([]model.HistoryView, error) {
	if _, err := r.store.GetByID(ctx, instanceID); err != nil {
		return nil, err
	}

	entries, err := r.store.ListHistory(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	actors := make(map[string]*model.ActorInfo, 4)
	views := make([]model.HistoryView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, model.HistoryView{
			HistoryEntry: entry,
			Actor:        r.resolveActor(ctx, actors, entry.PerformedBy),
		})
	}
	return views, nil
}

// resolveActor looks up an actor once per request, caching nil for failed
// lookups so a down directory costs one call per distinct actor.
func (r *Recorder) resolveActor(ctx context.Context, cache map[string]*model.ActorInfo, actorID string) *model.ActorInfo {
	if actorID == "" {
		return nil
	}
	if actor, ok := cache[actorID]; ok {
		return actor
	}

	user, err := r.users.GetUser(ctx, actorID)
	if err != nil {
		r.logger.Debug("actor lookup failed",
			zap.String("actor_id", actorID), zap.Error(err))
		cache[actorID] = nil
		return nil
	}

	actor := &model.ActorInfo{
		ID:    user.ID,
		Name:  user.DisplayName(),
		Email: user.Email,
		Role:  user.Role.Name,
	}
	cache[actorID] = actor
	return actor
}
