// Package lifecycle manages per-document workflow instances: one instance
// per (document, definition) pair, created pre-activated, advanced stage by
// stage, and destroyed only by an explicit reset.
package lifecycle

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quorumdocs/docflow/internal/definition"
	"github.com/quorumdocs/docflow/internal/store"
	"github.com/quorumdocs/docflow/model"
)

// recentHistoryLimit bounds the history attached to a status read.
const recentHistoryLimit = 10

// Projector mirrors instance state into external read models, best effort.
type Projector interface {
	ProjectInstance(inst model.WorkflowInstance)
	ProjectReset(documentID string)
}

// Manager owns the workflow instance lifecycle for documents.
type Manager struct {
	registry  *definition.Registry
	store     store.InstanceStore
	cache     store.StatusCache
	projector Projector
	logger    *zap.Logger
	locks     *documentLocks
}

// NewManager creates a lifecycle manager. cache and projector may be nil.
func NewManager(registry *definition.Registry, st store.InstanceStore,
	cache store.StatusCache, projector Projector, logger *zap.Logger) *Manager {
	if cache == nil {
		cache = store.NoopCache{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		registry:  registry,
		store:     st,
		cache:     cache,
		projector: projector,
		logger:    logger,
		locks:     newDocumentLocks(),
	}
}

// GetOrCreate returns the document's instance for the requested definition,
// creating it pre-activated at the first stage when none exists. An instance
// bound to a different definition is destroyed together with its history and
// replaced: a document follows one workflow type at a time.
func (m *Manager) GetOrCreate(ctx context.Context, rctx *model.RequestContext, documentID, workflowID string) (model.WorkflowInstance, error) {
	unlock := m.locks.Lock(documentID)
	defer unlock()

	if _, err := m.store.PruneDuplicates(ctx, documentID); err != nil {
		return model.WorkflowInstance{}, err
	}

	existing, err := m.store.GetNewestByDocument(ctx, documentID)
	switch {
	case err == nil && existing.WorkflowID == workflowID:
		return existing, nil
	case err == nil:
		// Wrong definition: replace it.
		m.logger.Info("replacing workflow instance of different type",
			zap.String("document_id", documentID),
			zap.String("old_workflow_id", existing.WorkflowID),
			zap.String("new_workflow_id", workflowID))
		if _, err := m.store.DeleteByDocument(ctx, documentID); err != nil {
			return model.WorkflowInstance{}, err
		}
	case !isWorkflowNotFound(err):
		return model.WorkflowInstance{}, err
	}

	wfDef, ok := m.registry.GetWorkflow(workflowID)
	if !ok {
		return model.WorkflowInstance{}, model.NewDefinitionNotFoundError(workflowID)
	}
	firstStage, ok := wfDef.FirstStage()
	if !ok {
		return model.WorkflowInstance{}, model.NewNoStartingStageError(workflowID)
	}

	now := time.Now().UTC()
	inst := model.WorkflowInstance{
		ID:             uuid.New().String(),
		DocumentID:     documentID,
		WorkflowID:     workflowID,
		CurrentStageID: firstStage.ID,
		IsActive:       true,
		Metadata: map[string]any{
			model.MetaWorkflowName:    wfDef.Name,
			model.MetaWorkflowVersion: wfDef.Version,
			model.MetaCreatedBy:       rctx.ActorID,
			"createdAt":               now.Format(time.RFC3339),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	created, wasCreated, err := m.store.CreateIfAbsent(ctx, inst)
	if err != nil {
		return model.WorkflowInstance{}, err
	}
	if wasCreated {
		m.logger.Info("created workflow instance",
			zap.String("document_id", documentID),
			zap.String("workflow_id", workflowID),
			zap.String("instance_id", created.ID))
		m.invalidate(ctx, documentID)
		m.project(created)
	}
	return created, nil
}

// Start activates the document's instance and rewinds it to the first stage,
// clearing any completion timestamp. The stage it was rewound from is kept in
// metadata.
func (m *Manager) Start(ctx context.Context, rctx *model.RequestContext, documentID string) (model.WorkflowInstance, error) {
	unlock := m.locks.Lock(documentID)
	defer unlock()

	if _, err := m.store.PruneDuplicates(ctx, documentID); err != nil {
		return model.WorkflowInstance{}, err
	}

	inst, err := m.store.GetNewestByDocument(ctx, documentID)
	if err != nil {
		return model.WorkflowInstance{}, err
	}

	wfDef, ok := m.registry.GetWorkflow(inst.WorkflowID)
	if !ok {
		return model.WorkflowInstance{}, model.NewDefinitionNotFoundError(inst.WorkflowID)
	}
	firstStage, ok := wfDef.FirstStage()
	if !ok {
		return model.WorkflowInstance{}, model.NewNoStartingStageError(inst.WorkflowID)
	}

	md := inst.MetadataCopy()
	md[model.MetaStartedBy] = rctx.ActorID
	md[model.MetaStartedAt] = time.Now().UTC().Format(time.RFC3339)
	md[model.MetaPreviousStageID] = inst.CurrentStageID
	if inst.CurrentStageID != firstStage.ID {
		md["resetFromStage"] = inst.CurrentStageID
	}

	inst.IsActive = true
	inst.CurrentStageID = firstStage.ID
	inst.CompletedAt = nil
	inst.Metadata = md

	if err := m.store.Update(ctx, inst); err != nil {
		return model.WorkflowInstance{}, err
	}
	m.logger.Info("started workflow",
		zap.String("document_id", documentID),
		zap.String("instance_id", inst.ID))
	m.invalidate(ctx, documentID)
	m.project(inst)
	return inst, nil
}

// Advance moves the document's active instance to the next stage by order.
// When no next stage exists the workflow completes: it is deactivated, the
// completion timestamp is set, and a completion history row is recorded.
// Advancing a completed workflow fails with WORKFLOW_NOT_ACTIVE.
func (m *Manager) Advance(ctx context.Context, rctx *model.RequestContext, documentID string) (model.WorkflowInstance, error) {
	unlock := m.locks.Lock(documentID)
	defer unlock()

	if _, err := m.store.PruneDuplicates(ctx, documentID); err != nil {
		return model.WorkflowInstance{}, err
	}

	inst, err := m.store.GetNewestByDocument(ctx, documentID)
	if err != nil {
		return model.WorkflowInstance{}, err
	}
	if !inst.IsActive {
		return model.WorkflowInstance{}, model.NewWorkflowNotActiveError(
			fmt.Sprintf("no active workflow found for document %q", documentID),
		)
	}

	wfDef, ok := m.registry.GetWorkflow(inst.WorkflowID)
	if !ok {
		return model.WorkflowInstance{}, model.NewDefinitionNotFoundError(inst.WorkflowID)
	}
	currentStage, ok := wfDef.Stage(inst.CurrentStageID)
	if !ok {
		return model.WorkflowInstance{}, model.NewInvalidTransitionError(
			fmt.Sprintf("current stage %q not found in workflow %q", inst.CurrentStageID, inst.WorkflowID),
		)
	}

	nextStage, hasNext := nextStageAfter(wfDef, currentStage)
	now := time.Now().UTC()

	if !hasNext {
		md := inst.MetadataCopy()
		md[model.MetaCompletedBy] = rctx.ActorID
		md[model.MetaCompletedAt] = now.Format(time.RFC3339)

		inst.IsActive = false
		inst.CompletedAt = &now
		inst.Metadata = md

		entry := model.HistoryEntry{
			ID:                 uuid.New().String(),
			WorkflowInstanceID: inst.ID,
			StageID:            currentStage.ID,
			StageName:          currentStage.Name,
			Action:             model.ActionCompleteWorkflow,
			PerformedBy:        rctx.ActorID,
			CreatedAt:          now,
		}
		if err := m.store.ApplyTransition(ctx, inst, entry); err != nil {
			return model.WorkflowInstance{}, err
		}
		m.logger.Info("workflow completed",
			zap.String("document_id", documentID),
			zap.String("instance_id", inst.ID))
		m.invalidate(ctx, documentID)
		m.project(inst)
		return inst, nil
	}

	md := inst.MetadataCopy()
	md["lastAdvancedBy"] = rctx.ActorID
	md["lastAdvancedAt"] = now.Format(time.RFC3339)

	fromStageID := inst.CurrentStageID
	inst.CurrentStageID = nextStage.ID
	inst.Metadata = md

	entry := model.HistoryEntry{
		ID:                 uuid.New().String(),
		WorkflowInstanceID: inst.ID,
		StageID:            nextStage.ID,
		StageName:          nextStage.Name,
		Action:             model.ActionAdvanceStage,
		PerformedBy:        rctx.ActorID,
		Metadata: map[string]any{
			"fromStage": fromStageID,
			"toStage":   nextStage.ID,
		},
		CreatedAt: now,
	}
	if err := m.store.ApplyTransition(ctx, inst, entry); err != nil {
		return model.WorkflowInstance{}, err
	}
	m.logger.Info("workflow advanced",
		zap.String("document_id", documentID),
		zap.String("instance_id", inst.ID),
		zap.String("stage_id", nextStage.ID))
	m.invalidate(ctx, documentID)
	m.project(inst)
	return inst, nil
}

// Reset destroys all instances and history for a document and returns an
// unpersisted sentinel. Nothing is recreated; a new workflow must be started
// explicitly.
func (m *Manager) Reset(ctx context.Context, rctx *model.RequestContext, documentID string) (model.ResetResult, error) {
	unlock := m.locks.Lock(documentID)
	defer unlock()

	instances, err := m.store.ListByDocument(ctx, documentID)
	if err != nil {
		return model.ResetResult{}, err
	}
	if len(instances) == 0 {
		return model.ResetResult{}, model.NewWorkflowNotFoundError(
			fmt.Sprintf("no workflow found for document %q", documentID),
		)
	}

	if _, err := m.store.DeleteByDocument(ctx, documentID); err != nil {
		return model.ResetResult{}, err
	}

	m.logger.Info("workflow reset",
		zap.String("document_id", documentID),
		zap.String("reset_by", rctx.ActorID),
		zap.Int("instances_deleted", len(instances)))
	m.invalidate(ctx, documentID)
	if m.projector != nil {
		m.projector.ProjectReset(documentID)
	}

	return model.ResetResult{
		DocumentID: documentID,
		WorkflowID: instances[0].WorkflowID,
		IsActive:   false,
		ResetBy:    rctx.ActorID,
		ResetAt:    time.Now().UTC(),
		Message:    "Workflow reset. Start a new workflow to continue.",
	}, nil
}

// Status returns the document's newest instance with recent history, or a
// status with a nil instance when no workflow exists. Reads go through the
// status cache when one is configured.
func (m *Manager) Status(ctx context.Context, documentID string) (model.WorkflowStatus, error) {
	if cached, ok, err := m.cache.Get(ctx, documentID); err == nil && ok {
		return *cached, nil
	}

	unlock := m.locks.Lock(documentID)
	defer unlock()

	if _, err := m.store.PruneDuplicates(ctx, documentID); err != nil {
		return model.WorkflowStatus{}, err
	}

	inst, err := m.store.GetNewestByDocument(ctx, documentID)
	if err != nil {
		if isWorkflowNotFound(err) {
			return model.WorkflowStatus{}, nil
		}
		return model.WorkflowStatus{}, err
	}

	history, err := m.store.RecentHistory(ctx, inst.ID, recentHistoryLimit)
	if err != nil {
		return model.WorkflowStatus{}, err
	}

	status := model.WorkflowStatus{Instance: &inst, RecentHistory: history}
	if err := m.cache.Set(ctx, documentID, &status); err != nil {
		m.logger.Warn("status cache set failed",
			zap.String("document_id", documentID), zap.Error(err))
	}
	return status, nil
}

// CleanupDuplicates removes duplicate instances for one document, keeping the
// newest and preserving its active flag.
func (m *Manager) CleanupDuplicates(ctx context.Context, documentID string) (int, error) {
	unlock := m.locks.Lock(documentID)
	defer unlock()

	removed, err := m.store.PruneDuplicates(ctx, documentID)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		m.invalidate(ctx, documentID)
	}
	return removed, nil
}

// CleanupAllOrphaned prunes duplicates for every document and then
// deactivates every remaining active instance. Intended for offline
// maintenance, not the request path.
func (m *Manager) CleanupAllOrphaned(ctx context.Context) (model.CleanupReport, error) {
	documentIDs, err := m.store.ListDocumentIDs(ctx)
	if err != nil {
		return model.CleanupReport{}, err
	}

	var report model.CleanupReport
	for _, documentID := range documentIDs {
		removed, err := m.store.PruneDuplicates(ctx, documentID)
		if err != nil {
			return report, err
		}
		report.DocumentsScanned++
		report.DuplicatesRemoved += removed
		m.invalidate(ctx, documentID)
	}

	deactivated, err := m.store.DeactivateAll(ctx)
	if err != nil {
		return report, err
	}
	report.InstancesDeactivated = deactivated

	m.logger.Info("orphan cleanup completed",
		zap.Int("documents_scanned", report.DocumentsScanned),
		zap.Int("duplicates_removed", report.DuplicatesRemoved),
		zap.Int("instances_deactivated", report.InstancesDeactivated))
	return report, nil
}

// Stats exposes store aggregates for the admin surface.
func (m *Manager) Stats(ctx context.Context) (model.WorkflowStats, error) {
	return m.store.Stats(ctx)
}

func (m *Manager) invalidate(ctx context.Context, documentID string) {
	if err := m.cache.Invalidate(ctx, documentID); err != nil {
		m.logger.Warn("status cache invalidate failed",
			zap.String("document_id", documentID), zap.Error(err))
	}
}

func (m *Manager) project(inst model.WorkflowInstance) {
	if m.projector != nil {
		m.projector.ProjectInstance(inst)
	}
}

// nextStageAfter resolves the stage following current: by order when orders
// are declared, otherwise by incrementing a numeric stage id.
func nextStageAfter(wfDef model.WorkflowDefinition, current model.StageDefinition) (model.StageDefinition, bool) {
	if current.Order > 0 {
		return wfDef.StageByOrder(current.Order + 1)
	}
	n, err := strconv.Atoi(current.ID)
	if err != nil {
		return model.StageDefinition{}, false
	}
	return wfDef.Stage(strconv.Itoa(n + 1))
}

func isWorkflowNotFound(err error) bool {
	env, ok := err.(*model.ErrorEnvelope)
	return ok && env.Code == model.ErrWorkflowNotFound
}
