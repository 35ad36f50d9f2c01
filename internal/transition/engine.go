// Package transition validates and applies single stage transitions:
// unvalidated forward moves on the legacy path, definition-graph-validated
// moves, role-validated moves, and reasoned backward moves. Every applied
// transition writes the instance and its history entry in one atomic unit.
package transition

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quorumdocs/docflow/internal/definition"
	"github.com/quorumdocs/docflow/internal/directory"
	"github.com/quorumdocs/docflow/internal/policy"
	"github.com/quorumdocs/docflow/internal/store"
	"github.com/quorumdocs/docflow/model"
)

// Projector mirrors instance state into external read models, best effort.
type Projector interface {
	ProjectInstance(inst model.WorkflowInstance)
}

// Engine applies stage transitions to workflow instances.
type Engine struct {
	registry  *definition.Registry
	store     store.InstanceStore
	cache     store.StatusCache
	gate      *policy.Gate
	users     directory.UserDirectory
	projector Projector
	logger    *zap.Logger
}

// NewEngine creates a transition engine. cache and projector may be nil.
func NewEngine(registry *definition.Registry, st store.InstanceStore,
	cache store.StatusCache, gate *policy.Gate, users directory.UserDirectory,
	projector Projector, logger *zap.Logger) *Engine {
	if cache == nil {
		cache = store.NoopCache{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		registry:  registry,
		store:     st,
		cache:     cache,
		gate:      gate,
		users:     users,
		projector: projector,
		logger:    logger,
	}
}

// TransitionStage moves an instance to the given stage without graph
// validation. Callers on this path own the validation; it exists for
// workflows driven by literal named stages. The move is mirrored into the
// metadata stage-history list for legacy readers.
func (e *Engine) TransitionStage(ctx context.Context, rctx *model.RequestContext, instanceID, toStage string, data map[string]any) (model.WorkflowInstance, error) {
	inst, err := e.store.GetByID(ctx, instanceID)
	if err != nil {
		return model.WorkflowInstance{}, err
	}

	now := time.Now().UTC()
	fromStage := inst.CurrentStageID

	md := inst.MetadataCopy()
	appendStageHistory(md, map[string]any{
		"stage":          toStage,
		"enteredAt":      now.Format(time.RFC3339),
		"userId":         rctx.ActorID,
		"transitionData": data,
	})
	md[model.MetaLastTransition] = map[string]any{
		"from":      fromStage,
		"to":        toStage,
		"userId":    rctx.ActorID,
		"timestamp": now.Format(time.RFC3339),
	}

	inst.CurrentStageID = toStage
	inst.Metadata = md

	entry := model.HistoryEntry{
		ID:                 uuid.New().String(),
		WorkflowInstanceID: inst.ID,
		StageID:            toStage,
		StageName:          e.gate.StageDisplayName(toStage),
		Action:             model.ActionAdvanceStage,
		PerformedBy:        rctx.ActorID,
		Metadata: map[string]any{
			"fromStage": fromStage,
			"toStage":   toStage,
		},
		CreatedAt: now,
	}
	if err := e.store.ApplyTransition(ctx, inst, entry); err != nil {
		return model.WorkflowInstance{}, err
	}
	e.applied(ctx, inst, fromStage)
	return inst, nil
}

// TransitionToStage moves a document's active instance to a target stage,
// validated against the definition's declared transition graph. Definitions
// with no declared transitions accept any target (open graph). Completion is
// opt-in: the workflow completes only when completeWorkflow is set, never
// because the new stage has no outgoing transitions.
func (e *Engine) TransitionToStage(ctx context.Context, rctx *model.RequestContext, documentID, toStageID string, completeWorkflow bool) (model.WorkflowInstance, error) {
	inst, err := e.store.GetNewestByDocument(ctx, documentID)
	if err != nil {
		return model.WorkflowInstance{}, err
	}
	if !inst.IsActive {
		return model.WorkflowInstance{}, model.NewWorkflowNotActiveError(
			fmt.Sprintf("no active workflow found for document %q", documentID),
		)
	}

	wfDef, ok := e.registry.GetWorkflow(inst.WorkflowID)
	if !ok {
		return model.WorkflowInstance{}, model.NewDefinitionNotFoundError(inst.WorkflowID)
	}
	toStage, ok := wfDef.Stage(toStageID)
	if !ok {
		return model.WorkflowInstance{}, model.NewInvalidTransitionError(
			fmt.Sprintf("stage %q not found in workflow %q", toStageID, inst.WorkflowID),
		)
	}
	if !wfDef.AllowsTransition(inst.CurrentStageID, toStageID) {
		targets := wfDef.TransitionTargets(inst.CurrentStageID)
		return model.WorkflowInstance{}, model.NewInvalidTransitionError(
			fmt.Sprintf("cannot transition from stage %q to %q. Valid targets: %s",
				inst.CurrentStageID, toStageID, strings.Join(targets, ", ")),
		)
	}

	now := time.Now().UTC()
	fromStage := inst.CurrentStageID

	md := inst.MetadataCopy()
	md[model.MetaLastTransition] = map[string]any{
		"from":      fromStage,
		"to":        toStageID,
		"userId":    rctx.ActorID,
		"timestamp": now.Format(time.RFC3339),
	}

	inst.CurrentStageID = toStageID
	if completeWorkflow {
		inst.IsActive = false
		inst.CompletedAt = &now
		md[model.MetaCompletedBy] = rctx.ActorID
		md[model.MetaCompletedAt] = now.Format(time.RFC3339)
	}
	inst.Metadata = md

	entry := model.HistoryEntry{
		ID:                 uuid.New().String(),
		WorkflowInstanceID: inst.ID,
		StageID:            toStageID,
		StageName:          toStage.Name,
		Action:             "TRANSITIONED_TO_" + toStageID,
		PerformedBy:        rctx.ActorID,
		Metadata: map[string]any{
			"fromStage":        fromStage,
			"toStage":          toStageID,
			"completeWorkflow": completeWorkflow,
		},
		CreatedAt: now,
	}
	if err := e.store.ApplyTransition(ctx, inst, entry); err != nil {
		return model.WorkflowInstance{}, err
	}
	e.applied(ctx, inst, fromStage)
	return inst, nil
}

// TransitionWithRole moves an instance to the given stage after checking the
// actor's directory role against requiredRole. An empty requiredRole skips
// the role check. MANAGE_WORKFLOW bypasses the role match.
func (e *Engine) TransitionWithRole(ctx context.Context, rctx *model.RequestContext, instanceID, toStage, requiredRole string, data map[string]any) (model.WorkflowInstance, error) {
	inst, err := e.store.GetByID(ctx, instanceID)
	if err != nil {
		return model.WorkflowInstance{}, err
	}

	roleValidated := false
	if requiredRole != "" {
		user, err := e.users.GetUser(ctx, rctx.ActorID)
		if err != nil {
			return model.WorkflowInstance{}, err
		}
		decision := e.gate.AuthorizeRole(user.Role.Name, requiredRole, user.Role.Permissions)
		if !decision.Allowed {
			return model.WorkflowInstance{}, model.NewForbiddenError(decision.Reason)
		}
		roleValidated = true
	}

	now := time.Now().UTC()
	fromStage := inst.CurrentStageID

	md := inst.MetadataCopy()
	appendStageHistory(md, map[string]any{
		"stage":          toStage,
		"enteredAt":      now.Format(time.RFC3339),
		"userId":         rctx.ActorID,
		"transitionData": data,
	})
	md[model.MetaLastTransition] = map[string]any{
		"from":      fromStage,
		"to":        toStage,
		"userId":    rctx.ActorID,
		"timestamp": now.Format(time.RFC3339),
	}
	if roleValidated {
		md[model.MetaRoleValidated] = true
	}

	inst.CurrentStageID = toStage
	inst.Metadata = md

	entry := model.HistoryEntry{
		ID:                 uuid.New().String(),
		WorkflowInstanceID: inst.ID,
		StageID:            toStage,
		StageName:          e.gate.StageDisplayName(toStage),
		Action:             model.ActionAdvanceStage,
		PerformedBy:        rctx.ActorID,
		Metadata: map[string]any{
			"fromStage":     fromStage,
			"toStage":       toStage,
			"roleValidated": roleValidated,
		},
		CreatedAt: now,
	}
	if err := e.store.ApplyTransition(ctx, inst, entry); err != nil {
		return model.WorkflowInstance{}, err
	}
	e.applied(ctx, inst, fromStage)
	return inst, nil
}

// MoveBackward returns an instance to a strictly earlier stage. A non-empty
// reason is mandatory; the actor needs MANAGE_WORKFLOW or MOVE_BACKWARD, and
// the (from, to) pair must be in the backward adjacency table.
func (e *Engine) MoveBackward(ctx context.Context, rctx *model.RequestContext, instanceID, toStage, reason string) (model.WorkflowInstance, error) {
	if strings.TrimSpace(reason) == "" {
		return model.WorkflowInstance{}, model.NewValidationError([]model.FieldError{{
			Field:   "reason",
			Code:    "required",
			Message: "a reason is required for backward transitions",
		}})
	}

	inst, err := e.store.GetByID(ctx, instanceID)
	if err != nil {
		return model.WorkflowInstance{}, err
	}

	user, err := e.users.GetUser(ctx, rctx.ActorID)
	if err != nil {
		return model.WorkflowInstance{}, err
	}
	if !e.gate.BackwardPermitted(user.Role.Permissions) {
		return model.WorkflowInstance{}, model.NewForbiddenError(
			"User does not have permission to move workflows backward",
		)
	}
	decision := e.gate.AuthorizeBackward(inst.CurrentStageID, toStage, user.Role.Permissions)
	if !decision.Allowed {
		return model.WorkflowInstance{}, model.NewInvalidBackwardTransitionError(decision.Reason)
	}

	now := time.Now().UTC()
	fromStage := inst.CurrentStageID

	md := inst.MetadataCopy()
	appendStageHistory(md, map[string]any{
		"stage":          toStage,
		"enteredAt":      now.Format(time.RFC3339),
		"userId":         rctx.ActorID,
		"transitionType": model.TransitionTypeBackward,
	})
	md[model.MetaLastTransition] = map[string]any{
		"type":      model.TransitionTypeBackward,
		"from":      fromStage,
		"to":        toStage,
		"userId":    rctx.ActorID,
		"reason":    reason,
		"timestamp": now.Format(time.RFC3339),
	}

	inst.CurrentStageID = toStage
	inst.Metadata = md

	entry := model.HistoryEntry{
		ID:                 uuid.New().String(),
		WorkflowInstanceID: inst.ID,
		StageID:            toStage,
		StageName:          e.gate.StageDisplayName(toStage),
		Action:             model.ActionMoveBackward,
		PerformedBy:        rctx.ActorID,
		Metadata: map[string]any{
			"transitionType": model.TransitionTypeBackward,
			"reason":         reason,
			"fromStage":      fromStage,
		},
		CreatedAt: now,
	}
	if err := e.store.ApplyTransition(ctx, inst, entry); err != nil {
		return model.WorkflowInstance{}, err
	}
	e.logger.Info("workflow moved backward",
		zap.String("instance_id", inst.ID),
		zap.String("from_stage", fromStage),
		zap.String("to_stage", toStage),
		zap.String("moved_by", rctx.ActorID))
	e.applied(ctx, inst, fromStage)
	return inst, nil
}

// Permissions resolves the requesting actor's stage permissions for an
// instance.
func (e *Engine) Permissions(ctx context.Context, rctx *model.RequestContext, instanceID string) (model.StagePermissions, error) {
	inst, err := e.store.GetByID(ctx, instanceID)
	if err != nil {
		return model.StagePermissions{}, err
	}

	role := ""
	if user, err := e.users.GetUser(ctx, rctx.ActorID); err == nil {
		role = user.Role.Name
	} else if len(rctx.Roles) > 0 {
		// Token roles are the fallback when the directory is unavailable.
		role = rctx.Roles[0]
	}
	return e.gate.PermissionsFor(&inst, rctx.ActorID, role), nil
}

func (e *Engine) applied(ctx context.Context, inst model.WorkflowInstance, fromStage string) {
	e.logger.Debug("transition applied",
		zap.String("instance_id", inst.ID),
		zap.String("document_id", inst.DocumentID),
		zap.String("from_stage", fromStage),
		zap.String("to_stage", inst.CurrentStageID))
	if err := e.cache.Invalidate(ctx, inst.DocumentID); err != nil {
		e.logger.Warn("status cache invalidate failed",
			zap.String("document_id", inst.DocumentID), zap.Error(err))
	}
	if e.projector != nil {
		e.projector.ProjectInstance(inst)
	}
}

// appendStageHistory appends one record to the metadata stage-history list,
// tolerating whatever shape a prior writer left there.
func appendStageHistory(md map[string]any, record map[string]any) {
	list, _ := md[model.MetaStageHistory].([]any)
	md[model.MetaStageHistory] = append(list, record)
}
