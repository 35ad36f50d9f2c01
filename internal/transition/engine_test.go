package transition

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/quorumdocs/docflow/internal/definition"
	"github.com/quorumdocs/docflow/internal/directory"
	"github.com/quorumdocs/docflow/internal/policy"
	"github.com/quorumdocs/docflow/internal/store"
	"github.com/quorumdocs/docflow/model"
)

func gatedRegistry() *definition.Registry {
	return definition.NewRegistry([]model.DefinitionFile{{
		Workflows: []model.WorkflowDefinition{
			{
				ID:      "gated",
				Name:    "Gated Review",
				Version: "1.0.0",
				Stages: []model.StageDefinition{
					{ID: "draft", Name: "Draft", Order: 1},
					{ID: "review", Name: "Review", Order: 2},
					{ID: "publish", Name: "Publish", Order: 3},
				},
				Transitions: []model.TransitionDefinition{
					{From: "draft", To: "review"},
					{From: "review", To: "publish"},
				},
			},
			{
				ID:      "open",
				Name:    "Open Graph",
				Version: "1.0.0",
				Stages: []model.StageDefinition{
					{ID: "1", Name: "One", Order: 1},
					{ID: "2", Name: "Two", Order: 2},
					{ID: "3", Name: "Three", Order: 3},
				},
			},
		},
	}})
}

func seedInstance(t *testing.T, st *store.MemoryStore, documentID, workflowID, stageID string) model.WorkflowInstance {
	t.Helper()
	inst, created, err := st.CreateIfAbsent(context.Background(), model.WorkflowInstance{
		ID:             documentID + "-inst",
		DocumentID:     documentID,
		WorkflowID:     workflowID,
		CurrentStageID: stageID,
		IsActive:       true,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	})
	if err != nil || !created {
		t.Fatalf("seed instance: created=%v err=%v", created, err)
	}
	return inst
}

func newTestEngine(t *testing.T, users ...directory.User) (*Engine, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	e := NewEngine(gatedRegistry(), st, store.NoopCache{}, policy.Default(),
		directory.NewFakeUserDirectory(users...), nil, zap.NewNop())
	return e, st
}

func actor(id string) *model.RequestContext {
	return &model.RequestContext{ActorID: id}
}

func TestTransitionStageSkipsGraphValidation(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()
	seeded := seedInstance(t, st, "doc-1", "gated", "draft")

	// "publish" is not reachable from "draft" in the graph, but this path
	// does not validate.
	inst, err := e.TransitionStage(ctx, actor("user-1"), seeded.ID, "publish", map[string]any{"note": "rush"})
	if err != nil {
		t.Fatalf("TransitionStage() error = %v", err)
	}
	if inst.CurrentStageID != "publish" {
		t.Errorf("CurrentStageID = %q, want publish", inst.CurrentStageID)
	}

	history, ok := inst.Metadata[model.MetaStageHistory].([]any)
	if !ok || len(history) != 1 {
		t.Fatalf("metadata stageHistory = %v", inst.Metadata[model.MetaStageHistory])
	}
	record := history[0].(map[string]any)
	if record["stage"] != "publish" || record["userId"] != "user-1" {
		t.Errorf("stageHistory record = %v", record)
	}

	last, ok := inst.Metadata[model.MetaLastTransition].(map[string]any)
	if !ok || last["from"] != "draft" || last["to"] != "publish" {
		t.Errorf("lastTransition = %v", inst.Metadata[model.MetaLastTransition])
	}

	entries, _ := st.ListHistory(ctx, seeded.ID)
	if len(entries) != 1 || entries[0].Action != model.ActionAdvanceStage {
		t.Errorf("history = %+v", entries)
	}
}

func TestTransitionToStageValidatesGraph(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()
	seedInstance(t, st, "doc-1", "gated", "draft")

	_, err := e.TransitionToStage(ctx, actor("user-1"), "doc-1", "publish", false)
	env, ok := err.(*model.ErrorEnvelope)
	if !ok || env.Code != model.ErrInvalidTransition {
		t.Fatalf("TransitionToStage(draft->publish) = %v, want INVALID_TRANSITION", err)
	}

	inst, err := e.TransitionToStage(ctx, actor("user-1"), "doc-1", "review", false)
	if err != nil {
		t.Fatalf("TransitionToStage(draft->review) error = %v", err)
	}
	if inst.CurrentStageID != "review" {
		t.Errorf("CurrentStageID = %q, want review", inst.CurrentStageID)
	}
	if !inst.IsActive || inst.CompletedAt != nil {
		t.Error("instance completed without completeWorkflow flag")
	}
}

func TestTransitionToStageOpenGraphAcceptsAnyStage(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()
	seedInstance(t, st, "doc-1", "open", "1")

	inst, err := e.TransitionToStage(ctx, actor("user-1"), "doc-1", "3", false)
	if err != nil {
		t.Fatalf("TransitionToStage() on open graph error = %v", err)
	}
	if inst.CurrentStageID != "3" {
		t.Errorf("CurrentStageID = %q, want 3", inst.CurrentStageID)
	}
}

func TestTransitionToStageCompletionIsOptIn(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()
	seeded := seedInstance(t, st, "doc-1", "gated", "review")

	inst, err := e.TransitionToStage(ctx, actor("user-1"), "doc-1", "publish", true)
	if err != nil {
		t.Fatalf("TransitionToStage(complete) error = %v", err)
	}
	if inst.IsActive {
		t.Error("IsActive = true after explicit completion")
	}
	if inst.CompletedAt == nil {
		t.Error("CompletedAt = nil after explicit completion")
	}

	entries, _ := st.ListHistory(ctx, seeded.ID)
	if len(entries) != 1 || entries[0].Action != "TRANSITIONED_TO_publish" {
		t.Errorf("history = %+v", entries)
	}
	if entries[0].StageName != "Publish" {
		t.Errorf("StageName = %q, want definition stage name", entries[0].StageName)
	}
}

func TestTransitionToStageUnknownStage(t *testing.T) {
	e, st := newTestEngine(t)
	seedInstance(t, st, "doc-1", "gated", "draft")

	_, err := e.TransitionToStage(context.Background(), actor("user-1"), "doc-1", "nope", false)
	if env, ok := err.(*model.ErrorEnvelope); !ok || env.Code != model.ErrInvalidTransition {
		t.Errorf("TransitionToStage(nope) = %v, want INVALID_TRANSITION", err)
	}
}

func TestTransitionWithRoleEnforcesRequiredRole(t *testing.T) {
	e, st := newTestEngine(t,
		directory.User{ID: "legal-1", FirstName: "Lia", Role: directory.Role{Name: "LEGAL_REVIEWER"}},
		directory.User{ID: "author-1", FirstName: "Ann", Role: directory.Role{Name: "AUTHOR"}},
		directory.User{ID: "admin-1", FirstName: "Abe", Role: directory.Role{
			Name: "ADMIN", Permissions: []string{policy.PermissionManageWorkflow},
		}},
	)
	ctx := context.Background()
	seeded := seedInstance(t, st, "doc-1", "gated", "draft")

	// Wrong role, no bypass permission.
	_, err := e.TransitionWithRole(ctx, actor("author-1"), seeded.ID, "review", "LEGAL_REVIEWER", nil)
	if env, ok := err.(*model.ErrorEnvelope); !ok || env.Code != model.ErrForbidden {
		t.Fatalf("TransitionWithRole(author) = %v, want FORBIDDEN", err)
	}

	// Matching role.
	inst, err := e.TransitionWithRole(ctx, actor("legal-1"), seeded.ID, "review", "LEGAL_REVIEWER", nil)
	if err != nil {
		t.Fatalf("TransitionWithRole(legal) error = %v", err)
	}
	if inst.Metadata[model.MetaRoleValidated] != true {
		t.Errorf("metadata roleValidated = %v, want true", inst.Metadata[model.MetaRoleValidated])
	}

	// MANAGE_WORKFLOW bypasses the role match.
	if _, err := e.TransitionWithRole(ctx, actor("admin-1"), seeded.ID, "publish", "LEGAL_REVIEWER", nil); err != nil {
		t.Errorf("TransitionWithRole(admin bypass) error = %v", err)
	}
}

func TestTransitionWithRoleSkipsCheckWhenNoRoleRequired(t *testing.T) {
	// The directory holds no users, so any lookup would fail; an empty
	// requiredRole must not trigger one.
	e, st := newTestEngine(t)
	seeded := seedInstance(t, st, "doc-1", "gated", "draft")

	inst, err := e.TransitionWithRole(context.Background(), actor("user-1"), seeded.ID, "review", "", nil)
	if err != nil {
		t.Fatalf("TransitionWithRole(no role) error = %v", err)
	}
	if _, ok := inst.Metadata[model.MetaRoleValidated]; ok {
		t.Errorf("metadata roleValidated set without a role check")
	}
}

func TestMoveBackwardRequiresReason(t *testing.T) {
	e, st := newTestEngine(t)
	seeded := seedInstance(t, st, "doc-1", "gated", "review")

	_, err := e.MoveBackward(context.Background(), actor("user-1"), seeded.ID, "draft", "   ")
	if env, ok := err.(*model.ErrorEnvelope); !ok || env.Code != model.ErrValidationError {
		t.Errorf("MoveBackward(no reason) = %v, want VALIDATION_ERROR", err)
	}
}

func TestMoveBackwardRequiresPermission(t *testing.T) {
	e, st := newTestEngine(t,
		directory.User{ID: "author-1", Role: directory.Role{Name: "AUTHOR", Permissions: []string{"edit"}}},
	)
	seeded := seedInstance(t, st, "doc-1", "gated", "EXTERNAL_COORDINATION")

	_, err := e.MoveBackward(context.Background(), actor("author-1"), seeded.ID, "OPR_REVISIONS", "typo found")
	if env, ok := err.(*model.ErrorEnvelope); !ok || env.Code != model.ErrForbidden {
		t.Errorf("MoveBackward(no permission) = %v, want FORBIDDEN", err)
	}
}

func TestMoveBackwardValidatesAdjacency(t *testing.T) {
	e, st := newTestEngine(t,
		directory.User{ID: "admin-1", Role: directory.Role{
			Name: "WORKFLOW_ADMIN", Permissions: []string{policy.PermissionMoveBackward},
		}},
	)
	ctx := context.Background()
	seeded := seedInstance(t, st, "doc-1", "gated", "EXTERNAL_COORDINATION")

	// DRAFT_CREATION is not a declared target from EXTERNAL_COORDINATION.
	_, err := e.MoveBackward(ctx, actor("admin-1"), seeded.ID, "DRAFT_CREATION", "start over")
	if env, ok := err.(*model.ErrorEnvelope); !ok || env.Code != model.ErrInvalidBackwardTransition {
		t.Fatalf("MoveBackward(bad target) = %v, want INVALID_BACKWARD_TRANSITION", err)
	}

	inst, err := e.MoveBackward(ctx, actor("admin-1"), seeded.ID, "OPR_REVISIONS", "reviewer comments")
	if err != nil {
		t.Fatalf("MoveBackward() error = %v", err)
	}
	if inst.CurrentStageID != "OPR_REVISIONS" {
		t.Errorf("CurrentStageID = %q, want OPR_REVISIONS", inst.CurrentStageID)
	}

	last, ok := inst.Metadata[model.MetaLastTransition].(map[string]any)
	if !ok || last["type"] != model.TransitionTypeBackward || last["reason"] != "reviewer comments" {
		t.Errorf("lastTransition = %v", inst.Metadata[model.MetaLastTransition])
	}

	entries, _ := st.ListHistory(ctx, seeded.ID)
	if len(entries) != 1 {
		t.Fatalf("history length = %d, want 1", len(entries))
	}
	entry := entries[0]
	if entry.Action != model.ActionMoveBackward {
		t.Errorf("Action = %q, want %q", entry.Action, model.ActionMoveBackward)
	}
	if entry.Metadata["transitionType"] != model.TransitionTypeBackward {
		t.Errorf("entry metadata = %v", entry.Metadata)
	}
	if entry.Metadata["reason"] != "reviewer comments" || entry.Metadata["fromStage"] != "EXTERNAL_COORDINATION" {
		t.Errorf("entry metadata = %v", entry.Metadata)
	}
}

func TestPermissionsResolvesDirectoryRole(t *testing.T) {
	e, st := newTestEngine(t,
		directory.User{ID: "admin-1", Role: directory.Role{Name: "ADMIN"}},
	)
	seeded := seedInstance(t, st, "doc-1", "gated", "DRAFT_CREATION")

	perms, err := e.Permissions(context.Background(), actor("admin-1"), seeded.ID)
	if err != nil {
		t.Fatalf("Permissions() error = %v", err)
	}
	if perms.Role != "ADMIN" {
		t.Errorf("Role = %q, want directory role", perms.Role)
	}
	if !perms.CanAdvance || !perms.CanMoveBackward {
		t.Errorf("permissions = %+v, want admin capabilities", perms)
	}
	if !perms.CanView || !perms.CanComment {
		t.Error("view/comment should be universally true")
	}
}

func TestPermissionsFallsBackToTokenRole(t *testing.T) {
	e, st := newTestEngine(t)
	seeded := seedInstance(t, st, "doc-1", "gated", "DRAFT_CREATION")

	rctx := &model.RequestContext{ActorID: "ghost", Roles: []string{"AUTHOR"}}
	perms, err := e.Permissions(context.Background(), rctx, seeded.ID)
	if err != nil {
		t.Fatalf("Permissions() error = %v", err)
	}
	if perms.Role != "AUTHOR" {
		t.Errorf("Role = %q, want token fallback role", perms.Role)
	}
	if !perms.CanAdvance {
		t.Error("AUTHOR should advance DRAFT_CREATION")
	}
}
