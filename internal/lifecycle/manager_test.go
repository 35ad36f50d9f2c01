package lifecycle

import (
	"context"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/quorumdocs/docflow/internal/definition"
	"github.com/quorumdocs/docflow/internal/store"
	"github.com/quorumdocs/docflow/model"
)

func reviewRegistry() *definition.Registry {
	return definition.NewRegistry([]model.DefinitionFile{{
		Workflows: []model.WorkflowDefinition{
			{
				ID:      "doc-review",
				Name:    "Document Review",
				Version: "1.0.0",
				Stages: []model.StageDefinition{
					{ID: "1", Name: "Draft", Order: 1},
					{ID: "2", Name: "Review", Order: 2},
					{ID: "3", Name: "Publish", Order: 3},
				},
			},
			{
				ID:      "fast-track",
				Name:    "Fast Track",
				Version: "1.0.0",
				Stages: []model.StageDefinition{
					{ID: "1", Name: "Draft", Order: 1},
					{ID: "2", Name: "Publish", Order: 2},
				},
			},
		},
	}})
}

type capturingProjector struct {
	mu        sync.Mutex
	projected []model.WorkflowInstance
	resets    []string
}

func (p *capturingProjector) ProjectInstance(inst model.WorkflowInstance) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.projected = append(p.projected, inst)
}

func (p *capturingProjector) ProjectReset(documentID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resets = append(p.resets, documentID)
}

func newTestManager(t *testing.T) (*Manager, *store.MemoryStore, *capturingProjector) {
	t.Helper()
	st := store.NewMemoryStore()
	proj := &capturingProjector{}
	m := NewManager(reviewRegistry(), st, store.NoopCache{}, proj, zap.NewNop())
	return m, st, proj
}

func actor(id string) *model.RequestContext {
	return &model.RequestContext{ActorID: id, Roles: []string{"AUTHOR"}}
}

func TestGetOrCreateCreatesAtFirstStage(t *testing.T) {
	m, _, proj := newTestManager(t)
	ctx := context.Background()

	inst, err := m.GetOrCreate(ctx, actor("user-1"), "doc-1", "doc-review")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if inst.CurrentStageID != "1" {
		t.Errorf("CurrentStageID = %q, want %q", inst.CurrentStageID, "1")
	}
	if !inst.IsActive {
		t.Error("IsActive = false, want pre-activated instance")
	}
	if inst.Metadata[model.MetaWorkflowName] != "Document Review" {
		t.Errorf("metadata workflowName = %v", inst.Metadata[model.MetaWorkflowName])
	}
	if inst.Metadata[model.MetaCreatedBy] != "user-1" {
		t.Errorf("metadata createdBy = %v", inst.Metadata[model.MetaCreatedBy])
	}
	if len(proj.projected) != 1 {
		t.Errorf("projected %d instances, want 1", len(proj.projected))
	}
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	m, st, _ := newTestManager(t)
	ctx := context.Background()

	first, err := m.GetOrCreate(ctx, actor("user-1"), "doc-1", "doc-review")
	if err != nil {
		t.Fatal(err)
	}
	second, err := m.GetOrCreate(ctx, actor("user-2"), "doc-1", "doc-review")
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Errorf("second call created a new instance: %q vs %q", first.ID, second.ID)
	}
	if st.Len() != 1 {
		t.Errorf("store holds %d instances, want 1", st.Len())
	}
}

func TestGetOrCreateReplacesDifferentWorkflowType(t *testing.T) {
	m, st, _ := newTestManager(t)
	ctx := context.Background()

	old, err := m.GetOrCreate(ctx, actor("user-1"), "doc-1", "doc-review")
	if err != nil {
		t.Fatal(err)
	}

	replaced, err := m.GetOrCreate(ctx, actor("user-1"), "doc-1", "fast-track")
	if err != nil {
		t.Fatalf("GetOrCreate(fast-track) error = %v", err)
	}
	if replaced.WorkflowID != "fast-track" {
		t.Errorf("WorkflowID = %q, want fast-track", replaced.WorkflowID)
	}
	if replaced.ID == old.ID {
		t.Error("instance was not replaced")
	}
	if st.Len() != 1 {
		t.Errorf("store holds %d instances, want 1", st.Len())
	}
	if _, err := st.GetByID(ctx, old.ID); err == nil {
		t.Error("old instance still present after replacement")
	}
}

func TestGetOrCreateUnknownDefinition(t *testing.T) {
	m, _, _ := newTestManager(t)

	_, err := m.GetOrCreate(context.Background(), actor("user-1"), "doc-1", "nope")
	if env, ok := err.(*model.ErrorEnvelope); !ok || env.Code != model.ErrDefinitionNotFound {
		t.Errorf("GetOrCreate(nope) = %v, want DEFINITION_NOT_FOUND", err)
	}
}

func TestStartRewindsToFirstStage(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.GetOrCreate(ctx, actor("user-1"), "doc-1", "doc-review"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Advance(ctx, actor("user-1"), "doc-1"); err != nil {
		t.Fatal(err)
	}

	inst, err := m.Start(ctx, actor("user-2"), "doc-1")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if inst.CurrentStageID != "1" {
		t.Errorf("CurrentStageID = %q, want rewind to first stage", inst.CurrentStageID)
	}
	if !inst.IsActive {
		t.Error("IsActive = false after Start")
	}
	if inst.Metadata[model.MetaStartedBy] != "user-2" {
		t.Errorf("metadata startedBy = %v", inst.Metadata[model.MetaStartedBy])
	}
	if inst.Metadata["resetFromStage"] != "2" {
		t.Errorf("metadata resetFromStage = %v, want %q", inst.Metadata["resetFromStage"], "2")
	}
	if inst.Metadata[model.MetaPreviousStageID] != "2" {
		t.Errorf("metadata previousStageId = %v, want %q", inst.Metadata[model.MetaPreviousStageID], "2")
	}
}

func TestStartWithoutInstanceFails(t *testing.T) {
	m, _, _ := newTestManager(t)

	_, err := m.Start(context.Background(), actor("user-1"), "doc-none")
	if env, ok := err.(*model.ErrorEnvelope); !ok || env.Code != model.ErrWorkflowNotFound {
		t.Errorf("Start() = %v, want WORKFLOW_NOT_FOUND", err)
	}
}

func TestAdvanceStepsAndRecordsHistory(t *testing.T) {
	m, st, _ := newTestManager(t)
	ctx := context.Background()

	created, err := m.GetOrCreate(ctx, actor("user-1"), "doc-1", "doc-review")
	if err != nil {
		t.Fatal(err)
	}

	inst, err := m.Advance(ctx, actor("user-1"), "doc-1")
	if err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	if inst.CurrentStageID != "2" {
		t.Errorf("CurrentStageID = %q, want %q", inst.CurrentStageID, "2")
	}
	if inst.Metadata["lastAdvancedBy"] != "user-1" {
		t.Errorf("metadata lastAdvancedBy = %v", inst.Metadata["lastAdvancedBy"])
	}

	history, err := st.ListHistory(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 {
		t.Fatalf("history length = %d, want 1", len(history))
	}
	entry := history[0]
	if entry.Action != model.ActionAdvanceStage {
		t.Errorf("Action = %q, want %q", entry.Action, model.ActionAdvanceStage)
	}
	if entry.StageID != "2" || entry.StageName != "Review" {
		t.Errorf("entry stage = %q/%q, want 2/Review", entry.StageID, entry.StageName)
	}
	if entry.Metadata["fromStage"] != "1" || entry.Metadata["toStage"] != "2" {
		t.Errorf("entry metadata = %v", entry.Metadata)
	}
}

func TestAdvancePastLastStageCompletes(t *testing.T) {
	m, st, _ := newTestManager(t)
	ctx := context.Background()

	created, err := m.GetOrCreate(ctx, actor("user-1"), "doc-1", "doc-review")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if _, err := m.Advance(ctx, actor("user-1"), "doc-1"); err != nil {
			t.Fatal(err)
		}
	}

	inst, err := m.Advance(ctx, actor("user-9"), "doc-1")
	if err != nil {
		t.Fatalf("final Advance() error = %v", err)
	}
	if inst.IsActive {
		t.Error("IsActive = true after completion")
	}
	if inst.CompletedAt == nil {
		t.Error("CompletedAt = nil after completion")
	}
	if inst.Metadata[model.MetaCompletedBy] != "user-9" {
		t.Errorf("metadata completedBy = %v", inst.Metadata[model.MetaCompletedBy])
	}

	history, _ := st.ListHistory(ctx, created.ID)
	last := history[len(history)-1]
	if last.Action != model.ActionCompleteWorkflow {
		t.Errorf("last action = %q, want %q", last.Action, model.ActionCompleteWorkflow)
	}

	// A completed workflow cannot advance further.
	_, err = m.Advance(ctx, actor("user-1"), "doc-1")
	if env, ok := err.(*model.ErrorEnvelope); !ok || env.Code != model.ErrWorkflowNotActive {
		t.Errorf("Advance() after completion = %v, want WORKFLOW_NOT_ACTIVE", err)
	}
}

func TestResetDestroysEverything(t *testing.T) {
	m, st, proj := newTestManager(t)
	ctx := context.Background()

	if _, err := m.GetOrCreate(ctx, actor("user-1"), "doc-1", "doc-review"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Advance(ctx, actor("user-1"), "doc-1"); err != nil {
		t.Fatal(err)
	}

	result, err := m.Reset(ctx, actor("admin-1"), "doc-1")
	if err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if result.WorkflowID != "doc-review" || result.IsActive {
		t.Errorf("ResetResult = %+v", result)
	}
	if result.ResetBy != "admin-1" {
		t.Errorf("ResetBy = %q", result.ResetBy)
	}
	if st.Len() != 0 {
		t.Errorf("store holds %d instances after reset, want 0", st.Len())
	}
	if len(proj.resets) != 1 || proj.resets[0] != "doc-1" {
		t.Errorf("projector resets = %v", proj.resets)
	}

	// Nothing is recreated: a status read reports no workflow.
	status, err := m.Status(ctx, "doc-1")
	if err != nil {
		t.Fatalf("Status() after reset error = %v", err)
	}
	if status.Instance != nil {
		t.Errorf("Status().Instance = %+v after reset, want nil", status.Instance)
	}
}

func TestResetWithoutInstanceFails(t *testing.T) {
	m, _, _ := newTestManager(t)

	_, err := m.Reset(context.Background(), actor("admin-1"), "doc-none")
	if env, ok := err.(*model.ErrorEnvelope); !ok || env.Code != model.ErrWorkflowNotFound {
		t.Errorf("Reset() = %v, want WORKFLOW_NOT_FOUND", err)
	}
}

func TestStatusReturnsInstanceWithRecentHistory(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.GetOrCreate(ctx, actor("user-1"), "doc-1", "doc-review"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Advance(ctx, actor("user-1"), "doc-1"); err != nil {
		t.Fatal(err)
	}

	status, err := m.Status(ctx, "doc-1")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.Instance == nil || status.Instance.CurrentStageID != "2" {
		t.Fatalf("Status().Instance = %+v", status.Instance)
	}
	if len(status.RecentHistory) != 1 {
		t.Errorf("RecentHistory length = %d, want 1", len(status.RecentHistory))
	}
}

func TestCleanupAllOrphaned(t *testing.T) {
	m, st, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.GetOrCreate(ctx, actor("user-1"), "doc-1", "doc-review"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.GetOrCreate(ctx, actor("user-1"), "doc-2", "doc-review"); err != nil {
		t.Fatal(err)
	}

	report, err := m.CleanupAllOrphaned(ctx)
	if err != nil {
		t.Fatalf("CleanupAllOrphaned() error = %v", err)
	}
	if report.DocumentsScanned != 2 {
		t.Errorf("DocumentsScanned = %d, want 2", report.DocumentsScanned)
	}
	if report.InstancesDeactivated != 2 {
		t.Errorf("InstancesDeactivated = %d, want 2", report.InstancesDeactivated)
	}

	inst, err := st.GetNewestByDocument(ctx, "doc-1")
	if err != nil {
		t.Fatal(err)
	}
	if inst.IsActive {
		t.Error("instance still active after orphan cleanup")
	}
}

func TestConcurrentGetOrCreateSingleInstance(t *testing.T) {
	m, st, _ := newTestManager(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.GetOrCreate(ctx, actor("user-1"), "doc-1", "doc-review"); err != nil {
				t.Errorf("GetOrCreate() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if st.Len() != 1 {
		t.Errorf("store holds %d instances after concurrent creates, want 1", st.Len())
	}
}
