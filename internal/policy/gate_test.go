package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/quorumdocs/docflow/model"
)

func TestCanAdvance(t *testing.T) {
	g := Default()

	tests := []struct {
		stage string
		role  string
		want  bool
	}{
		{"DRAFT_CREATION", "OPR", true},
		{"DRAFT_CREATION", "AUTHOR", true},
		{"DRAFT_CREATION", "LEGAL_REVIEWER", false},
		{"LEGAL_REVIEW", "LEGAL_REVIEWER", true},
		{"LEGAL_REVIEW", "OPR", false},
		{"FINAL_PUBLISHING", "PUBLISHER", true},
		{"FINAL_PUBLISHING", "WORKFLOW_ADMIN", true},
		{"UNKNOWN_STAGE", "ADMIN", false},
	}
	for _, tt := range tests {
		if got := g.CanAdvance(tt.stage, tt.role); got != tt.want {
			t.Errorf("CanAdvance(%s, %s) = %v, want %v", tt.stage, tt.role, got, tt.want)
		}
	}
}

func TestCanMoveBackwardAdminsOnly(t *testing.T) {
	g := Default()
	if !g.CanMoveBackward("ADMIN") || !g.CanMoveBackward("WORKFLOW_ADMIN") {
		t.Error("admin roles should be able to move backward")
	}
	if g.CanMoveBackward("OPR") {
		t.Error("OPR should not be able to move backward")
	}
}

func TestAuthorizeBackward(t *testing.T) {
	g := Default()
	manage := []string{PermissionManageWorkflow}

	// Declared earlier stage succeeds.
	if d := g.AuthorizeBackward("EXTERNAL_COORDINATION", "OPR_REVISIONS", manage); !d.Allowed {
		t.Errorf("AuthorizeBackward to OPR_REVISIONS denied: %s", d.Reason)
	}

	// DRAFT_CREATION is not a declared target from EXTERNAL_COORDINATION.
	if d := g.AuthorizeBackward("EXTERNAL_COORDINATION", "DRAFT_CREATION", manage); d.Allowed {
		t.Error("AuthorizeBackward to DRAFT_CREATION allowed, want denied")
	}

	// MOVE_BACKWARD alone is enough.
	if d := g.AuthorizeBackward("OPR_REVISIONS", "DRAFT_CREATION", []string{PermissionMoveBackward}); !d.Allowed {
		t.Errorf("AuthorizeBackward with MOVE_BACKWARD denied: %s", d.Reason)
	}

	// No permission at all.
	if d := g.AuthorizeBackward("OPR_REVISIONS", "DRAFT_CREATION", []string{"review"}); d.Allowed {
		t.Error("AuthorizeBackward without permission allowed, want denied")
	}
}

func TestAuthorizeRole(t *testing.T) {
	g := Default()

	if d := g.AuthorizeRole("LEGAL_REVIEWER", "LEGAL_REVIEWER", nil); !d.Allowed {
		t.Error("matching role denied")
	}
	if d := g.AuthorizeRole("ADMIN", "LEGAL_REVIEWER", []string{PermissionManageWorkflow}); !d.Allowed {
		t.Error("MANAGE_WORKFLOW bypass denied")
	}
	d := g.AuthorizeRole("OPR", "LEGAL_REVIEWER", []string{"review"})
	if d.Allowed {
		t.Error("mismatched role allowed, want denied")
	}
	if d.Reason == "" {
		t.Error("denial carries no reason")
	}
}

func TestAllowedActions(t *testing.T) {
	g := Default()

	actions := g.AllowedActions("DRAFT_CREATION", "OPR")
	if len(actions) != 3 || actions[0] != "submit_for_coordination" {
		t.Errorf("AllowedActions(DRAFT_CREATION, OPR) = %v", actions)
	}

	// Unlisted role falls back to view only.
	if actions := g.AllowedActions("DRAFT_CREATION", "PUBLISHER"); len(actions) != 1 || actions[0] != "view" {
		t.Errorf("AllowedActions fallback = %v, want [view]", actions)
	}

	if !g.ActionAllowed("LEGAL_REVIEW", "LEGAL_REVIEWER", "legal_approve") {
		t.Error("legal_approve should be allowed for LEGAL_REVIEWER")
	}
	if g.ActionAllowed("LEGAL_REVIEW", "OPR", "legal_approve") {
		t.Error("legal_approve should be rejected for OPR")
	}
}

func TestStageDisplayName(t *testing.T) {
	g := Default()
	if got := g.StageDisplayName("3.5"); got != "Review Collection Phase" {
		t.Errorf("StageDisplayName(3.5) = %q", got)
	}
	if got := g.StageDisplayName("99"); got != "Stage 99" {
		t.Errorf("StageDisplayName(99) = %q, want fallback", got)
	}
}

func TestPermissionsFor(t *testing.T) {
	g := Default()
	inst := &model.WorkflowInstance{
		ID:             "inst-1",
		CurrentStageID: "DRAFT_CREATION",
		Metadata:       map[string]any{model.MetaOwnerUserID: "user-1"},
	}

	perms := g.PermissionsFor(inst, "user-1", "OPR")
	if !perms.CanAdvance {
		t.Error("OPR should be able to advance from DRAFT_CREATION")
	}
	if !perms.CanComment || !perms.CanView {
		t.Error("comment and view should always be allowed")
	}
	if perms.CanMoveBackward {
		t.Error("OPR should not be able to move backward")
	}
	if !perms.IsWorkflowOwner {
		t.Error("user-1 should be the workflow owner")
	}

	perms = g.PermissionsFor(inst, "user-2", "LEGAL_REVIEWER")
	if perms.CanAdvance || perms.IsWorkflowOwner {
		t.Errorf("unexpected permissions for non-owner legal reviewer: %+v", perms)
	}
}

func TestGateLoadsFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	data := `
admin_roles: [SUPERVISOR]
stage_advance_roles:
  TRIAGE: [AGENT]
backward_transitions:
  REVIEW: [TRIAGE]
stage_names:
  TRIAGE: Ticket Triage
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	g, err := NewGate(path)
	if err != nil {
		t.Fatalf("NewGate() error = %v", err)
	}
	if !g.CanAdvance("TRIAGE", "AGENT") {
		t.Error("AGENT should advance TRIAGE under file policy")
	}
	if g.CanAdvance("DRAFT_CREATION", "OPR") {
		t.Error("built-in defaults should not leak into file-backed gate")
	}
	if !g.CanMoveBackward("SUPERVISOR") {
		t.Error("SUPERVISOR is an admin under file policy")
	}
	if got := g.StageDisplayName("TRIAGE"); got != "Ticket Triage" {
		t.Errorf("StageDisplayName(TRIAGE) = %q", got)
	}
}

func TestNewGateMissingFile(t *testing.T) {
	if _, err := NewGate("/nonexistent/policy.yaml"); err == nil {
		t.Error("NewGate() = nil error for missing file")
	}
}
