// Package policy is the authorization gate for workflow operations. Stage
// advance roles, backward adjacency, per-role actions, and stage display
// names are data, loaded from a YAML policy file with built-in defaults.
package policy

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/quorumdocs/docflow/model"
	"gopkg.in/yaml.v3"
)

// Permission strings checked against the user directory's role permissions.
const (
	PermissionManageWorkflow = "MANAGE_WORKFLOW"
	PermissionMoveBackward   = "MOVE_BACKWARD"
)

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool
	Reason  string
}

type policyFile struct {
	AdminRoles          []string                       `yaml:"admin_roles"`
	StageAdvanceRoles   map[string][]string            `yaml:"stage_advance_roles"`
	BackwardTransitions map[string][]string            `yaml:"backward_transitions"`
	StageActions        map[string]map[string][]string `yaml:"stage_actions"`
	StageNames          map[string]string              `yaml:"stage_names"`
}

// Gate evaluates workflow authorization against a static policy. Safe for
// concurrent use; Sync reloads the backing file.
type Gate struct {
	path   string
	mu     sync.RWMutex
	policy policyFile
}

// Default returns a Gate carrying the built-in review policy.
func Default() *Gate {
	return &Gate{policy: defaultPolicy()}
}

// NewGate creates a Gate that loads its policy from path.
func NewGate(path string) (*Gate, error) {
	g := &Gate{path: path}
	if err := g.Sync(); err != nil {
		return nil, err
	}
	return g, nil
}

// Sync reloads the policy file from disk. Gates built from Default have no
// backing file and Sync is a no-op for them.
func (g *Gate) Sync() error {
	if g.path == "" {
		return nil
	}
	data, err := os.ReadFile(g.path)
	if err != nil {
		return fmt.Errorf("policy: reading policy file %s: %w", g.path, err)
	}

	var p policyFile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("policy: parsing policy file %s: %w", g.path, err)
	}

	g.mu.Lock()
	g.policy = p
	g.mu.Unlock()

	return nil
}

// IsAdmin returns true if the role is in the admin role set.
func (g *Gate) IsAdmin(role string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, r := range g.policy.AdminRoles {
		if r == role {
			return true
		}
	}
	return false
}

// CanAdvance returns true if the role may advance a workflow sitting at the
// given stage.
func (g *Gate) CanAdvance(stageID, role string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, r := range g.policy.StageAdvanceRoles[stageID] {
		if r == role {
			return true
		}
	}
	return false
}

// CanMoveBackward returns true if the role may move workflows backward at all.
// Only admin roles qualify.
func (g *Gate) CanMoveBackward(role string) bool {
	return g.IsAdmin(role)
}

// AllowedActions returns the actions the role may take at the given stage.
// Roles with no listed actions can still view.
func (g *Gate) AllowedActions(stageID, role string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if actions, ok := g.policy.StageActions[stageID][role]; ok && len(actions) > 0 {
		out := make([]string, len(actions))
		copy(out, actions)
		return out
	}
	return []string{"view"}
}

// ActionAllowed returns true if the named action is listed for the role at
// the given stage. Unlisted actions are rejected server-side.
func (g *Gate) ActionAllowed(stageID, role, action string) bool {
	for _, a := range g.AllowedActions(stageID, role) {
		if a == action {
			return true
		}
	}
	return false
}

// StageDisplayName returns the display name for a stage id, falling back to
// "Stage <id>". Sub-stage ids like "3.5" are plain map keys.
func (g *Gate) StageDisplayName(stageID string) string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if name, ok := g.policy.StageNames[stageID]; ok {
		return name
	}
	return "Stage " + stageID
}

// BackwardPermitted returns true if the permission set allows backward moves
// at all.
func (g *Gate) BackwardPermitted(permissions []string) bool {
	return hasAny(permissions, PermissionManageWorkflow, PermissionMoveBackward)
}

// AuthorizeBackward validates a backward move: the acting role must carry a
// backward-move permission, and the target must be a declared strictly
// earlier stage for the source.
func (g *Gate) AuthorizeBackward(fromStage, toStage string, permissions []string) Decision {
	if !g.BackwardPermitted(permissions) {
		return Decision{Allowed: false, Reason: "User does not have permission to move workflows backward"}
	}

	g.mu.RLock()
	targets := g.policy.BackwardTransitions[fromStage]
	g.mu.RUnlock()

	for _, t := range targets {
		if t == toStage {
			return Decision{Allowed: true, Reason: "Valid backward transition"}
		}
	}
	return Decision{
		Allowed: false,
		Reason: fmt.Sprintf("Cannot move from %s to %s. Valid targets: %s",
			fromStage, toStage, strings.Join(targets, ", ")),
	}
}

// AuthorizeRole checks a role-validated transition: the acting role must
// match the required role, or carry MANAGE_WORKFLOW.
func (g *Gate) AuthorizeRole(roleName, requiredRole string, permissions []string) Decision {
	if roleName == requiredRole || hasAny(permissions, PermissionManageWorkflow) {
		return Decision{Allowed: true}
	}
	return Decision{
		Allowed: false,
		Reason: fmt.Sprintf("User role %s is not authorized for this transition. Required role: %s",
			roleName, requiredRole),
	}
}

// PermissionsFor assembles the permission view for an actor against a
// workflow instance at its current stage. Everyone authenticated can view
// and comment.
func (g *Gate) PermissionsFor(inst *model.WorkflowInstance, actorID, role string) model.StagePermissions {
	return model.StagePermissions{
		InstanceID:      inst.ID,
		StageID:         inst.CurrentStageID,
		Role:            role,
		CanAdvance:      g.CanAdvance(inst.CurrentStageID, role),
		CanComment:      true,
		CanView:         true,
		CanMoveBackward: g.CanMoveBackward(role),
		IsWorkflowOwner: inst.OwnerID() == actorID,
		AllowedActions:  g.AllowedActions(inst.CurrentStageID, role),
	}
}

func hasAny(have []string, want ...string) bool {
	for _, h := range have {
		for _, w := range want {
			if h == w {
				return true
			}
		}
	}
	return false
}
