package model

import "time"

// Metadata keys written by the lifecycle and transition paths.
const (
	MetaWorkflowName    = "workflowName"
	MetaWorkflowVersion = "workflowVersion"
	MetaCreatedBy       = "createdBy"
	MetaStartedBy       = "startedBy"
	MetaStartedAt       = "startedAt"
	MetaPreviousStageID = "previousStageId"
	MetaCompletedBy     = "completedBy"
	MetaCompletedAt     = "completedAt"
	MetaLastTransition  = "lastTransition"
	MetaStageHistory    = "stageHistory"
	MetaRoleValidated   = "roleValidated"
	MetaOwnerUserID     = "oprUserId"
)

// History actions recorded by the engine.
const (
	ActionAdvanceStage     = "ADVANCE_STAGE"
	ActionCompleteWorkflow = "COMPLETE_WORKFLOW"
	ActionMoveBackward     = "MOVE_BACKWARD"
)

// Transition type tag recorded on backward moves.
const TransitionTypeBackward = "BACKWARD"

// WorkflowInstance is one document's progress through a workflow definition.
// At most one instance exists per (document, definition) pair; the duplicate
// cleanup pass enforces this for rows created before the unique index existed.
type WorkflowInstance struct {
	ID             string         `json:"id"`
	DocumentID     string         `json:"documentId"`
	WorkflowID     string         `json:"workflowId"`
	CurrentStageID string         `json:"currentStageId"`
	IsActive       bool           `json:"isActive"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
	CompletedAt    *time.Time     `json:"completedAt,omitempty"`
}

// MetadataCopy returns a copy of the instance metadata, never nil. Mutating
// the copy does not affect the instance.
func (wi *WorkflowInstance) MetadataCopy() map[string]any {
	md := make(map[string]any, len(wi.Metadata)+4)
	for k, v := range wi.Metadata {
		md[k] = v
	}
	return md
}

// OwnerID returns the owning user recorded in metadata, or "".
func (wi *WorkflowInstance) OwnerID() string {
	if wi.Metadata == nil {
		return ""
	}
	owner, _ := wi.Metadata[MetaOwnerUserID].(string)
	return owner
}

// HistoryEntry is one append-only audit record for a workflow instance.
type HistoryEntry struct {
	ID                 string         `json:"id"`
	WorkflowInstanceID string         `json:"workflowInstanceId"`
	StageID            string         `json:"stageId"`
	StageName          string         `json:"stageName"`
	Action             string         `json:"action"`
	PerformedBy        string         `json:"performedBy"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	CreatedAt          time.Time      `json:"createdAt"`
}

// HistoryView is a history entry enriched with actor display information for
// the read path.
type HistoryView struct {
	HistoryEntry
	Actor *ActorInfo `json:"actor,omitempty"`
}

// ActorInfo is the display projection of a user resolved from the directory.
type ActorInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// WorkflowStatus is the read-path view of a document's workflow: the instance
// (nil when no workflow exists) plus its most recent history.
type WorkflowStatus struct {
	Instance      *WorkflowInstance `json:"instance"`
	RecentHistory []HistoryEntry    `json:"recentHistory,omitempty"`
}

// ResetResult is the sentinel returned by a destructive reset. It is never
// persisted; the next read reports no workflow until an explicit create.
type ResetResult struct {
	DocumentID string    `json:"documentId"`
	WorkflowID string    `json:"workflowId"`
	IsActive   bool      `json:"isActive"`
	ResetBy    string    `json:"resetBy"`
	ResetAt    time.Time `json:"resetAt"`
	Message    string    `json:"message"`
}

// StagePermissions describes what the requesting actor may do with a workflow
// instance at its current stage.
type StagePermissions struct {
	InstanceID      string   `json:"instanceId"`
	StageID         string   `json:"stageId"`
	Role            string   `json:"role"`
	CanAdvance      bool     `json:"canAdvance"`
	CanComment      bool     `json:"canComment"`
	CanView         bool     `json:"canView"`
	CanMoveBackward bool     `json:"canMoveBackward"`
	IsWorkflowOwner bool     `json:"isWorkflowOwner"`
	AllowedActions  []string `json:"allowedActions"`
}

// WorkflowStats aggregates instance counts for the admin surface.
type WorkflowStats struct {
	Total                    int     `json:"total"`
	Active                   int     `json:"active"`
	Completed                int     `json:"completed"`
	Inactive                 int     `json:"inactive"`
	AverageCompletionSeconds float64 `json:"averageCompletionSeconds"`
}

// CleanupReport summarizes an orphan/duplicate maintenance pass.
type CleanupReport struct {
	DocumentsScanned    int `json:"documentsScanned"`
	DuplicatesRemoved   int `json:"duplicatesRemoved"`
	InstancesDeactivated int `json:"instancesDeactivated"`
}
