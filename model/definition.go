package model

// DefinitionFile is the root structure of a workflow definition file. Each
// file declares one or more workflow definitions.
type DefinitionFile struct {
	Workflows []WorkflowDefinition `yaml:"workflows" json:"workflows"`

	// Checksum is computed at load time and not part of the YAML.
	Checksum string `yaml:"-" json:"-"`
	// SourceFile records the originating file path.
	SourceFile string `yaml:"-" json:"-"`
}

// WorkflowDefinition describes a multi-stage document review process.
type WorkflowDefinition struct {
	ID          string                 `yaml:"id"          json:"id"`
	Name        string                 `yaml:"name"        json:"name"`
	Version     string                 `yaml:"version"     json:"version"`
	Description string                 `yaml:"description" json:"description,omitempty"`
	Stages      []StageDefinition      `yaml:"stages"      json:"stages"`
	Transitions []TransitionDefinition `yaml:"transitions" json:"transitions,omitempty"`
}

// StageDefinition describes a single stage in a workflow.
type StageDefinition struct {
	ID          string `yaml:"id"          json:"id"`
	Name        string `yaml:"name"        json:"name"`
	Order       int    `yaml:"order"       json:"order"`
	Description string `yaml:"description" json:"description,omitempty"`
}

// TransitionDefinition declares a permitted forward edge between stages. A
// definition with no transitions permits any forward movement.
type TransitionDefinition struct {
	From string `yaml:"from" json:"from"`
	To   string `yaml:"to"   json:"to"`
}

// FirstStage returns the starting stage: the stage with order 1, or failing
// that the stage with literal id "1". The second return is false when the
// definition has no recognizable starting stage.
func (wd *WorkflowDefinition) FirstStage() (StageDefinition, bool) {
	for _, s := range wd.Stages {
		if s.Order == 1 {
			return s, true
		}
	}
	for _, s := range wd.Stages {
		if s.ID == "1" {
			return s, true
		}
	}
	return StageDefinition{}, false
}

// Stage returns the stage with the given id.
func (wd *WorkflowDefinition) Stage(id string) (StageDefinition, bool) {
	for _, s := range wd.Stages {
		if s.ID == id {
			return s, true
		}
	}
	return StageDefinition{}, false
}

// StageByOrder returns the stage with the given order value.
func (wd *WorkflowDefinition) StageByOrder(order int) (StageDefinition, bool) {
	for _, s := range wd.Stages {
		if s.Order == order {
			return s, true
		}
	}
	return StageDefinition{}, false
}

// AllowsTransition reports whether moving from one stage to another is
// permitted by the declared transition edges. Definitions that declare no
// transitions form an open graph and allow every move.
func (wd *WorkflowDefinition) AllowsTransition(from, to string) bool {
	if len(wd.Transitions) == 0 {
		return true
	}
	for _, t := range wd.Transitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

// TransitionTargets returns the declared targets reachable from a stage.
func (wd *WorkflowDefinition) TransitionTargets(from string) []string {
	var targets []string
	for _, t := range wd.Transitions {
		if t.From == from {
			targets = append(targets, t.To)
		}
	}
	return targets
}

// WorkflowSummary is the listing projection of a definition.
type WorkflowSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
	StageCount  int    `json:"stageCount"`
}
