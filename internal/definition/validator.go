package definition

import (
	"fmt"

	"github.com/quorumdocs/docflow/model"
)

// VError describes a single validation error in a definition.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validator validates workflow definitions structurally and referentially.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks all definition files.
func (v *Validator) Validate(files []model.DefinitionFile) []VError {
	var errs []VError
	seen := make(map[string]string)

	for i, file := range files {
		for j, w := range file.Workflows {
			prefix := fmt.Sprintf("files[%d].workflows[%d]", i, j)
			if w.ID != "" {
				if prev, dup := seen[w.ID]; dup {
					errs = append(errs, VError{
						Path:    prefix + ".id",
						Code:    "DUPLICATE",
						Message: fmt.Sprintf("workflow %q already defined in %s", w.ID, prev),
					})
				} else {
					seen[w.ID] = file.SourceFile
				}
			}
			errs = append(errs, v.validateWorkflow(prefix, w)...)
		}
	}
	return errs
}

func (v *Validator) validateWorkflow(prefix string, w model.WorkflowDefinition) []VError {
	var errs []VError

	if w.ID == "" {
		errs = append(errs, VError{Path: prefix + ".id", Code: "REQUIRED", Message: "id is required"})
	}
	if w.Name == "" {
		errs = append(errs, VError{Path: prefix + ".name", Code: "REQUIRED", Message: "name is required"})
	}
	if len(w.Stages) == 0 {
		errs = append(errs, VError{Path: prefix + ".stages", Code: "REQUIRED", Message: "at least one stage is required"})
		return errs
	}

	stageIDs := make(map[string]bool, len(w.Stages))
	for i, s := range w.Stages {
		sp := fmt.Sprintf("%s.stages[%d]", prefix, i)
		if s.ID == "" {
			errs = append(errs, VError{Path: sp + ".id", Code: "REQUIRED", Message: "stage id is required"})
			continue
		}
		if stageIDs[s.ID] {
			errs = append(errs, VError{
				Path:    sp + ".id",
				Code:    "DUPLICATE",
				Message: fmt.Sprintf("stage %q declared more than once", s.ID),
			})
		}
		stageIDs[s.ID] = true
	}

	if _, ok := w.FirstStage(); !ok {
		errs = append(errs, VError{
			Path:    prefix + ".stages",
			Code:    "NO_STARTING_STAGE",
			Message: "no stage with order 1 or id \"1\"",
		})
	}

	for i, t := range w.Transitions {
		tp := fmt.Sprintf("%s.transitions[%d]", prefix, i)
		if !stageIDs[t.From] {
			errs = append(errs, VError{
				Path:    tp + ".from",
				Code:    "UNKNOWN_STAGE",
				Message: fmt.Sprintf("transition references unknown stage %q", t.From),
			})
		}
		if !stageIDs[t.To] {
			errs = append(errs, VError{
				Path:    tp + ".to",
				Code:    "UNKNOWN_STAGE",
				Message: fmt.Sprintf("transition references unknown stage %q", t.To),
			})
		}
	}

	return errs
}
