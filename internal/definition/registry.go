package definition

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/quorumdocs/docflow/model"
)

// snapshot is an immutable collection of all definitions indexed by ID.
type snapshot struct {
	workflows map[string]model.WorkflowDefinition
	checksum  string
}

// Registry is a read-optimized, thread-safe store of all loaded workflow
// definitions. It uses atomic pointer swap for lock-free concurrent reads.
type Registry struct {
	snap atomic.Pointer[snapshot]
}

// NewRegistry creates a Registry from the given definition files.
func NewRegistry(files []model.DefinitionFile) *Registry {
	r := &Registry{}
	r.Replace(files)
	return r
}

// Replace atomically swaps the registry contents with a new snapshot built
// from the given definition files.
func (r *Registry) Replace(files []model.DefinitionFile) {
	s := &snapshot{
		workflows: make(map[string]model.WorkflowDefinition),
	}

	var checksumParts []string
	for _, file := range files {
		checksumParts = append(checksumParts, file.Checksum)
		for _, w := range file.Workflows {
			s.workflows[w.ID] = w
		}
	}

	sort.Strings(checksumParts)
	combined := strings.Join(checksumParts, ":")
	s.checksum = fmt.Sprintf("%x", sha256.Sum256([]byte(combined)))

	r.snap.Store(s)
}

func (r *Registry) current() *snapshot {
	return r.snap.Load()
}

// GetWorkflow returns the workflow definition with the given ID.
func (r *Registry) GetWorkflow(workflowID string) (model.WorkflowDefinition, bool) {
	w, ok := r.current().workflows[workflowID]
	return w, ok
}

// AllWorkflows returns all workflow definitions sorted by ID.
func (r *Registry) AllWorkflows() []model.WorkflowDefinition {
	s := r.current()
	defs := make([]model.WorkflowDefinition, 0, len(s.workflows))
	for _, w := range s.workflows {
		defs = append(defs, w)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs
}

// Summaries returns the listing projection of all workflow definitions.
func (r *Registry) Summaries() []model.WorkflowSummary {
	defs := r.AllWorkflows()
	summaries := make([]model.WorkflowSummary, 0, len(defs))
	for _, d := range defs {
		summaries = append(summaries, model.WorkflowSummary{
			ID:          d.ID,
			Name:        d.Name,
			Version:     d.Version,
			Description: d.Description,
			StageCount:  len(d.Stages),
		})
	}
	return summaries
}

// Checksum returns the combined checksum of all loaded definitions.
func (r *Registry) Checksum() string {
	return r.current().checksum
}
