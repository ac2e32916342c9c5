package evalharness

import "sync"

// SpecRegistry holds the known EvaluationSpecs a process is willing to run,
// keyed by spec id. EvalRun rows only persist the spec id they were created
// against, so the sweeper's promotion job needs this lookup to recover the
// actual task list before calling Harness.Run.
type SpecRegistry struct {
	mu    sync.RWMutex
	specs map[string]EvaluationSpec
}

// NewSpecRegistry builds a registry seeded with specs.
func NewSpecRegistry(specs ...EvaluationSpec) *SpecRegistry {
	r := &SpecRegistry{specs: make(map[string]EvaluationSpec, len(specs))}
	for _, s := range specs {
		r.specs[s.ID] = s
	}
	return r
}

// Register adds or replaces a spec.
func (r *SpecRegistry) Register(spec EvaluationSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs[spec.ID] = spec
}

// Get looks up a spec by id.
func (r *SpecRegistry) Get(id string) (EvaluationSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.specs[id]
	return s, ok
}
