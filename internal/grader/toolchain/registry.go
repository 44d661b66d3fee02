package toolchain

import (
	"sort"
	"sync"

	"codegrader/internal/grader/engine"
	appErr "codegrader/pkg/errors"
)

// Registry maps language ids to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// BuildRegistry creates one adapter per spec. Specs without an id are skipped.
func BuildRegistry(specs []LanguageSpec, runner engine.Runner, opts Options) (*Registry, error) {
	reg := NewRegistry()
	for _, spec := range specs {
		if spec.ID == "" {
			continue
		}
		adapter, err := NewAdapter(spec, runner, opts)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.ToolchainError, "language %s", spec.ID)
		}
		reg.Register(adapter)
	}
	return reg, nil
}

// Register adds or replaces the adapter for a.Language().
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Language()] = a
}

// Get returns the adapter for id.
func (r *Registry) Get(id string) (Adapter, error) {
	if id == "" {
		return nil, appErr.ValidationError("language", "required")
	}
	r.mu.RLock()
	a, ok := r.adapters[id]
	r.mu.RUnlock()
	if !ok {
		return nil, appErr.New(appErr.LanguageNotSupported).WithDetail("language", id)
	}
	return a, nil
}

// Languages lists registered specs ordered by id.
func (r *Registry) Languages() []LanguageSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]LanguageSpec, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a.Spec())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
