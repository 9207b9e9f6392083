package actions

import (
	"errors"
	"slices"
	"sync"

	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

// Registry maps action names used by action steps to their handlers. It is
// filled once at start-up and read concurrently by every execution.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Action
	names  []string // sorted
}

var _ ActionRegistry = (*Registry)(nil)

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Action)}
}

// Register adds action under its own name. Names are unique.
func (r *Registry) Register(action Action) error {
	if action == nil {
		return schema.NewError(schema.ErrCodeValidation, "action is nil")
	}
	name := action.Name()
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "action name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byName[name]; dup {
		return schema.NewErrorf(schema.ErrCodeConflict, "action %q already registered", name)
	}
	r.byName[name] = action
	i, _ := slices.BinarySearch(r.names, name)
	r.names = slices.Insert(r.names, i, name)
	return nil
}

// Get returns the handler for name, or UNKNOWN_ACTION.
func (r *Registry) Get(name string) (Action, error) {
	r.mu.RLock()
	a, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeUnknownAction, "unknown action %q", name)
	}
	return a, nil
}

// Has reports whether name is registered. The compiler uses it to reject
// action steps that could never dispatch.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byName[name]
	return ok
}

// Check resolves name and validates params against it without running it.
func (r *Registry) Check(name string, params map[string]any) error {
	a, err := r.Get(name)
	if err != nil {
		return err
	}
	err = a.Validate(params)
	var fe *schema.FlowError
	if err == nil || errors.As(err, &fe) {
		return err
	}
	return schema.NewErrorf(schema.ErrCodeValidation, "action %s: %v", name, err).WithCause(err)
}

// CheckLiteral runs Check for actions that resolve their own params and
// ignores the rest, whose params may hold {{...}} templates that only
// render at run time.
func (r *Registry) CheckLiteral(name string, params map[string]any) error {
	a, err := r.Get(name)
	if err != nil {
		return err
	}
	if sr, ok := a.(SelfResolving); !ok || !sr.ResolvesOwnParams() {
		return nil
	}
	return r.Check(name, params)
}

// List describes every action, by name.
func (r *Registry) List() []ActionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]ActionInfo, 0, len(r.names))
	for _, name := range r.names {
		a := r.byName[name]
		s := a.Schema()
		_, selfResolving := a.(SelfResolving)
		infos = append(infos, ActionInfo{
			Name:          name,
			Description:   s.Description,
			Required:      s.Required,
			Optional:      s.Optional,
			SelfResolving: selfResolving,
		})
	}
	return infos
}

// Count returns the number of registered actions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}

// Names returns the registered names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.names)
}
