package action

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps verbs to factories. Registration is explicit: nothing is
// added behind the caller's back.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Default returns a registry holding every built-in verb.
func Default() *Registry {
	r := NewRegistry()
	r.Register("install", newInstall)
	r.Register("test", newTest)
	r.Register("lint", newLint)
	r.Register("format", newFormat)
	r.Register("typecheck", newTypecheck)
	r.Register("build", newBuild)
	r.Register("update", newUpdate)
	r.Register("clean", newClean)
	r.Register("bump", newBump)
	r.Register("export", newExport)
	return r
}

// Register binds verb to f, replacing any previous binding.
func (r *Registry) Register(verb string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[verb] = f
}

// Lookup returns the factory for verb, or ErrUnknownVerb.
func (r *Registry) Lookup(verb string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[verb]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVerb, verb)
	}
	return f, nil
}

// New looks up verb and builds the action.
func (r *Registry) New(verb string, opts Options) (Action, error) {
	f, err := r.Lookup(verb)
	if err != nil {
		return nil, err
	}
	return f(opts)
}

// Verbs returns the registered verbs, sorted.
func (r *Registry) Verbs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	verbs := make([]string, 0, len(r.factories))
	for v := range r.factories {
		verbs = append(verbs, v)
	}
	sort.Strings(verbs)
	return verbs
}
