// Package capability resolves dotted exec paths to registered callables and
// invokes them with resolved arguments. Skills and system capabilities are
// registered by name before any input is processed; the engine only ever
// dispatches to what this registry knows.
package capability

import (
	"context"
	"strings"
	"sync"

	"github.com/sibyl-run/sibyl/pkg/errors"
)

// ArgValue is one resolved call argument. Name is set for keyword-style
// arguments (rule='...'), empty for positional ones.
type ArgValue struct {
	Name  string
	Value any
}

// Find returns the value of the named argument.
func Find(args []ArgValue, name string) (any, bool) {
	for _, arg := range args {
		if arg.Name == name {
			return arg.Value, true
		}
	}
	return nil, false
}

// Callable is an invocable capability. Implementations are opaque to the
// engine; they receive resolved arguments and may block, so they are always
// invoked through the timeout boundary.
type Callable func(ctx context.Context, args []ArgValue) (any, error)

// Registry maps dotted capability paths to callables. Registration happens
// at startup; lookups are safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	callables map[string]Callable
}

// NewRegistry returns an empty capability registry.
func NewRegistry() *Registry {
	return &Registry{callables: make(map[string]Callable)}
}

// Register binds a callable to a dotted path such as "agent.skills.talk" or
// "system.reset_memory". Re-registering a path replaces the callable.
func (r *Registry) Register(path string, fn Callable) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return errors.Newf(errors.CodeConfig, "capability path is required")
	}
	if fn == nil {
		return errors.Newf(errors.CodeConfig, "capability %q has no callable", path)
	}
	for _, part := range strings.Split(path, ".") {
		if part == "" {
			return errors.Newf(errors.CodeConfig, "invalid capability path %q", path)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callables[path] = fn
	return nil
}

// Lookup returns the callable registered under path.
func (r *Registry) Lookup(path string) (Callable, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.callables[path]
	return fn, ok
}

// Paths returns every registered path. Order is unspecified.
func (r *Registry) Paths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.callables))
	for path := range r.callables {
		out = append(out, path)
	}
	return out
}
