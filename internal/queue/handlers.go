package queue

import (
	"context"
	"sort"
	"sync"
)

// DefaultGroup is the channel group handlers join unless registered
// otherwise.
const DefaultGroup = "main"

// Handler processes one task. A returned error requeues the task.
type Handler interface {
	Handle(ctx context.Context, env *Envelope) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, env *Envelope) error

func (f HandlerFunc) Handle(ctx context.Context, env *Envelope) error {
	return f(ctx, env)
}

type registration struct {
	handler Handler
	group   string
}

// HandlerRegistry maps handler names to implementations and channel groups.
// A process that only enqueues may register groups without handlers.
type HandlerRegistry struct {
	mu      sync.RWMutex
	entries map[string]registration
}

// NewHandlerRegistry creates an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{entries: make(map[string]registration)}
}

// Register binds name to h in group. An empty group means DefaultGroup.
func (r *HandlerRegistry) Register(name, group string, h Handler) {
	if group == "" {
		group = DefaultGroup
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = registration{handler: h, group: group}
}

// Lookup returns the handler bound to name.
func (r *HandlerRegistry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok || e.handler == nil {
		return nil, false
	}
	return e.handler, true
}

// Group returns the group of name, or DefaultGroup when unregistered.
func (r *HandlerRegistry) Group(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[name]; ok {
		return e.group
	}
	return DefaultGroup
}

// Names lists the registered handlers that have an implementation.
func (r *HandlerRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for n, e := range r.entries {
		if e.handler != nil {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}
