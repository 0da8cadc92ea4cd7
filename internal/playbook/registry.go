package playbook

import (
	"context"
	"sync"
)

// HandlerContext carries execution-scoped data into an action handler.
type HandlerContext struct {
	ExecutionID string
	Finding     Finding
	Initiator   string
}

// Handler executes one action. Handlers must honor ctx cancellation and, in
// dry-run, must not cause external side effects.
type Handler func(ctx context.Context, action Action, hc HandlerContext, dryRun bool) ActionResult

// RollbackHandler reverses a completed action using the token it recorded.
type RollbackHandler func(ctx context.Context, action Action, token string, hc HandlerContext) error

// PrereqCheck verifies one named prerequisite before any action runs.
type PrereqCheck func(ctx context.Context, finding Finding) error

// Registry dispatches action kinds to handlers. Built-in kinds are
// registered at construction; dynamic registration is guarded by a lock.
type Registry struct {
	mu        sync.RWMutex
	handlers  map[string]Handler
	rollbacks map[string]RollbackHandler
	prereqs   map[string]PrereqCheck
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers:  make(map[string]Handler),
		rollbacks: make(map[string]RollbackHandler),
		prereqs:   make(map[string]PrereqCheck),
	}
}

// Register binds a handler to an action kind, replacing any previous one.
func (r *Registry) Register(kind string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
}

// Resolve returns the handler for a kind.
func (r *Registry) Resolve(kind string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	return h, ok
}

// RegisterRollback binds a rollback sub-handler to a reference name.
func (r *Registry) RegisterRollback(ref string, h RollbackHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rollbacks[ref] = h
}

// ResolveRollback returns the rollback sub-handler for a reference.
func (r *Registry) ResolveRollback(ref string) (RollbackHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.rollbacks[ref]
	return h, ok
}

// RegisterPrereq binds a prerequisite check to a name.
func (r *Registry) RegisterPrereq(name string, c PrereqCheck) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prereqs[name] = c
}

// ResolvePrereq returns the check for a prerequisite name.
func (r *Registry) ResolvePrereq(name string) (PrereqCheck, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.prereqs[name]
	return c, ok
}
