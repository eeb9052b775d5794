package session

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/brandloom-ai/brandloom/internal/eventbus"
)

// Registry tracks all live coordinators in the daemon. One coordinator exists
// per connected client; the registry owns their lifetimes.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Coordinator

	newID  func() string
	bus    *eventbus.Bus
	logger *log.Logger
}

// RegistryOption customises a registry.
type RegistryOption func(*Registry)

// WithIDGenerator overrides session id generation (tests use fixed ids).
func WithIDGenerator(gen func() string) RegistryOption {
	return func(r *Registry) { r.newID = gen }
}

// WithRegistryLogger overrides the registry logger.
func WithRegistryLogger(logger *log.Logger) RegistryOption {
	return func(r *Registry) { r.logger = logger }
}

// NewRegistry creates an empty registry.
func NewRegistry(bus *eventbus.Bus, opts ...RegistryOption) *Registry {
	r := &Registry{
		sessions: make(map[string]*Coordinator),
		newID:    uuid.NewString,
		bus:      bus,
		logger:   log.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create builds, registers and starts a coordinator for one client. The
// config's SessionID and Bus are filled in by the registry.
func (r *Registry) Create(ctx context.Context, cfg Config) (*Coordinator, error) {
	cfg.SessionID = r.newID()
	cfg.Bus = r.bus

	c := NewCoordinator(cfg)

	r.mu.Lock()
	if _, exists := r.sessions[c.id]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("session: duplicate id %q", c.id)
	}
	r.sessions[c.id] = c
	count := len(r.sessions)
	r.mu.Unlock()

	c.onClose = func() { r.remove(c.id) }
	c.Start(ctx)

	r.logger.Printf("[Registry] session %s created (%d active)", c.id, count)
	eventbus.Publish(ctx, r.bus, eventbus.Sessions.Lifecycle, eventbus.SourceRegistry,
		eventbus.SessionLifecycleEvent{SessionID: c.id, State: eventbus.SessionStateIdle, Reason: "created"})
	return c, nil
}

// Get returns the coordinator for an id.
func (r *Registry) Get(id string) (*Coordinator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.sessions[id]
	return c, ok
}

// Count reports how many sessions are registered.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Destroy stops a coordinator and removes it. Reports whether it existed.
func (r *Registry) Destroy(id string) bool {
	r.mu.Lock()
	c, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return false
	}
	c.Stop()
	r.logger.Printf("[Registry] session %s destroyed", id)
	return true
}

// CloseAll stops every registered coordinator. Used during daemon shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := make([]*Coordinator, 0, len(r.sessions))
	for _, c := range r.sessions {
		all = append(all, c)
	}
	r.sessions = make(map[string]*Coordinator)
	r.mu.Unlock()

	for _, c := range all {
		c.Stop()
	}
	if len(all) > 0 {
		r.logger.Printf("[Registry] closed %d session(s)", len(all))
	}
}

// remove drops a session that closed on its own (client END_SESSION).
func (r *Registry) remove(id string) {
	r.mu.Lock()
	_, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if ok {
		r.logger.Printf("[Registry] session %s closed", id)
	}
}
