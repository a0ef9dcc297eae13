package relay

import "sync"

// Registry maps user ids to their latest connection. A reconnect overwrites
// the prior session; there is no multi-session fan-out beyond the last writer.
// Process-local only, rebuilt empty on restart.
type Registry struct {
	mu    sync.Mutex
	conns map[string]*Conn
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Conn)}
}

// Put registers a connection for a user, replacing any prior one.
func (r *Registry) Put(userID string, c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[userID] = c
}

// Get returns the user's current connection, if any.
func (r *Registry) Get(userID string) (*Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[userID]
	return c, ok
}

// Remove unregisters the user's connection, but only if the registered
// session is still the given one. A stale disconnect arriving after a
// reconnect must not evict the new session.
func (r *Registry) Remove(userID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[userID]; ok && c.ID() == connID {
		delete(r.conns, userID)
	}
}

// Count reports the number of connected users.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// EmitToUser sends a frame to the user's current connection, if connected.
func (r *Registry) EmitToUser(userID string, f Frame) bool {
	c, ok := r.Get(userID)
	if !ok {
		return false
	}
	return c.Send(f)
}
