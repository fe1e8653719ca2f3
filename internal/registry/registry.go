// Package registry is the authoritative source of truth for which transport
// connections are currently alive. Every other component treats connection
// ids as potentially stale and re-checks liveness here before any send; a
// missing connection is never an error, only a signal to skip delivery.
package registry

import "sync"

// Conn is one live bidirectional transport connection. Implementations must
// be safe for concurrent Send calls; a failed Send marks the connection as
// good as dead and the owner is expected to remove it from the registry.
type Conn interface {
	ID() string
	Send(event string, data any) error
	Close() error
}

type Registry struct {
	mu    sync.RWMutex
	conns map[string]Conn
}

func New() *Registry {
	return &Registry{
		conns: make(map[string]Conn),
	}
}

func (r *Registry) Add(conn Conn) {
	r.mu.Lock()
	r.conns[conn.ID()] = conn
	r.mu.Unlock()
}

// Remove drops the connection from the registry. It does not close the
// underlying transport; disconnect handling owns that.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.conns, id)
	r.mu.Unlock()
}

func (r *Registry) IsAlive(id string) bool {
	if id == "" {
		return false
	}
	r.mu.RLock()
	_, ok := r.conns[id]
	r.mu.RUnlock()
	return ok
}

func (r *Registry) Get(id string) (Conn, bool) {
	r.mu.RLock()
	conn, ok := r.conns[id]
	r.mu.RUnlock()
	return conn, ok
}

// Send delivers an event to the connection if it is still alive. Returns
// false when the connection is gone or the write failed; either way the
// caller treats it as "partner transiently unreachable", not a fault.
func (r *Registry) Send(id, event string, data any) bool {
	conn, ok := r.Get(id)
	if !ok {
		return false
	}
	return conn.Send(event, data) == nil
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CloseAll closes every live connection and empties the registry. Used on
// shutdown only.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := make([]Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.conns = make(map[string]Conn)
	r.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}
