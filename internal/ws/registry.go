package ws

import (
	"errors"
	"sync"
)

var ErrDuplicateConnection = errors.New("duplicate connection id")

// client couples a connection's identity with its outbound queue. The queue is
// drained by a writer goroutine owned by the connection handler, so a slow or
// dead peer never blocks broadcast fan-out.
type client struct {
	info ConnInfo
	send chan []byte
}

func newClient(info ConnInfo, queueSize int) *client {
	return &client{info: info, send: make(chan []byte, queueSize)}
}

// Registry owns the connectionId -> client mapping. It is the only shared
// mutable state in the relay and is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*client
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]*client)}
}

// Register adds a connection. Connection ids are generated per connection, so
// a duplicate indicates a caller bug and is rejected.
func (r *Registry) Register(connID string, c *client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[connID]; ok {
		return ErrDuplicateConnection
	}
	r.clients[connID] = c
	return nil
}

// Deregister removes a connection and closes its outbound queue. Removing an
// absent id is a no-op.
func (r *Registry) Deregister(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[connID]
	if !ok {
		return
	}
	delete(r.clients, connID)
	close(c.send)
}

// Lookup returns the connection info for a registered id.
func (r *Registry) Lookup(connID string) (ConnInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[connID]
	if !ok {
		return ConnInfo{}, false
	}
	return c.info, true
}

// Len reports the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// each invokes fn for every registered client under the read lock. Enqueues
// are non-blocking channel sends, so holding the lock across fn keeps the
// iteration consistent with deregistration (which closes queues under the
// write lock) without stalling register/deregister for long.
func (r *Registry) each(fn func(c *client)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.clients {
		fn(c)
	}
}
