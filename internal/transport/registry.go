package transport

import (
	"sync"

	"go.uber.org/zap"
)

// ManagedConn is the view of a connection shared with the registry and the
// message handler. *Conn implements it; tests substitute fakes.
type ManagedConn interface {
	ID() string
	Push(payload []byte) error
	Close()
}

// Registry tracks every live connection by id.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]ManagedConn
	logger *zap.Logger
}

// NewRegistry creates an empty connection registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		conns:  make(map[string]ManagedConn),
		logger: logger,
	}
}

// Register adds a connection to the registry.
//
// Precondition: conn must not be nil.
func (r *Registry) Register(conn ManagedConn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[conn.ID()] = conn
	r.logger.Debug("connection registered",
		zap.String("conn_id", conn.ID()),
		zap.Int("total", len(r.conns)),
	)
}

// Unregister removes a connection. It reports whether the connection was
// present, so callers can make the disconnect path idempotent: duplicate
// close notifications for the same socket return false.
func (r *Registry) Unregister(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[connID]; !ok {
		return false
	}
	delete(r.conns, connID)
	r.logger.Debug("connection unregistered",
		zap.String("conn_id", connID),
		zap.Int("total", len(r.conns)),
	)
	return true
}

// Get looks up a connection by id.
func (r *Registry) Get(connID string) (ManagedConn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[connID]
	return c, ok
}

// Count reports the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CloseAll closes every registered connection. Called on shutdown; the
// read pumps will unregister each connection as it observes the close.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	conns := make([]ManagedConn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	for _, c := range conns {
		c.Close()
	}
}
