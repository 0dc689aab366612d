package publishing

import (
	"sync"
)

// ConnectionRegistry is a process-wide keyed store of reusable connections.
// A publisher that stops gracefully parks its connection here so the next
// publisher targeting the same endpoint can skip the dial. The registry is
// purely a lookup table: it performs no I/O and makes no lifecycle
// decisions.
type ConnectionRegistry struct {
	mu          sync.RWMutex
	connections map[string]Connection
}

// NewConnectionRegistry creates an empty registry.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		connections: make(map[string]Connection),
	}
}

// Get returns the connection registered for url, or nil if there is none.
// The entry is left in place.
func (r *ConnectionRegistry) Get(url string) Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connections[url]
}

// Put registers conn as reusable for url, overwriting any existing entry.
func (r *ConnectionRegistry) Put(url string, conn Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections[url] = conn
}

// Remove evicts the entry for url. It is a no-op if there is none.
func (r *ConnectionRegistry) Remove(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.connections, url)
}

// Len returns the number of registered connections.
func (r *ConnectionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}
