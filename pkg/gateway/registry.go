// Package gateway holds the run-id to internal-URL registry consulted by
// the external reverse proxy. Presence in the registry reflects
// reachability: a run is registered exactly while it is ready.
package gateway

import "sync"

// Registry is a concurrent map from run identifier to internal URL. Writes
// come only from the lifecycle engine; reads come from the HTTP surface on
// every proxied request.
type Registry struct {
	mu     sync.RWMutex
	routes map[string]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{routes: make(map[string]string)}
}

// Register maps a run identifier to its internal URL.
func (r *Registry) Register(runID, url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[runID] = url
}

// Unregister removes a run's mapping. Unregistering an absent run is a
// no-op.
func (r *Registry) Unregister(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.routes, runID)
}

// Resolve returns the internal URL for a run, if registered.
func (r *Registry) Resolve(runID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	url, ok := r.routes[runID]
	return url, ok
}

// Size returns the number of registered runs.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.routes)
}
