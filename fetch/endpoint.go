package fetch

import (
	"sync"
	"time"
)

// Kind represents how an endpoint produces an image
type Kind string

const (
	// KindRemote fetches the image over HTTP
	KindRemote Kind = "remote"
	// KindRender produces the image with the local render collaborator
	KindRender Kind = "render"
)

// Endpoint represents one configured image source
type Endpoint struct {
	// ID tags the source in cache keys, logs and metrics
	ID string
	// Kind selects the acquisition path
	Kind Kind
	// URL is the remote address, unused for render endpoints
	URL string
	// Timeout bounds a single acquisition attempt
	Timeout time.Duration
}

// NewRegistry returns a Registry holding the provided endpoints in order
func NewRegistry(endpoints []Endpoint) *Registry {
	r := &Registry{}
	r.Replace(endpoints)
	return r
}

// Registry holds the ordered list of candidate image sources.
// Failover is stateless: no per-endpoint health survives a fetch, every pass
// restarts from the first endpoint. Keeping it that simple is deliberate.
type Registry struct {
	m         sync.RWMutex
	endpoints []Endpoint
}

// Snapshot returns the current endpoint list. The returned slice is a copy,
// a concurrent Replace never mutates it mid-iteration.
func (r *Registry) Snapshot() []Endpoint {
	r.m.RLock()
	defer r.m.RUnlock()

	out := make([]Endpoint, len(r.endpoints))
	copy(out, r.endpoints)
	return out
}

// Replace swaps in a whole new endpoint list, e.g. on configuration reload
func (r *Registry) Replace(endpoints []Endpoint) {
	next := make([]Endpoint, len(endpoints))
	copy(next, endpoints)

	r.m.Lock()
	r.endpoints = next
	r.m.Unlock()
}
