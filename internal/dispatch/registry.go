// Package dispatch routes parsed requests to API handlers or static content.
package dispatch

import (
	"sync"

	"webrs/internal/request"
	"webrs/internal/response"
)

// HandlerFunc produces a response for a request, or nil when it has nothing
// to say and the next matching handler should be tried.
type HandlerFunc func(*request.Request) *response.Response

// Capability is a pluggable API handler mounted below /api.
type Capability struct {
	// Prefix is matched against the path with /api removed.
	Prefix string
	Get    HandlerFunc
	Post   HandlerFunc
}

// Entry is a registered capability. Calls into the same entry are serialized.
type Entry struct {
	mu  sync.Mutex
	cap Capability
}

// Prefix returns the mount prefix.
func (e *Entry) Prefix() string { return e.cap.Prefix }

// Call invokes the handler for method under the entry lock. Unknown methods
// and missing handlers yield nil.
func (e *Entry) Call(method request.Method, req *request.Request) *response.Response {
	var fn HandlerFunc
	switch method {
	case request.GET:
		fn = e.cap.Get
	case request.POST:
		fn = e.cap.Post
	}
	if fn == nil {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(req)
}

// Registry is an ordered list of capabilities. Registration order is lookup
// order.
type Registry struct {
	mu      sync.RWMutex
	entries []*Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends c.
func (r *Registry) Register(c Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, &Entry{cap: c})
}

// Entries returns a snapshot of the registered entries.
func (r *Registry) Entries() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len returns the number of registered capabilities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Prefixes lists mount points in registration order.
func (r *Registry) Prefixes() []string {
	entries := r.Entries()
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Prefix())
	}
	return out
}
