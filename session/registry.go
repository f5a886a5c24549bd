package session

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the live sessions of a long-running server, keyed by id.
type Registry struct {
	cfg      Config
	sessions map[string]Session
	mu       sync.Mutex
}

// NewRegistry creates an empty Registry that opens sessions with cfg.
func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg, sessions: make(map[string]Session)}
}

// Open returns the session with id, creating it for requester when absent.
// An empty id always creates a new session. The second result reports
// whether the session was created. An existing session opens only for the
// requester it was created for; any other returns ErrRequesterMismatch.
func (r *Registry) Open(id, requester string) (Session, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id != "" {
		if s, ok := r.sessions[id]; ok {
			if s.Requester() != requester {
				return nil, false, fmt.Errorf("%w: %s", ErrRequesterMismatch, id)
			}
			return s, false, nil
		}
	}

	var s Session
	if id == "" {
		s = NewMemorySession(requester, r.cfg.Window)
	} else {
		s = newMemorySession(id, requester, r.cfg.Window)
	}
	r.sessions[s.ID()] = s
	return s, true, nil
}

// Get returns the session with id.
func (r *Registry) Get(id string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Close forgets the session with id.
func (r *Registry) Close(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// IDs returns the ids of all live sessions, sorted.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
