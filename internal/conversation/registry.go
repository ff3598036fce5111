package conversation

import (
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// DefaultSessionID names the session used when a caller does not pick one.
const DefaultSessionID = "default"

// ErrSessionNotFound is returned for unknown session ids.
var ErrSessionNotFound = errors.New("session not found")

// Registry tracks live sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry returns a registry holding only the default session.
func NewRegistry() *Registry {
	return &Registry{sessions: map[string]*Session{
		DefaultSessionID: NewSession(DefaultSessionID),
	}}
}

// Create starts a new session with a random id.
func (r *Registry) Create() *Session {
	s := NewSession(uuid.New().String())
	r.mu.Lock()
	r.sessions[s.ID()] = s
	r.mu.Unlock()
	return s
}

// Get returns the session with id. An empty id selects the default session.
func (r *Registry) Get(id string) (*Session, error) {
	if id == "" {
		return r.Default(), nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Default returns the default session.
func (r *Registry) Default() *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[DefaultSessionID]
}

// Delete tears a session down. Deleting the default session replaces it with
// a fresh one.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	s.Close()
	delete(r.sessions, id)
	if id == DefaultSessionID {
		r.sessions[DefaultSessionID] = NewSession(DefaultSessionID)
	}
	return nil
}

// IDs returns the ids of all live sessions, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
