package relay

import (
	"errors"
	"sync"
)

// ErrDuplicateSession is returned when a session already exists for a stream
// sid. The telephony provider assigns fresh sids per call, so a duplicate
// means a protocol violation upstream; the existing session is left intact.
var ErrDuplicateSession = errors.New("session already exists for stream sid")

// Registry is the concurrent stream-sid to session map. It is the only
// state shared across sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Add inserts a session, atomically checking for a duplicate sid.
func (r *Registry) Add(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[s.StreamSid()]; exists {
		return ErrDuplicateSession
	}
	r.sessions[s.StreamSid()] = s
	return nil
}

// Get returns the session for streamSid, or nil. Absent is a valid outcome:
// frames routinely reference sessions already torn down.
func (r *Registry) Get(streamSid string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[streamSid]
}

// Remove deletes the session for streamSid. Removing an absent key, or the
// same key twice, is a no-op.
func (r *Registry) Remove(streamSid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, streamSid)
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
