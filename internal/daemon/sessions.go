package daemon

import (
	"sync"
	"time"
)

// Session tracks one connected client/project pairing for the idle-shutdown
// and services/sessions endpoints.
type Session struct {
	ID           string    `json:"id"`
	ProjectPath  string    `json:"project_path"`
	RegisteredAt time.Time `json:"registered_at"`
	LastActivity time.Time `json:"last_activity"`
}

// SessionRegistry tracks active client sessions, auto-registering on
// activity from unknown session ids.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessionRegistry constructs an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]*Session)}
}

// Register adds or replaces a session.
func (r *SessionRegistry) Register(id, projectPath string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	s := &Session{ID: id, ProjectPath: projectPath, RegisteredAt: now, LastActivity: now}
	r.sessions[id] = s
	return s
}

// Unregister removes a session. Returns false if it was not present.
func (r *SessionRegistry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	return true
}

// Touch records activity for id, auto-registering it under projectPath if
// it isn't already known.
func (r *SessionRegistry) Touch(id, projectPath string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		now := time.Now().UTC()
		s = &Session{ID: id, ProjectPath: projectPath, RegisteredAt: now, LastActivity: now}
		r.sessions[id] = s
		return s
	}
	s.LastActivity = time.Now().UTC()
	return s
}

// List returns a snapshot of all active sessions.
func (r *SessionRegistry) List() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Count returns the number of active sessions.
func (r *SessionRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// IdleSince returns the duration since the most recent activity across all
// sessions, or since registryCreated if there are no sessions at all.
func (r *SessionRegistry) IdleSince(registryCreated time.Time) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	latest := registryCreated
	for _, s := range r.sessions {
		if s.LastActivity.After(latest) {
			latest = s.LastActivity
		}
	}
	return time.Since(latest)
}
