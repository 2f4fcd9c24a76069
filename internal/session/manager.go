package session

import (
	"sync"

	"github.com/google/uuid"
)

// Manager tracks all live sessions. Safe for concurrent use.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

// NewID returns a fresh session identifier.
func NewID() string {
	return uuid.NewString()
}

// Create registers a new session under id. An empty id gets a generated one.
// If a session with that id already exists it is replaced; a reconnecting
// client starts from a clean slate.
func (m *Manager) Create(id, subject string) *Session {
	if id == "" {
		id = NewID()
	}
	s := New(id, subject)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id] = s
	return s
}

// Get returns the session with the given id, or nil.
func (m *Manager) Get(id string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

// Remove deletes the session with the given id.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
