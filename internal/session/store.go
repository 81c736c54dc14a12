// Package session provides a keyed server-side session store: the browser
// cookie carries only an opaque session id, all state (pending OAuth2 flow,
// token cache, UI convenience values) stays on the server with an explicit
// TTL.
package session

import (
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"
)

// Session is a snapshot of one browser session's values. Mutations become
// visible to other requests only after Save; writes are last-writer-wins
// per session id.
type Session struct {
	ID     string
	Values map[string]string
}

// Set stores a value.
func (s *Session) Set(key, value string) {
	s.Values[key] = value
}

// Get returns a value, empty if absent.
func (s *Session) Get(key string) string {
	return s.Values[key]
}

// Delete removes a key.
func (s *Session) Delete(key string) {
	delete(s.Values, key)
}

// Store is the port for session persistence.
type Store interface {
	// New creates an unsaved session with a fresh random id.
	New() (*Session, error)

	// Get loads a copy of the session; false when absent or expired.
	Get(id string) (*Session, bool)

	// Save persists the session and renews its expiry.
	Save(s *Session)

	// Pop atomically reads and removes a single key from the stored
	// session. The atomicity makes single-use keys (the pending OAuth2
	// flow) safe against concurrent replays on one session.
	Pop(id, key string) (string, bool)

	// Destroy removes the session entirely.
	Destroy(id string)
}

type entry struct {
	values    map[string]string
	expiresAt time.Time
}

// MemoryStore is the in-memory Store implementation.
type MemoryStore struct {
	ttl time.Duration

	mu       sync.Mutex
	sessions map[string]entry
}

// NewMemoryStore creates a store whose sessions expire ttl after their
// last save.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:      ttl,
		sessions: make(map[string]entry),
	}
}

// New implements Store.
func (m *MemoryStore) New() (*Session, error) {
	id, err := newSessionID()
	if err != nil {
		return nil, err
	}
	return &Session{ID: id, Values: map[string]string{}}, nil
}

// Get implements Store.
func (m *MemoryStore) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		delete(m.sessions, id)
		return nil, false
	}
	return &Session{ID: id, Values: copyValues(e.values)}, true
}

// Save implements Store.
func (m *MemoryStore) Save(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = entry{
		values:    copyValues(s.Values),
		expiresAt: time.Now().Add(m.ttl),
	}
}

// Pop implements Store.
func (m *MemoryStore) Pop(id, key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.sessions[id]
	if !ok || time.Now().After(e.expiresAt) {
		return "", false
	}
	value, present := e.values[key]
	if !present {
		return "", false
	}
	delete(e.values, key)
	m.sessions[id] = e
	return value, true
}

// Destroy implements Store.
func (m *MemoryStore) Destroy(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// Sweep drops expired sessions. Called periodically from main.
func (m *MemoryStore) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	removed := 0
	for id, e := range m.sessions {
		if now.After(e.expiresAt) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

func newSessionID() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func copyValues(values map[string]string) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}
