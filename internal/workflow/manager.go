package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const sweepInterval = time.Minute

// Manager owns the sessions of all browsers and chats.
type Manager struct {
	cfg     SessionConfig
	idleTTL time.Duration
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// NewManager creates a manager. Sessions idle longer than idleTTL are stopped
// by Sweep.
func NewManager(cfg SessionConfig, idleTTL time.Duration) *Manager {
	return &Manager{
		cfg:      cfg,
		idleTTL:  idleTTL,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Get returns the session for id, creating it on first use. After Shutdown it
// returns a stopped session that answers every call with ErrSessionClosed.
func (m *Manager) Get(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		session := NewSession(id, m.cfg)
		session.Stop()
		return session
	}
	if session, ok := m.sessions[id]; ok {
		return session
	}
	session := NewSession(id, m.cfg)
	m.sessions[id] = session
	log.Info().Str("sessionId", id).Msg("workflow session created")
	return session
}

// Lookup returns an existing session without creating one.
func (m *Manager) Lookup(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	return session, ok
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep stops sessions that have been idle longer than the TTL. A session
// waiting on a generation is never expired. Returns the number stopped.
func (m *Manager) Sweep() int {
	if m.idleTTL <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.idleTTL)

	m.mu.Lock()
	var expired []*Session
	for id, session := range m.sessions {
		if session.LastActive().After(cutoff) {
			continue
		}
		if session.Snapshot().Status == StatusAnalyzing {
			continue
		}
		delete(m.sessions, id)
		expired = append(expired, session)
	}
	m.mu.Unlock()

	for _, session := range expired {
		session.Stop()
		log.Info().Str("sessionId", session.ID()).Msg("expired idle workflow session")
	}
	return len(expired)
}

// Run sweeps idle sessions every minute until ctx is done, then stops all sessions.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.Shutdown()
			return nil
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Shutdown stops all session workers gracefully. The manager creates no live
// sessions afterwards.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, session := range sessions {
		session.Stop()
	}
	log.Info().Int("count", len(sessions)).Msg("stopped workflow sessions")
}
