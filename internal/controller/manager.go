package controller

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultSessionTTL is how long an idle session is kept.
const DefaultSessionTTL = 30 * time.Minute

// Manager keeps one Controller per session id and evicts sessions that have
// been idle longer than the TTL. Sessions with voice I/O attached are never
// evicted.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Controller
	deps     Deps
	ttl      time.Duration
	now      func() time.Time
}

func NewManager(deps Deps, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Manager{
		sessions: make(map[string]*Controller),
		deps:     deps,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Get returns the session for id, starting it for userID when absent.
func (m *Manager) Get(id, userID string) *Controller {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.sessions[id]; ok {
		return c
	}
	c := New(id, userID, m.deps)
	m.sessions[id] = c
	log.Info().Str("component", "sessions").Str("session_id", id).Str("user_id", userID).Msg("session started")
	return c
}

// Lookup returns an existing session without creating one.
func (m *Manager) Lookup(id string) (*Controller, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.sessions[id]
	return c, ok
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep closes sessions idle for longer than the TTL and reports how many
// it removed.
func (m *Manager) Sweep() int {
	cutoff := m.now().Add(-m.ttl)
	m.mu.Lock()
	var expired []*Controller
	for id, c := range m.sessions {
		if c.Attached() || c.LastActive().After(cutoff) {
			continue
		}
		expired = append(expired, c)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, c := range expired {
		c.Close()
		log.Info().Str("component", "sessions").Str("session_id", c.ID()).Msg("session expired")
	}
	return len(expired)
}

// Run sweeps on every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Sweep()
		}
	}
}

// Close ends every session.
func (m *Manager) Close() {
	m.mu.Lock()
	all := make([]*Controller, 0, len(m.sessions))
	for id, c := range m.sessions {
		all = append(all, c)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range all {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Close()
		}()
	}
	wg.Wait()
}
