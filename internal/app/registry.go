package app

import (
	"cmp"
	"fmt"
	"slices"
	"sync"

	"github.com/dkeye/podcast/internal/domain"
	"github.com/dkeye/podcast/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Registry maps podcast ids to live sessions. One mutex guards the map and
// every session's fields; all access goes through With/WithSession.
type Registry struct {
	mu       sync.Mutex
	sessions map[domain.SessionID]*Session
	newID    func() domain.SessionID
	metrics  *metrics.Metrics
}

func NewRegistry(m *metrics.Metrics) *Registry {
	if m == nil {
		m = metrics.NewUnregistered()
	}
	return &Registry{
		sessions: make(map[domain.SessionID]*Session),
		newID:    domain.NewSessionID,
		metrics:  m,
	}
}

// GenerateID returns an id not present in the registry at call time.
// Ids come from a 122-bit random space, so each retry succeeds with
// overwhelming probability and the loop ends after a handful of draws.
func (r *Registry) GenerateID() domain.SessionID {
	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		id := r.newID()
		if _, taken := r.sessions[id]; !taken {
			return id
		}
		log.Warn().Str("module", "app.registry").Str("podcast", string(id)).Msg("id collision, resampling")
	}
}

func (r *Registry) Create(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := s.Data.ID
	if _, ok := r.sessions[id]; ok {
		return fmt.Errorf("%w: %s", domain.ErrSessionExists, id)
	}
	r.sessions[id] = s
	r.metrics.ActiveSessions.Set(float64(len(r.sessions)))
	log.Info().
		Str("module", "app.registry").
		Str("podcast", string(id)).
		Uint16("port", s.Relay.Port()).
		Str("host", s.Data.Host.String()).
		Msg("podcast created")
	return nil
}

// With runs fn with exclusive access to the session. It reports whether the
// session exists.
func (r *Registry) With(id domain.SessionID, fn func(*Session)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	fn(s)
	return true
}

// WithSession is With for callbacks that produce a value.
func WithSession[T any](r *Registry, id domain.SessionID, fn func(*Session) T) (T, bool) {
	var out T
	ok := r.With(id, func(s *Session) { out = fn(s) })
	return out, ok
}

// Remove deletes the session and releases its socket. Removing an absent id
// is a no-op.
func (r *Registry) Remove(id domain.SessionID) bool {
	removed, _ := r.RemoveIf(id, func(*Session) bool { return true })
	return removed
}

// RemoveIf removes the session only when pred holds, atomically with the check.
func (r *Registry) RemoveIf(id domain.SessionID, pred func(*Session) bool) (removed, present bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return false, false
	}
	if !pred(s) {
		return false, true
	}
	r.removeLocked(id, s)
	return true, true
}

func (r *Registry) removeLocked(id domain.SessionID, s *Session) {
	delete(r.sessions, id)
	if err := s.close(); err != nil {
		log.Error().Err(err).Str("module", "app.registry").Str("podcast", string(id)).Msg("relay close")
	}
	r.metrics.ActiveSessions.Set(float64(len(r.sessions)))
	log.Info().Str("module", "app.registry").Str("podcast", string(id)).Msg("podcast removed")
}

// List returns copies of every session's data, ordered by id.
func (r *Registry) List() []domain.SessionData {
	r.mu.Lock()
	out := make([]domain.SessionData, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Data.Clone())
	}
	r.mu.Unlock()
	slices.SortFunc(out, func(a, b domain.SessionData) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// UsedPorts reports the relay ports of all live sessions.
func (r *Registry) UsedPorts() map[uint16]struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[uint16]struct{}, len(r.sessions))
	for _, s := range r.sessions {
		out[s.Relay.Port()] = struct{}{}
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close removes every session and drops their signaling connections.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.sessions {
		s.dropSignals()
		r.removeLocked(id, s)
	}
}

// RemoveWith runs fn on the session and removes it under the same lock, so
// nothing can attach to the session between the two steps.
func (r *Registry) RemoveWith(id domain.SessionID, fn func(*Session)) bool {
	removed, _ := r.RemoveIf(id, func(s *Session) bool {
		fn(s)
		return true
	})
	return removed
}
