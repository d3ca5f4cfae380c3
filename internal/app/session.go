package app

import (
	"context"

	"github.com/dkeye/podcast/internal/app/relay"
	"github.com/dkeye/podcast/internal/core"
	"github.com/dkeye/podcast/internal/domain"
)

type signalEntry struct {
	Participant domain.ParticipantID
	Conn        core.SignalConnection
}

// Session is the unit stored in the Registry: podcast meta, its relay and the
// signaling connections attached to it. Fields are only touched while the
// registry lock is held.
type Session struct {
	Data  domain.SessionData
	Relay *relay.AudioRelay

	signals map[domain.ConnID]signalEntry

	ctx    context.Context
	cancel context.CancelFunc
}

// NewSession takes ownership of rl. The session context is cancelled on removal.
func NewSession(parent context.Context, data domain.SessionData, rl *relay.AudioRelay) *Session {
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		Data:    data,
		Relay:   rl,
		signals: make(map[domain.ConnID]signalEntry),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Context is done once the session has been removed.
func (s *Session) Context() context.Context { return s.ctx }

func (s *Session) IsHost(p domain.ParticipantID) bool { return s.Data.Host == p }

func (s *Session) AddSignal(id domain.ConnID, p domain.ParticipantID, conn core.SignalConnection) {
	s.signals[id] = signalEntry{Participant: p, Conn: conn}
}

func (s *Session) RemoveSignal(id domain.ConnID) bool {
	if _, ok := s.signals[id]; !ok {
		return false
	}
	delete(s.signals, id)
	return true
}

func (s *Session) SignalCount() int { return len(s.signals) }

// Signals returns the attached connections, excluding skip.
func (s *Session) Signals(skip domain.ConnID) []core.SignalConnection {
	out := make([]core.SignalConnection, 0, len(s.signals))
	for id, e := range s.signals {
		if id == skip {
			continue
		}
		out = append(out, e.Conn)
	}
	return out
}

// dropSignals closes and detaches every signaling connection. Used when the
// podcast goes away without a Closed event the peers could be told about.
func (s *Session) dropSignals() int {
	n := len(s.signals)
	for id, e := range s.signals {
		e.Conn.Close()
		delete(s.signals, id)
	}
	return n
}

func (s *Session) close() error {
	s.cancel()
	return s.Relay.Close()
}
