package orch

import (
	"errors"
	"fmt"
	"net/netip"
	"sync"

	"github.com/dkeye/podcast/internal/app"
	"github.com/dkeye/podcast/internal/core"
	"github.com/dkeye/podcast/internal/domain"
	"github.com/dkeye/podcast/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrSignalClosed = errors.New("signaling session closed")

type SignalState int

const (
	StateOpen SignalState = iota
	StateAnnounced
	StateClosed
)

func (s SignalState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateAnnounced:
		return "announced"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("SignalState(%d)", int(s))
}

// SignalingSession is the protocol handler for one participant's signaling
// connection to one podcast.
type SignalingSession struct {
	orch        *Orchestrator
	sessionID   domain.SessionID
	participant domain.ParticipantID
	hostID      domain.ParticipantID
	connID      domain.ConnID
	logger      zerolog.Logger

	mu    sync.Mutex
	state SignalState
}

type messageHandler func(*SignalingSession, protocol.Message) error

var messageHandlers = map[protocol.MessageType]messageHandler{
	protocol.MessageAddressAnnouncement: (*SignalingSession).handleAddressAnnouncement,
}

// OpenSignal attaches conn to the podcast and pushes Ready with the relay port.
// Registration and Ready happen under the registry lock, so a Closed event can
// never overtake Ready.
func (o *Orchestrator) OpenSignal(id domain.SessionID, participant domain.ParticipantID, conn core.SignalConnection) (*SignalingSession, error) {
	connID := domain.NewConnID()
	logger := log.With().
		Str("module", "orch").
		Str("podcast", string(id)).
		Str("participant", participant.String()).
		Logger()

	var (
		host domain.ParticipantID
		port uint16
	)
	ok := o.Registry.With(id, func(s *app.Session) {
		host = s.Data.Host
		port = s.Relay.Port()
		s.AddSignal(connID, participant, conn)
		sendEvent(conn, protocol.Ready{Port: port}, logger)
	})
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}

	o.Metrics.SignalConnections.Inc()
	logger.Info().Uint16("port", port).Bool("host", participant == host).Msg("signaling opened")
	return &SignalingSession{
		orch:        o,
		sessionID:   id,
		participant: participant,
		hostID:      host,
		connID:      connID,
		logger:      logger,
		state:       StateOpen,
	}, nil
}

func (s *SignalingSession) SessionID() domain.SessionID       { return s.sessionID }
func (s *SignalingSession) Participant() domain.ParticipantID { return s.participant }
func (s *SignalingSession) IsHost() bool                      { return s.participant == s.hostID }

func (s *SignalingSession) State() SignalState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// HandleMessage decodes and applies one inbound message. Errors are for the
// caller's logs only; the protocol has no way to report them to the peer.
func (s *SignalingSession) HandleMessage(raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return ErrSignalClosed
	}

	msg, err := protocol.DecodeMessage(raw)
	if err != nil {
		return err
	}
	handle, ok := messageHandlers[msg.Type()]
	if !ok {
		return fmt.Errorf("%w: %d", protocol.ErrUnknownMessage, msg.Type())
	}
	return handle(s, msg)
}

func (s *SignalingSession) handleAddressAnnouncement(msg protocol.Message) error {
	ann := msg.(protocol.AddressAnnouncement)
	addr, err := ann.AddrPort()
	if err != nil {
		return err
	}

	if s.IsHost() {
		err = s.orch.activateHost(s.sessionID, addr)
	} else {
		err = s.orch.registerListener(s.sessionID, addr)
	}
	if err != nil {
		return err
	}
	s.state = StateAnnounced
	return nil
}

// Close detaches the connection. When the host leaves, every other
// participant receives Closed and the podcast is removed. Safe to call twice.
func (s *SignalingSession) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.mu.Unlock()

	s.orch.Metrics.SignalConnections.Dec()
	if !s.IsHost() {
		s.orch.Registry.With(s.sessionID, func(sess *app.Session) { sess.RemoveSignal(s.connID) })
		s.logger.Info().Msg("listener signaling closed")
		return
	}
	s.orch.hostDisconnected(s.sessionID, s.connID, s.logger)
}

func (o *Orchestrator) activateHost(id domain.SessionID, addr netip.AddrPort) error {
	var result error
	ok := o.Registry.With(id, func(s *app.Session) {
		if s.Data.IsActive() {
			result = ErrHostAlreadyActive
			return
		}
		if err := s.Relay.Listen(addr); err != nil {
			result = err
			return
		}
		s.Data.Activate(o.now())
	})
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	if result == nil {
		log.Info().Str("module", "orch").Str("podcast", string(id)).Str("addr", addr.String()).Msg("host is ready to send")
	}
	return result
}

func (o *Orchestrator) registerListener(id domain.SessionID, addr netip.AddrPort) error {
	var added bool
	ok := o.Registry.With(id, func(s *app.Session) { added = s.Relay.AddListener(addr) })
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	log.Info().Str("module", "orch").Str("podcast", string(id)).Str("addr", addr.String()).Bool("new", added).Msg("listener is ready to receive")
	return nil
}

func (o *Orchestrator) hostDisconnected(id domain.SessionID, hostConn domain.ConnID, logger zerolog.Logger) {
	var notified int
	removed := o.Registry.RemoveWith(id, func(s *app.Session) {
		s.RemoveSignal(hostConn)
		for _, peer := range s.Signals("") {
			sendEvent(peer, protocol.Closed{Reason: protocol.ReasonHostDisconnected}, logger)
			notified++
		}
	})
	if !removed {
		logger.Debug().Msg("host disconnected from an already removed podcast")
		return
	}
	o.Metrics.SessionsClosed.Inc()
	logger.Info().Int("notified", notified).Msg("host disconnected, podcast closed")
}

func sendEvent(conn core.SignalConnection, ev protocol.Event, logger zerolog.Logger) {
	frame, err := protocol.EncodeEvent(ev)
	if err != nil {
		logger.Error().Err(err).Msg("encode event")
		return
	}
	if err := conn.TrySend(frame); err != nil {
		logger.Error().Err(err).Uint32("event_type", uint32(ev.Type())).Msg("send event")
	}
}
