package orch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/podcast/internal/app"
	"github.com/dkeye/podcast/internal/app/relay"
	"github.com/dkeye/podcast/internal/domain"
	"github.com/dkeye/podcast/internal/metrics"
	"github.com/rs/zerolog/log"
)

var ErrHostAlreadyActive = errors.New("host already active")

type RelayConfig struct {
	BindHost    string
	Ports       relay.PortRange
	MaxDatagram int
}

// Orchestrator drives the podcast lifecycle on top of the registry:
// creation, host activation, listener registration and host disconnect.
type Orchestrator struct {
	Registry *app.Registry
	Watchdog *app.Watchdog
	Metrics  *metrics.Metrics
	Relay    RelayConfig

	ctx context.Context
	now func() time.Time
}

// New wires an orchestrator. Session contexts derive from ctx, so cancelling
// it stops every watchdog.
func New(ctx context.Context, reg *app.Registry, wd *app.Watchdog, m *metrics.Metrics, rc RelayConfig) *Orchestrator {
	if m == nil {
		m = metrics.NewUnregistered()
	}
	return &Orchestrator{
		Registry: reg,
		Watchdog: wd,
		Metrics:  m,
		Relay:    rc,
		ctx:      ctx,
		now:      time.Now,
	}
}

// CreateSession binds a relay port, registers the podcast for host and starts
// its watchdog. relay.ErrNoFreePort means the server is at capacity.
func (o *Orchestrator) CreateSession(host domain.ParticipantID) (domain.SessionData, error) {
	inUse := make(map[uint16]struct{})
	for p := range o.Registry.UsedPorts() {
		if o.Relay.Ports.Contains(p) {
			inUse[p] = struct{}{}
		}
	}

	conn, err := relay.Allocate(o.Relay.BindHost, o.Relay.Ports, inUse)
	if err != nil {
		if errors.Is(err, relay.ErrNoFreePort) {
			o.Metrics.CapacityRejected.Inc()
			log.Warn().Str("module", "orch").Str("host", host.String()).Msg("no free relay port")
		}
		return domain.SessionData{}, fmt.Errorf("create podcast: %w", err)
	}
	rl := relay.New(conn, relay.Options{
		MaxDatagram: o.Relay.MaxDatagram,
		Metrics:     o.Metrics,
		Logger:      log.Logger,
	})

	sess := app.NewSession(o.ctx, domain.NewSessionData("", host), rl)
	for {
		sess.Data.ID = o.Registry.GenerateID()
		err := o.Registry.Create(sess)
		if errors.Is(err, domain.ErrSessionExists) {
			// Another creation took the id between generate and insert.
			continue
		}
		if err != nil {
			_ = rl.Close()
			return domain.SessionData{}, fmt.Errorf("create podcast: %w", err)
		}
		break
	}

	o.Watchdog.Watch(sess.Context(), sess.Data.ID)
	o.Metrics.SessionsCreated.Inc()
	// sess may already be mutated by other goroutines; read through the registry.
	data, ok := app.WithSession(o.Registry, sess.Data.ID, func(s *app.Session) domain.SessionData { return s.Data.Clone() })
	if !ok {
		return domain.SessionData{}, domain.ErrSessionNotFound
	}
	return data, nil
}

func (o *Orchestrator) Session(id domain.SessionID) (domain.SessionData, error) {
	data, ok := app.WithSession(o.Registry, id, func(s *app.Session) domain.SessionData { return s.Data.Clone() })
	if !ok {
		return domain.SessionData{}, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	return data, nil
}

func (o *Orchestrator) Sessions() []domain.SessionData {
	return o.Registry.List()
}

// Shutdown removes every podcast, releasing all relay sockets.
func (o *Orchestrator) Shutdown() {
	o.Registry.Close()
}
