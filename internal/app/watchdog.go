package app

import (
	"context"
	"time"

	"github.com/dkeye/podcast/internal/domain"
	"github.com/dkeye/podcast/internal/metrics"
	"github.com/rs/zerolog/log"
)

const (
	DefaultGracePeriod   = 60 * time.Second
	DefaultWatchInterval = 2 * time.Second
)

// Watchdog removes podcasts whose host never announced an address within
// the grace period.
type Watchdog struct {
	registry *Registry
	grace    time.Duration
	interval time.Duration
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewWatchdog(reg *Registry, grace, interval time.Duration, m *metrics.Metrics) *Watchdog {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	if m == nil {
		m = metrics.NewUnregistered()
	}
	return &Watchdog{registry: reg, grace: grace, interval: interval, metrics: m, now: time.Now}
}

func (w *Watchdog) GracePeriod() time.Duration { return w.grace }

// Watch starts the timer for id. ctx should be the session context so the
// task ends as soon as the session is removed by another path.
func (w *Watchdog) Watch(ctx context.Context, id domain.SessionID) {
	go w.run(ctx, id, w.now())
}

func (w *Watchdog) run(ctx context.Context, id domain.SessionID, started time.Time) {
	logger := log.With().Str("module", "app.watchdog").Str("podcast", string(id)).Logger()
	timer := time.NewTimer(w.nextWait(started))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("session gone, watchdog stopped")
			return
		case <-timer.C:
		}

		expired := w.now().Sub(started) >= w.grace
		var dropped int
		removed, present := w.registry.RemoveIf(id, func(s *Session) bool {
			if s.Data.IsActive() || !expired {
				return false
			}
			dropped = s.dropSignals()
			return true
		})
		switch {
		case !present:
			logger.Debug().Msg("session already removed")
			return
		case removed:
			w.metrics.SessionsExpired.Inc()
			logger.Info().Dur("grace", w.grace).Int("signals_dropped", dropped).Msg("host never became active, podcast removed")
			return
		}

		active, ok := WithSession(w.registry, id, func(s *Session) bool { return s.Data.IsActive() })
		if !ok || active {
			logger.Debug().Bool("active", active).Msg("watchdog done")
			return
		}
		timer.Reset(w.nextWait(started))
	}
}

// nextWait polls every interval but never sleeps past the deadline.
func (w *Watchdog) nextWait(started time.Time) time.Duration {
	remaining := w.grace - w.now().Sub(started)
	if remaining <= 0 {
		return 0
	}
	return min(w.interval, remaining)
}
