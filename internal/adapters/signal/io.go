package signal

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/podcast/internal/app/orch"
	"github.com/dkeye/podcast/internal/domain"
	"github.com/dkeye/podcast/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// writePump is the only writer on the socket. It exits on ctx, on a closed
// queue or on a write error, and closes the socket so readPump unblocks.
func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(cancel context.CancelFunc, sig *orch.SignalingSession, c *WsSignalConn) {
	logger := log.With().
		Str("module", "signal").
		Str("podcast", string(sig.SessionID())).
		Str("participant", sig.Participant().String()).
		Logger()
	defer func() {
		sig.Close()
		cancel()
		c.Close()
		logger.Info().Msg("readPump closing")
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn().Err(err).Msg("readPump read error")
			}
			return
		}
		ctl.handleSignal(sig, data, logger)
	}
}

func (ctl *SignalWSController) handleSignal(sig *orch.SignalingSession, data []byte, logger zerolog.Logger) {
	dropped := ctl.Orch.Metrics.SignalDropped
	if !ctl.Limiter.Allow(sig.Participant()) {
		dropped.WithLabelValues("rate_limited").Inc()
		logger.Warn().Msg("signal rate limit exceeded, message dropped")
		return
	}

	err := sig.HandleMessage(data)
	if err == nil {
		return
	}
	reason := dropReason(err)
	dropped.WithLabelValues(reason).Inc()
	logger.Warn().Err(err).Str("reason", reason).Msg("signal message dropped")
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrMalformedMessage):
		return "malformed"
	case errors.Is(err, protocol.ErrUnknownMessage):
		return "unknown"
	case errors.Is(err, orch.ErrHostAlreadyActive):
		return "already_active"
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, orch.ErrSignalClosed):
		return "closed"
	}
	return "rejected"
}
