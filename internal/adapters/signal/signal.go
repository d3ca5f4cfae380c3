package signal

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/podcast/internal/app/orch"
	"github.com/dkeye/podcast/internal/core"
	"github.com/dkeye/podcast/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	sendBuffer   = 32
	writeTimeout = 5 * time.Second

	DefaultPingPeriod = 54 * time.Second
)

type Options struct {
	ReadLimit    int64
	PingPeriod   time.Duration
	RateLimit    int
	RateInterval time.Duration

	// AllowedOrigins lists browser origins accepted besides the server's own
	// host. "*" accepts any origin.
	AllowedOrigins []string
}

// SignalWSController serves podcast signaling over WebSocket.
type SignalWSController struct {
	Orch    *orch.Orchestrator
	Limiter *RateLimiter

	upgrader   websocket.Upgrader
	readLimit  int64
	pingPeriod time.Duration
	pongWait   time.Duration
}

func NewSignalWSController(o *orch.Orchestrator, opts Options) *SignalWSController {
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = DefaultPingPeriod
	}
	ctl := &SignalWSController{
		Orch:       o,
		Limiter:    NewRateLimiter(opts.RateLimit, opts.RateInterval),
		readLimit:  opts.ReadLimit,
		pingPeriod: opts.PingPeriod,
		pongWait:   opts.PingPeriod * 10 / 9,
	}
	ctl.upgrader.CheckOrigin = newOriginChecker(opts.AllowedOrigins).check
	return ctl
}

// WsSignalConn is the outbound queue of one WebSocket. Frames are written by
// the connection's write pump.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func newWsSignalConn(ws *websocket.Conn) *WsSignalConn {
	return &WsSignalConn{conn: ws, send: make(chan core.Frame, sendBuffer)}
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// HandleSignal upgrades the request and attaches it to podcast id as
// participant. The caller has already authenticated the participant.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context, id domain.SessionID, participant domain.ParticipantID) {
	logger := log.With().
		Str("module", "signal").
		Str("podcast", string(id)).
		Str("participant", participant.String()).
		Logger()

	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already answered, 403 for a rejected origin.
		logger.Warn().Err(err).Str("origin", c.GetHeader("Origin")).Msg("ws upgrade")
		return
	}
	if ctl.readLimit > 0 {
		ws.SetReadLimit(ctl.readLimit)
	}

	conn := newWsSignalConn(ws)
	sig, err := ctl.Orch.OpenSignal(id, participant, conn)
	if err != nil {
		// The podcast vanished between the lookup and the upgrade.
		logger.Warn().Err(err).Msg("open signaling")
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "podcast not found")
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
		conn.Close()
		return
	}
	logger.Info().Bool("host", sig.IsHost()).Msg("new WS connection")

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(cancel, sig, conn)
}
