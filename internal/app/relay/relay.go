package relay

import (
	"errors"
	"maps"
	"net"
	"net/netip"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/podcast/internal/metrics"
	"github.com/rs/zerolog"
)

// DefaultMaxDatagram is the receive buffer size. Longer datagrams are truncated.
const DefaultMaxDatagram = 2000

const (
	readErrorBackoff   = 20 * time.Millisecond
	readErrorLogBurst  = 5
	readErrorLogPeriod = 10 * time.Second
)

var (
	ErrAlreadyListening = errors.New("relay already listening")
	ErrRelayClosed      = errors.New("relay closed")
)

type Options struct {
	MaxDatagram int
	Metrics     *metrics.Metrics
	Logger      zerolog.Logger
}

// AudioRelay forwards datagrams from one host address to every registered
// listener. It owns its socket until Close.
type AudioRelay struct {
	conn        *net.UDPConn
	port        uint16
	maxDatagram int
	metrics     *metrics.Metrics
	logger      zerolog.Logger

	// readErrLogger is logger behind a burst sampler.
	readErrLogger zerolog.Logger

	mu        sync.RWMutex
	host      netip.AddrPort
	listening bool
	closed    bool
	listeners map[netip.AddrPort]struct{}

	done chan struct{}
}

func New(conn *net.UDPConn, opts Options) *AudioRelay {
	if opts.MaxDatagram <= 0 {
		opts.MaxDatagram = DefaultMaxDatagram
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewUnregistered()
	}
	port := conn.LocalAddr().(*net.UDPAddr).AddrPort().Port()
	logger := opts.Logger.With().Str("module", "relay").Uint16("port", port).Logger()
	return &AudioRelay{
		conn:        conn,
		port:        port,
		maxDatagram: opts.MaxDatagram,
		metrics:     opts.Metrics,
		logger:      logger,
		readErrLogger: logger.Sample(&zerolog.BurstSampler{
			Burst:  readErrorLogBurst,
			Period: readErrorLogPeriod,
		}),
		listeners: make(map[netip.AddrPort]struct{}),
		done:      make(chan struct{}),
	}
}

func (r *AudioRelay) Port() uint16 { return r.port }

// HostAddress reports the registered host, if any.
func (r *AudioRelay) HostAddress() (netip.AddrPort, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.host, r.listening
}

// AddListener registers addr for fan-out. It reports whether addr was new.
func (r *AudioRelay) AddListener(addr netip.AddrPort) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.listeners[addr]; ok {
		return false
	}
	r.listeners[addr] = struct{}{}
	return true
}

// Listeners returns a sorted snapshot of the listener set.
func (r *AudioRelay) Listeners() []netip.AddrPort {
	r.mu.RLock()
	out := slices.Collect(maps.Keys(r.listeners))
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b netip.AddrPort) int { return a.Compare(b) })
	return out
}

// Listen records host and starts the receive loop. It succeeds at most once.
func (r *AudioRelay) Listen(host netip.AddrPort) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRelayClosed
	}
	if r.listening {
		return ErrAlreadyListening
	}
	r.host = host
	r.listening = true

	r.logger.Info().Str("host", host.String()).Msg("starting relay loop")
	go r.loop(host)
	return nil
}

// Done is closed when the receive loop has exited.
func (r *AudioRelay) Done() <-chan struct{} { return r.done }

// Close releases the socket. Safe to call more than once.
func (r *AudioRelay) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	listening := r.listening
	r.mu.Unlock()

	err := r.conn.Close()
	if !listening {
		close(r.done)
	}
	r.logger.Info().Msg("relay closed")
	return err
}

func (r *AudioRelay) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

// loop reads datagrams until the socket is closed. Foreign senders and read
// errors never stop it.
func (r *AudioRelay) loop(host netip.AddrPort) {
	defer close(r.done)

	var seq seqTracker
	buf := make([]byte, r.maxDatagram)
	for {
		n, src, err := r.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || r.isClosed() {
				r.logger.Info().Msg("relay loop stopped")
				return
			}
			r.readFailed(err)
			continue
		}
		src = netip.AddrPortFrom(src.Addr().Unmap(), src.Port())
		if src != host {
			r.metrics.DatagramsDropped.Inc()
			r.logger.Debug().Str("want", host.String()).Str("have", src.String()).Msg("dropping datagram from foreign sender")
			continue
		}
		if gap := seq.observe(buf[:n]); gap > 0 {
			r.metrics.RTPSequenceGaps.Add(float64(gap))
		}
		r.forward(buf[:n])
	}
}

func (r *AudioRelay) forward(payload []byte) {
	r.mu.RLock()
	snapshot := slices.Collect(maps.Keys(r.listeners))
	r.mu.RUnlock()

	// Sending happens outside the lock so signaling can keep adding listeners.
	delivered := false
	for _, dst := range snapshot {
		if _, err := r.conn.WriteToUDPAddrPort(payload, dst); err != nil {
			r.metrics.SendFailures.Inc()
			r.logger.Error().Err(err).Str("dst", dst.String()).Msg("relay send failed")
			continue
		}
		delivered = true
	}
	if delivered {
		r.metrics.DatagramsRelayed.Inc()
	}
}

// readFailed backs off after a read error that did not close the socket and
// logs through a sampler, so a persistent error neither spins nor floods.
func (r *AudioRelay) readFailed(err error) {
	r.readErrLogger.Error().Err(err).Msg("relay read error")
	time.Sleep(readErrorBackoff)
}
