package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the podcast relay.
type Metrics struct {
	// Session lifecycle
	ActiveSessions   prometheus.Gauge
	SessionsCreated  prometheus.Counter
	SessionsExpired  prometheus.Counter
	SessionsClosed   prometheus.Counter
	CapacityRejected prometheus.Counter

	// Relay data plane
	DatagramsRelayed prometheus.Counter
	DatagramsDropped prometheus.Counter
	SendFailures     prometheus.Counter
	RTPSequenceGaps  prometheus.Counter

	// Signaling
	SignalConnections prometheus.Gauge
	SignalDropped     *prometheus.CounterVec
}

// New creates all metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "podcast_sessions_active",
			Help: "Current number of podcasts in the registry",
		}),
		SessionsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "podcast_sessions_created_total",
			Help: "Total number of podcasts created",
		}),
		SessionsExpired: f.NewCounter(prometheus.CounterOpts{
			Name: "podcast_sessions_expired_total",
			Help: "Podcasts removed because the host never announced an address",
		}),
		SessionsClosed: f.NewCounter(prometheus.CounterOpts{
			Name: "podcast_sessions_closed_total",
			Help: "Podcasts closed because the host disconnected",
		}),
		CapacityRejected: f.NewCounter(prometheus.CounterOpts{
			Name: "podcast_capacity_rejected_total",
			Help: "Podcast creations rejected because no relay port was free",
		}),
		DatagramsRelayed: f.NewCounter(prometheus.CounterOpts{
			Name: "podcast_relay_datagrams_relayed_total",
			Help: "Host datagrams delivered to at least one listener",
		}),
		DatagramsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "podcast_relay_datagrams_dropped_total",
			Help: "Datagrams dropped because the sender was not the host",
		}),
		SendFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "podcast_relay_send_failures_total",
			Help: "Failed sends to a single listener",
		}),
		RTPSequenceGaps: f.NewCounter(prometheus.CounterOpts{
			Name: "podcast_relay_rtp_sequence_gaps_total",
			Help: "Estimated RTP packets lost between host and relay, from sequence numbers of payloads that look like RTP",
		}),
		SignalConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "podcast_signal_connections",
			Help: "Currently open signaling connections",
		}),
		SignalDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "podcast_signal_messages_dropped_total",
			Help: "Inbound signaling messages dropped",
		}, []string{"reason"}),
	}
}

// NewUnregistered is for tests and callers that do not expose metrics.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
