package broker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the broker's Prometheus instruments.
type Metrics struct {
	OpenConnections prometheus.Gauge
	OnlineUsers     prometheus.Gauge
	FramesInbound   *prometheus.CounterVec
	EventsFannedOut prometheus.Counter
	AICalls         *prometheus.CounterVec
	RateLimitWaits  prometheus.Counter
}

// NewMetrics registers broker metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		OpenConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "aurachat",
			Name:      "open_connections",
			Help:      "Live websocket connections across both channels.",
		}),
		OnlineUsers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "aurachat",
			Name:      "online_users",
			Help:      "Users with at least one live global connection.",
		}),
		FramesInbound: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aurachat",
			Name:      "frames_inbound_total",
			Help:      "Inbound frames dispatched, by frame type.",
		}, []string{"type"}),
		EventsFannedOut: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "aurachat",
			Name:      "events_fanned_out_total",
			Help:      "Group fan-out sends performed by the broker.",
		}),
		AICalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aurachat",
			Name:      "ai_calls_total",
			Help:      "External AI service calls, by operation and outcome.",
		}, []string{"op", "outcome"}),
		RateLimitWaits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "aurachat",
			Name:      "ai_rate_limit_waits_total",
			Help:      "Times an AI task had to wait for a rate-limit slot.",
		}),
	}
}
