package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dechat"

var (
	// LiveEvents counts MessageSent events seen by the synchronizer, by outcome:
	// appended, duplicate, irrelevant, stale, queued.
	LiveEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "syncer",
			Name:      "live_events_total",
			Help:      "Total live chain events handled by the synchronizer",
		},
		[]string{"outcome"},
	)

	HistoryLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "syncer",
			Name:      "history_loads_total",
			Help:      "Total history reloads by result (ok, error, superseded)",
		},
		[]string{"result"},
	)

	HistoryLoadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "syncer",
			Name:      "history_load_duration_seconds",
			Help:      "Latency of contract history reads",
			Buckets:   prometheus.DefBuckets,
		},
	)

	Sends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "syncer",
			Name:      "sends_total",
			Help:      "Total message sends by result (ok, invalid, rejected, error)",
		},
		[]string{"result"},
	)

	WalletNotices = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wallet",
			Name:      "notices_total",
			Help:      "Total wallet notifications by kind",
		},
		[]string{"kind"},
	)

	WsSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "sessions",
			Help:      "Number of connected websocket sessions",
		},
	)

	RelayMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "messages_total",
			Help:      "Total chain events mirrored to kafka by result",
		},
		[]string{"result"},
	)
)
