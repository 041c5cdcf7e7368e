package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dispatcher"

// Metrics groups the dispatcher collectors.
// A dedicated registerer is passed in so tests can use prometheus.NewRegistry().
type Metrics struct {
	ConnectionsOpen       prometheus.Gauge
	LiveDeliveries        *prometheus.CounterVec
	DeliveryFailures      prometheus.Counter
	FallbackNotifications prometheus.Counter
	ForcedLogouts         *prometheus.CounterVec
	InvalidFrames         prometheus.Counter
	RejectedConnections   prometheus.Counter
	ProcessCPUPercent     prometheus.Gauge
	ProcessRSSBytes       prometheus.Gauge
	StorageBytes          *prometheus.GaugeVec
	ValueLogGCRuns        *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_open",
			Help:      "Number of connections currently registered.",
		}),
		LiveDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_deliveries_total",
			Help:      "Frames handed to an open connection, by event type.",
		}, []string{"type"}),
		DeliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Sends that failed and caused the connection to be unregistered.",
		}),
		FallbackNotifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_notifications_total",
			Help:      "Notifications persisted because the recipient had no live scoped connection.",
		}),
		ForcedLogouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forced_logouts_total",
			Help:      "Forced logouts by outcome (live, deactivated, failed).",
		}, []string{"outcome"}),
		InvalidFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalid_frames_total",
			Help:      "Inbound frames dropped because they could not be decoded or were rate limited.",
		}),
		RejectedConnections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_connections_total",
			Help:      "Connection attempts closed for policy violation.",
		}),
		ProcessCPUPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "process_cpu_percent",
			Help:      "CPU usage of the dispatcher process.",
		}),
		ProcessRSSBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "process_rss_bytes",
			Help:      "Resident memory of the dispatcher process.",
		}),
		StorageBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "storage_bytes",
			Help:      "On-disk size of the store, by part (lsm or vlog).",
		}, []string{"part"}),
		ValueLogGCRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "value_log_gc_runs_total",
			Help:      "Value log garbage collection passes, by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(
		m.ConnectionsOpen,
		m.LiveDeliveries,
		m.DeliveryFailures,
		m.FallbackNotifications,
		m.ForcedLogouts,
		m.InvalidFrames,
		m.RejectedConnections,
		m.ProcessCPUPercent,
		m.ProcessRSSBytes,
		m.StorageBytes,
		m.ValueLogGCRuns,
	)
	return m
}
