package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swiftgate",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total control-plane HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "swiftgate",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Control-plane HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	inboundFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swiftgate",
			Subsystem: "inbound",
			Name:      "frames_total",
			Help:      "Inbound frames answered, by reply status and NACK code.",
		},
		[]string{"protocol", "status", "code"},
	)
	activeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "swiftgate",
			Subsystem: "inbound",
			Name:      "connections_active",
			Help:      "Currently open inbound connections.",
		},
	)
	dispatchRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swiftgate",
			Subsystem: "dispatch",
			Name:      "requests_total",
			Help:      "Outbound dispatch attempts by outcome.",
		},
		[]string{"outcome"},
	)
	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "swiftgate",
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Outbound dispatch round trip in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"outcome"},
	)
	retryQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "swiftgate",
			Subsystem: "retry_queue",
			Name:      "entries",
			Help:      "Retry queue entries by status.",
		},
		[]string{"status"},
	)
	healthAlerts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swiftgate",
			Subsystem: "monitor",
			Name:      "alerts_total",
			Help:      "Health alerts raised.",
		},
		[]string{"type", "severity"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			inboundFrames, activeConnections,
			dispatchRequests, dispatchDuration,
			retryQueueDepth, healthAlerts,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordInbound(protocol, status, code string) {
	RegisterMetrics()
	inboundFrames.WithLabelValues(protocol, status, code).Inc()
}

func SetActiveConnections(n int) {
	RegisterMetrics()
	activeConnections.Set(float64(n))
}

func RecordDispatch(outcome string, duration time.Duration) {
	RegisterMetrics()
	dispatchRequests.WithLabelValues(outcome).Inc()
	dispatchDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// SetRetryQueueDepth replaces the per-status gauge values.
func SetRetryQueueDepth(byStatus map[string]int) {
	RegisterMetrics()
	for status, n := range byStatus {
		retryQueueDepth.WithLabelValues(status).Set(float64(n))
	}
}

func RecordAlert(alertType, severity string) {
	RegisterMetrics()
	healthAlerts.WithLabelValues(alertType, severity).Inc()
}
