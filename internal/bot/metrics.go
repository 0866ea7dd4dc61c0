package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics of the operator bot. NewMetrics registers them globally, so call it once.
type Metrics struct {
	CommandsProcessed    *prometheus.CounterVec
	ErrorsTotal          prometheus.Counter
	UpdateProcessingTime prometheus.Histogram
}

func NewMetrics() *Metrics {
	return &Metrics{
		CommandsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "salesync_bot_commands_total",
			Help: "Operator commands received",
		}, []string{"command"}),
		ErrorsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "salesync_bot_errors_total",
			Help: "Panics recovered in update handling",
		}),
		UpdateProcessingTime: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "salesync_bot_update_processing_time_seconds",
			Help:    "Time spent processing updates",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
