package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "salesync"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	salesEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sales_enqueued_total",
			Help:      "Sales written to the durable queue, by result.",
		},
		[]string{"result"},
	)

	channelPushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_push_total",
			Help:      "Channel push attempts by channel and result.",
		},
		[]string{"channel", "result"},
	)

	drainCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drain_cycles_total",
			Help:      "Queue drain cycles by outcome.",
		},
		[]string{"outcome"},
	)

	backgroundTasks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "background_tasks_registered_total",
			Help:      "Background sync tasks registered on going offline.",
		},
	)

	pendingRecords = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_records",
			Help:      "Records waiting for delivery.",
		},
	)

	retryDelay = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "retry_delay_seconds",
			Help:      "Delay armed for the next retry.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			salesEnqueued,
			channelPushes,
			drainCycles,
			backgroundTasks,
			pendingRecords,
			retryDelay,
		)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

func IncEnqueued(result string) {
	salesEnqueued.WithLabelValues(result).Inc()
}

func IncChannelPush(channel string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	channelPushes.WithLabelValues(channel, result).Inc()
}

func IncDrain(outcome string) {
	drainCycles.WithLabelValues(outcome).Inc()
}

func IncBackgroundTask() {
	backgroundTasks.Inc()
}

func SetPending(n int) {
	pendingRecords.Set(float64(n))
}

func SetRetryDelay(d time.Duration) {
	retryDelay.Set(d.Seconds())
}
