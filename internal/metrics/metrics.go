package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tripline",
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	reservations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tripline",
			Name:      "reservations_total",
			Help:      "Reservation attempts by outcome (admitted, rejected, error).",
		},
		[]string{"outcome"},
	)

	cacheOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tripline",
			Name:      "cache_ops_total",
			Help:      "Cache lookups by result (hit, miss, error).",
		},
		[]string{"result"},
	)

	jobsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tripline",
			Name:      "jobs_processed_total",
			Help:      "Queue jobs by outcome (completed, retried, failed, duplicate).",
		},
		[]string{"outcome"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, reservations, cacheOps, jobsProcessed)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

func IncReservation(outcome string) {
	reservations.WithLabelValues(outcome).Inc()
}

func IncCache(result string) {
	cacheOps.WithLabelValues(result).Inc()
}

func IncJob(outcome string) {
	jobsProcessed.WithLabelValues(outcome).Inc()
}
