// Package metrics exposes Prometheus collectors for the crawler.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pagesTotal            *prometheus.CounterVec
	bytesTotal            prometheus.Counter
	errorsTotal           *prometheus.CounterVec
	enqueueTotal          *prometheus.CounterVec
	queueDepth            *prometheus.GaugeVec
	inFlightGauge         prometheus.Gauge
	fetchDurationSeconds  *prometheus.HistogramVec
	rateLimitWaitSeconds  *prometheus.HistogramVec
	leaseWaitSeconds      prometheus.Histogram
	recoveryReclaimsTotal prometheus.Counter

	once sync.Once
)

// Init registers the collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wordcrawl_pages_total",
				Help: "URLs finished, labeled by terminal outcome.",
			},
			[]string{"outcome"},
		)

		bytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "wordcrawl_bytes_total",
				Help: "Total response body bytes processed.",
			},
		)

		errorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wordcrawl_errors_total",
				Help: "Crawl errors, labeled by error kind.",
			},
			[]string{"kind"},
		)

		enqueueTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wordcrawl_enqueue_total",
				Help: "Enqueue attempts, labeled by queue decision.",
			},
			[]string{"decision"},
		)

		queueDepth = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "wordcrawl_queue_depth",
				Help: "Queue census, labeled by state.",
			},
			[]string{"state"},
		)

		inFlightGauge = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "wordcrawl_in_flight",
				Help: "URLs currently leased to workers.",
			},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wordcrawl_fetch_duration_seconds",
				Help:    "HTTP fetch latency, labeled by status class.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"class"},
		)

		rateLimitWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wordcrawl_rate_limit_wait_seconds",
				Help:    "Time spent waiting on the per-host rate gate.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		leaseWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "wordcrawl_lease_wait_seconds",
				Help:    "Time the session waited for a lease.",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		)

		recoveryReclaimsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "wordcrawl_recovery_reclaims_total",
				Help: "Expired leases returned to pending by recovery.",
			},
		)
	})
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage counts one finished URL and its body size.
func ObservePage(outcome string, bodyBytes int64) {
	if pagesTotal == nil {
		return
	}
	pagesTotal.WithLabelValues(outcome).Inc()
	if bodyBytes > 0 {
		bytesTotal.Add(float64(bodyBytes))
	}
}

// ObserveError counts one crawl error by kind.
func ObserveError(kind string) {
	if errorsTotal == nil {
		return
	}
	errorsTotal.WithLabelValues(kind).Inc()
}

// ObserveEnqueue counts one enqueue decision.
func ObserveEnqueue(decision string) {
	if enqueueTotal == nil {
		return
	}
	enqueueTotal.WithLabelValues(decision).Inc()
}

// SetQueueDepth records the queue census.
func SetQueueDepth(pending, inFlight, terminal int) {
	if queueDepth == nil {
		return
	}
	queueDepth.WithLabelValues("pending").Set(float64(pending))
	queueDepth.WithLabelValues("in_flight").Set(float64(inFlight))
	queueDepth.WithLabelValues("terminal").Set(float64(terminal))
	inFlightGauge.Set(float64(inFlight))
}

// ObserveFetch records one HTTP fetch duration by status class.
func ObserveFetch(statusClass string, d time.Duration) {
	if fetchDurationSeconds == nil {
		return
	}
	fetchDurationSeconds.WithLabelValues(statusClass).Observe(d.Seconds())
}

// ObserveRateLimitWait records time spent in the per-host rate gate.
func ObserveRateLimitWait(host string, d time.Duration) {
	if rateLimitWaitSeconds == nil {
		return
	}
	rateLimitWaitSeconds.WithLabelValues(host).Observe(d.Seconds())
}

// ObserveLeaseWait records time the session loop spent waiting on a lease.
func ObserveLeaseWait(d time.Duration) {
	if leaseWaitSeconds == nil {
		return
	}
	leaseWaitSeconds.Observe(d.Seconds())
}

// ObserveRecoveryReclaims counts leases reclaimed by recovery.
func ObserveRecoveryReclaims(n int64) {
	if recoveryReclaimsTotal == nil || n <= 0 {
		return
	}
	recoveryReclaimsTotal.Add(float64(n))
}
