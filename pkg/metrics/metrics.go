// Package metrics exposes Prometheus metrics for deskstream.
//
// # Overview
//
// Every collector is registered with promauto on the default registry under
// the "deskstream" namespace:
//
//	metrics.UpstreamRequests.WithLabelValues("2xx").Inc()
//	metrics.ThrottleSleeps.WithLabelValues(metrics.ThrottleCooldown).Observe(60)
//	metrics.RecordsProcessed.WithLabelValues("backfill", "inserted").Add(100)
//
// # Serving
//
// Serve exposes /metrics with promhttp until its context is cancelled.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "deskstream"

// Throttle sleep reasons
const (
	ThrottleProactive  = "proactive"
	ThrottleRetryAfter = "retry_after"
	ThrottleCooldown   = "cooldown"
	ThrottleBackoff    = "backoff"
)

var (
	// UpstreamRequests counts upstream HTTP attempts by status class
	// (2xx, 4xx, 429, 5xx, network).
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Upstream HTTP attempts by status class",
		},
		[]string{"class"},
	)

	// UpstreamRetries counts attempts that were retried.
	UpstreamRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_retries_total",
			Help:      "Upstream attempts retried, by reason",
		},
		[]string{"reason"},
	)

	// ThrottleSleeps observes every transport suspension in seconds.
	ThrottleSleeps = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "throttle_sleep_seconds",
			Help:      "Transport sleeps by reason",
			Buckets:   []float64{1, 4, 8, 16, 32, 60, 120, 300},
		},
		[]string{"reason"},
	)

	// RateLimitRemaining is the last remaining-quota value seen upstream.
	RateLimitRemaining = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rate_limit_remaining",
			Help:      "Last remaining-quota header value",
		},
	)

	// PagesFetched counts stream pages.
	PagesFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_fetched_total",
			Help:      "Stream pages fetched from upstream",
		},
	)

	// ItemsSkipped counts stream items dropped as malformed.
	ItemsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_skipped_total",
			Help:      "Stream items skipped because they could not be decoded",
		},
	)

	// RecordsProcessed counts sink outcomes.
	// Labels: job (backfill/incremental), outcome (inserted/updated/failed)
	RecordsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_processed_total",
			Help:      "Records written to the sink by outcome",
		},
		[]string{"job", "outcome"},
	)

	// BatchesCommitted counts batches handed to the sink.
	BatchesCommitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_committed_total",
			Help:      "Batches committed to the sink",
		},
		[]string{"job"},
	)

	// BatchLatency observes sink write latency.
	BatchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_write_seconds",
			Help:      "Sink write latency per batch",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"job"},
	)

	// CheckpointSaves counts checkpoint writes by result.
	CheckpointSaves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_saves_total",
			Help:      "Checkpoint writes by result",
		},
		[]string{"key", "result"},
	)

	// RunDuration observes orchestrator run durations by terminal status.
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Orchestrator run duration",
			Buckets:   []float64{1, 10, 60, 300, 900, 3600, 4 * 3600},
		},
		[]string{"job", "status"},
	)

	// Throughput tracks records per second of the active run.
	Throughput = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "throughput_records_per_second",
			Help:      "Records per second since the previous batch",
		},
		[]string{"job"},
	)
)

// StatusClass buckets an HTTP status for UpstreamRequests.
func StatusClass(status int) string {
	switch {
	case status == http.StatusTooManyRequests:
		return "429"
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "network"
	}
}

// Timer measures an operation from creation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop returns the elapsed duration. It can be called repeatedly.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// ThroughputTracker reports records per second between calls to
// GetAndReset. Safe for concurrent use.
type ThroughputTracker struct {
	mu        sync.Mutex
	count     int64     // Records since last reset
	lastReset time.Time // Time of last reset
	job       string
}

// NewThroughputTracker creates a tracker labelled with job.
func NewThroughputTracker(job string) *ThroughputTracker {
	return &ThroughputTracker{
		lastReset: time.Now(),
		job:       job,
	}
}

// Increment adds n to the record count.
func (t *ThroughputTracker) Increment(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count += n
}

// GetAndReset computes records/second, publishes it and resets the window.
func (t *ThroughputTracker) GetAndReset() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.lastReset).Seconds()
	if elapsed == 0 {
		return 0
	}

	throughput := float64(t.count) / elapsed
	t.count = 0
	t.lastReset = time.Now()

	Throughput.WithLabelValues(t.job).Set(throughput)
	return throughput
}

// Handler returns the /metrics handler for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve serves /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
