// Package metrics provides Prometheus metrics for the inventory feed
package metrics

import (
	"errors"
	"time"

	"github.com/JonMunkholm/stockfeed/internal/inventory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Source metrics
	FetchAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockfeed_fetch_attempts_total",
			Help: "Sheet retrieval attempts by strategy and outcome",
		},
		[]string{"strategy", "status"},
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stockfeed_fetch_duration_seconds",
			Help:    "Time taken by one retrieval attempt",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"strategy"},
	)

	// Refresh metrics
	Refreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockfeed_refreshes_total",
			Help: "Refresh cycles by trigger and result",
		},
		[]string{"trigger", "result"},
	)

	RefreshDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stockfeed_refresh_duration_seconds",
			Help:    "End to end refresh time including fetch and parse",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"trigger"},
	)

	// Pipeline metrics
	ParseDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stockfeed_parse_duration_seconds",
			Help:    "Time taken to tokenize, build and filter one snapshot",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
	)

	FilteredRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockfeed_filtered_rows_total",
			Help: "Rows dropped by the row filter, by rule",
		},
		[]string{"reason"},
	)

	// Snapshot metrics
	SnapshotRecords = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stockfeed_snapshot_records",
			Help: "Records in the committed snapshot",
		},
	)

	LastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stockfeed_last_success_timestamp_seconds",
			Help: "Unix time of the last committed snapshot",
		},
	)
)

// Result label values.
const (
	StatusOK    = "ok"
	StatusError = "error"
	StatusStale = "stale"
	StatusBusy  = "busy"
)

// Recorder feeds the package metrics from the fetcher and refresh service.
type Recorder struct {
	// classify maps refresh errors onto result labels; nil means "error".
	classify func(error) string
}

// NewRecorder creates a recorder. classify may be nil.
func NewRecorder(classify func(error) string) *Recorder {
	return &Recorder{classify: classify}
}

// ObserveFetch records one retrieval attempt.
func (r *Recorder) ObserveFetch(strategy string, err error, elapsed time.Duration) {
	status := StatusOK
	if err != nil {
		status = StatusError
	}
	FetchAttempts.WithLabelValues(strategy, status).Inc()
	FetchDuration.WithLabelValues(strategy).Observe(elapsed.Seconds())
}

// ObserveRefresh records the outcome of one refresh cycle.
func (r *Recorder) ObserveRefresh(trigger string, err error, elapsed time.Duration) {
	result := StatusOK
	if err != nil {
		result = StatusError
		if r.classify != nil {
			result = r.classify(err)
		}
	}
	Refreshes.WithLabelValues(trigger, result).Inc()
	RefreshDuration.WithLabelValues(trigger).Observe(elapsed.Seconds())
}

// ObserveParse records pipeline timing and filter counts.
func (r *Recorder) ObserveParse(res inventory.Result, elapsed time.Duration) {
	ParseDuration.Observe(elapsed.Seconds())
	for reason, n := range res.Filtered {
		FilteredRows.WithLabelValues(string(reason)).Add(float64(n))
	}
}

// ObserveCommit records a newly committed snapshot.
func (r *Recorder) ObserveCommit(records int, at time.Time) {
	SnapshotRecords.Set(float64(records))
	LastSuccess.Set(float64(at.Unix()))
}

// ClassifyWith builds a classify func from sentinel errors to labels.
func ClassifyWith(labels map[error]string) func(error) string {
	return func(err error) string {
		for target, label := range labels {
			if errors.Is(err, target) {
				return label
			}
		}
		return StatusError
	}
}
