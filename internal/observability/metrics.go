package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	queryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "activity_query",
		Subsystem: "service",
		Name:      "query_duration_seconds",
		Help:      "Latency of activity queries including every concurrent store read.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"operation", "outcome"})

	fanoutFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activity_query",
		Subsystem: "service",
		Name:      "fanout_failures_total",
		Help:      "Queries abandoned because a sibling store read failed or timed out.",
	}, []string{"operation", "reason"})

	storeReads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activity_query",
		Subsystem: "store",
		Name:      "reads_total",
		Help:      "Backing store reads grouped by store mode, read kind and outcome.",
	}, []string{"mode", "kind", "outcome"})

	freshnessTouched = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "activity_query",
		Subsystem: "cache",
		Name:      "last_freshness_event_timestamp_seconds",
		Help:      "Unix timestamp of the most recent mutation event applied to cache validators.",
	})
)

func init() {
	prometheus.MustRegister(queryDuration, fanoutFailures, storeReads, freshnessTouched)
}

// ObserveQuery records the duration of a query. It is meant to be deferred
// with a pointer to the named error result.
func ObserveQuery(operation string, start time.Time, errp *error) {
	outcome := "ok"
	if errp != nil && *errp != nil {
		outcome = "error"
	}
	queryDuration.WithLabelValues(operation, outcome).Observe(time.Since(start).Seconds())
}

// RecordFanoutFailure counts an abandoned fan-out. reason is one of
// timeout, canceled or error.
func RecordFanoutFailure(operation, reason string) {
	fanoutFailures.WithLabelValues(operation, reason).Inc()
}

// RecordStoreRead counts a backing store read.
func RecordStoreRead(mode, kind string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	storeReads.WithLabelValues(mode, kind, outcome).Inc()
}

// RecordFreshnessEvent updates the freshness watermark gauge.
func RecordFreshnessEvent(ts time.Time) {
	if ts.IsZero() {
		return
	}
	freshnessTouched.Set(float64(ts.Unix()))
}
