package consumer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	processedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activity_query",
		Subsystem: "consumer",
		Name:      "events_processed_total",
		Help:      "Mutation events applied to the freshness tracker.",
	}, []string{"topic", "event_type"})

	handlerErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activity_query",
		Subsystem: "consumer",
		Name:      "handler_errors_total",
		Help:      "Events the handler rejected, by event type.",
	}, []string{"event_type"})

	decodeErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activity_query",
		Subsystem: "consumer",
		Name:      "decode_errors_total",
		Help:      "Records that could not be decoded, by topic.",
	}, []string{"topic"})

	eventLag = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "activity_query",
		Subsystem: "consumer",
		Name:      "event_lag_seconds",
		Help:      "Delay between a record's broker timestamp and its processing.",
		Buckets:   []float64{0.05, 0.25, 1, 5, 15, 60, 300},
	}, []string{"topic"})
)

func init() {
	prometheus.MustRegister(processedCounter, handlerErrorCounter, decodeErrorCounter, eventLag)
}

func recordProcessed(msg Message) {
	processedCounter.WithLabelValues(msg.Topic, msg.EventType).Inc()
	if !msg.Timestamp.IsZero() {
		eventLag.WithLabelValues(msg.Topic).Observe(time.Since(msg.Timestamp).Seconds())
	}
}

func recordHandlerError(msg Message) {
	handlerErrorCounter.WithLabelValues(msg.EventType).Inc()
}

func recordDecodeError(topic string) {
	decodeErrorCounter.WithLabelValues(topic).Inc()
}
