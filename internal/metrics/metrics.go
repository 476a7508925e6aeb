// ABOUTME: Prometheus collectors for the real-time fan-out and response pipeline
// ABOUTME: Registered on the default registry and served by Handler at metrics.path

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Event bus metrics
	EventsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solipcord_events_emitted_total",
			Help: "Total number of message lifecycle events emitted by event name",
		},
		[]string{"event"},
	)

	ListenerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solipcord_listener_failures_total",
			Help: "Total number of event listener errors or panics by event name",
		},
		[]string{"event"},
	)

	// Broadcast metrics
	Broadcasts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solipcord_broadcasts_total",
			Help: "Total number of broadcast payloads by namespace",
		},
		[]string{"namespace"},
	)

	Subscribers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "solipcord_channel_subscribers",
			Help: "Current number of live channel subscribers by namespace",
		},
		[]string{"namespace"},
	)

	StreamsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "solipcord_sse_streams_open",
			Help: "Current number of open SSE connections",
		},
	)

	FramesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "solipcord_sse_frames_dropped_total",
			Help: "Total number of SSE frames dropped for slow subscribers",
		},
	)

	StreamsOverflowed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "solipcord_sse_streams_overflowed_total",
			Help: "Total number of SSE streams closed because the subscriber fell behind",
		},
	)

	// Responder metrics
	ResponderRegistrations = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "solipcord_responder_registrations",
			Help: "Current number of attached conversation responders by kind",
		},
		[]string{"kind"},
	)

	Generations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solipcord_generations_total",
			Help: "Total number of persona response generations by outcome",
		},
		[]string{"outcome"},
	)

	GenerationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "solipcord_generation_duration_seconds",
			Help:    "Time taken to generate and post one persona response in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	BackendRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "solipcord_backend_retries_total",
			Help: "Total number of retried text-generation backend calls",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(EventsEmitted)
	prometheus.MustRegister(ListenerFailures)
	prometheus.MustRegister(Broadcasts)
	prometheus.MustRegister(Subscribers)
	prometheus.MustRegister(StreamsOpen)
	prometheus.MustRegister(FramesDropped)
	prometheus.MustRegister(StreamsOverflowed)
	prometheus.MustRegister(ResponderRegistrations)
	prometheus.MustRegister(Generations)
	prometheus.MustRegister(GenerationDuration)
	prometheus.MustRegister(BackendRetries)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
