package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// UpstreamTransportErrorsCounter tracks forwards that failed before an
	// upstream response existed (timeout, refused connection, protocol error)
	UpstreamTransportErrorsCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pose_relay",
		Name:      "upstream_transport_errors_total",
		Help:      "Total number of upstream calls that failed at the transport level (synthesized 502s)",
	})

	// UpstreamErrorResponsesCounter tracks structured non-2xx upstream answers
	// that were reproduced verbatim for the client
	UpstreamErrorResponsesCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pose_relay",
		Name:      "upstream_error_responses_total",
		Help:      "Total number of upstream non-2xx responses relayed back unchanged",
	})

	// StreamedBytesCounter tracks bytes piped through the streaming endpoints
	StreamedBytesCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pose_relay",
		Name:      "streamed_bytes_total",
		Help:      "Total number of response bytes piped through streaming passthrough endpoints",
	})

	// SinkUploadsCounter tracks advisory blob uploads that completed
	SinkUploadsCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pose_relay",
		Name:      "sink_uploads_total",
		Help:      "Total number of advisory object-storage uploads that succeeded",
	})

	// SinkFailuresCounter tracks advisory blob uploads that failed (swallowed)
	SinkFailuresCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pose_relay",
		Name:      "sink_failures_total",
		Help:      "Total number of advisory object-storage uploads that failed and were swallowed",
	})

	// SinkInFlightGauge tracks advisory uploads currently running
	SinkInFlightGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pose_relay",
		Name:      "sink_in_flight_uploads",
		Help:      "Current number of advisory object-storage uploads in flight",
	})
)
