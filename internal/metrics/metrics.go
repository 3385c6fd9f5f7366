package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mdchat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mdchat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5, 30},
		},
		[]string{"method", "path"},
	)

	// Chat metrics
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mdchat_sessions_active",
			Help: "Sessions currently held in memory",
		},
	)

	ChatRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mdchat_chat_requests_total",
			Help: "Chat requests by outcome",
		},
		[]string{"outcome"}, // complete, rejected, transport_error, stream_error, timeout, canceled, error
	)

	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mdchat_active_streams",
			Help: "Token streams currently open to the completion endpoint",
		},
	)

	StreamedTokens = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mdchat_streamed_chunks_total",
			Help: "Token chunks applied to assistant messages",
		},
	)

	StreamDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mdchat_stream_duration_seconds",
			Help:    "Duration of chat requests from submit to end of stream",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 60},
		},
	)

	// Render metrics
	RenderFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mdchat_render_failures_total",
			Help: "Markdown renders that fell back to plain text",
		},
		[]string{"stage"},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mdchat_rate_limit_hits_total",
			Help: "Requests rejected by the rate limiter",
		},
	)
)
