package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     prometheus.CounterVec
	HTTPRequestDuration   prometheus.HistogramVec
	HTTPRequestSize       prometheus.HistogramVec
	HTTPResponseSize      prometheus.HistogramVec
	HTTPActiveConnections prometheus.GaugeVec

	// Realtime metrics
	SocketConnectionsActive prometheus.GaugeVec
	SocketEnvelopesTotal    prometheus.CounterVec
	SocketDropsTotal        prometheus.CounterVec

	// Social metrics
	PostsCreated  prometheus.CounterVec
	LikesTotal    prometheus.CounterVec
	CommentsTotal prometheus.CounterVec
	MessagesSent  prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal   prometheus.CounterVec
	CacheMissesTotal prometheus.CounterVec

	// AI metrics
	AIRequestsTotal   prometheus.CounterVec
	AIRequestDuration prometheus.HistogramVec

	// Error metrics
	ErrorsTotal prometheus.CounterVec
}

var (
	instance *Metrics
	once     sync.Once
)

// Initialize creates and registers all Prometheus metrics
func Initialize() *Metrics {
	once.Do(func() {
		instance = &Metrics{
			HTTPRequestsTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "http_requests_total",
					Help: "Total number of HTTP requests",
				},
				[]string{"method", "path", "status"},
			),
			HTTPRequestDuration: *promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "http_request_duration_seconds",
					Help:    "HTTP request latency in seconds",
					Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
				},
				[]string{"method", "path", "status"},
			),
			HTTPRequestSize: *promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "http_request_size_bytes",
					Help:    "HTTP request body size in bytes",
					Buckets: prometheus.ExponentialBuckets(100, 10, 7),
				},
				[]string{"method", "path"},
			),
			HTTPResponseSize: *promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "http_response_size_bytes",
					Help:    "HTTP response size in bytes",
					Buckets: prometheus.ExponentialBuckets(100, 10, 7),
				},
				[]string{"method", "path", "status"},
			),
			HTTPActiveConnections: *promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "http_active_connections",
					Help: "Number of in-flight HTTP requests",
				},
				[]string{"method", "path"},
			),
			SocketConnectionsActive: *promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "socket_connections_active",
					Help: "Number of open realtime sockets",
				},
				[]string{},
			),
			SocketEnvelopesTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "socket_envelopes_total",
					Help: "Realtime envelopes processed, by type and direction",
				},
				[]string{"type", "direction"},
			),
			SocketDropsTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "socket_drops_total",
					Help: "Realtime envelopes dropped, by reason",
				},
				[]string{"reason"},
			),
			PostsCreated: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "posts_created_total",
					Help: "Posts created",
				},
				[]string{},
			),
			LikesTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "likes_total",
					Help: "Like and unlike operations",
				},
				[]string{"action"},
			),
			CommentsTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "comments_total",
					Help: "Comments created",
				},
				[]string{},
			),
			MessagesSent: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "chat_messages_sent_total",
					Help: "Chat messages persisted",
				},
				[]string{"transport"},
			),
			CacheHitsTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "cache_hits_total",
					Help: "Cache hits by key group",
				},
				[]string{"group"},
			),
			CacheMissesTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "cache_misses_total",
					Help: "Cache misses by key group",
				},
				[]string{"group"},
			),
			AIRequestsTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ai_requests_total",
					Help: "AI image requests, by mode and outcome",
				},
				[]string{"mode", "outcome"},
			),
			AIRequestDuration: *promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "ai_request_duration_seconds",
					Help:    "AI image request latency in seconds",
					Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60},
				},
				[]string{"mode"},
			),
			ErrorsTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "errors_total",
					Help: "Application errors by component",
				},
				[]string{"component", "code"},
			),
		}
	})
	return instance
}

// Get returns the metrics instance, initializing it on first use
func Get() *Metrics {
	return Initialize()
}
