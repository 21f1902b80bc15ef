package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tabletop"

var (
	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "hub_connections",
		Help:      "Current number of live hub connections",
	})

	VoiceParticipants = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "hub_voice_participants",
		Help:      "Current number of participants in voice",
	})

	NegotiationWaiters = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "hub_negotiation_waiters",
		Help:      "Participants queued for the negotiation lock",
	})

	Events = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "hub_events_total",
		Help:      "Inbound hub events by type and outcome",
	}, []string{"type", "outcome"})

	DroppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "hub_dropped_frames_total",
		Help:      "Outbound frames dropped because a connection outbox was full",
	})

	PersistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "snapshot_write_failures_total",
		Help:      "Token snapshot writes that failed",
	})

	UnownedOffers = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "voice_unowned_offers_total",
		Help:      "SDP offers relayed from a participant not holding the negotiation lock",
	})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests received",
	}, []string{"method", "path", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	httpInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "http_in_flight_requests",
		Help:      "Current number of in-flight HTTP requests",
	})
)

// Middleware records request metrics labelled by the matched route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		labels := prometheus.Labels{
			"method": c.Request.Method,
			"path":   path,
			"status": strconv.Itoa(c.Writer.Status()),
		}
		httpRequests.With(labels).Inc()
		httpLatency.With(labels).Observe(time.Since(start).Seconds())
	}
}

// Handler exposes the default Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
