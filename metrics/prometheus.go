package metrics

import (
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// all metrics and middlewares for the REST API and the edge
var (
	// to prevent metrics from being initialized multiple times
	isMetricsInitVar uint32 = 0

	// active REST API connections
	activeRESTConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_rest_connections",
			Help: "Number of active REST API connections",
		},
	)

	// response times for REST APIs
	responseTimeRESTAPI = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "restapi_response_time_milliseconds",
			Help:    "REST API response time distributions",
			Buckets: []float64{1, 10, 50, 100, 200, 300, 400, 500},
		},
		[]string{"method", "endpoint"},
	)

	responseSizeRESTAPI = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "restapi_response_size_kilobytes",
			Help:    "REST API response size distributions",
			Buckets: []float64{200, 500, 900, 1500, 2000, 3000, 4000, 5000},
		},
		[]string{"method", "endpoint"},
	)

	// Number of requests processed by REST API
	RESTRequestMetricsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rest_requests_processed_total",
		Help: "The total number of processed REST requests",
	}, []string{"method", "endpoint"})

	// Number of playback tokens issued
	TokensIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tokens_issued_total",
		Help: "The total number of issued playback tokens",
	})

	// Edge token checks by result (valid, malformed, signature, expired, path, blocked, error)
	EdgeVerificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "edge_verifications_total",
		Help: "The total number of edge token verifications",
	}, []string{"result"})

	// Latency of edge token verification
	EdgeVerificationLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "edge_verification_latency_microseconds",
		Help:    "Latency of edge token verification",
		Buckets: prometheus.ExponentialBuckets(10, 2, 10),
	})

	// Secret rotations by result (success, timeout, error)
	SecretRotationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "secret_rotations_total",
		Help: "The total number of secret rotation runs",
	}, []string{"result"})

	// Revoked sessions by origin (MANUAL, AUTO)
	SessionsRevokedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sessions_revoked_total",
		Help: "The total number of revoked sessions",
	}, []string{"origin"})

	// Sessions flagged by the risk scorer
	RiskSessionsFlaggedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "risk_sessions_flagged_total",
		Help: "The total number of sessions flagged by risk scoring",
	})

	// Current number of edge block rules
	BlockListRules = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "blocklist_rules",
		Help: "Number of rules in the active edge block-list",
	})
)

func setIsMetricsInit() {
	atomic.StoreUint32(&isMetricsInitVar, 1)
}

func isMetricsInit() bool {
	return atomic.LoadUint32(&isMetricsInitVar) == 1
}

func InitMetrics() {
	if !isMetricsInit() {
		setIsMetricsInit()

		// Metrics have to be registered to be exposed
		prometheus.MustRegister(activeRESTConnections)
		prometheus.MustRegister(responseTimeRESTAPI)
		prometheus.MustRegister(responseSizeRESTAPI)
		prometheus.MustRegister(RESTRequestMetricsTotal)
		prometheus.MustRegister(TokensIssuedTotal)
		prometheus.MustRegister(EdgeVerificationsTotal)
		prometheus.MustRegister(EdgeVerificationLatency)
		prometheus.MustRegister(SecretRotationsTotal)
		prometheus.MustRegister(SessionsRevokedTotal)
		prometheus.MustRegister(RiskSessionsFlaggedTotal)
		prometheus.MustRegister(BlockListRules)
	}
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Increment the counter for the given endpoint:
		RESTRequestMetricsTotal.WithLabelValues(c.Request.Method, c.FullPath()).Inc()

		w := c.Writer

		start := time.Now()

		activeRESTConnections.Inc()
		defer activeRESTConnections.Dec()

		c.Next()

		if w.Size() > 0 {
			responseSizeRESTAPI.WithLabelValues(c.Request.Method, c.FullPath()).Observe(float64(w.Size()) / 1024)
		}

		latency := time.Since(start)
		responseTimeRESTAPI.WithLabelValues(c.Request.Method, c.FullPath()).Observe(float64(latency.Milliseconds()))
	}
}
