package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	upstreamTotal       *prometheus.CounterVec
	upstreamDuration    *prometheus.HistogramVec
	ingestedTotal       *prometheus.CounterVec
	quotaDecisionsTotal *prometheus.CounterVec
)

// Init registers collectors with the default registry. Safe to call repeatedly.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests served, by method, route and status.",
		}, []string{"method", "route", "status"})

		httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"})

		upstreamTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rag_upstream_requests_total",
			Help: "Calls to the indexing service, by operation and outcome.",
		}, []string{"op", "outcome"})

		upstreamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rag_upstream_request_duration_seconds",
			Help:    "Latency of calls to the indexing service, including the retry.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"op"})

		ingestedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "documents_ingested_total",
			Help: "Ingestion attempts, by document type and outcome.",
		}, []string{"type", "outcome"})

		quotaDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "quota_decisions_total",
			Help: "Analyze quota decisions, by outcome.",
		}, []string{"outcome"})
	})
}

// ObserveHTTP records one served request.
func ObserveHTTP(method, route string, status int, d time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObserveUpstream records one logical call to the indexing service.
func ObserveUpstream(op, outcome string, d time.Duration) {
	Init()
	upstreamTotal.WithLabelValues(op, outcome).Inc()
	upstreamDuration.WithLabelValues(op).Observe(d.Seconds())
}

// IncIngested counts an ingestion attempt.
func IncIngested(docType, outcome string) {
	Init()
	ingestedTotal.WithLabelValues(docType, outcome).Inc()
}

// IncQuotaDecision counts a quota decision ("allowed", "rejected" or "error").
func IncQuotaDecision(outcome string) {
	Init()
	quotaDecisionsTotal.WithLabelValues(outcome).Inc()
}

// Handler serves the Prometheus exposition format.
func Handler() gin.HandlerFunc {
	Init()
	return gin.WrapH(promhttp.Handler())
}
