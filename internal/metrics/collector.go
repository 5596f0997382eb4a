// Package metrics exposes prometheus collectors for provider streams and the HTTP API.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/suPer8Hu/assistant-gateway/internal/ai"
	"go.uber.org/zap"
)

type Collector struct {
	streamsTotal   *prometheus.CounterVec
	streamDuration *prometheus.HistogramVec
	chunksTotal    *prometheus.CounterVec
	tokensTotal    *prometheus.CounterVec
	retriesTotal   *prometheus.CounterVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	gatherer prometheus.Gatherer
	logger   *zap.Logger
}

var _ ai.StreamObserver = (*Collector)(nil)

// NewCollector registers all collectors on a private registry, so several
// collectors (one per test) can coexist in one process.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Collector{
		streamsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_streams_total",
			Help:      "Provider streams by final status.",
		}, []string{"provider", "model", "status"}),

		streamDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_stream_duration_seconds",
			Help:      "Wall time from request to the end of the stream.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"provider", "model"}),

		chunksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_stream_chunks_total",
			Help:      "Stream chunks by type (text, reasoning, usage).",
		}, []string{"provider", "type"}),

		tokensTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Tokens reported by usage chunks.",
		}, []string{"provider", "model", "type"}), // type: input, output

		retriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_retries_total",
			Help:      "Stream attempts retried after a retryable failure.",
		}, []string{"provider", "model"}),

		httpRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),

		httpRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		gatherer: reg,
		logger:   logger.With(zap.String("component", "metrics")),
	}
}

func (c *Collector) ObserveChunk(provider, model string, ch ai.Chunk) {
	c.chunksTotal.WithLabelValues(provider, string(ch.Type)).Inc()
	if ch.Type == ai.ChunkUsage {
		c.tokensTotal.WithLabelValues(provider, model, "input").Add(float64(ch.InputTokens))
		c.tokensTotal.WithLabelValues(provider, model, "output").Add(float64(ch.OutputTokens))
	}
}

func (c *Collector) ObserveRetry(provider, model string) {
	c.retriesTotal.WithLabelValues(provider, model).Inc()
}

func (c *Collector) ObserveStream(provider, model string, err error, elapsed time.Duration) {
	status := "ok"
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		status = "canceled"
	case ai.IsRateLimit(err):
		status = "rate_limited"
	default:
		status = "error"
		c.logger.Debug("stream failed", zap.String("provider", provider), zap.String("model", model), zap.Error(err))
	}
	c.streamsTotal.WithLabelValues(provider, model, status).Inc()
	c.streamDuration.WithLabelValues(provider, model).Observe(elapsed.Seconds())
}

func (c *Collector) RecordHTTPRequest(method, path string, status int, elapsed time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

// Handler serves the collector's registry in the prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
