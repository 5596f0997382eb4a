package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/assistant-gateway/internal/ai"
	"go.uber.org/zap"
)

func TestCollector_ObserveChunkCountsTokens(t *testing.T) {
	c := NewCollector("test", zap.NewNop())

	c.ObserveChunk("clarifai", "m", ai.TextChunk("a"))
	c.ObserveChunk("clarifai", "m", ai.TextChunk("b"))
	c.ObserveChunk("clarifai", "m", ai.UsageChunk(10, 4))

	assert.Equal(t, 2.0, testutil.ToFloat64(c.chunksTotal.WithLabelValues("clarifai", "text")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.chunksTotal.WithLabelValues("clarifai", "usage")))
	assert.Equal(t, 10.0, testutil.ToFloat64(c.tokensTotal.WithLabelValues("clarifai", "m", "input")))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.tokensTotal.WithLabelValues("clarifai", "m", "output")))
}

func TestCollector_ObserveStreamStatus(t *testing.T) {
	c := NewCollector("test", nil)

	c.ObserveStream("clarifai", "m", nil, time.Second)
	c.ObserveStream("clarifai", "m", &ai.RateLimitError{StatusCode: 429}, time.Second)
	c.ObserveStream("clarifai", "m", context.Canceled, time.Second)
	c.ObserveStream("clarifai", "m", errors.New("boom"), time.Second)

	for _, status := range []string{"ok", "rate_limited", "canceled", "error"} {
		assert.Equal(t, 1.0, testutil.ToFloat64(c.streamsTotal.WithLabelValues("clarifai", "m", status)), status)
	}
	c.ObserveRetry("clarifai", "m")
	assert.Equal(t, 1.0, testutil.ToFloat64(c.retriesTotal.WithLabelValues("clarifai", "m")))
}

func TestCollector_HandlerServesRegistry(t *testing.T) {
	c := NewCollector("gw", nil)
	c.RecordHTTPRequest(http.MethodGet, "/ping", 200, time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `gw_http_requests_total{method="GET",path="/ping",status="200"} 1`))
}
