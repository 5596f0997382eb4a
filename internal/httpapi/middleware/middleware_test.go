package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/assistant-gateway/internal/auth"
	"go.uber.org/zap"
)

func init() { gin.SetMode(gin.TestMode) }

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, RequestIDFrom(c)) })

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, rec.Body.String(), 36)
	assert.Equal(t, rec.Body.String(), rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc")
	assert.Equal(t, "abc", serve(r, req).Body.String())
}

func TestAuthRequired(t *testing.T) {
	r := gin.New()
	r.Use(AuthRequired("secret"))
	r.GET("/me", func(c *gin.Context) {
		uid, _ := UserID(c)
		c.JSON(http.StatusOK, gin.H{"uid": uid})
	})

	assert.Equal(t, http.StatusUnauthorized, serve(r, httptest.NewRequest(http.MethodGet, "/me", nil)).Code)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	assert.Equal(t, http.StatusUnauthorized, serve(r, req).Code)

	tok, err := auth.SignJWT(5, "secret", time.Minute)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := serve(r, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"uid":5}`, rec.Body.String())
}

func TestRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := gin.New()
	r.Use(func(c *gin.Context) {
		if c.GetHeader("X-User") == "2" {
			c.Set(UserIDKey, uint64(2))
		}
		c.Next()
	})
	r.Use(RateLimiter(ctx, 0.001, 2))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusNoContent, serve(r, httptest.NewRequest(http.MethodGet, "/", nil)).Code)
	}
	rec := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// a different bucket
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User", "2")
	assert.Equal(t, http.StatusNoContent, serve(r, req).Code)
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(), Recovery(zap.NewNop()))
	r.GET("/boom", func(c *gin.Context) { panic("kaboom") })

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"code":50000,"message":"internal server error","data":null}`, rec.Body.String())
}

type fakeRecorder struct {
	path   string
	status int
}

func (f *fakeRecorder) RecordHTTPRequest(method, path string, status int, elapsed time.Duration) {
	f.path, f.status = path, status
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	fr := &fakeRecorder{}
	r := gin.New()
	r.Use(Metrics(fr), Logger(zap.NewNop()))
	r.GET("/chat/jobs/:job_id", func(c *gin.Context) { c.Status(http.StatusAccepted) })

	serve(r, httptest.NewRequest(http.MethodGet, "/chat/jobs/01ABC", nil))
	assert.Equal(t, "/chat/jobs/:job_id", fr.path)
	assert.Equal(t, http.StatusAccepted, fr.status)

	serve(r, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, "unmatched", fr.path)
}
