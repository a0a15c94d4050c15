package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/wyfcoding/cowsolver/pkg/logger"
	"github.com/wyfcoding/cowsolver/pkg/ratelimit"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRateLimitPerKey(t *testing.T) {
	r := gin.New()
	limit := ratelimit.Limit{Rate: 1, Period: time.Hour, Burst: 1}
	r.Use(RateLimit(ratelimit.NewLocalRateLimiter(), limit, "test", func(c *gin.Context) string {
		return c.GetHeader("X-Key")
	}, logger.Discard()))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	do := func(key string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if key != "" {
			req.Header.Set("X-Key", key)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, do("a"))
	assert.Equal(t, http.StatusTooManyRequests, do("a"))
	assert.Equal(t, http.StatusNoContent, do("b"))
	// 无 key 不限流
	assert.Equal(t, http.StatusNoContent, do(""))
	assert.Equal(t, http.StatusNoContent, do(""))
}

func TestRecoveryAndRequestID(t *testing.T) {
	r := gin.New()
	r.Use(GinLogging(logger.Discard()), GinRecovery(logger.Discard()))
	r.GET("/panic", func(c *gin.Context) { panic("boom") })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
	assert.Contains(t, rec.Body.String(), rec.Header().Get(RequestIDHeader))
}
