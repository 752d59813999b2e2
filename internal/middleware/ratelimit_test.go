package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func rateLimitedRouter(cfg RateLimiterConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(NewRateLimiter(cfg).RateLimit())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestRateLimitEnforcesBurst(t *testing.T) {
	r := rateLimitedRouter(RateLimiterConfig{RPS: 1, Burst: 3})

	var codes []int
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	assert.Equal(t, []int{200, 200, 200, 429, 429}, codes)
}

func TestRateLimitIsPerClient(t *testing.T) {
	r := rateLimitedRouter(RateLimiterConfig{RPS: 1, Burst: 1})

	first := httptest.NewRequest(http.MethodGet, "/", nil)
	first.RemoteAddr = "10.0.0.1:1234"
	w1 := httptest.NewRecorder()
	r.ServeHTTP(w1, first)
	assert.Equal(t, http.StatusOK, w1.Code)

	// the first client is out of tokens, a second client is not
	exhausted := httptest.NewRequest(http.MethodGet, "/", nil)
	exhausted.RemoteAddr = "10.0.0.1:1234"
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, exhausted)
	assert.Equal(t, http.StatusTooManyRequests, w2.Code)

	other := httptest.NewRequest(http.MethodGet, "/", nil)
	other.RemoteAddr = "10.0.0.2:1234"
	w3 := httptest.NewRecorder()
	r.ServeHTTP(w3, other)
	assert.Equal(t, http.StatusOK, w3.Code)
}
