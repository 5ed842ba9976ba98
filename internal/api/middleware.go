package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"gokpi/internal"
	"gokpi/internal/metrics"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimit rejects requests beyond rps with a burst allowance. A zero rps
// disables limiting.
func RateLimit(rps float64, burst int, logger *internal.Logger) gin.HandlerFunc {
	if rps <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			logger.Warn("rate limit exceeded: %s %s from %s", c.Request.Method, c.Request.URL.Path, c.ClientIP())
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded, retry shortly",
				"code":  "RATE_LIMITED",
			})
			return
		}
		c.Next()
	}
}

// RequestMetrics records count and latency per route template
func RequestMetrics(recorder *metrics.Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		recorder.ObserveRequest(route, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

// Timeout bounds the request context. Evaluation stops between periods once
// the deadline passes.
func Timeout(d time.Duration) gin.HandlerFunc {
	if d <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
