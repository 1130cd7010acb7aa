package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gopherwallet.com/pkg/common"
	"gopherwallet.com/pkg/logger"
	"gopherwallet.com/pkg/metrics"
	"gopherwallet.com/pkg/ratelimit"
	"gopherwallet.com/pkg/xerr"
)

// RateLimit 按 ip + 路由限流
func RateLimit(store *ratelimit.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		if !store.Allow(c.ClientIP() + ":" + route) {
			// 可控拒绝，不打堆栈
			logger.Warn(c.Request.Context(), "http rate limited",
				zap.String("ip", c.ClientIP()),
				zap.String("route", route),
			)
			metrics.RateLimitBlockTotal.WithLabelValues("http", route, "limit").Inc()
			common.Fail(c, http.StatusTooManyRequests, xerr.TooManyRequests, "too many requests")
			c.Abort()
			return
		}
		c.Next()
	}
}
