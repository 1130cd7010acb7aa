package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gopherwallet.com/pkg/common"
	"gopherwallet.com/pkg/logger"
	"gopherwallet.com/pkg/metrics"
	"gopherwallet.com/pkg/xerr"
)

// SameOrigin 拒绝浏览器里别的站点发来的请求。
// 浏览器跨站请求一定带 Origin 或 Sec-Fetch-Site: cross-site，命令行客户端两者都不带。
// allowed 里是完整的 origin（scheme://host[:port]），不支持 *。
func SameOrigin(allowed []string) gin.HandlerFunc {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o = normalizeOrigin(o); o != "" && o != "*" {
			set[o] = struct{}{}
		}
	}
	return func(c *gin.Context) {
		origin := normalizeOrigin(c.GetHeader("Origin"))
		if origin == "" && c.GetHeader("Sec-Fetch-Site") != "cross-site" {
			c.Next()
			return
		}
		if _, ok := set[origin]; ok && origin != "" {
			c.Next()
			return
		}
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		logger.Warn(c.Request.Context(), "http foreign origin rejected",
			zap.String("origin", origin),
			zap.String("route", route),
		)
		metrics.RateLimitBlockTotal.WithLabelValues("http", route, "origin").Inc()
		common.Fail(c, http.StatusForbidden, xerr.Forbidden, xerr.MapErrMsg(xerr.Forbidden))
		c.Abort()
	}
}

func normalizeOrigin(o string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(o)), "/")
}
