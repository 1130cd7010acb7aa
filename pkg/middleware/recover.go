package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gopherwallet.com/pkg/common"
	"gopherwallet.com/pkg/logger"
	"gopherwallet.com/pkg/xerr"
)

// Recover handler panic 时返回 500，日志带上路由模板和 key / wallet id。
// 不记录请求体，里面可能有口令或助记词。
func Recover() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			err := recover()
			if err == nil {
				return
			}
			fields := []zap.Field{
				zap.String("method", c.Request.Method),
				zap.String("route", c.FullPath()),
				zap.Any("panic", err),
				zap.ByteString("stack", debug.Stack()),
			}
			if id := c.Param("keyId"); id != "" {
				fields = append(fields, logger.KeyID(id))
			}
			if id := c.Param("walletId"); id != "" {
				fields = append(fields, logger.WalletID(id))
			}
			logger.Error(c.Request.Context(), "http panic", fields...)
			if !c.Writer.Written() {
				common.Fail(c, http.StatusInternalServerError, xerr.ServerCommonError, xerr.MapErrMsg(xerr.ServerCommonError))
			}
			c.Abort()
		}()
		c.Next()
	}
}
