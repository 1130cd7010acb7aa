package middleware

import (
	"github.com/gin-gonic/gin"
	"gopherwallet.com/pkg/common"
)

// ReqId 每个请求一个 request id：回写响应头，放进 request context
func ReqId() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := common.RequestID(c.GetHeader(common.HeaderRequestID))
		c.Set(common.CtxKeyRequestID, rid)
		c.Header(common.HeaderRequestID, rid)
		c.Request = c.Request.WithContext(common.WithRequestID(c.Request.Context(), rid))
		c.Next()
	}
}
