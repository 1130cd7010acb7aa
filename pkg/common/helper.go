package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gopherwallet.com/pkg/logger"
	"gopherwallet.com/pkg/xerr"
)

// http 返回格式
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: http.StatusText(http.StatusOK),
		Data:    data,
	})
}

func Fail(c *gin.Context, httpStatus int, code int, message string) {
	c.JSON(httpStatus, Response{Code: code, Message: message, Data: nil})
}

// FailErr 对外只回 code + message，原始错误只进日志
func FailErr(c *gin.Context, err error) {
	ce := xerr.From(err)
	status := xerr.HTTPStatus(ce.Code)
	fields := []zap.Field{
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Int("biz_code", ce.Code),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		logger.Error(c.Request.Context(), "http error", fields...)
	} else {
		logger.Warn(c.Request.Context(), "http error", fields...)
	}
	Fail(c, status, ce.Code, ce.Msg)
}
