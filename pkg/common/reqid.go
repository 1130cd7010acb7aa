package common

import (
	"context"

	"github.com/google/uuid"
	"gopherwallet.com/pkg/logger"
)

const (
	HeaderRequestID = "X-Request-Id"
	CtxKeyRequestID = logger.RequestIdKey

	maxRequestIDLen = 64
)

// RequestID 沿用调用方带来的 id，过长或带非法字符时重新生成，防止往日志里注入内容
func RequestID(incoming string) string {
	if validRequestID(incoming) {
		return incoming
	}
	return uuid.NewString()
}

func validRequestID(s string) bool {
	if s == "" || len(s) > maxRequestIDLen {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
		default:
			return false
		}
	}
	return true
}

// WithRequestID logger 从 context 里取 request id
func WithRequestID(ctx context.Context, rid string) context.Context {
	return context.WithValue(ctx, CtxKeyRequestID, rid)
}
