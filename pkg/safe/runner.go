package safe

import (
	"context"
	"runtime/debug"

	"go.uber.org/zap"
	"gopherwallet.com/pkg/logger"
)

// Go 安全启动协程，panic 只记日志不打挂进程
func Go(fn func()) {
	go func() {
		defer recoverPanic(context.Background())
		fn()
	}()
}

// GoCtx 携带 context 启动，日志里能保留链路信息
func GoCtx(ctx context.Context, fn func(ctx context.Context)) {
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		defer recoverPanic(ctx)
		fn(ctx)
	}()
}

// GoErr 后台任务返回的错误也落日志，done 可以为 nil
func GoErr(ctx context.Context, name string, fn func(ctx context.Context) error, done chan<- error) {
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		var err error
		defer func() {
			if done != nil {
				done <- err
			}
		}()
		defer recoverPanic(ctx)
		if err = fn(ctx); err != nil && ctx.Err() == nil {
			logger.Error(ctx, "background task exited", zap.String("task", name), zap.Error(err))
		}
	}()
}

func recoverPanic(ctx context.Context) {
	if r := recover(); r != nil {
		logger.Error(ctx, "🚨 GOROUTINE PANIC RECOVERED",
			zap.Any("panic", r),
			zap.String("stack", string(debug.Stack())),
		)
	}
}
