package logger

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Context 里的链路字段
const (
	TraceIdKey   = "trace_id"
	RequestIdKey = "request_id"
)

// 全局 Logger 实例，未 Init 时是 Nop，单测里不用每次初始化
var Log = zap.NewNop()

// 动态级别，配置热更新时直接改这里
var level = zap.NewAtomicLevelAt(zap.InfoLevel)

// Init 初始化日志组件
// serviceName: 服务名 (例如 "walletd")
// level: 日志级别 (debug, info, warn, error)
func Init(serviceName string, level string) {
	InitWithFile(serviceName, level, "")
}

// InitWithFile 初始化日志组件
// logFile 为空时写 logs/{serviceName}.log，为 "-" 时只写 stdout
func InitWithFile(serviceName string, lvl string, logFile string) {
	SetLevel(lvl)

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.MessageKey = "msg"

	writeSyncers := []zapcore.WriteSyncer{zapcore.AddSync(os.Stdout)}

	if logFile == "" {
		logFile = filepath.Join("logs", serviceName+".log")
	}
	if logFile != "-" {
		// 文件打不开就只写控制台，不中断启动
		if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err == nil {
			if f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
				writeSyncers = append(writeSyncers, zapcore.AddSync(f))
			}
		}
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.NewMultiWriteSyncer(writeSyncers...),
		level,
	)

	// 封装了一层，所以 Skip 1
	Log = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).
		With(zap.String("service", serviceName))
}

// SetLevel 运行时调整级别，非法值按 info 处理
func SetLevel(lvl string) {
	var zl zapcore.Level
	if err := zl.UnmarshalText([]byte(lvl)); err != nil {
		zl = zap.InfoLevel
	}
	level.SetLevel(zl)
}

func Info(ctx context.Context, msg string, fields ...zap.Field) {
	Log.Info(msg, withTrace(ctx, fields)...)
}

func Error(ctx context.Context, msg string, fields ...zap.Field) {
	Log.Error(msg, withTrace(ctx, fields)...)
}

func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	Log.Warn(msg, withTrace(ctx, fields)...)
}

func Debug(ctx context.Context, msg string, fields ...zap.Field) {
	Log.Debug(msg, withTrace(ctx, fields)...)
}

// Fatal 会调用 os.Exit
func Fatal(ctx context.Context, msg string, fields ...zap.Field) {
	Log.Fatal(msg, withTrace(ctx, fields)...)
}

// 钱包域的通用字段，保证每条日志 key 一致
func KeyID(id string) zap.Field    { return zap.String("key_id", id) }
func WalletID(id string) zap.Field { return zap.String("wallet_id", id) }
func Event(name string) zap.Field  { return zap.String("event", name) }

func withTrace(ctx context.Context, fields []zap.Field) []zap.Field {
	if ctx == nil {
		return fields
	}
	if traceID, ok := ctx.Value(TraceIdKey).(string); ok && traceID != "" {
		fields = append(fields, zap.String(TraceIdKey, traceID))
	}
	if rid, ok := ctx.Value(RequestIdKey).(string); ok && rid != "" {
		fields = append(fields, zap.String(RequestIdKey, rid))
	}
	return fields
}

// Sync 刷新缓冲区 (main 里 defer 调用)
func Sync() {
	if Log != nil {
		_ = Log.Sync()
	}
}
