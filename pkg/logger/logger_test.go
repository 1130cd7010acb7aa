package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// 把全局 Log 劫持到内存 buffer
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	buffer := &bytes.Buffer{}
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.MessageKey = "msg"
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(buffer), zap.DebugLevel)
	old := Log
	Log = zap.New(core)
	t.Cleanup(func() { Log = old })
	return buffer
}

func TestLogger_Info_WithTraceAndRequestID(t *testing.T) {
	buffer := captureLog(t)

	ctx := context.WithValue(context.Background(), TraceIdKey, "trace-1")
	ctx = context.WithValue(ctx, RequestIdKey, "req-1")
	Info(ctx, "钱包刷新完成", KeyID("k1"), WalletID("w1"))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buffer.Bytes(), &entry), "日志输出必须是合法的 JSON")

	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "钱包刷新完成", entry["msg"])
	assert.Equal(t, "k1", entry["key_id"])
	assert.Equal(t, "w1", entry["wallet_id"])
	assert.Equal(t, "trace-1", entry["trace_id"])
	assert.Equal(t, "req-1", entry["request_id"])
}

func TestLogger_Error_NoTraceID(t *testing.T) {
	buffer := captureLog(t)

	Error(context.Background(), "快照写入失败", Event("persistence_write_failed"))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buffer.Bytes(), &entry))
	_, exists := entry["trace_id"]
	assert.False(t, exists, "没有 TraceID 的 Context 不应该输出 trace_id 字段")
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "persistence_write_failed", entry["event"])
}

func TestLogger_NilContext(t *testing.T) {
	buffer := captureLog(t)
	//nolint:staticcheck
	Warn(nil, "no ctx")
	assert.Contains(t, buffer.String(), "no ctx")
}

func TestSetLevel(t *testing.T) {
	SetLevel("error")
	assert.Equal(t, zapcore.ErrorLevel, level.Level())
	SetLevel("不存在")
	assert.Equal(t, zapcore.InfoLevel, level.Level())
}
