package config

import (
	"context"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopherwallet.com/pkg/logger"
)

// LoadAndWatch 读取 config/{service}.yaml 到 out，并监听文件变更。
// 环境变量覆盖规则：WALLETD_HTTP_ADDR 覆盖 http.addr
// onChange 在每次热更新成功后调用（比如调整日志级别）
func LoadAndWatch(service string, out interface{}, onChange ...func()) (*viper.Viper, error) {
	v, err := Load(service, out)
	if err != nil {
		return nil, err
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		ctx := context.Background()
		if err := v.Unmarshal(out); err != nil {
			logger.Warn(ctx, "reload config failed", zap.String("file", e.Name), zap.Error(err))
			return
		}
		logger.Info(ctx, "config reloaded", zap.String("file", e.Name))
		for _, fn := range onChange {
			fn()
		}
	})
	return v, nil
}

// Load 只读一次，不监听
func Load(service string, out interface{}) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigName(service)
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.SetEnvPrefix(strings.ToUpper(strings.ReplaceAll(service, "-", "_")))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(out); err != nil {
		return nil, err
	}
	logger.Info(context.Background(), "config loaded", zap.String("service", service), zap.String("file", v.ConfigFileUsed()))
	return v, nil
}
