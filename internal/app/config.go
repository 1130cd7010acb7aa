package app

import (
	"time"

	"gopherwallet.com/internal/api"
	"gopherwallet.com/internal/persist"
	"gopherwallet.com/internal/secretstore"
	"gopherwallet.com/internal/wallet/engine"
	"gopherwallet.com/internal/wallet/refresh"
	"gopherwallet.com/internal/wallet/walletclient"
	"gopherwallet.com/pkg/orm"
	"gopherwallet.com/pkg/ratelimit"
	"gopherwallet.com/pkg/xredis"
)

// Config 对应 config/walletd.yaml
type Config struct {
	Name        string        `mapstructure:"name"`
	Log         LogConfig     `mapstructure:"log"`
	HTTP        api.Config    `mapstructure:"http"`
	MetricsAddr string        `mapstructure:"metrics_addr"` // 为空时只在 http 上暴露 /metrics
	Engine      engine.Config `mapstructure:"engine"`
	Persist     PersistConfig `mapstructure:"persist"`
	Secret      SecretConfig  `mapstructure:"secret"`
	Cache       CacheConfig   `mapstructure:"cache"`
	Client      ClientConfig  `mapstructure:"client"`
	Sync        SyncConfig    `mapstructure:"sync"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"` // "-" 只写 stdout
}

type PersistConfig struct {
	persist.Config `mapstructure:",squash"`
	// wal / mysql / sqlite
	Driver       string     `mapstructure:"driver"`
	WALDir       string     `mapstructure:"wal_dir"`
	CompactEvery int        `mapstructure:"compact_every"`
	DB           orm.Config `mapstructure:"db"`
}

type SecretConfig struct {
	DeviceID           string `mapstructure:"device_id"` // 容器里没有 machine-id 时手动指定
	AppSalt            string `mapstructure:"app_salt"`
	secretstore.Params `mapstructure:",squash"`
}

type CacheConfig struct {
	refresh.Config `mapstructure:",squash"`
	Redis          RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	xredis.Config `mapstructure:",squash"`
}

type ClientConfig struct {
	walletclient.HTTPConfig `mapstructure:",squash"`
	RatePerSec              float64        `mapstructure:"rate_per_sec"`
	Burst                   int            `mapstructure:"burst"`
	Breaker                 ratelimit.Rule `mapstructure:"breaker"`
}

type SyncConfig struct {
	// 多个实例共享同一份数据时，用 redis 锁保证同一个 key 只有一个同步
	DistributedLock bool          `mapstructure:"distributed_lock"`
	LockTTL         time.Duration `mapstructure:"lock_ttl"`
}

func (c *Config) withDefaults() {
	if c.Name == "" {
		c.Name = "walletd"
	}
	if c.Persist.Driver == "" {
		c.Persist.Driver = "wal"
	}
	if c.Persist.WALDir == "" {
		c.Persist.WALDir = "data"
	}
	if c.Persist.CompactEvery <= 0 {
		c.Persist.CompactEvery = 64
	}
	if c.Secret.AppSalt == "" {
		c.Secret.AppSalt = "gopherwallet"
	}
}
