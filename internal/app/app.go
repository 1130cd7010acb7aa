// Package app 组装 walletd：配置、日志、持久化、状态引擎、刷新、同步和 HTTP 接口
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gopherwallet.com/internal/api"
	"gopherwallet.com/internal/persist"
	"gopherwallet.com/internal/secretstore"
	"gopherwallet.com/internal/wallet/cache"
	"gopherwallet.com/internal/wallet/domain"
	"gopherwallet.com/internal/wallet/engine"
	"gopherwallet.com/internal/wallet/keys"
	"gopherwallet.com/internal/wallet/refresh"
	"gopherwallet.com/internal/wallet/walletclient"
	"gopherwallet.com/internal/wallet/walletsync"
	"gopherwallet.com/pkg/config"
	"gopherwallet.com/pkg/logger"
	"gopherwallet.com/pkg/metrics"
	"gopherwallet.com/pkg/orm"
	"gopherwallet.com/pkg/ratelimit"
	"gopherwallet.com/pkg/safe"
	"gopherwallet.com/pkg/xredis"
	"gorm.io/gorm"
)

type App struct {
	cfg Config

	mu        sync.Mutex // 保护热更新时读的 refresher
	refresher *refresh.Refresher

	store   persist.BlobStore
	db      *gorm.DB
	rdb     *redis.Client
	eng     *engine.Engine
	gateway *persist.Gateway
	server  *http.Server
	metrics *http.Server
}

// New 读配置并初始化日志，其他资源在 Run 里建
func New(service string) (*App, error) {
	a := &App{}
	if _, err := config.LoadAndWatch(service, &a.cfg, a.reload); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	a.cfg.withDefaults()
	logger.InitWithFile(a.cfg.Name, a.cfg.Log.Level, a.cfg.Log.File)
	return a, nil
}

// reload 只有日志级别和缓存 TTL 支持热更新
func (a *App) reload() {
	logger.SetLevel(a.cfg.Log.Level)
	a.mu.Lock()
	r := a.refresher
	a.mu.Unlock()
	if r != nil {
		r.UpdateConfig(a.cfg.Cache.Config)
	}
}

// Run 阻塞到 ctx 结束或者 http 服务出错，退出前把状态写盘
func (a *App) Run(ctx context.Context) error {
	defer logger.Sync()
	metrics.MustRegister()

	deviceKey, err := a.deviceKey()
	if err != nil {
		return err
	}
	if err := a.openStore(ctx); err != nil {
		return err
	}
	defer a.closeStores()

	loaded, err := persist.Load(ctx, a.store, deviceKey, time.Now())
	if err != nil {
		return err
	}

	// 引擎要比其他协程活得久，最后一次写盘还要读它的快照
	engCtx, stopEngine := context.WithCancel(context.WithoutCancel(ctx))
	defer func() {
		stopEngine()
		<-a.eng.Done()
	}()
	a.eng = engine.New(loaded.State, a.cfg.Engine)
	safe.GoCtx(engCtx, a.eng.Run)

	a.gateway, err = persist.NewGateway(a.eng, a.store, deviceKey, a.cfg.Persist.Config, loaded.Extra)
	if err != nil {
		return err
	}
	defer a.gateway.Close()
	safe.GoCtx(ctx, a.gateway.Run)

	if a.cfg.Cache.Redis.Enabled {
		if a.rdb, err = xredis.NewRedis(ctx, &a.cfg.Cache.Redis.Config); err != nil {
			return err
		}
	}
	if a.db != nil || a.rdb != nil {
		a.samplePools(ctx)
	}

	client := a.newClient(deviceKey)
	var refreshOpts []refresh.Option
	var guard walletsync.Guard
	if a.rdb != nil {
		refreshOpts = append(refreshOpts, refresh.WithRateStore(cache.NewRedisRateStore(a.rdb, a.cfg.Name)))
		if a.cfg.Sync.DistributedLock {
			guard = walletsync.NewRedisGuard(a.rdb, a.cfg.Name, a.cfg.Sync.LockTTL)
		}
	}
	r := refresh.New(a.eng, client, a.cfg.Cache.Config, refreshOpts...)
	a.mu.Lock()
	a.refresher = r
	a.mu.Unlock()
	r.Start(ctx)

	syncer := walletsync.New(a.eng, client, guard, walletsync.WithPhaseObserver(func(keyID string, p walletsync.Phase) {
		logger.Debug(ctx, "sync phase", logger.KeyID(keyID), zap.String("phase", string(p)))
	}))
	h := api.NewHandler(a.eng, keys.NewService(a.eng, client), syncer, r, a.gateway)

	errCh := make(chan error, 2)
	a.server = api.NewServer(ctx, a.cfg.HTTP, h)
	safe.Go(func() {
		logger.Info(ctx, "http listening", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	})
	if a.cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		a.metrics = &http.Server{Addr: a.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 3 * time.Second}
		safe.Go(func() {
			if err := a.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		})
	}

	select {
	case <-ctx.Done():
		logger.Info(ctx, "shutdown signal received")
	case err = <-errCh:
		logger.Error(ctx, "server error", zap.Error(err))
	}
	a.shutdown()
	return err
}

func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// 先停接入，再写盘
	if err := a.server.Shutdown(ctx); err != nil {
		logger.Warn(ctx, "http shutdown", zap.Error(err))
	}
	if a.metrics != nil {
		_ = a.metrics.Shutdown(ctx)
	}
	select {
	case <-a.gateway.Done():
	case <-ctx.Done():
	}
	if err := a.gateway.Flush(ctx); err != nil {
		logger.Error(ctx, "final flush failed", zap.Error(err))
	}
	logger.Info(ctx, "walletd stopped")
}

func (a *App) deviceKey() (secretstore.DeviceKey, error) {
	id, err := secretstore.DeviceIDSource{Override: a.cfg.Secret.DeviceID}.DeviceID()
	if err != nil {
		return secretstore.DeviceKey{}, err
	}
	return secretstore.DeriveDeviceKey(id, a.cfg.Secret.AppSalt, a.cfg.Secret.Params)
}

func (a *App) openStore(ctx context.Context) error {
	switch a.cfg.Persist.Driver {
	case "wal":
		s, err := persist.OpenWALStore(a.cfg.Persist.WALDir, a.cfg.Persist.CompactEvery)
		if err != nil {
			return err
		}
		a.store = s
	case "mysql", "sqlite":
		dbCfg := a.cfg.Persist.DB
		dbCfg.Driver = a.cfg.Persist.Driver
		db, err := orm.Open(&dbCfg)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		s, err := persist.NewGormStore(db, a.cfg.Name)
		if err != nil {
			return err
		}
		a.db, a.store = db, s
	default:
		return fmt.Errorf("unknown persist driver %q", a.cfg.Persist.Driver)
	}
	logger.Info(ctx, "blob store opened", zap.String("driver", a.cfg.Persist.Driver))
	return nil
}

func (a *App) closeStores() {
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
}

func (a *App) newClient(deviceKey secretstore.DeviceKey) walletclient.Client {
	keyring := walletclient.NewKeyring(deviceKey, a.cfg.Secret.Params).WithCustomTokens(func() map[string]domain.Token {
		return a.eng.Snapshot().CustomTokenOptionsByAddress()
	})
	var limiter *ratelimit.Store
	if a.cfg.Client.RatePerSec > 0 {
		limiter = ratelimit.NewStore(rate.Limit(a.cfg.Client.RatePerSec), a.cfg.Client.Burst, 0)
	}
	remote := walletclient.NewBreaker(walletclient.NewHTTPRemote(a.cfg.Client.HTTPConfig), a.cfg.Client.Breaker, limiter)
	return walletclient.New(keyring, remote)
}

// samplePools 每 5 秒采样一次连接池
func (a *App) samplePools(ctx context.Context) {
	db, rdb := a.db, a.rdb
	safe.GoCtx(ctx, func(ctx context.Context) {
		t := time.NewTicker(5 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
			if db != nil {
				if sqlDB, err := db.DB(); err == nil {
					st := sqlDB.Stats()
					metrics.DbPoolOpen.Set(float64(st.OpenConnections))
					metrics.DbPoolInuse.Set(float64(st.InUse))
				}
			}
			if rdb != nil {
				st := rdb.PoolStats()
				metrics.RedisPoolOpen.Set(float64(st.TotalConns))
				metrics.RedisPoolIdle.Set(float64(st.IdleConns))
			}
		}
	})
}
