package walletsync

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gopherwallet.com/internal/wallet/domain"
	"gopherwallet.com/pkg/logger"
	"gopherwallet.com/pkg/xredis"
)

// Guard 同一个 key 同时只允许一次同步，拿不到返回 domain.ErrSyncInProgress
type Guard interface {
	Acquire(ctx context.Context, keyID string) (release func(), err error)
}

// LocalGuard 进程内
type LocalGuard struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalGuard() *LocalGuard {
	return &LocalGuard{held: make(map[string]struct{})}
}

func (g *LocalGuard) Acquire(_ context.Context, keyID string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.held[keyID]; ok {
		return nil, domain.ErrSyncInProgress
	}
	g.held[keyID] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.held, keyID)
			g.mu.Unlock()
		})
	}, nil
}

// RedisGuard 多实例共用一份状态时用分布式锁
type RedisGuard struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisGuard(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisGuard {
	if prefix == "" {
		prefix = "gopherwallet"
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisGuard{client: client, prefix: prefix, ttl: ttl}
}

func (g *RedisGuard) Acquire(ctx context.Context, keyID string) (func(), error) {
	lock := xredis.NewDistLock(g.client, g.prefix+":sync:"+keyID, g.ttl)
	ok, err := lock.TryLock(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrSyncInProgress
	}
	return func() {
		// 调用方的 ctx 可能已经取消，解锁不能跟着失败
		uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
		defer cancel()
		if released, err := lock.Unlock(uctx); err != nil || !released {
			logger.Warn(ctx, "sync lock release failed", logger.KeyID(keyID), zap.Bool("released", released), zap.Error(err))
		}
	}, nil
}
