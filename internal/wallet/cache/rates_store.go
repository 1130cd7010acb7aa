package cache

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/encoding/json"
	"gopherwallet.com/internal/wallet/domain"
)

// RateStore 多实例共享的汇率二级缓存，本地账本判定过期后先查这里
type RateStore interface {
	Get(ctx context.Context, dr domain.DateRange) (domain.RatesResult, bool, error)
	Set(ctx context.Context, dr domain.DateRange, res domain.RatesResult, ttl time.Duration) error
}

type redisRateStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisRateStore(c redis.UniversalClient, prefix string) RateStore {
	if prefix == "" {
		prefix = "gopherwallet"
	}
	return &redisRateStore{client: c, prefix: prefix}
}

func (r *redisRateStore) Get(ctx context.Context, dr domain.DateRange) (domain.RatesResult, bool, error) {
	key := r.key(dr)
	b, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.RatesResult{}, false, nil
	}
	if err != nil {
		return domain.RatesResult{}, false, err
	}
	var res domain.RatesResult
	if err := json.Unmarshal(b, &res); err != nil {
		// 缓存脏了就删掉，当作未命中
		_ = r.client.Del(ctx, key).Err()
		return domain.RatesResult{}, false, nil
	}
	return res, true, nil
}

func (r *redisRateStore) Set(ctx context.Context, dr domain.DateRange, res domain.RatesResult, ttl time.Duration) error {
	b, err := json.Marshal(res)
	if err != nil {
		return err
	}
	// 加随机时间，避免多个实例同时过期一起打上游
	return r.client.Set(ctx, r.key(dr), b, withJitter(ttl, ttl/10)).Err()
}

func (r *redisRateStore) key(dr domain.DateRange) string {
	return fmt.Sprintf("%s:rates:%d", r.prefix, dr)
}

func withJitter(ttl time.Duration, jitter time.Duration) time.Duration {
	if ttl <= 0 || jitter <= 0 {
		return ttl
	}
	return ttl + time.Duration(rand.Int63n(int64(jitter)))
}
