package xredis

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// 只删除自己持有的锁
// KEYS[1]: 锁的 key  ARGV[1]: token
const unlockScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
else
    return 0
end
`

// 只给自己持有的锁续期
const refreshScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("pexpire", KEYS[1], ARGV[2])
else
    return 0
end
`

var ErrLockNotHeld = errors.New("xredis: lock not held")

type DistLock struct {
	client     redis.UniversalClient
	key        string
	token      string        // 谁加锁谁解锁
	expiration time.Duration // 自动过期，进程挂了锁也能释放
}

func NewDistLock(client redis.UniversalClient, key string, expiration time.Duration) *DistLock {
	return &DistLock{
		client:     client,
		key:        key,
		token:      uuid.NewString(),
		expiration: expiration,
	}
}

func (l *DistLock) Key() string { return l.key }

// TryLock 非阻塞，一次性
func (l *DistLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.token, l.expiration).Result()
}

// Lock 自旋重试，带随机抖动防止一起醒来打 Redis
func (l *DistLock) Lock(ctx context.Context, retryTimes int, retryInterval time.Duration) (bool, error) {
	for i := 0; i < retryTimes; i++ {
		ok, err := l.TryLock(ctx)
		if err != nil || ok {
			return ok, err
		}
		sleep := retryInterval + time.Duration(rand.Intn(10))*time.Millisecond
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(sleep):
		}
	}
	return false, nil
}

// Refresh 长任务中途续期
func (l *DistLock) Refresh(ctx context.Context) error {
	res, err := l.client.Eval(ctx, refreshScript, []string{l.key}, l.token, l.expiration.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if res != 1 {
		return ErrLockNotHeld
	}
	return nil
}

// Unlock 安全释放，返回 false 表示锁已经过期或被别人拿走
func (l *DistLock) Unlock(ctx context.Context) (bool, error) {
	res, err := l.client.Eval(ctx, unlockScript, []string{l.key}, l.token).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}
