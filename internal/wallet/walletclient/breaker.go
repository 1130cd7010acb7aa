package walletclient

import (
	"context"
	"errors"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"gopherwallet.com/internal/wallet/domain"
	"gopherwallet.com/pkg/logger"
	"gopherwallet.com/pkg/metrics"
	"gopherwallet.com/pkg/ratelimit"
)

const breakerService = "wallet-remote"

// Breaker 给 Remote 加客户端限流和熔断。
// 熔断打开或者限流等待超时都当作 NetworkOrServerError 返回，调用方按可重试处理。
type Breaker struct {
	next    Remote
	cb      *ratelimit.Manager
	limiter *ratelimit.Store
}

// NewBreaker limiter 可以为 nil
func NewBreaker(next Remote, rule ratelimit.Rule, limiter *ratelimit.Store) *Breaker {
	return &Breaker{
		next:    next,
		cb:      ratelimit.NewManager(breakerService, rule, nil, IsBreakerSuccess),
		limiter: limiter,
	}
}

// IsBreakerSuccess 服务端明确拒绝和调用方取消都不算依赖故障
func IsBreakerSuccess(err error) bool {
	if err == nil {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return true
	}
	return errors.Is(err, context.Canceled)
}

func (b *Breaker) call(ctx context.Context, method string, fn func() error) error {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx, method); err != nil {
			metrics.RateLimitBlockTotal.WithLabelValues(breakerService, method, "wait").Inc()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &domain.NetworkOrServerError{Op: method, Err: err}
		}
	}
	err := b.cb.Do(method, fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		logger.Warn(ctx, "wallet remote breaker rejected", zap.String("method", method), zap.Error(err))
		return &domain.NetworkOrServerError{Op: method, Err: err}
	}
	return err
}

func (b *Breaker) RegisterWallet(ctx context.Context, kh KeyHandle, w domain.Wallet) (WalletHandle, error) {
	var out WalletHandle
	err := b.call(ctx, "register_wallet", func() (err error) {
		out, err = b.next.RegisterWallet(ctx, kh, w)
		return err
	})
	return out, err
}

func (b *Breaker) GetStatus(ctx context.Context, w domain.Wallet) (domain.Status, error) {
	var out domain.Status
	err := b.call(ctx, "get_status", func() (err error) {
		out, err = b.next.GetStatus(ctx, w)
		return err
	})
	return out, err
}

func (b *Breaker) ServerAssistedImport(ctx context.Context, kh KeyHandle) ([]WalletHandle, error) {
	var out []WalletHandle
	err := b.call(ctx, "server_assisted_import", func() (err error) {
		out, err = b.next.ServerAssistedImport(ctx, kh)
		return err
	})
	return out, err
}

func (b *Breaker) FetchRates(ctx context.Context, dr domain.DateRange) (domain.RatesResult, error) {
	var out domain.RatesResult
	err := b.call(ctx, "fetch_rates", func() (err error) {
		out, err = b.next.FetchRates(ctx, dr)
		return err
	})
	return out, err
}
