// Package refresh 余额和汇率的刷新编排。
//
// 缓存账本判断是否过期，过期才调钱包客户端；结果带着拉取开始时间交给状态引擎做 check-and-set，
// 慢的旧结果不会覆盖新的。同一个钱包或日期范围的并发请求用 singleflight 合并。
package refresh

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"gopherwallet.com/internal/wallet/cache"
	"gopherwallet.com/internal/wallet/domain"
	"gopherwallet.com/internal/wallet/engine"
	"gopherwallet.com/internal/wallet/state"
	"gopherwallet.com/pkg/logger"
	"gopherwallet.com/pkg/metrics"
	"gopherwallet.com/pkg/safe"
)

type Config struct {
	BalanceTTL  time.Duration `mapstructure:"balance_ttl"`
	RatesTTL    time.Duration `mapstructure:"rates_ttl"`
	Lease       time.Duration `mapstructure:"lease"`       // 单个钱包刷新的占用时长，超时后允许重新刷新
	Concurrency int           `mapstructure:"concurrency"` // 一个 key 下同时刷新的钱包数
	FiatCode    string        `mapstructure:"fiat_code"`
	Interval    time.Duration `mapstructure:"interval"` // 后台定时刷新，0 关闭
}

func (c Config) withDefaults() Config {
	if c.BalanceTTL <= 0 {
		c.BalanceTTL = 5 * time.Minute
	}
	if c.RatesTTL <= 0 {
		c.RatesTTL = 5 * time.Minute
	}
	if c.Lease <= 0 {
		c.Lease = time.Minute
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.FiatCode == "" {
		c.FiatCode = "USD"
	}
	return c
}

// Source 拉取边界，walletclient.Client 满足
type Source interface {
	GetStatus(ctx context.Context, w domain.Wallet) (domain.Status, error)
	FetchRates(ctx context.Context, dr domain.DateRange) (domain.RatesResult, error)
}

type Refresher struct {
	eng   *engine.Engine
	src   Source
	store cache.RateStore // 可以为 nil
	cfg   atomic.Pointer[Config]
	sf    singleflight.Group
	now   func() time.Time
}

type Option func(*Refresher)

func WithRateStore(s cache.RateStore) Option { return func(r *Refresher) { r.store = s } }

func WithClock(now func() time.Time) Option { return func(r *Refresher) { r.now = now } }

func New(eng *engine.Engine, src Source, cfg Config, opts ...Option) *Refresher {
	r := &Refresher{eng: eng, src: src, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	r.UpdateConfig(cfg)
	return r
}

// UpdateConfig 配置热更新时调用
func (r *Refresher) UpdateConfig(cfg Config) {
	c := cfg.withDefaults()
	r.cfg.Store(&c)
}

func (r *Refresher) config() Config { return *r.cfg.Load() }

// ---------------------------------------------------------
// 余额
// ---------------------------------------------------------

// RefreshWallet 没过期且不强制时直接返回当前值。
// ctx 取消只影响等待，已经发出的拉取会继续并照常写回。
func (r *Refresher) RefreshWallet(ctx context.Context, keyID, walletID string, force bool) (domain.Wallet, error) {
	snap := r.eng.Snapshot()
	w, ok := snap.Wallet(keyID, walletID)
	if !ok {
		return domain.Wallet{}, domain.ErrWalletNotFound
	}
	if !force && !snap.BalanceCache().IsStale(cache.WalletScope(walletID), r.config().BalanceTTL, r.now()) {
		metrics.RefreshOutcomes.WithLabelValues("wallet", "fresh").Inc()
		return w, nil
	}

	ch := r.sf.DoChan("wallet:"+keyID+"/"+walletID, func() (any, error) {
		return r.refreshWallet(context.WithoutCancel(ctx), w)
	})
	select {
	case res := <-ch:
		if res.Shared {
			metrics.RefreshOutcomes.WithLabelValues("wallet", "coalesced").Inc()
		}
		if res.Err != nil {
			return domain.Wallet{}, res.Err
		}
		return res.Val.(domain.Wallet), nil
	case <-ctx.Done():
		return domain.Wallet{}, ctx.Err()
	}
}

func (r *Refresher) refreshWallet(ctx context.Context, w domain.Wallet) (domain.Wallet, error) {
	cfg := r.config()
	startedAt := r.now()
	if _, err := r.eng.Do(ctx, engine.BeginRefresh{KeyID: w.KeyID, WalletID: w.ID, StartedAt: startedAt, Lease: cfg.Lease}); err != nil {
		if errors.Is(err, domain.ErrRefreshInProgress) {
			metrics.RefreshOutcomes.WithLabelValues("wallet", "in_progress").Inc()
		}
		return domain.Wallet{}, err
	}

	st, err := r.src.GetStatus(ctx, w)
	if err != nil {
		metrics.RefreshOutcomes.WithLabelValues("wallet", "failed").Inc()
		logger.Warn(ctx, "wallet status fetch failed", logger.KeyID(w.KeyID), logger.WalletID(w.ID), zap.Error(err))
		if _, ferr := r.eng.Do(ctx, engine.FailStatus{KeyID: w.KeyID, WalletID: w.ID, StartedAt: startedAt}); ferr != nil {
			logger.Error(ctx, "clear refreshing flag failed", logger.KeyID(w.KeyID), logger.WalletID(w.ID), zap.Error(ferr))
		}
		return domain.Wallet{}, err
	}

	snap := r.eng.Snapshot()
	st.Balance.Fiat, st.Balance.FiatLastDay = fiat(snap, w.CurrencyAbbreviation, w.Decimals, st.Balance.Sat, cfg.FiatCode)
	applied, err := engine.Exec[bool](ctx, r.eng, engine.UpdateStatus{KeyID: w.KeyID, WalletID: w.ID, Status: st, StartedAt: startedAt})
	if err != nil {
		return domain.Wallet{}, err
	}
	if applied {
		metrics.RefreshOutcomes.WithLabelValues("wallet", "ok").Inc()
	} else {
		metrics.RefreshOutcomes.WithLabelValues("wallet", "stale").Inc()
		metrics.CacheStaleRejected.WithLabelValues("balance").Inc()
		logger.Debug(ctx, "stale wallet status dropped", logger.KeyID(w.KeyID), logger.WalletID(w.ID))
	}
	cur, ok := r.eng.Snapshot().Wallet(w.KeyID, w.ID)
	if !ok {
		return domain.Wallet{}, domain.ErrWalletNotFound
	}
	return cur, nil
}

// fiat 没有汇率时按 0 算
func fiat(snap *state.State, abbr string, decimals int32, sat int64, code string) (cur, lastDay decimal.Decimal) {
	cur, lastDay = decimal.Zero, decimal.Zero
	if rate, ok := snap.Rates().Lookup(abbr, code); ok {
		cur = domain.ToFiat(sat, decimals, rate)
	}
	if rate, ok := snap.LastDayRates().Lookup(abbr, code); ok {
		lastDay = domain.ToFiat(sat, decimals, rate)
	}
	return cur, lastDay
}

// RefreshKey 刷新 key 下所有钱包再汇总。
// 有钱包失败时汇总照样写，但 key 的缓存时间不推进，下次还会被判为过期。
func (r *Refresher) RefreshKey(ctx context.Context, keyID string, force bool) (domain.Key, error) {
	cfg := r.config()
	snap := r.eng.Snapshot()
	key, ok := snap.Key(keyID)
	if !ok {
		return domain.Key{}, domain.ErrKeyNotFound
	}
	if !force && !snap.BalanceCache().IsStale(cache.KeyScope(keyID), cfg.BalanceTTL, r.now()) {
		metrics.RefreshOutcomes.WithLabelValues("key", "fresh").Inc()
		return key, nil
	}

	startedAt := r.now()
	var failed atomic.Int32
	var g errgroup.Group
	g.SetLimit(cfg.Concurrency)
	for _, w := range snap.Wallets(keyID) {
		g.Go(func() error {
			if _, err := r.RefreshWallet(ctx, keyID, w.ID, force); err != nil {
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	total, lastDay := decimal.Zero, decimal.Zero
	cur := r.eng.Snapshot()
	for _, w := range cur.Wallets(keyID) {
		t, l := fiat(cur, w.CurrencyAbbreviation, w.Decimals, w.Balance.Sat, cfg.FiatCode)
		total, lastDay = total.Add(t), lastDay.Add(l)
	}
	complete := failed.Load() == 0
	applied, err := engine.Exec[bool](ctx, r.eng, engine.RollUpKeyBalance{
		KeyID: keyID, Total: total, LastDay: lastDay, StartedAt: startedAt, Complete: complete,
	})
	if err != nil {
		return domain.Key{}, err
	}
	switch {
	case !applied:
		metrics.RefreshOutcomes.WithLabelValues("key", "stale").Inc()
		metrics.CacheStaleRejected.WithLabelValues("balance").Inc()
	case !complete:
		metrics.RefreshOutcomes.WithLabelValues("key", "partial").Inc()
		logger.Warn(ctx, "key refresh partial", logger.KeyID(keyID), zap.Int32("failed", failed.Load()))
	default:
		metrics.RefreshOutcomes.WithLabelValues("key", "ok").Inc()
	}
	key, ok = r.eng.Snapshot().Key(keyID)
	if !ok {
		return domain.Key{}, domain.ErrKeyNotFound
	}
	if !complete {
		return key, &domain.NetworkOrServerError{Op: "refresh key " + keyID, Err: fmt.Errorf("%d wallet(s) failed", failed.Load())}
	}
	return key, nil
}

// RefreshAll 所有 key 都成功才推进 "all"
func (r *Refresher) RefreshAll(ctx context.Context, force bool) error {
	snap := r.eng.Snapshot()
	if !force && !snap.BalanceCache().IsStale(cache.ScopeAll, r.config().BalanceTTL, r.now()) {
		metrics.RefreshOutcomes.WithLabelValues("all", "fresh").Inc()
		return nil
	}
	startedAt := r.now()
	var errs []error
	for _, k := range snap.Keys() {
		if _, err := r.RefreshKey(ctx, k.ID, force); err != nil && !errors.Is(err, domain.ErrKeyNotFound) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		metrics.RefreshOutcomes.WithLabelValues("all", "partial").Inc()
		return errors.Join(errs...)
	}
	if _, err := r.eng.Do(ctx, engine.MarkAllRefreshed{StartedAt: startedAt}); err != nil {
		return err
	}
	metrics.RefreshOutcomes.WithLabelValues("all", "ok").Inc()
	return nil
}

// ---------------------------------------------------------
// 汇率
// ---------------------------------------------------------

// RefreshRates 本地账本 -> redis 共享缓存 -> 远端。force 跳过两级缓存。
func (r *Refresher) RefreshRates(ctx context.Context, dr domain.DateRange, force bool) error {
	if !dr.Valid() {
		return fmt.Errorf("%w: date range %d", domain.ErrInvalidArgument, dr)
	}
	scope := cache.DateRangeScope(dr)
	if !force && !r.eng.Snapshot().RatesCache().IsStale(scope, r.config().RatesTTL, r.now()) {
		metrics.RefreshOutcomes.WithLabelValues("rates", "fresh").Inc()
		return nil
	}
	ch := r.sf.DoChan("rates:"+strconv.Itoa(int(dr))+":"+strconv.FormatBool(force), func() (any, error) {
		return nil, r.refreshRates(context.WithoutCancel(ctx), dr, force)
	})
	select {
	case res := <-ch:
		if res.Shared {
			metrics.RefreshOutcomes.WithLabelValues("rates", "coalesced").Inc()
		}
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Refresher) refreshRates(ctx context.Context, dr domain.DateRange, force bool) error {
	cfg := r.config()
	startedAt := r.now()

	var (
		res domain.RatesResult
		hit bool
		err error
	)
	if r.store != nil && !force {
		if res, hit, err = r.store.Get(ctx, dr); err != nil {
			logger.Warn(ctx, "shared rates cache read failed", zap.Int("date_range", int(dr)), zap.Error(err))
		}
	}
	if !hit {
		if res, err = r.src.FetchRates(ctx, dr); err != nil {
			metrics.RefreshOutcomes.WithLabelValues("rates", "failed").Inc()
			logger.Warn(ctx, "rates fetch failed", zap.Int("date_range", int(dr)), zap.Error(err))
			return err
		}
		if r.store != nil {
			if err := r.store.Set(ctx, dr, res, cfg.RatesTTL); err != nil {
				logger.Warn(ctx, "shared rates cache write failed", zap.Int("date_range", int(dr)), zap.Error(err))
			}
		}
	}

	applied, err := engine.Exec[bool](ctx, r.eng, engine.SetRates{DateRange: dr, Result: res, StartedAt: startedAt})
	if err != nil {
		return err
	}
	if !applied {
		metrics.RefreshOutcomes.WithLabelValues("rates", "stale").Inc()
		metrics.CacheStaleRejected.WithLabelValues("rates").Inc()
		return nil
	}
	metrics.RefreshOutcomes.WithLabelValues("rates", "ok").Inc()
	return nil
}

// Start 后台按 Interval 刷新默认日期范围的汇率和全部余额
func (r *Refresher) Start(ctx context.Context) {
	interval := r.config().Interval
	if interval <= 0 {
		return
	}
	safe.GoCtx(ctx, func(ctx context.Context) {
		tk := time.NewTicker(interval)
		defer tk.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tk.C:
				if err := r.RefreshRates(ctx, domain.DefaultDateRange, false); err != nil {
					logger.Debug(ctx, "periodic rates refresh", zap.Error(err))
				}
				if err := r.RefreshAll(ctx, false); err != nil {
					logger.Debug(ctx, "periodic balance refresh", zap.Error(err))
				}
			}
		}
	})
}
