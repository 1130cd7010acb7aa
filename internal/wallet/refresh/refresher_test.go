package refresh

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopherwallet.com/internal/wallet/cache"
	"gopherwallet.com/internal/wallet/domain"
	"gopherwallet.com/internal/wallet/engine"
	"gopherwallet.com/internal/wallet/state"
)

type clock struct{ ms atomic.Int64 }

func newClock() *clock {
	c := &clock{}
	c.ms.Store(1_700_000_000_000)
	return c
}

func (c *clock) Now() time.Time          { return time.UnixMilli(c.ms.Load()) }
func (c *clock) Advance(d time.Duration) { c.ms.Add(d.Milliseconds()) }

type fakeSource struct {
	mu         sync.Mutex
	status     map[string]domain.Status
	statusErr  map[string]error
	rates      domain.RatesResult
	ratesErr   error
	gate       chan struct{} // 非 nil 时 GetStatus 阻塞到关闭
	statusHits atomic.Int32
	ratesHits  atomic.Int32
}

func (f *fakeSource) GetStatus(_ context.Context, w domain.Wallet) (domain.Status, error) {
	f.statusHits.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.statusErr[w.ID]; err != nil {
		return domain.Status{}, err
	}
	return f.status[w.ID], nil
}

func (f *fakeSource) FetchRates(context.Context, domain.DateRange) (domain.RatesResult, error) {
	f.ratesHits.Add(1)
	return f.rates, f.ratesErr
}

func (f *fakeSource) failWallet(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusErr[id] = err
}

func rates(btc, eth string) domain.Rates {
	return domain.Rates{
		"btc": {{Code: "USD", Rate: decimal.RequireFromString(btc)}},
		"eth": {{Code: "USD", Rate: decimal.RequireFromString(eth)}},
	}
}

func setup(t *testing.T, src *fakeSource, opts ...Option) (*Refresher, *engine.Engine, *clock) {
	t.Helper()
	clk := newClock()
	e := engine.New(state.New(clk.Now()), engine.Config{}, engine.WithClock(clk.Now))
	ctx, cancel := context.WithCancel(context.Background())
	go e.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-e.Done()
	})
	_, err := e.Do(context.Background(), engine.CreateKey{
		Key: domain.Key{ID: "k1", Properties: domain.KeyProperties{FingerPrint: "k1"}},
		Wallets: []domain.Wallet{
			{ID: "btc", CurrencyAbbreviation: "btc", ReceiveAddress: "bc1q", Decimals: 8},
			{ID: "eth", CurrencyAbbreviation: "eth", ReceiveAddress: "0x1", Decimals: 18},
		},
	})
	require.NoError(t, err)
	if src.status == nil {
		src.status = map[string]domain.Status{}
	}
	if src.statusErr == nil {
		src.statusErr = map[string]error{}
	}
	r := New(e, src, Config{BalanceTTL: time.Minute, RatesTTL: time.Minute}, append(opts, WithClock(clk.Now))...)
	return r, e, clk
}

func TestRefreshWallet(t *testing.T) {
	src := &fakeSource{
		status: map[string]domain.Status{
			"btc": {Balance: domain.Balance{Sat: 150_000_000}, PendingTxs: []domain.PendingTx{{TxID: "p1"}}},
		},
		rates: domain.RatesResult{Rates: rates("65000", "3000"), LastDayRates: rates("60000", "2900")},
	}
	r, _, clk := setup(t, src)
	ctx := context.Background()
	require.NoError(t, r.RefreshRates(ctx, domain.DateRangeDay, false))

	w, err := r.RefreshWallet(ctx, "k1", "btc", false)
	require.NoError(t, err)
	assert.Equal(t, int64(150_000_000), w.Balance.Sat)
	assert.Equal(t, "97500", w.Balance.Fiat.String())
	assert.Equal(t, "90000", w.Balance.FiatLastDay.String())
	assert.Len(t, w.PendingTxs, 1)
	assert.False(t, w.IsRefreshing)
	assert.Equal(t, int32(1), src.statusHits.Load())

	// TTL 内不再拉
	_, err = r.RefreshWallet(ctx, "k1", "btc", false)
	require.NoError(t, err)
	assert.Equal(t, int32(1), src.statusHits.Load())

	_, err = r.RefreshWallet(ctx, "k1", "btc", true)
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.statusHits.Load())

	clk.Advance(2 * time.Minute)
	_, err = r.RefreshWallet(ctx, "k1", "btc", false)
	require.NoError(t, err)
	assert.Equal(t, int32(3), src.statusHits.Load())

	_, err = r.RefreshWallet(ctx, "k1", "nope", false)
	assert.ErrorIs(t, err, domain.ErrWalletNotFound)
}

func TestRefreshWallet_FailureKeepsBalance(t *testing.T) {
	src := &fakeSource{status: map[string]domain.Status{
		"btc": {Balance: domain.Balance{Sat: 1000}, PendingTxs: []domain.PendingTx{{TxID: "p1"}}},
	}}
	r, e, _ := setup(t, src)
	ctx := context.Background()

	_, err := r.RefreshWallet(ctx, "k1", "btc", true)
	require.NoError(t, err)

	src.failWallet("btc", &domain.NetworkOrServerError{Op: "get_status", StatusCode: 502, Err: errors.New("bad gateway")})
	_, err = r.RefreshWallet(ctx, "k1", "btc", true)
	var ne *domain.NetworkOrServerError
	require.ErrorAs(t, err, &ne)

	w, _ := e.Snapshot().Wallet("k1", "btc")
	assert.Equal(t, int64(1000), w.Balance.Sat, "失败不能覆盖上次余额")
	assert.Equal(t, "p1", w.PendingTxs[0].TxID)
	assert.False(t, w.IsRefreshing)
}

func TestRefreshWallet_Coalesced(t *testing.T) {
	src := &fakeSource{
		gate:   make(chan struct{}),
		status: map[string]domain.Status{"btc": {Balance: domain.Balance{Sat: 42}}},
	}
	r, _, _ := setup(t, src)

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.RefreshWallet(context.Background(), "k1", "btc", true)
			errs <- err
		}()
	}
	require.Eventually(t, func() bool { return src.statusHits.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(src.gate)
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), src.statusHits.Load(), "同一个钱包并发刷新只拉一次")
}

func TestRefreshWallet_CallerCancelStillApplies(t *testing.T) {
	src := &fakeSource{
		gate:   make(chan struct{}),
		status: map[string]domain.Status{"btc": {Balance: domain.Balance{Sat: 7}}},
	}
	r, e, _ := setup(t, src)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := r.RefreshWallet(ctx, "k1", "btc", true)
		done <- err
	}()
	require.Eventually(t, func() bool { return src.statusHits.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(src.gate)
	require.Eventually(t, func() bool {
		w, _ := e.Snapshot().Wallet("k1", "btc")
		return w.Balance.Sat == 7 && !w.IsRefreshing
	}, time.Second, 5*time.Millisecond)
}

func TestRefreshKey(t *testing.T) {
	tests := []struct {
		name      string
		failETH   bool
		wantErr   bool
		total     string
		scopeMove bool
	}{
		{name: "全部成功", total: "9500", scopeMove: true},
		{name: "部分失败", failETH: true, wantErr: true, total: "6500"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{
				status: map[string]domain.Status{
					"btc": {Balance: domain.Balance{Sat: 10_000_000}},                // 0.1 btc
					"eth": {Balance: domain.Balance{Sat: 1_000_000_000_000_000_000}}, // 1 eth
				},
				rates: domain.RatesResult{Rates: rates("65000", "3000"), LastDayRates: rates("60000", "2900")},
			}
			r, e, _ := setup(t, src)
			ctx := context.Background()
			require.NoError(t, r.RefreshRates(ctx, domain.DateRangeDay, false))
			if tt.failETH {
				src.failWallet("eth", &domain.NetworkOrServerError{Op: "get_status", Err: errors.New("timeout")})
			}

			k, err := r.RefreshKey(ctx, "k1", false)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.total, k.TotalBalance.String())
			assert.Equal(t, tt.total, e.Snapshot().Portfolio().Current.String())

			_, ok := e.Snapshot().BalanceCache().Get(cache.KeyScope("k1"))
			assert.Equal(t, tt.scopeMove, ok)
		})
	}
}

func TestRefreshAll(t *testing.T) {
	src := &fakeSource{status: map[string]domain.Status{"btc": {Balance: domain.Balance{Sat: 1}}, "eth": {}}}
	r, e, _ := setup(t, src)
	ctx := context.Background()

	require.NoError(t, r.RefreshAll(ctx, false))
	_, ok := e.Snapshot().BalanceCache().Get(cache.ScopeAll)
	assert.True(t, ok)
	hits := src.statusHits.Load()

	require.NoError(t, r.RefreshAll(ctx, false))
	assert.Equal(t, hits, src.statusHits.Load(), "all 没过期不再拉")

	src.failWallet("eth", errors.New("boom"))
	assert.Error(t, r.RefreshAll(ctx, true))
}

func TestRefreshRates_SharedCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	store := cache.NewRedisRateStore(rdb, "test")
	ctx := context.Background()

	src1 := &fakeSource{rates: domain.RatesResult{Rates: rates("65000", "3000")}}
	r1, e1, _ := setup(t, src1, WithRateStore(store))
	require.NoError(t, r1.RefreshRates(ctx, domain.DateRangeWeek, false))
	assert.Equal(t, int32(1), src1.ratesHits.Load())
	rate, ok := e1.Snapshot().Rates().Lookup("btc", "usd")
	require.True(t, ok)
	assert.Equal(t, "65000", rate.String())

	// 另一个实例命中共享缓存
	src2 := &fakeSource{rates: domain.RatesResult{Rates: rates("1", "1")}}
	r2, e2, _ := setup(t, src2, WithRateStore(store))
	require.NoError(t, r2.RefreshRates(ctx, domain.DateRangeWeek, false))
	assert.Equal(t, int32(0), src2.ratesHits.Load())
	rate, _ = e2.Snapshot().Rates().Lookup("btc", "usd")
	assert.Equal(t, "65000", rate.String())

	// 强制刷新绕过两级缓存
	require.NoError(t, r2.RefreshRates(ctx, domain.DateRangeWeek, true))
	assert.Equal(t, int32(1), src2.ratesHits.Load())
	rate, _ = e2.Snapshot().Rates().Lookup("btc", "usd")
	assert.Equal(t, "1", rate.String())

	assert.ErrorIs(t, r2.RefreshRates(ctx, domain.DateRange(3), false), domain.ErrInvalidArgument)
}

func TestRefreshRates_FailureLeavesCache(t *testing.T) {
	src := &fakeSource{ratesErr: &domain.NetworkOrServerError{Op: "fetch_rates", StatusCode: 503, Err: errors.New("down")}}
	r, e, _ := setup(t, src)
	err := r.RefreshRates(context.Background(), domain.DateRangeDay, false)
	require.Error(t, err)
	_, ok := e.Snapshot().RatesCache().Get(cache.DateRangeScope(domain.DateRangeDay))
	assert.False(t, ok)
}
