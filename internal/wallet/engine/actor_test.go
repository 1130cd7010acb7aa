package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopherwallet.com/internal/wallet/domain"
	"gopherwallet.com/internal/wallet/state"
)

var fixed = time.UnixMilli(1_700_000_000_000)

func startEngine(t *testing.T, cfg Config) (*Engine, context.CancelFunc) {
	t.Helper()
	e := New(state.New(fixed), cfg, WithClock(func() time.Time { return fixed }))
	ctx, cancel := context.WithCancel(context.Background())
	go e.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-e.Done()
	})
	return e, cancel
}

func key(id string) domain.Key {
	return domain.Key{ID: id, Properties: domain.KeyProperties{FingerPrint: id}}
}

func TestEngine_CreateAndSnapshot(t *testing.T) {
	e, _ := startEngine(t, Config{})
	ctx := context.Background()

	k, err := Exec[domain.Key](ctx, e, CreateKey{Key: key("k1"), Wallets: []domain.Wallet{
		{ID: "w1", CurrencyAbbreviation: "btc", ReceiveAddress: "bc1q"},
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{"w1"}, k.Wallets)

	snap := e.Snapshot()
	_, ok := snap.Key("k1")
	assert.True(t, ok)
	assert.Equal(t, uint64(1), e.Mutations())

	select {
	case <-e.Notify():
	case <-time.After(time.Second):
		t.Fatal("no notify after mutation")
	}

	// 旧快照不受后续变更影响
	_, err = e.Do(ctx, RenameWallet{KeyID: "k1", WalletID: "w1", Name: "Cold"})
	require.NoError(t, err)
	w, _ := snap.Wallet("k1", "w1")
	assert.NotEqual(t, "Cold", w.WalletName)
	w, _ = e.Snapshot().Wallet("k1", "w1")
	assert.Equal(t, "Cold", w.WalletName)
}

func TestEngine_Validate(t *testing.T) {
	e, _ := startEngine(t, Config{})
	ctx := context.Background()

	tests := []struct {
		name string
		cmd  Command
	}{
		{"缺少key", CreateKey{}},
		{"代币没有关联钱包", AddWallet{KeyID: "k", Wallet: domain.Wallet{ID: "t", CurrencyAbbreviation: "usdc", IsToken: true}}},
		{"非法日期范围", SetRates{DateRange: 3, StartedAt: fixed}},
		{"没有开始时间", UpdateStatus{KeyID: "k", WalletID: "w"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Do(ctx, tt.cmd)
			assert.ErrorIs(t, err, ErrBadCommand)
		})
	}

	_, err := e.Do(ctx, SetFeeLevel{Currency: "btc", Level: "turbo"})
	var ife *domain.InvalidFeeLevelError
	assert.ErrorAs(t, err, &ife)
	assert.Equal(t, uint64(0), e.Mutations())
}

func TestEngine_DomainErrorLeavesState(t *testing.T) {
	e, _ := startEngine(t, Config{})
	ctx := context.Background()
	_, err := e.Do(ctx, CreateKey{Key: key("k1")})
	require.NoError(t, err)

	_, err = e.Do(ctx, CreateKey{Key: key("k1")})
	var dup *domain.DuplicateKeyError
	assert.ErrorAs(t, err, &dup)
	assert.Equal(t, uint64(1), e.Mutations())
}

// 并发写入被串行化，不会丢更新
func TestEngine_SerializesConcurrentCallers(t *testing.T) {
	e, _ := startEngine(t, Config{MailboxSize: 16, BatchMax: 4})
	ctx := context.Background()
	_, err := e.Do(ctx, CreateKey{Key: key("k1")})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.Do(ctx, AddWallet{KeyID: "k1", Wallet: domain.Wallet{
				ID: fmt.Sprintf("w%d", i), CurrencyAbbreviation: "btc", ReceiveAddress: fmt.Sprintf("bc1q%d", i%10),
			}})
			_ = err
		}(i)
	}
	wg.Wait()

	// 地址只有 10 种，去重后最多 10 个钱包
	assert.Len(t, e.Snapshot().Wallets("k1"), 10)
}

func TestEngine_TryDoBusy(t *testing.T) {
	// 不启动 Run，邮箱塞满后拒绝
	e := New(state.New(fixed), Config{MailboxSize: 2, BatchMax: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var busy bool
	for i := 0; i < 5; i++ {
		_, err := e.TryDo(ctx, AcceptTerms{})
		if err == ErrEngineBusy {
			busy = true
			break
		}
	}
	assert.True(t, busy)
	assert.GreaterOrEqual(t, e.MailboxFull(), uint64(1))
}

func TestEngine_Stopped(t *testing.T) {
	e := New(state.New(fixed), Config{})
	ctx, cancel := context.WithCancel(context.Background())
	go e.Run(ctx)
	cancel()
	<-e.Done()

	_, err := e.Do(context.Background(), AcceptTerms{})
	assert.ErrorIs(t, err, ErrEngineStopped)
}

func TestEngine_UpdateStatusStale(t *testing.T) {
	e, _ := startEngine(t, Config{})
	ctx := context.Background()
	_, err := e.Do(ctx, CreateKey{Key: key("k1"), Wallets: []domain.Wallet{{ID: "w1", CurrencyAbbreviation: "btc"}}})
	require.NoError(t, err)

	t1 := fixed.Add(time.Second)
	applied, err := Exec[bool](ctx, e, UpdateStatus{KeyID: "k1", WalletID: "w1", StartedAt: t1, Status: domain.Status{Balance: domain.Balance{Sat: 5}}})
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = Exec[bool](ctx, e, UpdateStatus{KeyID: "k1", WalletID: "w1", StartedAt: fixed, Status: domain.Status{Balance: domain.Balance{Sat: 1}}})
	require.NoError(t, err)
	assert.False(t, applied)
	w, _ := e.Snapshot().Wallet("k1", "w1")
	assert.Equal(t, int64(5), w.Balance.Sat)
}
