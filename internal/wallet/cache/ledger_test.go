package cache

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopherwallet.com/internal/wallet/domain"
)

func ms(v int64) time.Time { return time.UnixMilli(v) }

func TestLedger_IsStale(t *testing.T) {
	l := NewLedger()
	now := ms(100_000)
	assert.True(t, l.IsStale(WalletScope("w1"), time.Minute, now), "没有记录算过期")

	require.True(t, l.Advance(WalletScope("w1"), ms(90_000), ms(95_000)))
	assert.False(t, l.IsStale(WalletScope("w1"), time.Minute, now))
	assert.True(t, l.IsStale(WalletScope("w1"), time.Minute, ms(95_000+60_001)))
	assert.True(t, l.IsStale(KeyScope("k1"), time.Minute, now))
}

// T0 开始的慢请求在 T1 开始的请求写完之后才返回，不能覆盖
func TestLedger_OutOfOrderCompletion(t *testing.T) {
	l := NewLedger()
	s := WalletScope("w1")
	t0, t1, t2 := ms(1_000), ms(2_000), ms(3_000)
	require.True(t, l.Advance(s, t0, t0))

	// T1 开始，T1+100 完成
	require.True(t, l.Advance(s, t1, ms(2_100)))
	// T0 开始，T2 完成
	assert.False(t, l.Advance(s, t0, t2))

	st, _ := l.Get(s)
	assert.Equal(t, int64(2_000), st.FetchStartedAt)
	assert.Equal(t, int64(2_100), st.RefreshedAt)
	assert.False(t, l.CanAdvance(s, t0))
	assert.True(t, l.CanAdvance(s, t1), "同一个开始时间允许重复写")
}

func TestLedger_RefreshedAtNeverRegresses(t *testing.T) {
	l := NewLedger()
	s := DateRangeScope(domain.DateRangeWeek)
	assert.Equal(t, Scope("7"), s)
	require.True(t, l.Advance(s, ms(10), ms(500)))
	// 开始更晚但完成时间更早（时钟抖动）
	require.True(t, l.Advance(s, ms(20), ms(300)))
	st, _ := l.Get(s)
	assert.Equal(t, int64(20), st.FetchStartedAt)
	assert.Equal(t, int64(500), st.RefreshedAt)
}

func TestLedger_CloneAndJSON(t *testing.T) {
	l := NewLedger()
	l.Advance(ScopeAll, ms(1), ms(2))
	c := l.Clone()
	c.Advance(WalletScope("w"), ms(3), ms(4))
	assert.Equal(t, 1, l.Len())
	assert.Equal(t, 2, c.Len())

	b, err := json.Marshal(c)
	require.NoError(t, err)
	var back Ledger
	require.NoError(t, json.Unmarshal(b, &back))
	st, ok := back.Get(WalletScope("w"))
	require.True(t, ok)
	assert.Equal(t, Stamp{FetchStartedAt: 3, RefreshedAt: 4}, st)

	c.Delete(WalletScope("w"))
	_, ok = c.Get(WalletScope("w"))
	assert.False(t, ok)
}

// 任意顺序的完成序列，记录的开始时间和刷新时间都单调不减
func TestLedger_MonotonicProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)
	properties.Property("stamp never regresses", prop.ForAll(
		func(starts []int64, lags []int64) bool {
			l := NewLedger()
			s := WalletScope("w")
			var lastStart, lastRefreshed int64
			for i, st := range starts {
				lag := int64(0)
				if i < len(lags) {
					lag = lags[i]
				}
				l.Advance(s, ms(st), ms(st+lag))
				cur, ok := l.Get(s)
				if !ok {
					continue
				}
				if cur.FetchStartedAt < lastStart || cur.RefreshedAt < lastRefreshed {
					return false
				}
				lastStart, lastRefreshed = cur.FetchStartedAt, cur.RefreshedAt
			}
			return true
		},
		gen.SliceOf(gen.Int64Range(0, 1_000_000)),
		gen.SliceOf(gen.Int64Range(0, 10_000)),
	))
	properties.TestingRun(t)
}
