// Package cache 记录各个缓存范围的新鲜度，本身从不发起拉取。
package cache

import (
	"strconv"
	"time"

	"github.com/segmentio/encoding/json"
	"gopherwallet.com/internal/wallet/domain"
)

// Scope 钱包 id、key id、"all" 或日期范围
type Scope string

const ScopeAll Scope = "all"

func WalletScope(walletID string) Scope        { return Scope(walletID) }
func KeyScope(keyID string) Scope              { return Scope(keyID) }
func DateRangeScope(dr domain.DateRange) Scope { return Scope(strconv.Itoa(int(dr))) }

// Stamp 单调推进：FetchStartedAt 是写入这一条的那次拉取的开始时间
type Stamp struct {
	FetchStartedAt int64 `json:"fetchStartedAt"` // unix ms
	RefreshedAt    int64 `json:"refreshedAt"`    // unix ms
}

// Ledger scope -> Stamp。只在状态引擎的单写协程里修改，读走 Clone 出来的快照。
type Ledger struct {
	stamps map[Scope]Stamp
}

func NewLedger() *Ledger { return &Ledger{stamps: make(map[Scope]Stamp)} }

func (l *Ledger) Get(s Scope) (Stamp, bool) {
	st, ok := l.stamps[s]
	return st, ok
}

// IsStale now - refreshedAt > ttl，没有记录算过期
func (l *Ledger) IsStale(s Scope, ttl time.Duration, now time.Time) bool {
	st, ok := l.stamps[s]
	if !ok {
		return true
	}
	return now.UnixMilli()-st.RefreshedAt > ttl.Milliseconds()
}

// CanAdvance 开始时间早于当前记录的拉取不允许写
func (l *Ledger) CanAdvance(s Scope, startedAt time.Time) bool {
	st, ok := l.stamps[s]
	return !ok || startedAt.UnixMilli() >= st.FetchStartedAt
}

// Advance 检查并写入；被拒绝返回 false，refreshedAt 永远不回退
func (l *Ledger) Advance(s Scope, startedAt, refreshedAt time.Time) bool {
	if !l.CanAdvance(s, startedAt) {
		return false
	}
	next := Stamp{FetchStartedAt: startedAt.UnixMilli(), RefreshedAt: refreshedAt.UnixMilli()}
	if cur, ok := l.stamps[s]; ok && cur.RefreshedAt > next.RefreshedAt {
		next.RefreshedAt = cur.RefreshedAt
	}
	l.stamps[s] = next
	return true
}

func (l *Ledger) Delete(scopes ...Scope) {
	for _, s := range scopes {
		delete(l.stamps, s)
	}
}

func (l *Ledger) Len() int { return len(l.stamps) }

func (l *Ledger) Clone() *Ledger {
	m := make(map[Scope]Stamp, len(l.stamps))
	for k, v := range l.stamps {
		m[k] = v
	}
	return &Ledger{stamps: m}
}

func (l *Ledger) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.stamps)
}

func (l *Ledger) UnmarshalJSON(b []byte) error {
	m := map[Scope]Stamp{}
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	l.stamps = m
	return nil
}
