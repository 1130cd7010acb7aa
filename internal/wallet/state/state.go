// Package state 是钱包数据模型：Key / Wallet 的规范化存储和所有变更操作。
//
// State 不是并发安全的，只允许状态引擎的单写协程调用变更方法。
// 实体按写时复制更新：变更永远替换 map 里的指针，不修改旧对象，
// 所以 Clone 出来的快照可以和写协程共享实体。
package state

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"gopherwallet.com/internal/wallet/cache"
	"gopherwallet.com/internal/wallet/domain"
	"gopherwallet.com/internal/wallet/fee"
)

type Preferences struct {
	UseUnconfirmedFunds bool `json:"useUnconfirmedFunds"`
	CustomizeNonce      bool `json:"customizeNonce"`
	EnableReplaceByFee  bool `json:"enableReplaceByFee"`
}

type State struct {
	createdOn int64
	keyOrder  []string
	keys      map[string]*domain.Key
	wallets   map[string]*domain.Wallet // arena，key 是 keyID/walletID

	rates            domain.Rates
	lastDayRates     domain.Rates
	ratesByDateRange map[domain.DateRange]domain.Rates
	priceHistory     []domain.PriceHistory

	tokenOptions                map[string]domain.Token
	tokenOptionsByAddress       map[string]domain.Token
	customTokenOptions          map[string]domain.Token
	customTokenOptionsByAddress map[string]domain.Token

	termsAccepted bool
	portfolio     domain.PortfolioBalance
	balanceCache  *cache.Ledger
	ratesCache    *cache.Ledger
	fees          *fee.Levels
	prefs         Preferences
}

func New(now time.Time) *State {
	s := &State{
		createdOn:                   now.UnixMilli(),
		keys:                        make(map[string]*domain.Key),
		wallets:                     make(map[string]*domain.Wallet),
		rates:                       domain.Rates{},
		lastDayRates:                domain.Rates{},
		ratesByDateRange:            make(map[domain.DateRange]domain.Rates, 3),
		tokenOptions:                map[string]domain.Token{},
		tokenOptionsByAddress:       map[string]domain.Token{},
		customTokenOptions:          map[string]domain.Token{},
		customTokenOptionsByAddress: map[string]domain.Token{},
		balanceCache:                cache.NewLedger(),
		ratesCache:                  cache.NewLedger(),
		fees:                        fee.NewLevels(),
	}
	for _, dr := range domain.DateRanges() {
		s.ratesByDateRange[dr] = domain.Rates{}
	}
	return s
}

// Clone 浅拷贝容器，实体共享（写时复制保证它们不会被原地修改）
func (s *State) Clone() *State {
	c := *s
	c.keyOrder = append([]string(nil), s.keyOrder...)
	c.keys = make(map[string]*domain.Key, len(s.keys))
	for k, v := range s.keys {
		c.keys[k] = v
	}
	c.wallets = make(map[string]*domain.Wallet, len(s.wallets))
	for k, v := range s.wallets {
		c.wallets[k] = v
	}
	c.ratesByDateRange = make(map[domain.DateRange]domain.Rates, len(s.ratesByDateRange))
	for k, v := range s.ratesByDateRange {
		c.ratesByDateRange[k] = v
	}
	c.balanceCache = s.balanceCache.Clone()
	c.ratesCache = s.ratesCache.Clone()
	c.fees = s.fees.Clone()
	return &c
}

// txn 在副本上执行，全部成功才提交，失败时原状态不变
func (s *State) txn(fn func(tx *State) error) error {
	tx := s.Clone()
	if err := fn(tx); err != nil {
		return err
	}
	*s = *tx
	return nil
}

func ref(keyID, walletID string) string { return keyID + "/" + walletID }

// ---------------------------------------------------------
// 只读
// ---------------------------------------------------------

func (s *State) CreatedOn() int64 { return s.createdOn }

func (s *State) Key(id string) (domain.Key, bool) {
	k, ok := s.keys[id]
	if !ok {
		return domain.Key{}, false
	}
	return cloneKey(k), true
}

// Keys 按创建顺序
func (s *State) Keys() []domain.Key {
	out := make([]domain.Key, 0, len(s.keyOrder))
	for _, id := range s.keyOrder {
		if k, ok := s.keys[id]; ok {
			out = append(out, cloneKey(k))
		}
	}
	return out
}

func (s *State) Wallet(keyID, walletID string) (domain.Wallet, bool) {
	w, ok := s.wallets[ref(keyID, walletID)]
	if !ok {
		return domain.Wallet{}, false
	}
	return w.Clone(), true
}

// Wallets 按 key 里记录的顺序
func (s *State) Wallets(keyID string) []domain.Wallet {
	k, ok := s.keys[keyID]
	if !ok {
		return nil
	}
	out := make([]domain.Wallet, 0, len(k.Wallets))
	for _, id := range k.Wallets {
		if w, ok := s.wallets[ref(keyID, id)]; ok {
			out = append(out, w.Clone())
		}
	}
	return out
}

func (s *State) Portfolio() domain.PortfolioBalance       { return s.portfolio }
func (s *State) BalanceCache() *cache.Ledger              { return s.balanceCache }
func (s *State) RatesCache() *cache.Ledger                { return s.ratesCache }
func (s *State) FeeLevel(currency string) domain.FeeLevel { return s.fees.Get(currency) }
func (s *State) FeeLevels() *fee.Levels                   { return s.fees.Clone() }
func (s *State) Rates() domain.Rates                      { return s.rates }
func (s *State) LastDayRates() domain.Rates               { return s.lastDayRates }
func (s *State) PriceHistory() []domain.PriceHistory      { return s.priceHistory }
func (s *State) TermsAccepted() bool                      { return s.termsAccepted }
func (s *State) Preferences() Preferences                 { return s.prefs }

func (s *State) RatesByDateRange(dr domain.DateRange) domain.Rates {
	return s.ratesByDateRange[dr]
}

func (s *State) TokenOptions() map[string]domain.Token { return s.tokenOptions }

// TokenByAddress 先查平台目录再查自定义目录
func (s *State) TokenByAddress(addr string) (domain.Token, bool) {
	if t, ok := s.tokenOptionsByAddress[addr]; ok {
		return t, true
	}
	t, ok := s.customTokenOptionsByAddress[addr]
	return t, ok
}

func (s *State) CustomTokenOptionsByAddress() map[string]domain.Token {
	return s.customTokenOptionsByAddress
}

func cloneKey(k *domain.Key) domain.Key {
	c := *k
	c.Wallets = append([]string(nil), k.Wallets...)
	c.Properties = k.Properties.Clone()
	return c
}

// ---------------------------------------------------------
// 内部写入：永远替换指针
// ---------------------------------------------------------

func (s *State) putKey(k domain.Key) {
	if _, ok := s.keys[k.ID]; !ok {
		s.keyOrder = append(append([]string(nil), s.keyOrder...), k.ID)
	}
	s.keys[k.ID] = &k
}

func (s *State) putWallet(w domain.Wallet) {
	s.wallets[ref(w.KeyID, w.ID)] = &w
}

func (s *State) mustKey(id string) (*domain.Key, error) {
	k, ok := s.keys[id]
	if !ok {
		return nil, domain.ErrKeyNotFound
	}
	return k, nil
}

func (s *State) mustWallet(keyID, walletID string) (*domain.Wallet, error) {
	if _, ok := s.keys[keyID]; !ok {
		return nil, domain.ErrKeyNotFound
	}
	w, ok := s.wallets[ref(keyID, walletID)]
	if !ok {
		return nil, domain.ErrWalletNotFound
	}
	return w, nil
}

// updateWallet 复制、修改、替换
func (s *State) updateWallet(keyID, walletID string, fn func(w *domain.Wallet)) error {
	old, err := s.mustWallet(keyID, walletID)
	if err != nil {
		return err
	}
	w := old.Clone()
	fn(&w)
	s.putWallet(w)
	return nil
}

func (s *State) updateKey(keyID string, fn func(k *domain.Key)) error {
	old, err := s.mustKey(keyID)
	if err != nil {
		return err
	}
	k := cloneKey(old)
	fn(&k)
	s.putKey(k)
	return nil
}

// recomputePortfolio current = Σ totalBalance，lastDay = Σ totalBalanceLastDay
func (s *State) recomputePortfolio() {
	current, lastDay := decimal.Zero, decimal.Zero
	for _, k := range s.keys {
		current = current.Add(k.TotalBalance)
		lastDay = lastDay.Add(k.TotalBalanceLastDay)
	}
	s.portfolio = domain.PortfolioBalance{
		Current:  current,
		LastDay:  lastDay,
		Previous: s.portfolio.Current,
	}
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
