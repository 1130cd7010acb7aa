package state

import (
	"time"

	"gopherwallet.com/internal/wallet/cache"
	"gopherwallet.com/internal/wallet/domain"
	"gopherwallet.com/internal/wallet/fee"
)

// Document WALLET 切片的序列化形态。
// isRefreshing 这类运行期字段在 Wallet 上是 json:"-"，这里天然不会出现。
type Document struct {
	CreatedOn                   int64                             `json:"createdOn"`
	KeyOrder                    []string                          `json:"keyOrder"`
	Keys                        map[string]domain.Key             `json:"keys"`
	Wallets                     map[string]domain.Wallet          `json:"wallets"`
	Rates                       domain.Rates                      `json:"rates"`
	LastDayRates                domain.Rates                      `json:"lastDayRates"`
	RatesByDateRange            map[domain.DateRange]domain.Rates `json:"ratesByDateRange"`
	PriceHistory                []domain.PriceHistory             `json:"priceHistory,omitempty"`
	TokenOptions                map[string]domain.Token           `json:"tokenOptions,omitempty"`
	TokenOptionsByAddress       map[string]domain.Token           `json:"tokenOptionsByAddress,omitempty"`
	CustomTokenOptions          map[string]domain.Token           `json:"customTokenOptions"`
	CustomTokenOptionsByAddress map[string]domain.Token           `json:"customTokenOptionsByAddress"`
	WalletTermsAccepted         bool                              `json:"walletTermsAccepted"`
	PortfolioBalance            domain.PortfolioBalance           `json:"portfolioBalance"`
	BalanceCacheKey             *cache.Ledger                     `json:"balanceCacheKey"`
	RatesCacheKey               *cache.Ledger                     `json:"ratesCacheKey"`
	FeeLevel                    *fee.Levels                       `json:"feeLevel"`
	UseUnconfirmedFunds         bool                              `json:"useUnconfirmedFunds"`
	CustomizeNonce              bool                              `json:"customizeNonce"`
	EnableReplaceByFee          bool                              `json:"enableReplaceByFee"`
}

func (s *State) Document() Document {
	d := Document{
		CreatedOn:                   s.createdOn,
		KeyOrder:                    append([]string(nil), s.keyOrder...),
		Keys:                        make(map[string]domain.Key, len(s.keys)),
		Wallets:                     make(map[string]domain.Wallet, len(s.wallets)),
		Rates:                       s.rates,
		LastDayRates:                s.lastDayRates,
		RatesByDateRange:            s.ratesByDateRange,
		PriceHistory:                s.priceHistory,
		TokenOptions:                s.tokenOptions,
		TokenOptionsByAddress:       s.tokenOptionsByAddress,
		CustomTokenOptions:          s.customTokenOptions,
		CustomTokenOptionsByAddress: s.customTokenOptionsByAddress,
		WalletTermsAccepted:         s.termsAccepted,
		PortfolioBalance:            s.portfolio,
		BalanceCacheKey:             s.balanceCache.Clone(),
		RatesCacheKey:               s.ratesCache.Clone(),
		FeeLevel:                    s.fees.Clone(),
		UseUnconfirmedFunds:         s.prefs.UseUnconfirmedFunds,
		CustomizeNonce:              s.prefs.CustomizeNonce,
		EnableReplaceByFee:          s.prefs.EnableReplaceByFee,
	}
	for id, k := range s.keys {
		d.Keys[id] = cloneKey(k)
	}
	for r, w := range s.wallets {
		d.Wallets[r] = w.Clone()
	}
	return d
}

// FromDocument 重建状态。
// 悬空引用（key 里记录了但找不到的钱包、找不到基础链钱包的代币）直接丢掉，不凭空造数据。
func FromDocument(d Document) *State {
	s := New(time.UnixMilli(d.CreatedOn))

	order := d.KeyOrder
	if len(order) == 0 {
		order = sortedKeys(d.Keys)
	}
	seen := make(map[string]bool, len(order))
	for _, id := range order {
		k, ok := d.Keys[id]
		if !ok || seen[id] || k.ID != id {
			continue
		}
		seen[id] = true
		kept := make([]string, 0, len(k.Wallets))
		for _, wid := range k.Wallets {
			w, ok := d.Wallets[ref(id, wid)]
			if !ok || w.ID != wid {
				continue
			}
			w = w.Clone()
			w.KeyID = id
			w.IsRefreshing, w.RefreshStartedAt = false, 0
			s.putWallet(w)
			kept = append(kept, wid)
		}
		k = cloneKey(&k)
		k.Wallets = kept
		s.putKey(k)
	}
	s.pruneTokens()

	if d.Rates != nil {
		s.rates = d.Rates
	}
	if d.LastDayRates != nil {
		s.lastDayRates = d.LastDayRates
	}
	for dr, r := range d.RatesByDateRange {
		if dr.Valid() {
			s.ratesByDateRange[dr] = r
		}
	}
	s.priceHistory = d.PriceHistory
	if d.TokenOptions != nil {
		s.tokenOptions = d.TokenOptions
	}
	if d.TokenOptionsByAddress != nil {
		s.tokenOptionsByAddress = d.TokenOptionsByAddress
	}
	if d.CustomTokenOptions != nil {
		s.customTokenOptions = d.CustomTokenOptions
	}
	if d.CustomTokenOptionsByAddress != nil {
		s.customTokenOptionsByAddress = d.CustomTokenOptionsByAddress
	}
	s.termsAccepted = d.WalletTermsAccepted
	if d.BalanceCacheKey != nil {
		s.balanceCache = d.BalanceCacheKey.Clone()
	}
	if d.RatesCacheKey != nil {
		s.ratesCache = d.RatesCacheKey.Clone()
	}
	if d.FeeLevel != nil {
		s.fees = d.FeeLevel.Clone()
	}
	s.prefs = Preferences{
		UseUnconfirmedFunds: d.UseUnconfirmedFunds,
		CustomizeNonce:      d.CustomizeNonce,
		EnableReplaceByFee:  d.EnableReplaceByFee,
	}
	// 组合余额是派生值，按 key 重算，previous 沿用落盘的值
	s.recomputePortfolio()
	s.portfolio.Previous = d.PortfolioBalance.Previous
	return s
}

// pruneTokens 代币必须有同 key 下的基础链钱包，基础链钱包的 tokens 只留存在的代币
func (s *State) pruneTokens() {
	for _, k := range s.keys {
		keep := make([]string, 0, len(k.Wallets))
		for _, wid := range k.Wallets {
			w := s.wallets[ref(k.ID, wid)]
			if w.IsToken {
				base, ok := s.wallets[ref(k.ID, w.AssociatedWalletID)]
				if !ok || base.IsToken {
					delete(s.wallets, ref(k.ID, wid))
					continue
				}
			}
			keep = append(keep, wid)
		}
		kc := cloneKey(k)
		kc.Wallets = keep
		s.keys[k.ID] = &kc
	}
	for r, w := range s.wallets {
		if w.IsToken || len(w.Tokens) == 0 {
			continue
		}
		tokens := make([]string, 0, len(w.Tokens))
		for _, tid := range w.Tokens {
			if t, ok := s.wallets[ref(w.KeyID, tid)]; ok && t.IsToken && t.AssociatedWalletID == w.ID {
				tokens = append(tokens, tid)
			}
		}
		wc := w.Clone()
		wc.Tokens = tokens
		s.wallets[r] = &wc
	}
}
