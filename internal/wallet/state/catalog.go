package state

import (
	"strings"
	"time"

	"gopherwallet.com/internal/wallet/cache"
	"gopherwallet.com/internal/wallet/currency"
	"gopherwallet.com/internal/wallet/domain"
)

// SetRates 写入一次汇率拉取，按开始时间做 check-and-set
func (s *State) SetRates(dr domain.DateRange, res domain.RatesResult, startedAt, now time.Time) bool {
	scope := cache.DateRangeScope(dr)
	if !s.ratesCache.CanAdvance(scope, startedAt) {
		return false
	}
	if len(res.Rates) > 0 {
		s.rates = mergeRates(s.rates, res.Rates)
	}
	if len(res.LastDayRates) > 0 {
		s.lastDayRates = mergeRates(s.lastDayRates, res.LastDayRates)
	}
	byRange := make(map[domain.DateRange]domain.Rates, len(s.ratesByDateRange))
	for k, v := range s.ratesByDateRange {
		byRange[k] = v
	}
	byRange[dr] = res.RatesByDateRange.Clone()
	s.ratesByDateRange = byRange
	s.ratesCache.Advance(scope, startedAt, now)
	return true
}

func mergeRates(old, in domain.Rates) domain.Rates {
	out := make(domain.Rates, len(old)+len(in))
	for k, v := range old {
		out[k] = v
	}
	for k, v := range in {
		out[strings.ToLower(k)] = append([]domain.Rate(nil), v...)
	}
	return out
}

func (s *State) SetPriceHistory(h []domain.PriceHistory) {
	s.priceHistory = append([]domain.PriceHistory(nil), h...)
}

// SetTokenOptions 平台目录整体替换，地址索引同步重建
func (s *State) SetTokenOptions(tokens []domain.Token) {
	opts := make(map[string]domain.Token, len(tokens))
	byAddr := make(map[string]domain.Token, len(tokens))
	for _, t := range tokens {
		opts[strings.ToLower(t.Symbol)] = t
		if t.Address != "" {
			byAddr[currency.NormalizeAddress(t.Address)] = t
		}
	}
	s.tokenOptions = opts
	s.tokenOptionsByAddress = byAddr
}

// AddCustomTokenOptions 用户自定义代币，合并写入
func (s *State) AddCustomTokenOptions(tokens ...domain.Token) {
	opts := make(map[string]domain.Token, len(s.customTokenOptions)+len(tokens))
	byAddr := make(map[string]domain.Token, len(s.customTokenOptionsByAddress)+len(tokens))
	for k, v := range s.customTokenOptions {
		opts[k] = v
	}
	for k, v := range s.customTokenOptionsByAddress {
		byAddr[k] = v
	}
	for _, t := range tokens {
		if t.Address == "" {
			continue
		}
		addr := currency.NormalizeAddress(t.Address)
		t.Address = addr
		opts[strings.ToLower(t.Symbol)+"_"+addr] = t
		byAddr[addr] = t
	}
	s.customTokenOptions = opts
	s.customTokenOptionsByAddress = byAddr
}

func (s *State) SetFeeLevel(currency string, level domain.FeeLevel) error {
	fees := s.fees.Clone()
	if err := fees.Set(currency, level); err != nil {
		return err
	}
	s.fees = fees
	return nil
}

func (s *State) SetWalletTermsAccepted() { s.termsAccepted = true }

func (s *State) SetPreferences(p Preferences) { s.prefs = p }
