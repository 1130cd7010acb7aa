package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type FeeLevel string

const (
	FeeUrgent       FeeLevel = "urgent"
	FeePriority     FeeLevel = "priority"
	FeeNormal       FeeLevel = "normal"
	FeeEconomy      FeeLevel = "economy"
	FeeSuperEconomy FeeLevel = "superEconomy"
)

var feeLevels = []FeeLevel{FeeUrgent, FeePriority, FeeNormal, FeeEconomy, FeeSuperEconomy}

func FeeLevels() []FeeLevel { return append([]FeeLevel(nil), feeLevels...) }

func (l FeeLevel) Valid() bool {
	for _, v := range feeLevels {
		if v == l {
			return true
		}
	}
	return false
}

// DateRange 汇率历史的时间窗口（天）
type DateRange int

const (
	DateRangeDay   DateRange = 1
	DateRangeWeek  DateRange = 7
	DateRangeMonth DateRange = 30

	DefaultDateRange = DateRangeDay
)

func (d DateRange) Valid() bool {
	return d == DateRangeDay || d == DateRangeWeek || d == DateRangeMonth
}

func DateRanges() []DateRange { return []DateRange{DateRangeDay, DateRangeWeek, DateRangeMonth} }

type Rate struct {
	Code string          `json:"code"` // 法币代码 USD/EUR
	Name string          `json:"name"`
	Rate decimal.Decimal `json:"rate"`
	Ts   int64           `json:"ts,omitempty"`
}

// Rates 币种 -> 各法币汇率
type Rates map[string][]Rate

// Lookup 币种对某个法币的汇率
func (r Rates) Lookup(currency, fiatCode string) (decimal.Decimal, bool) {
	for _, rate := range r[strings.ToLower(currency)] {
		if strings.EqualFold(rate.Code, fiatCode) {
			return rate.Rate, true
		}
	}
	return decimal.Zero, false
}

func (r Rates) Clone() Rates {
	out := make(Rates, len(r))
	for k, v := range r {
		out[k] = append([]Rate(nil), v...)
	}
	return out
}

// RatesResult 一次汇率拉取的结果
type RatesResult struct {
	Rates            Rates `json:"rates"`
	LastDayRates     Rates `json:"lastDayRates"`
	RatesByDateRange Rates `json:"ratesByDateRange"`
}

type PriceHistory struct {
	Coin   string            `json:"coin"`
	Prices []decimal.Decimal `json:"prices"`
}

// Token 合约资产的目录条目，和持有代币的 Wallet 不是一回事
type Token struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int32  `json:"decimals"`
	Address  string `json:"address"`
}

func (t Token) String() string { return fmt.Sprintf("%s(%s)", t.Symbol, t.Address) }

// ToFiat sat / 10^decimals * rate，保留两位
func ToFiat(sat int64, decimals int32, rate decimal.Decimal) decimal.Decimal {
	return decimal.New(sat, -decimals).Mul(rate).Round(2)
}
