// Package currency 内置币种目录，用来给钱包补 UI 字段（名称、图标、精度）。
package currency

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopherwallet.com/internal/wallet/domain"
)

type Opts struct {
	Abbreviation string
	Name         string
	Chain        string // 所在链，代币是 eth
	Img          string
	Decimals     int32
	CoinType     uint32 // BIP44
	IsToken      bool
	TokenAddress string
}

var builtin = map[string]Opts{
	"btc":  {Abbreviation: "btc", Name: "Bitcoin", Chain: "btc", Img: "btc.svg", Decimals: 8, CoinType: 0},
	"bch":  {Abbreviation: "bch", Name: "Bitcoin Cash", Chain: "bch", Img: "bch.svg", Decimals: 8, CoinType: 145},
	"eth":  {Abbreviation: "eth", Name: "Ethereum", Chain: "eth", Img: "eth.svg", Decimals: 18, CoinType: 60},
	"doge": {Abbreviation: "doge", Name: "Dogecoin", Chain: "doge", Img: "doge.svg", Decimals: 8, CoinType: 3},
	"ltc":  {Abbreviation: "ltc", Name: "Litecoin", Chain: "ltc", Img: "ltc.svg", Decimals: 8, CoinType: 2},
	"xrp":  {Abbreviation: "xrp", Name: "XRP", Chain: "xrp", Img: "xrp.svg", Decimals: 6, CoinType: 144},

	"usdc": {Abbreviation: "usdc", Name: "USD Coin", Chain: "eth", Img: "usdc.svg", Decimals: 6, CoinType: 60, IsToken: true, TokenAddress: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"},
	"usdt": {Abbreviation: "usdt", Name: "Tether", Chain: "eth", Img: "usdt.svg", Decimals: 6, CoinType: 60, IsToken: true, TokenAddress: "0xdac17f958d2ee523a2206206994597c13d831ec7"},
	"dai":  {Abbreviation: "dai", Name: "Dai", Chain: "eth", Img: "dai.svg", Decimals: 18, CoinType: 60, IsToken: true, TokenAddress: "0x6b175474e89094c44da98b954eedac6ef71a8a5b"},
	"wbtc": {Abbreviation: "wbtc", Name: "Wrapped Bitcoin", Chain: "eth", Img: "wbtc.svg", Decimals: 8, CoinType: 60, IsToken: true, TokenAddress: "0x2260fac5e5542a773aa44fbcfedf7c193bc2c599"},
}

func Lookup(abbr string) (Opts, bool) {
	o, ok := builtin[strings.ToLower(abbr)]
	return o, ok
}

// Supported 内置币种列表
func Supported() []string {
	out := make([]string, 0, len(builtin))
	for k := range builtin {
		out = append(out, k)
	}
	return out
}

// NormalizeAddress EVM 地址统一成小写 hex，其他链原样小写
func NormalizeAddress(addr string) string {
	if common.IsHexAddress(addr) {
		return strings.ToLower(common.HexToAddress(addr).Hex())
	}
	return strings.ToLower(strings.TrimSpace(addr))
}

// Resolve 先查内置目录，再按合约地址查用户自定义代币
func Resolve(abbr, tokenAddress string, custom map[string]domain.Token) (Opts, bool) {
	if o, ok := Lookup(abbr); ok {
		return o, true
	}
	if tokenAddress == "" {
		return Opts{}, false
	}
	if t, ok := custom[NormalizeAddress(tokenAddress)]; ok {
		return Opts{
			Abbreviation: strings.ToLower(t.Symbol),
			Name:         t.Name,
			Chain:        "eth",
			Decimals:     t.Decimals,
			CoinType:     60,
			IsToken:      true,
			TokenAddress: NormalizeAddress(t.Address),
		}, true
	}
	return Opts{}, false
}

// Hydrate 补齐同步下来的钱包的展示字段，不覆盖已有值
func Hydrate(w domain.Wallet, custom map[string]domain.Token) domain.Wallet {
	w.CurrencyAbbreviation = strings.ToLower(w.CurrencyAbbreviation)
	o, ok := Resolve(w.CurrencyAbbreviation, w.TokenAddress, custom)
	if !ok {
		if w.WalletName == "" {
			w.WalletName = strings.ToUpper(w.CurrencyAbbreviation)
		}
		if w.Network == "" {
			w.Network = domain.Mainnet
		}
		return w
	}
	if w.CurrencyName == "" {
		w.CurrencyName = o.Name
	}
	if w.Img == "" {
		w.Img = o.Img
	}
	if w.WalletName == "" {
		w.WalletName = o.Name
	}
	if w.Decimals == 0 {
		w.Decimals = o.Decimals
	}
	if w.Network == "" {
		w.Network = domain.Mainnet
	}
	if o.IsToken {
		w.IsToken = true
		if w.TokenAddress == "" {
			w.TokenAddress = o.TokenAddress
		}
	}
	if w.TokenAddress != "" {
		w.TokenAddress = NormalizeAddress(w.TokenAddress)
	}
	return w
}
