package currency

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gopherwallet.com/internal/wallet/domain"
)

func TestHydrate(t *testing.T) {
	custom := map[string]domain.Token{
		"0x1111111111111111111111111111111111111111": {Name: "My Token", Symbol: "MTK", Decimals: 9, Address: "0x1111111111111111111111111111111111111111"},
	}
	cases := []struct {
		name string
		in   domain.Wallet
		want func(t *testing.T, w domain.Wallet)
	}{
		{
			name: "内置币种补齐名称和图标",
			in:   domain.Wallet{ID: "w1", CurrencyAbbreviation: "BTC"},
			want: func(t *testing.T, w domain.Wallet) {
				assert.Equal(t, "btc", w.CurrencyAbbreviation)
				assert.Equal(t, "Bitcoin", w.CurrencyName)
				assert.Equal(t, "Bitcoin", w.WalletName)
				assert.Equal(t, "btc.svg", w.Img)
				assert.Equal(t, domain.Mainnet, w.Network)
				assert.EqualValues(t, 8, w.Decimals)
			},
		},
		{
			name: "不覆盖已有的钱包名",
			in:   domain.Wallet{ID: "w2", CurrencyAbbreviation: "eth", WalletName: "Savings", Network: domain.Testnet},
			want: func(t *testing.T, w domain.Wallet) {
				assert.Equal(t, "Savings", w.WalletName)
				assert.Equal(t, domain.Testnet, w.Network)
			},
		},
		{
			name: "内置代币标记 isToken",
			in:   domain.Wallet{ID: "w3", CurrencyAbbreviation: "usdc"},
			want: func(t *testing.T, w domain.Wallet) {
				assert.True(t, w.IsToken)
				assert.Equal(t, "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", w.TokenAddress)
			},
		},
		{
			name: "自定义代币按地址查",
			in:   domain.Wallet{ID: "w4", CurrencyAbbreviation: "mtk", TokenAddress: "0x1111111111111111111111111111111111111111"},
			want: func(t *testing.T, w domain.Wallet) {
				assert.Equal(t, "My Token", w.CurrencyName)
				assert.True(t, w.IsToken)
				assert.EqualValues(t, 9, w.Decimals)
			},
		},
		{
			name: "未知币种只给默认名",
			in:   domain.Wallet{ID: "w5", CurrencyAbbreviation: "abc"},
			want: func(t *testing.T, w domain.Wallet) {
				assert.Equal(t, "ABC", w.WalletName)
				assert.Empty(t, w.CurrencyName)
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.want(t, Hydrate(tc.in, custom))
		})
	}
}

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(t, "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", NormalizeAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"))
	assert.Equal(t, "rpxyz", NormalizeAddress(" rPXYZ "))
}
