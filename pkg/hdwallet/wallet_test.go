// 钱包功能
package hdwallet

import (
	"strings"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMnemonic = "test test test test test test test test test test test junk"

func TestHDWallet_DeriveAddress(t *testing.T) {
	wallet, err := New(testMnemonic, &chaincfg.MainNetParams)
	require.NoError(t, err)

	btcAddr, err := wallet.DeriveAddress(CoinBTC, 0, 0)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(btcAddr, "bc1"))

	// hardhat 默认助记词的第一个账户
	ethAddr, err := wallet.DeriveAddress(CoinETH, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", ethAddr)

	_, err = wallet.DeriveAddress(2, 0, 0)
	assert.ErrorIs(t, err, ErrUnsupportedCoin)

	// 第二次再用助记词生成 是不是一样的
	wallet1, err := New(testMnemonic, &chaincfg.MainNetParams)
	require.NoError(t, err)
	again, err := wallet1.DeriveAddress(CoinBTC, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, btcAddr, again)
}

func TestHDWallet_Fingerprint(t *testing.T) {
	main, err := New(testMnemonic, &chaincfg.MainNetParams)
	require.NoError(t, err)
	test, err := New("  TEST test test test test test test test test test test   junk ", &chaincfg.TestNet3Params)
	require.NoError(t, err)

	fp1, err := main.Fingerprint()
	require.NoError(t, err)
	fp2, err := test.Fingerprint()
	require.NoError(t, err)
	assert.Len(t, fp1, 8)
	assert.Equal(t, fp1, fp2, "指纹和网络、大小写、空白无关")

	other, err := NewMnemonic(128)
	require.NoError(t, err)
	w3, err := New(other, nil)
	require.NoError(t, err)
	fp3, _ := w3.Fingerprint()
	assert.NotEqual(t, fp1, fp3)
}

func TestHDWallet_RequestPubKey(t *testing.T) {
	w, err := New(testMnemonic, nil)
	require.NoError(t, err)
	k1, err := w.RequestPubKey()
	require.NoError(t, err)
	assert.Len(t, k1, 66)
	k2, _ := w.RequestPubKey()
	assert.Equal(t, k1, k2)
}

func TestNew_InvalidMnemonic(t *testing.T) {
	cases := []struct {
		name     string
		mnemonic string
	}{
		{"空助记词", ""},
		{"校验位错误", "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon"},
		{"不在词表", "foo bar baz"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.mnemonic, nil)
			assert.ErrorIs(t, err, ErrInvalidMnemonic)
		})
	}
}
