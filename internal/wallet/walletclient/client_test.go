package walletclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/encoding/json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopherwallet.com/internal/secretstore"
	"gopherwallet.com/internal/wallet/domain"
	"gopherwallet.com/pkg/ratelimit"
)

const hardhat = "test test test test test test test test test test test junk"

var fast = secretstore.Params{N: 1 << 10, R: 8, P: 1}

func newKeyring(t *testing.T) *Keyring {
	t.Helper()
	dev, err := secretstore.DeriveDeviceKey("device-test", "test", fast)
	require.NoError(t, err)
	return NewKeyring(dev, fast)
}

func TestKeyring_DeriveKey(t *testing.T) {
	kr := newKeyring(t)
	ctx := context.Background()

	kh, err := kr.DeriveKey(ctx, "  TEST test test test test test test test test test test junk ", KeyOptions{})
	require.NoError(t, err)
	assert.Len(t, kh.FingerPrint, 8)
	assert.Equal(t, kh.FingerPrint, kh.ID)
	assert.Len(t, kh.RequestPubKey, 66)
	assert.False(t, kh.IsPrivKeyEncrypted())
	assert.NotContains(t, string(kh.Properties.Blob), "junk", "blob 不能是明文")

	kh2, err := kr.DeriveKey(ctx, hardhat, KeyOptions{})
	require.NoError(t, err)
	assert.Equal(t, kh.FingerPrint, kh2.FingerPrint, "规范化后指纹一致")

	_, err = kr.DeriveKey(ctx, "not a mnemonic", KeyOptions{})
	assert.Error(t, err)
}

func TestKeyring_EncryptDecryptExport(t *testing.T) {
	kr := newKeyring(t)
	ctx := context.Background()
	kh, err := kr.DeriveKey(ctx, hardhat, KeyOptions{})
	require.NoError(t, err)

	words, err := kr.ExportMnemonic(ctx, kh, "")
	require.NoError(t, err)
	assert.Len(t, words, 12)

	enc, err := kr.Encrypt(ctx, kh, "hunter2")
	require.NoError(t, err)
	assert.True(t, enc.IsPrivKeyEncrypted())
	assert.Equal(t, kh.FingerPrint, enc.Properties.FingerPrint)

	_, err = kr.Encrypt(ctx, enc, "again")
	assert.ErrorIs(t, err, ErrAlreadyEncrypted)

	tests := []struct {
		name     string
		password string
	}{
		{"没有口令", ""},
		{"口令错误", "wrong"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := kr.ExportMnemonic(ctx, enc, tt.password)
			var de *domain.DecryptError
			assert.ErrorAs(t, err, &de)
		})
	}

	words, err = kr.ExportMnemonic(ctx, enc, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "junk", words[11])

	dec, err := kr.Decrypt(ctx, enc, "hunter2")
	require.NoError(t, err)
	assert.False(t, dec.IsPrivKeyEncrypted())
	_, err = kr.Decrypt(ctx, dec, "hunter2")
	assert.ErrorIs(t, err, ErrNotEncrypted)
}

func TestKeyring_NewWallet(t *testing.T) {
	kr := newKeyring(t)
	ctx := context.Background()
	kh, err := kr.DeriveKey(ctx, hardhat, KeyOptions{})
	require.NoError(t, err)

	eth, err := kr.NewWallet(ctx, kh, "ETH", WalletOptions{})
	require.NoError(t, err)
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", eth.ReceiveAddress)
	assert.Equal(t, "Ethereum", eth.CurrencyName)
	assert.Equal(t, int32(18), eth.Decimals)
	assert.Equal(t, WalletID(kh.FingerPrint, "eth", domain.Mainnet, 0), eth.ID)

	usdc, err := kr.NewWallet(ctx, kh, "usdc", WalletOptions{})
	require.NoError(t, err)
	assert.True(t, usdc.IsToken)
	assert.Equal(t, eth.ID, usdc.AssociatedWalletID)
	assert.NotEqual(t, eth.ID, usdc.ID)

	btc, err := kr.NewWallet(ctx, kh, "btc", WalletOptions{Network: domain.Testnet})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(btc.ReceiveAddress, "tb1"))

	doge, err := kr.NewWallet(ctx, kh, "doge", WalletOptions{})
	require.NoError(t, err)
	assert.Empty(t, doge.ReceiveAddress)

	_, err = kr.NewWallet(ctx, kh, "nope", WalletOptions{})
	assert.ErrorIs(t, err, ErrUnknownCurrency)
}

func TestHTTPRemote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/wallets":
			_, _ = w.Write([]byte(`{"complete":true}`))
		case r.Method == http.MethodGet && r.URL.Path == "/v1/wallets/w1/status":
			assert.Equal(t, "btc", r.URL.Query().Get("coin"))
			_, _ = w.Write([]byte(`{"balance":{"sat":1500,"satConfirmed":1000},"pendingTxps":[{"txid":"a"}]}`))
		case r.URL.Path == "/v1/keys/import":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			assert.Equal(t, "abcd1234", body["fingerPrint"])
			_, _ = w.Write([]byte(`{"wallets":[{"walletId":"w1","coin":"BTC","network":"livenet","complete":true},{"walletId":"w2","coin":"usdc","network":"livenet","tokenAddress":"0xA0b8","complete":false}]}`))
		case r.URL.Path == "/v1/rates":
			assert.Equal(t, "7", r.URL.Query().Get("dateRange"))
			_, _ = w.Write([]byte(`{"rates":{"btc":[{"code":"USD","rate":"65000.1"}]}}`))
		case r.URL.Path == "/v1/wallets/bad/status":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`not found`))
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	h := NewHTTPRemote(HTTPConfig{BaseURL: srv.URL + "/", Timeout: time.Second})
	ctx := context.Background()

	wh, err := h.RegisterWallet(ctx, KeyHandle{FingerPrint: "abcd1234"}, domain.Wallet{ID: "w1"})
	require.NoError(t, err)
	assert.True(t, wh.IsComplete())

	st, err := h.GetStatus(ctx, domain.Wallet{ID: "w1", CurrencyAbbreviation: "btc", Network: domain.Mainnet})
	require.NoError(t, err)
	assert.Equal(t, int64(1500), st.Balance.Sat)
	assert.Len(t, st.PendingTxs, 1)

	hs, err := h.ServerAssistedImport(ctx, KeyHandle{FingerPrint: "abcd1234"})
	require.NoError(t, err)
	require.Len(t, hs, 2)
	assert.Equal(t, "btc", hs[0].Wallet.CurrencyAbbreviation)
	assert.True(t, hs[1].Wallet.IsToken)
	assert.False(t, hs[1].IsComplete())

	res, err := h.FetchRates(ctx, domain.DateRangeWeek)
	require.NoError(t, err)
	rate, ok := res.Rates.Lookup("btc", "usd")
	require.True(t, ok)
	assert.True(t, rate.Equal(decimal.RequireFromString("65000.1")))

	_, err = h.GetStatus(ctx, domain.Wallet{ID: "bad"})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.StatusCode)

	_, err = h.GetStatus(ctx, domain.Wallet{ID: "boom"})
	var ne *domain.NetworkOrServerError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, http.StatusBadGateway, ne.StatusCode)
}

type flakyRemote struct {
	Remote
	calls atomic.Int32
	err   error
}

func (f *flakyRemote) GetStatus(context.Context, domain.Wallet) (domain.Status, error) {
	f.calls.Add(1)
	return domain.Status{}, f.err
}

func TestBreaker_OpensOnServerErrors(t *testing.T) {
	remote := &flakyRemote{err: &domain.NetworkOrServerError{Op: "get_status", StatusCode: 503, Err: errors.New("down")}}
	b := NewBreaker(remote, ratelimit.Rule{TripConsecutiveFailures: 3, Timeout: time.Minute}, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := b.GetStatus(ctx, domain.Wallet{})
		require.Error(t, err)
	}
	// 熔断后不再打到远端
	_, err := b.GetStatus(ctx, domain.Wallet{})
	var ne *domain.NetworkOrServerError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, int32(3), remote.calls.Load())
}

func TestBreaker_ClientErrorsDoNotTrip(t *testing.T) {
	remote := &flakyRemote{err: &StatusError{Op: "get_status", StatusCode: 404}}
	b := NewBreaker(remote, ratelimit.Rule{TripConsecutiveFailures: 2, Timeout: time.Minute}, ratelimit.NewStore(1000, 100, time.Minute))
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := b.GetStatus(ctx, domain.Wallet{})
		var se *StatusError
		require.ErrorAs(t, err, &se)
	}
	assert.Equal(t, int32(5), remote.calls.Load())
}
