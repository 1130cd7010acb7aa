package keys

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopherwallet.com/internal/secretstore"
	"gopherwallet.com/internal/wallet/domain"
	"gopherwallet.com/internal/wallet/engine"
	"gopherwallet.com/internal/wallet/state"
	"gopherwallet.com/internal/wallet/walletclient"
)

const hardhat = "test test test test test test test test test test test junk"

type okRemote struct{ walletclient.Remote }

func (okRemote) RegisterWallet(_ context.Context, _ walletclient.KeyHandle, w domain.Wallet) (walletclient.WalletHandle, error) {
	return walletclient.WalletHandle{Wallet: w, Complete: true}, nil
}

// countingRemote 记录登记次数
type countingRemote struct {
	okRemote
	registered int
}

func (r *countingRemote) RegisterWallet(ctx context.Context, kh walletclient.KeyHandle, w domain.Wallet) (walletclient.WalletHandle, error) {
	r.registered++
	return r.okRemote.RegisterWallet(ctx, kh, w)
}

func newService(t *testing.T) (*Service, *engine.Engine) {
	t.Helper()
	return newServiceWith(t, okRemote{})
}

func newServiceWith(t *testing.T, remote walletclient.Remote) (*Service, *engine.Engine) {
	t.Helper()
	fast := secretstore.Params{N: 1 << 10, R: 8, P: 1}
	dev, err := secretstore.DeriveDeviceKey("device-test", "test", fast)
	require.NoError(t, err)
	client := walletclient.New(walletclient.NewKeyring(dev, fast), remote)

	e := engine.New(state.New(time.UnixMilli(1_700_000_000_000)), engine.Config{})
	ctx, cancel := context.WithCancel(context.Background())
	go e.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-e.Done()
	})
	return NewService(e, client), e
}

func TestService_CreateAndImport(t *testing.T) {
	s, e := newService(t)
	ctx := context.Background()

	k, err := s.Create(ctx, CreateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "My Key", k.KeyName)
	assert.False(t, k.BackupComplete)
	assert.Len(t, k.Wallets, 2)

	imported, err := s.Import(ctx, hardhat, CreateOptions{Name: " Hardhat ", Currencies: []string{"eth", "usdc"}})
	require.NoError(t, err)
	assert.Equal(t, "Hardhat", imported.KeyName)
	assert.True(t, imported.BackupComplete)
	ws := e.Snapshot().Wallets(imported.ID)
	require.Len(t, ws, 2)
	assert.Equal(t, []string{ws[1].ID}, ws[0].Tokens, "usdc 挂在 eth 下")

	_, err = s.Import(ctx, hardhat, CreateOptions{})
	var dup *domain.DuplicateKeyError
	assert.ErrorAs(t, err, &dup)
	assert.Len(t, e.Snapshot().Keys(), 2)
}

func TestService_AddWallet(t *testing.T) {
	s, e := newService(t)
	ctx := context.Background()
	k, err := s.Import(ctx, hardhat, CreateOptions{Currencies: []string{"btc"}})
	require.NoError(t, err)

	tests := []struct {
		name     string
		currency string
		check    func(t *testing.T, w domain.Wallet, err error)
	}{
		{"新币种", "eth", func(t *testing.T, w domain.Wallet, err error) {
			require.NoError(t, err)
			assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", w.ReceiveAddress)
		}},
		{"重复币种", "eth", func(t *testing.T, _ domain.Wallet, err error) {
			var dup *domain.DuplicateWalletError
			assert.ErrorAs(t, err, &dup)
		}},
		{"代币", "dai", func(t *testing.T, w domain.Wallet, err error) {
			require.NoError(t, err)
			assert.True(t, w.IsToken)
		}},
		{"未知币种", "nope", func(t *testing.T, _ domain.Wallet, err error) {
			assert.ErrorIs(t, err, walletclient.ErrUnknownCurrency)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := s.AddWallet(ctx, k.ID, tt.currency, walletclient.WalletOptions{})
			tt.check(t, w, err)
		})
	}
	assert.Len(t, e.Snapshot().Wallets(k.ID), 3)

	_, err = s.AddWallet(ctx, "nope", "btc", walletclient.WalletOptions{})
	assert.ErrorIs(t, err, domain.ErrKeyNotFound)
}

func TestService_AddWallet_RejectBeforeRegister(t *testing.T) {
	remote := &countingRemote{}
	s, e := newServiceWith(t, remote)
	ctx := context.Background()
	k, err := s.Import(ctx, hardhat, CreateOptions{Currencies: []string{"eth", "usdc"}})
	require.NoError(t, err)
	registered := remote.registered

	tests := []struct {
		name     string
		currency string
		check    func(t *testing.T, err error)
	}{
		{"代币已挂载", "usdc", func(t *testing.T, err error) {
			var ae *domain.AssociationError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, "currency already added", ae.Reason)
		}},
		{"币种已存在", "eth", func(t *testing.T, err error) {
			var dup *domain.DuplicateWalletError
			assert.ErrorAs(t, err, &dup)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.AddWallet(ctx, k.ID, tt.currency, walletclient.WalletOptions{})
			tt.check(t, err)
			assert.Equal(t, registered, remote.registered, "被拒绝的钱包不能去服务端登记")
		})
	}
	assert.Len(t, e.Snapshot().Wallets(k.ID), 2)
}

func TestService_EncryptDecryptExport(t *testing.T) {
	s, e := newService(t)
	ctx := context.Background()
	k, err := s.Import(ctx, hardhat, CreateOptions{Currencies: []string{"btc"}})
	require.NoError(t, err)

	require.NoError(t, s.Encrypt(ctx, k.ID, "hunter2"))
	got, _ := e.Snapshot().Key(k.ID)
	assert.True(t, got.IsPrivKeyEncrypted)
	assert.True(t, got.Properties.Encrypted)

	_, err = s.ExportMnemonic(ctx, k.ID, "wrong")
	var de *domain.DecryptError
	require.ErrorAs(t, err, &de)

	words, err := s.ExportMnemonic(ctx, k.ID, "hunter2")
	require.NoError(t, err)
	assert.Len(t, words, 12)

	// 加密后加钱包需要口令
	_, err = s.AddWallet(ctx, k.ID, "eth", walletclient.WalletOptions{})
	assert.ErrorAs(t, err, &de)
	_, err = s.AddWallet(ctx, k.ID, "eth", walletclient.WalletOptions{Password: "hunter2"})
	require.NoError(t, err)

	err = s.Decrypt(ctx, k.ID, "bad")
	assert.ErrorAs(t, err, &de)
	got, _ = e.Snapshot().Key(k.ID)
	assert.True(t, got.IsPrivKeyEncrypted, "口令错误不改状态")

	require.NoError(t, s.Decrypt(ctx, k.ID, "hunter2"))
	got, _ = e.Snapshot().Key(k.ID)
	assert.False(t, got.IsPrivKeyEncrypted)

	assert.ErrorIs(t, s.Encrypt(ctx, k.ID, ""), domain.ErrInvalidArgument)
}

func TestService_Delete(t *testing.T) {
	s, e := newService(t)
	ctx := context.Background()
	k, err := s.Import(ctx, hardhat, CreateOptions{})
	require.NoError(t, err)

	deleted, err := s.Delete(ctx, k.ID)
	require.NoError(t, err)
	assert.Equal(t, k.ID, deleted.ID)
	assert.Empty(t, e.Snapshot().Keys())

	_, err = s.Delete(ctx, k.ID)
	assert.ErrorIs(t, err, domain.ErrKeyNotFound)
}
