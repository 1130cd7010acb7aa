// Package walletclient 外部钱包客户端能力：派生 key、开通钱包、查询状态、加解密、导出助记词。
// 本地部分由 Keyring 实现，需要服务端参与的部分走 Remote。
package walletclient

import (
	"context"

	"gopherwallet.com/internal/wallet/domain"
)

// KeyHandle 钱包客户端对一把 key 的引用，不含明文
type KeyHandle struct {
	ID            string
	FingerPrint   string
	Properties    domain.KeyProperties
	RequestPubKey string // 只有刚从助记词派生时才有
}

func (h KeyHandle) IsPrivKeyEncrypted() bool { return h.Properties.Encrypted }

// HandleFromKey 从已存的 key 恢复句柄
func HandleFromKey(k domain.Key) KeyHandle {
	return KeyHandle{ID: k.ID, FingerPrint: k.Properties.FingerPrint, Properties: k.Properties.Clone()}
}

// WalletHandle 服务端返回的钱包，Complete=false 表示还没开通完（多签等人齐）
type WalletHandle struct {
	Wallet   domain.Wallet
	Complete bool
}

func (h WalletHandle) IsComplete() bool { return h.Complete }

type KeyOptions struct {
	Name     string
	Password string // 非空时 key 以口令加密的形式保存
}

type WalletOptions struct {
	Network            domain.Network
	Account            uint32
	Name               string
	TokenAddress       string // 自定义代币
	AssociatedWalletID string
	Password           string // key 已加密时派生地址需要
}

// Remote 需要服务端参与的能力
type Remote interface {
	RegisterWallet(ctx context.Context, kh KeyHandle, w domain.Wallet) (WalletHandle, error)
	GetStatus(ctx context.Context, w domain.Wallet) (domain.Status, error)
	ServerAssistedImport(ctx context.Context, kh KeyHandle) ([]WalletHandle, error)
	FetchRates(ctx context.Context, dr domain.DateRange) (domain.RatesResult, error)
}

type Client interface {
	GenerateMnemonic() (string, error)
	DeriveKey(ctx context.Context, mnemonic string, opts KeyOptions) (KeyHandle, error)
	// AddWallet = NewWallet + RegisterWallet。需要先在本地校验时分两步调用
	AddWallet(ctx context.Context, kh KeyHandle, currency string, opts WalletOptions) (WalletHandle, error)
	NewWallet(ctx context.Context, kh KeyHandle, currency string, opts WalletOptions) (domain.Wallet, error)
	RegisterWallet(ctx context.Context, kh KeyHandle, w domain.Wallet) (WalletHandle, error)
	GetStatus(ctx context.Context, w domain.Wallet) (domain.Status, error)
	Encrypt(ctx context.Context, kh KeyHandle, password string) (KeyHandle, error)
	Decrypt(ctx context.Context, kh KeyHandle, password string) (KeyHandle, error)
	ExportMnemonic(ctx context.Context, kh KeyHandle, password string) ([]string, error)
	ServerAssistedImport(ctx context.Context, kh KeyHandle) ([]WalletHandle, error)
	FetchRates(ctx context.Context, dr domain.DateRange) (domain.RatesResult, error)
}

type client struct {
	*Keyring
	Remote
}

// New 本地 keyring + 远端服务
func New(k *Keyring, r Remote) Client {
	return &client{Keyring: k, Remote: r}
}

// AddWallet 本地派生 id 和地址，再到服务端登记
func (c *client) AddWallet(ctx context.Context, kh KeyHandle, currency string, opts WalletOptions) (WalletHandle, error) {
	w, err := c.Keyring.NewWallet(ctx, kh, currency, opts)
	if err != nil {
		return WalletHandle{}, err
	}
	return c.Remote.RegisterWallet(ctx, kh, w)
}
