package walletclient

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"gopherwallet.com/internal/secretstore"
	"gopherwallet.com/internal/wallet/currency"
	"gopherwallet.com/internal/wallet/domain"
	"gopherwallet.com/pkg/hdwallet"
)

const propertiesVersion = 1

var (
	ErrAlreadyEncrypted = errors.New("walletclient: key already encrypted")
	ErrNotEncrypted     = errors.New("walletclient: key not encrypted")
	ErrUnknownCurrency  = errors.New("walletclient: unknown currency")
)

// Keyring 本地 HD 实现。
// 助记词永远以密文形式放在 KeyProperties.Blob：没设口令时用设备密钥封装，设了口令用 scrypt(口令)。
type Keyring struct {
	device secretstore.DeviceKey
	params secretstore.Params
	custom func() map[string]domain.Token // 自定义代币目录，可以为 nil
}

func NewKeyring(device secretstore.DeviceKey, params secretstore.Params) *Keyring {
	return &Keyring{device: device, params: params}
}

// WithCustomTokens 添加钱包时按合约地址识别用户自定义代币
func (k *Keyring) WithCustomTokens(fn func() map[string]domain.Token) *Keyring {
	k.custom = fn
	return k
}

func (k *Keyring) GenerateMnemonic() (string, error) { return hdwallet.NewMnemonic(128) }

func (k *Keyring) DeriveKey(_ context.Context, mnemonic string, opts KeyOptions) (KeyHandle, error) {
	norm := hdwallet.NormalizeMnemonic(mnemonic)
	hw, err := hdwallet.New(norm, nil)
	if err != nil {
		return KeyHandle{}, err
	}
	fp, err := hw.Fingerprint()
	if err != nil {
		return KeyHandle{}, err
	}
	reqPub, err := hw.RequestPubKey()
	if err != nil {
		return KeyHandle{}, err
	}

	props := domain.KeyProperties{FingerPrint: fp, Version: propertiesVersion}
	if opts.Password != "" {
		props.Blob, err = secretstore.SealPassword([]byte(norm), []byte(opts.Password), k.params)
		props.Encrypted = true
	} else {
		props.Blob, err = secretstore.Seal([]byte(norm), k.device)
	}
	if err != nil {
		return KeyHandle{}, err
	}
	return KeyHandle{ID: fp, FingerPrint: fp, Properties: props, RequestPubKey: reqPub}, nil
}

// mnemonic 取出明文并校验指纹，失败一律 DecryptError
func (k *Keyring) mnemonic(kh KeyHandle, password string) (string, error) {
	var (
		plain []byte
		err   error
	)
	if kh.Properties.Encrypted {
		if password == "" {
			return "", &domain.DecryptError{Op: "password required"}
		}
		plain, err = secretstore.UnsealPassword(kh.Properties.Blob, []byte(password), k.params)
	} else {
		plain, err = secretstore.Unseal(kh.Properties.Blob, k.device)
	}
	if err != nil {
		return "", err
	}
	m := string(plain)
	clear(plain)

	hw, err := hdwallet.New(m, nil)
	if err != nil {
		return "", &domain.DecryptError{Op: "decode mnemonic", Err: err}
	}
	fp, err := hw.Fingerprint()
	if err != nil || fp != kh.FingerPrint {
		return "", &domain.DecryptError{Op: "fingerprint check"}
	}
	return m, nil
}

// Encrypt 加密后立刻用同一口令解一次，往返成功才返回新的 properties
func (k *Keyring) Encrypt(_ context.Context, kh KeyHandle, password string) (KeyHandle, error) {
	if kh.Properties.Encrypted {
		return KeyHandle{}, ErrAlreadyEncrypted
	}
	if password == "" {
		return KeyHandle{}, fmt.Errorf("%w: empty password", domain.ErrInvalidArgument)
	}
	m, err := k.mnemonic(kh, "")
	if err != nil {
		return KeyHandle{}, err
	}
	blob, err := secretstore.SealPassword([]byte(m), []byte(password), k.params)
	if err != nil {
		return KeyHandle{}, err
	}
	out := kh
	out.Properties = domain.KeyProperties{FingerPrint: kh.FingerPrint, Version: propertiesVersion, Encrypted: true, Blob: blob}
	if _, err := k.mnemonic(out, password); err != nil {
		return KeyHandle{}, fmt.Errorf("walletclient: encrypt round-trip: %w", err)
	}
	return out, nil
}

func (k *Keyring) Decrypt(_ context.Context, kh KeyHandle, password string) (KeyHandle, error) {
	if !kh.Properties.Encrypted {
		return KeyHandle{}, ErrNotEncrypted
	}
	m, err := k.mnemonic(kh, password)
	if err != nil {
		return KeyHandle{}, err
	}
	blob, err := secretstore.Seal([]byte(m), k.device)
	if err != nil {
		return KeyHandle{}, err
	}
	out := kh
	out.Properties = domain.KeyProperties{FingerPrint: kh.FingerPrint, Version: propertiesVersion, Blob: blob}
	if _, err := k.mnemonic(out, ""); err != nil {
		return KeyHandle{}, fmt.Errorf("walletclient: decrypt round-trip: %w", err)
	}
	return out, nil
}

// ExportMnemonic 加密的 key 必须给对口令
func (k *Keyring) ExportMnemonic(_ context.Context, kh KeyHandle, password string) ([]string, error) {
	m, err := k.mnemonic(kh, password)
	if err != nil {
		return nil, err
	}
	return strings.Fields(m), nil
}

// NewWallet 派生钱包 id 和收款地址。
// 只有 btc / eth 链能在本地派生地址，其他币种地址留空，由服务端或后续操作补上。
func (k *Keyring) NewWallet(_ context.Context, kh KeyHandle, abbr string, opts WalletOptions) (domain.Wallet, error) {
	var custom map[string]domain.Token
	if k.custom != nil {
		custom = k.custom()
	}
	o, ok := currency.Resolve(abbr, opts.TokenAddress, custom)
	if !ok {
		return domain.Wallet{}, fmt.Errorf("%w: %s", ErrUnknownCurrency, abbr)
	}
	network := opts.Network
	if network == "" {
		network = domain.Mainnet
	}
	m, err := k.mnemonic(kh, opts.Password)
	if err != nil {
		return domain.Wallet{}, err
	}
	params := &chaincfg.MainNetParams
	if network == domain.Testnet {
		params = &chaincfg.TestNet3Params
	}
	hw, err := hdwallet.New(m, params)
	if err != nil {
		return domain.Wallet{}, err
	}

	var addr string
	switch o.CoinType {
	case hdwallet.CoinBTC, hdwallet.CoinETH:
		if addr, err = hw.DeriveAddress(o.CoinType, opts.Account, 0); err != nil {
			return domain.Wallet{}, err
		}
	}

	w := domain.Wallet{
		ID:                   WalletID(kh.FingerPrint, o.Abbreviation, network, opts.Account),
		KeyID:                kh.ID,
		CurrencyAbbreviation: o.Abbreviation,
		Network:              network,
		WalletName:           opts.Name,
		ReceiveAddress:       addr,
		IsToken:              o.IsToken,
		TokenAddress:         o.TokenAddress,
		AssociatedWalletID:   opts.AssociatedWalletID,
	}
	if o.IsToken && w.AssociatedWalletID == "" {
		// 默认挂在同一账户的 eth 钱包上
		w.AssociatedWalletID = WalletID(kh.FingerPrint, "eth", network, opts.Account)
	}
	return currency.Hydrate(w, custom), nil
}

// WalletID 由指纹、币种、网络、账户决定，多设备派生结果一致
func WalletID(fingerprint, abbr string, network domain.Network, account uint32) string {
	raw := fmt.Sprintf("%s|%s|%s|%d", fingerprint, strings.ToLower(abbr), network, account)
	return hex.EncodeToString(btcutil.Hash160([]byte(raw)))
}
