// Package keys key 的生命周期：创建/导入、加钱包、口令加解密、导出助记词、删除。
// 涉及私钥的步骤交给钱包客户端，结果再作为命令提交给状态引擎。
package keys

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gopherwallet.com/internal/wallet/domain"
	"gopherwallet.com/internal/wallet/engine"
	"gopherwallet.com/internal/wallet/walletclient"
	"gopherwallet.com/pkg/logger"
)

const defaultKeyName = "My Key"

// DefaultCurrencies 新建 key 时默认开通
var DefaultCurrencies = []string{"btc", "eth"}

type CreateOptions struct {
	Name       string
	Password   string // 非空时私钥以口令加密保存
	Currencies []string
	Network    domain.Network
}

type Service struct {
	eng    *engine.Engine
	client walletclient.Client
}

func NewService(eng *engine.Engine, client walletclient.Client) *Service {
	return &Service{eng: eng, client: client}
}

// Create 生成新助记词。助记词不返回，用户备份走 ExportMnemonic。
func (s *Service) Create(ctx context.Context, opts CreateOptions) (domain.Key, error) {
	mnemonic, err := s.client.GenerateMnemonic()
	if err != nil {
		return domain.Key{}, err
	}
	return s.create(ctx, mnemonic, opts, false)
}

// Import 从已有助记词恢复，视为已备份
func (s *Service) Import(ctx context.Context, mnemonic string, opts CreateOptions) (domain.Key, error) {
	return s.create(ctx, mnemonic, opts, true)
}

func (s *Service) create(ctx context.Context, mnemonic string, opts CreateOptions, backedUp bool) (domain.Key, error) {
	kh, err := s.client.DeriveKey(ctx, mnemonic, walletclient.KeyOptions{Name: opts.Name, Password: opts.Password})
	if err != nil {
		return domain.Key{}, err
	}
	if _, exists := s.eng.Snapshot().Key(kh.ID); exists {
		return domain.Key{}, &domain.DuplicateKeyError{KeyID: kh.ID}
	}

	currencies := opts.Currencies
	if len(currencies) == 0 {
		currencies = DefaultCurrencies
	}
	wallets := make([]domain.Wallet, 0, len(currencies))
	for _, c := range currencies {
		wh, err := s.client.AddWallet(ctx, kh, c, walletclient.WalletOptions{Network: opts.Network, Password: opts.Password})
		if err != nil {
			return domain.Key{}, fmt.Errorf("create wallet %s: %w", c, err)
		}
		wallets = append(wallets, wh.Wallet)
	}

	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = defaultKeyName
	}
	key := domain.Key{
		ID:                 kh.ID,
		KeyName:            name,
		IsPrivKeyEncrypted: kh.IsPrivKeyEncrypted(),
		Properties:         kh.Properties,
		BackupComplete:     backedUp,
	}
	key, err = engine.Exec[domain.Key](ctx, s.eng, engine.CreateKey{Key: key, Wallets: wallets})
	if err != nil {
		return domain.Key{}, err
	}
	logger.Info(ctx, "key created", logger.KeyID(key.ID), zap.Int("wallets", len(key.Wallets)), zap.Bool("imported", backedUp))
	return key, nil
}

// AddWallet 在已有 key 下开通一个币种或代币
func (s *Service) AddWallet(ctx context.Context, keyID, currency string, opts walletclient.WalletOptions) (domain.Wallet, error) {
	key, ok := s.eng.Snapshot().Key(keyID)
	if !ok {
		return domain.Wallet{}, domain.ErrKeyNotFound
	}
	kh := walletclient.HandleFromKey(key)
	w, err := s.client.NewWallet(ctx, kh, currency, opts)
	if err != nil {
		return domain.Wallet{}, err
	}
	// 本地已经拒绝的钱包不去服务端登记
	if err := s.eng.Snapshot().CheckWallet(keyID, w); err != nil {
		return domain.Wallet{}, err
	}
	wh, err := s.client.RegisterWallet(ctx, kh, w)
	if err != nil {
		return domain.Wallet{}, err
	}
	w, err = engine.Exec[domain.Wallet](ctx, s.eng, engine.AddWallet{KeyID: keyID, Wallet: wh.Wallet})
	if err != nil {
		return domain.Wallet{}, err
	}
	logger.Info(ctx, "wallet added", logger.KeyID(keyID), logger.WalletID(w.ID), zap.String("currency", w.CurrencyAbbreviation))
	return w, nil
}

// Encrypt 客户端重新封装后校验能解开，才记录新属性
func (s *Service) Encrypt(ctx context.Context, keyID, password string) error {
	if password == "" {
		return fmt.Errorf("%w: password required", domain.ErrInvalidArgument)
	}
	return s.setEncryption(ctx, keyID, true, func(kh walletclient.KeyHandle) (walletclient.KeyHandle, error) {
		return s.client.Encrypt(ctx, kh, password)
	})
}

func (s *Service) Decrypt(ctx context.Context, keyID, password string) error {
	return s.setEncryption(ctx, keyID, false, func(kh walletclient.KeyHandle) (walletclient.KeyHandle, error) {
		return s.client.Decrypt(ctx, kh, password)
	})
}

func (s *Service) setEncryption(ctx context.Context, keyID string, encrypted bool, fn func(walletclient.KeyHandle) (walletclient.KeyHandle, error)) error {
	key, ok := s.eng.Snapshot().Key(keyID)
	if !ok {
		return domain.ErrKeyNotFound
	}
	kh, err := fn(walletclient.HandleFromKey(key))
	if err != nil {
		return err
	}
	_, err = s.eng.Do(ctx, engine.SetPrivKeyEncryption{KeyID: keyID, Encrypted: encrypted, Properties: kh.Properties})
	if err != nil {
		return err
	}
	logger.Info(ctx, "key encryption changed", logger.KeyID(keyID), zap.Bool("encrypted", encrypted))
	return nil
}

// ExportMnemonic 加密的 key 需要口令；口令错误统一返回 DecryptError
func (s *Service) ExportMnemonic(ctx context.Context, keyID, password string) ([]string, error) {
	key, ok := s.eng.Snapshot().Key(keyID)
	if !ok {
		return nil, domain.ErrKeyNotFound
	}
	return s.client.ExportMnemonic(ctx, walletclient.HandleFromKey(key), password)
}

func (s *Service) Delete(ctx context.Context, keyID string) (domain.Key, error) {
	k, err := engine.Exec[domain.Key](ctx, s.eng, engine.DeleteKey{KeyID: keyID})
	if err != nil {
		return domain.Key{}, err
	}
	logger.Info(ctx, "key deleted", logger.KeyID(keyID), zap.Int("wallets", len(k.Wallets)))
	return k, nil
}
