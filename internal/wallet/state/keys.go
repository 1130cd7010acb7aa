package state

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopherwallet.com/internal/wallet/cache"
	"gopherwallet.com/internal/wallet/domain"
)

// CreateKey 新建或导入 key，可以带上初始钱包；任何一个钱包不合法整个操作失败
func (s *State) CreateKey(key domain.Key, wallets []domain.Wallet) (domain.Key, error) {
	if key.ID == "" || key.Properties.FingerPrint == "" {
		return domain.Key{}, fmt.Errorf("%w: key id and fingerprint required", domain.ErrInvalidArgument)
	}
	if _, ok := s.keys[key.ID]; ok {
		return domain.Key{}, &domain.DuplicateKeyError{KeyID: key.ID}
	}
	for _, k := range s.keys {
		if k.Properties.FingerPrint == key.Properties.FingerPrint {
			return domain.Key{}, &domain.DuplicateKeyError{KeyID: k.ID}
		}
	}

	err := s.txn(func(tx *State) error {
		k := key
		k.Wallets = nil
		k.Properties = key.Properties.Clone()
		if k.TotalBalance.IsZero() {
			k.TotalBalance = decimal.Zero
		}
		tx.putKey(k)
		// 基础链钱包先加，代币才能找到关联钱包
		for _, w := range orderBaseFirst(wallets) {
			if _, err := tx.AddWallet(k.ID, w); err != nil {
				return err
			}
		}
		tx.recomputePortfolio()
		return nil
	})
	if err != nil {
		return domain.Key{}, err
	}
	out, _ := s.Key(key.ID)
	return out, nil
}

func (s *State) RenameKey(keyID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: empty key name", domain.ErrInvalidArgument)
	}
	return s.updateKey(keyID, func(k *domain.Key) { k.KeyName = name })
}

// SetBackupComplete 单向标记，重复调用无副作用
func (s *State) SetBackupComplete(keyID string) error {
	return s.updateKey(keyID, func(k *domain.Key) { k.BackupComplete = true })
}

// SetPrivKeyEncryption 钱包客户端确认加解密往返成功后才调用。
// 指纹决定了 key 的身份，新的 properties 指纹必须一致。
func (s *State) SetPrivKeyEncryption(keyID string, encrypted bool, props domain.KeyProperties) error {
	k, err := s.mustKey(keyID)
	if err != nil {
		return err
	}
	if props.FingerPrint != k.Properties.FingerPrint {
		return fmt.Errorf("%w: fingerprint changed on re-encryption", domain.ErrInvalidArgument)
	}
	if props.Encrypted != encrypted {
		return fmt.Errorf("%w: properties encryption flag mismatch", domain.ErrInvalidArgument)
	}
	return s.updateKey(keyID, func(k *domain.Key) {
		k.IsPrivKeyEncrypted = encrypted
		k.Properties = props.Clone()
	})
}

// DeleteKey 级联删除钱包和缓存记录。
// 组合余额只减去这个 key 最后一次汇总的值，不重新拉取（近似值），结果不小于 0。
func (s *State) DeleteKey(keyID string) (domain.Key, error) {
	k, err := s.mustKey(keyID)
	if err != nil {
		return domain.Key{}, err
	}
	removed := cloneKey(k)
	err = s.txn(func(tx *State) error {
		scopes := []cache.Scope{cache.KeyScope(keyID)}
		for _, wid := range k.Wallets {
			delete(tx.wallets, ref(keyID, wid))
			scopes = append(scopes, cache.WalletScope(wid))
		}
		tx.balanceCache.Delete(scopes...)
		delete(tx.keys, keyID)
		order := make([]string, 0, len(tx.keyOrder))
		for _, id := range tx.keyOrder {
			if id != keyID {
				order = append(order, id)
			}
		}
		tx.keyOrder = order

		prev := tx.portfolio
		tx.portfolio = domain.PortfolioBalance{
			Current:  nonNegative(prev.Current.Sub(removed.TotalBalance)),
			LastDay:  nonNegative(prev.LastDay.Sub(removed.TotalBalanceLastDay)),
			Previous: prev.Current,
		}
		return nil
	})
	if err != nil {
		return domain.Key{}, err
	}
	return removed, nil
}

// RollUpKeyBalance 外部汇总器算好的 key 总额。
// complete=false 表示有钱包刷新失败，只更新金额不推进 key 的缓存时间。
// 返回 false 表示有更新的汇总已经写入，本次丢弃。
func (s *State) RollUpKeyBalance(keyID string, total, lastDay decimal.Decimal, startedAt, now time.Time, complete bool) (bool, error) {
	if _, err := s.mustKey(keyID); err != nil {
		return false, err
	}
	if total.IsNegative() || lastDay.IsNegative() {
		return false, fmt.Errorf("%w: negative balance", domain.ErrInvalidArgument)
	}
	scope := cache.KeyScope(keyID)
	if !s.balanceCache.CanAdvance(scope, startedAt) {
		return false, nil
	}
	_ = s.updateKey(keyID, func(k *domain.Key) {
		k.TotalBalance = total
		k.TotalBalanceLastDay = lastDay
	})
	if complete {
		s.balanceCache.Advance(scope, startedAt, now)
	}
	s.recomputePortfolio()
	return true, nil
}

// MarkAllRefreshed 全量刷新成功后推进 "all"
func (s *State) MarkAllRefreshed(startedAt, now time.Time) bool {
	return s.balanceCache.Advance(cache.ScopeAll, startedAt, now)
}

func nonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
