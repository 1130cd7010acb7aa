package state

import (
	"fmt"
	"strings"
	"time"

	"gopherwallet.com/internal/wallet/cache"
	"gopherwallet.com/internal/wallet/domain"
)

// AddWallet 校验全部通过才写入。
// 代币钱包必须挂在同一个 key 下的基础链钱包上，且该币种在基础链钱包下还没有。
func (s *State) AddWallet(keyID string, w domain.Wallet) (domain.Wallet, error) {
	w, base, err := s.prepareWallet(keyID, w)
	if err != nil {
		return domain.Wallet{}, err
	}
	if base != nil {
		b := base.Clone()
		b.Tokens = append(b.Tokens, w.ID)
		s.putWallet(b)
	}
	s.putWallet(w)
	_ = s.updateKey(keyID, func(k *domain.Key) { k.Wallets = append(k.Wallets, w.ID) })
	return w.Clone(), nil
}

// CheckWallet 和 AddWallet 同样的校验，不写入。
// 调用方在向服务端登记钱包之前用它提前拒绝。
func (s *State) CheckWallet(keyID string, w domain.Wallet) error {
	_, _, err := s.prepareWallet(keyID, w)
	return err
}

// prepareWallet 代币先查关联：同一币种重复添加报 AssociationError，而不是 id 冲突
func (s *State) prepareWallet(keyID string, w domain.Wallet) (domain.Wallet, *domain.Wallet, error) {
	k, err := s.mustKey(keyID)
	if err != nil {
		return domain.Wallet{}, nil, err
	}
	if w.ID == "" || w.CurrencyAbbreviation == "" {
		return domain.Wallet{}, nil, fmt.Errorf("%w: wallet id and currency required", domain.ErrInvalidArgument)
	}
	w = w.Clone()
	w.KeyID = keyID
	w.CurrencyAbbreviation = strings.ToLower(w.CurrencyAbbreviation)
	w.IsRefreshing, w.RefreshStartedAt = false, 0
	if w.Network == "" {
		w.Network = domain.Mainnet
	}

	var base *domain.Wallet
	if w.IsToken {
		if base, err = s.checkAssociation(k, &w); err != nil {
			return domain.Wallet{}, nil, err
		}
		w.Tokens = nil
	}
	if err := s.checkUnique(k, &w); err != nil {
		return domain.Wallet{}, nil, err
	}
	return w, base, nil
}

// checkUnique 钱包 id 在 key 内唯一；有地址时 币种+网络+地址 也唯一
func (s *State) checkUnique(k *domain.Key, w *domain.Wallet) error {
	if k.HasWallet(w.ID) {
		return &domain.DuplicateWalletError{KeyID: k.ID, WalletID: w.ID}
	}
	if w.ReceiveAddress == "" {
		return nil
	}
	id := w.Identity()
	for _, wid := range k.Wallets {
		other, ok := s.wallets[ref(k.ID, wid)]
		if !ok || other.ReceiveAddress == "" {
			continue
		}
		if other.Identity() == id {
			return &domain.DuplicateWalletError{KeyID: k.ID, WalletID: other.ID, Identity: id}
		}
	}
	return nil
}

func (s *State) checkAssociation(k *domain.Key, w *domain.Wallet) (*domain.Wallet, error) {
	assocErr := func(reason string) error {
		return &domain.AssociationError{KeyID: k.ID, WalletID: w.AssociatedWalletID, Currency: w.CurrencyAbbreviation, Reason: reason}
	}
	if w.AssociatedWalletID == "" {
		return nil, assocErr("associated wallet required")
	}
	base, ok := s.wallets[ref(k.ID, w.AssociatedWalletID)]
	if !ok || !k.HasWallet(base.ID) {
		return nil, assocErr("associated wallet not found")
	}
	if base.IsToken {
		return nil, assocErr("associated wallet is a token")
	}
	if base.Network != w.Network {
		return nil, assocErr("network mismatch")
	}
	if s.baseHasCurrency(base, w.CurrencyAbbreviation) {
		return nil, assocErr("currency already added")
	}
	return base, nil
}

func (s *State) baseHasCurrency(base *domain.Wallet, currency string) bool {
	for _, tid := range base.Tokens {
		t, ok := s.wallets[ref(base.KeyID, tid)]
		if ok && strings.EqualFold(t.CurrencyAbbreviation, currency) {
			return true
		}
	}
	return false
}

func (s *State) RenameWallet(keyID, walletID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: empty wallet name", domain.ErrInvalidArgument)
	}
	return s.updateWallet(keyID, walletID, func(w *domain.Wallet) { w.WalletName = name })
}

// ToggleHideWallet 返回切换后的值
func (s *State) ToggleHideWallet(keyID, walletID string) (bool, error) {
	var v bool
	err := s.updateWallet(keyID, walletID, func(w *domain.Wallet) {
		w.HideWallet = !w.HideWallet
		v = w.HideWallet
	})
	return v, err
}

func (s *State) ToggleHideBalance(keyID, walletID string) (bool, error) {
	var v bool
	err := s.updateWallet(keyID, walletID, func(w *domain.Wallet) {
		w.HideBalance = !w.HideBalance
		v = w.HideBalance
	})
	return v, err
}

func (s *State) SetReceiveAddress(keyID, walletID, addr string) error {
	w, err := s.mustWallet(keyID, walletID)
	if err != nil {
		return err
	}
	candidate := w.Clone()
	candidate.ReceiveAddress = addr
	if addr != "" {
		id := candidate.Identity()
		for _, other := range s.Wallets(keyID) {
			if other.ID != walletID && other.ReceiveAddress != "" && other.Identity() == id {
				return &domain.DuplicateWalletError{KeyID: keyID, WalletID: other.ID, Identity: id}
			}
		}
	}
	return s.updateWallet(keyID, walletID, func(w *domain.Wallet) { w.ReceiveAddress = addr })
}

func (s *State) UpdateTxHistory(keyID, walletID string, h domain.TxHistory) error {
	h.Transactions = append([]domain.Transaction(nil), h.Transactions...)
	return s.updateWallet(keyID, walletID, func(w *domain.Wallet) { w.TransactionHistory = h })
}

// BeginWalletRefresh 打上 isRefreshing 租约。
// 同一个钱包已经在刷新且租约没过期时返回 ErrRefreshInProgress，调用方合并或放弃。
func (s *State) BeginWalletRefresh(keyID, walletID string, startedAt time.Time, lease time.Duration) error {
	w, err := s.mustWallet(keyID, walletID)
	if err != nil {
		return err
	}
	if w.IsRefreshing && (lease <= 0 || startedAt.UnixMilli()-w.RefreshStartedAt < lease.Milliseconds()) {
		return domain.ErrRefreshInProgress
	}
	return s.updateWallet(keyID, walletID, func(w *domain.Wallet) {
		w.IsRefreshing = true
		w.RefreshStartedAt = startedAt.UnixMilli()
	})
}

// UpdateWalletStatus 写入一次成功拉取的状态。
// startedAt 早于当前缓存记录时结果丢弃（返回 false），只释放自己持有的租约。
func (s *State) UpdateWalletStatus(keyID, walletID string, st domain.Status, startedAt, now time.Time) (bool, error) {
	w, err := s.mustWallet(keyID, walletID)
	if err != nil {
		return false, err
	}
	scope := cache.WalletScope(walletID)
	if !s.balanceCache.CanAdvance(scope, startedAt) {
		if w.IsRefreshing && w.RefreshStartedAt == startedAt.UnixMilli() {
			_ = s.updateWallet(keyID, walletID, clearRefreshing)
		}
		return false, nil
	}
	pending := append([]domain.PendingTx(nil), st.PendingTxs...)
	_ = s.updateWallet(keyID, walletID, func(w *domain.Wallet) {
		w.Balance = st.Balance
		w.PendingTxs = pending
		if w.RefreshStartedAt <= startedAt.UnixMilli() {
			clearRefreshing(w)
		}
	})
	s.balanceCache.Advance(scope, startedAt, now)
	return true, nil
}

// FailWalletStatus 拉取失败：余额和 pendingTxs 保持原样，只清 isRefreshing。
// startedAt 为零值时无条件清除。
func (s *State) FailWalletStatus(keyID, walletID string, startedAt time.Time) error {
	w, err := s.mustWallet(keyID, walletID)
	if err != nil {
		return err
	}
	if !w.IsRefreshing {
		return nil
	}
	if !startedAt.IsZero() && w.RefreshStartedAt > startedAt.UnixMilli() {
		// 更新的一次刷新还在进行
		return nil
	}
	return s.updateWallet(keyID, walletID, clearRefreshing)
}

func clearRefreshing(w *domain.Wallet) {
	w.IsRefreshing = false
	w.RefreshStartedAt = 0
}

// MergeSyncedWallets 同步结果合并：只追加，不改已有钱包（唯一例外是把新代币 id 挂到基础链钱包的 tokens）。
// 每个候选都按当前列表重新做差集和去重，晚到的并发同步不会重复插入。
// 缺少基础链钱包或币种已挂载的代币直接跳过。
func (s *State) MergeSyncedWallets(keyID string, incoming []domain.Wallet) ([]domain.Wallet, error) {
	if _, err := s.mustKey(keyID); err != nil {
		return nil, err
	}
	var added []domain.Wallet
	err := s.txn(func(tx *State) error {
		for _, w := range orderBaseFirst(incoming) {
			w.KeyID = keyID
			out, err := tx.AddWallet(keyID, w)
			if err != nil {
				if isSkippable(err) {
					continue
				}
				return err
			}
			added = append(added, out)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}

func isSkippable(err error) bool {
	switch err.(type) {
	case *domain.DuplicateWalletError, *domain.AssociationError:
		return true
	}
	return false
}

// orderBaseFirst 基础链钱包在前，代币在后，组内保持原顺序
func orderBaseFirst(ws []domain.Wallet) []domain.Wallet {
	out := make([]domain.Wallet, 0, len(ws))
	for _, w := range ws {
		if !w.IsToken {
			out = append(out, w)
		}
	}
	for _, w := range ws {
		if w.IsToken {
			out = append(out, w)
		}
	}
	return out
}
