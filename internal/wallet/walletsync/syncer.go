// Package walletsync 发现同一助记词在其他设备上创建的钱包并合并进本地。
//
// 一次同步：Idle -> Deriving -> Fetching -> Verifying -> {Merging -> Done} | Rejected | Failed。
// 不自动重试，调用方可以重新发起。
package walletsync

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gopherwallet.com/internal/wallet/currency"
	"gopherwallet.com/internal/wallet/domain"
	"gopherwallet.com/internal/wallet/engine"
	"gopherwallet.com/internal/wallet/walletclient"
	"gopherwallet.com/pkg/logger"
	"gopherwallet.com/pkg/metrics"
)

type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseDeriving  Phase = "deriving"
	PhaseFetching  Phase = "fetching"
	PhaseVerifying Phase = "verifying"
	PhaseMerging   Phase = "merging"
	PhaseDone      Phase = "done"
	PhaseRejected  Phase = "rejected"
	PhaseFailed    Phase = "failed"
)

type Report struct {
	KeyID   string          `json:"keyId"`
	Phase   Phase           `json:"phase"`
	Added   []domain.Wallet `json:"added"`
	Message string          `json:"message"`
}

// AlreadySynced 没有新钱包
func (r Report) AlreadySynced() bool { return r.Phase == PhaseDone && len(r.Added) == 0 }

func message(n int) string {
	switch n {
	case 0:
		return "Your key is already synced."
	case 1:
		return "1 wallet found."
	default:
		return fmt.Sprintf("%d wallets found.", n)
	}
}

type Syncer struct {
	eng     *engine.Engine
	client  walletclient.Client
	guard   Guard
	onPhase func(keyID string, p Phase)
}

type Option func(*Syncer)

// WithPhaseObserver 进度回调，在同步协程里同步调用，不要阻塞
func WithPhaseObserver(fn func(keyID string, p Phase)) Option {
	return func(s *Syncer) { s.onPhase = fn }
}

func New(eng *engine.Engine, client walletclient.Client, guard Guard, opts ...Option) *Syncer {
	if guard == nil {
		guard = NewLocalGuard()
	}
	s := &Syncer{eng: eng, client: client, guard: guard}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Syncer) phase(keyID string, p Phase) {
	if s.onPhase != nil {
		s.onPhase(keyID, p)
	}
}

// Sync 加密的 key 需要 password 才能取出助记词。
// 返回的 Report.Phase 是终态；Rejected / Failed 同时返回错误。
func (s *Syncer) Sync(ctx context.Context, keyID, password string) (Report, error) {
	rep := Report{KeyID: keyID, Phase: PhaseIdle}
	release, err := s.guard.Acquire(ctx, keyID)
	if err != nil {
		if errors.Is(err, domain.ErrSyncInProgress) {
			metrics.SyncOutcomes.WithLabelValues("busy").Inc()
		}
		return rep, err
	}
	defer release()

	rep, err = s.run(ctx, keyID, password)
	s.phase(keyID, rep.Phase)
	switch {
	case err == nil && len(rep.Added) == 0:
		metrics.SyncOutcomes.WithLabelValues("already_synced").Inc()
	case err == nil:
		metrics.SyncOutcomes.WithLabelValues("done").Inc()
		metrics.SyncWalletsMerged.Add(float64(len(rep.Added)))
	case rep.Phase == PhaseRejected:
		metrics.SyncOutcomes.WithLabelValues("rejected").Inc()
	default:
		metrics.SyncOutcomes.WithLabelValues("failed").Inc()
	}
	return rep, err
}

func (s *Syncer) run(ctx context.Context, keyID, password string) (Report, error) {
	rep := Report{KeyID: keyID}
	fail := func(p Phase, err error) (Report, error) {
		rep.Phase = p
		if p == PhaseRejected {
			logger.Warn(ctx, "wallet sync rejected", logger.KeyID(keyID), zap.Error(err))
		} else {
			logger.Warn(ctx, "wallet sync failed", logger.KeyID(keyID), zap.Error(err))
		}
		return rep, err
	}

	snap := s.eng.Snapshot()
	key, ok := snap.Key(keyID)
	if !ok {
		return fail(PhaseFailed, domain.ErrKeyNotFound)
	}

	// 1. 取出助记词重新派生
	s.phase(keyID, PhaseDeriving)
	words, err := s.client.ExportMnemonic(ctx, walletclient.HandleFromKey(key), password)
	if err != nil {
		return fail(PhaseFailed, err)
	}
	fresh, err := s.client.DeriveKey(ctx, strings.Join(words, " "), walletclient.KeyOptions{})
	clear(words)
	if err != nil {
		return fail(PhaseFailed, err)
	}

	// 2. 服务端按派生出来的 key 列钱包
	s.phase(keyID, PhaseFetching)
	remote, err := s.client.ServerAssistedImport(ctx, fresh)
	if err != nil {
		return fail(PhaseFailed, err)
	}

	// 3. 指纹不一致绝不合并
	s.phase(keyID, PhaseVerifying)
	if fresh.FingerPrint != key.Properties.FingerPrint {
		return fail(PhaseRejected, &domain.SyncIntegrityError{KeyID: keyID})
	}

	// 4. 只要开通完成且本地没有的
	s.phase(keyID, PhaseMerging)
	local := make(map[string]bool, len(key.Wallets))
	for _, id := range key.Wallets {
		local[id] = true
	}
	custom := snap.CustomTokenOptionsByAddress()
	candidates := make([]domain.Wallet, 0, len(remote))
	for _, h := range remote {
		if !h.IsComplete() || h.Wallet.ID == "" || local[h.Wallet.ID] {
			continue
		}
		// 5. 绑定到本地 key，补齐展示字段
		w := h.Wallet.Clone()
		w.KeyID = keyID
		w.IsRefreshing, w.RefreshStartedAt = false, 0
		candidates = append(candidates, currency.Hydrate(w, custom))
	}
	linkTokens(candidates, s.eng.Snapshot().Wallets(keyID), custom)

	// 6. 只追加；引擎里会按最新列表再做一次差集，并发的两次同步不会重复插入
	added, err := engine.Exec[[]domain.Wallet](ctx, s.eng, engine.MergeSyncedWallets{KeyID: keyID, Wallets: candidates})
	if err != nil {
		return fail(PhaseFailed, err)
	}
	rep.Phase = PhaseDone
	rep.Added = added
	rep.Message = message(len(added))
	logger.Info(ctx, "wallet sync done", logger.KeyID(keyID), zap.Int("remote", len(remote)), zap.Int("added", len(added)))
	return rep, nil
}

// linkTokens 服务端没给关联钱包的代币，挂到同网络下所在链的基础钱包上（本地优先）
func linkTokens(candidates, local []domain.Wallet, custom map[string]domain.Token) {
	bases := make(map[string]string)
	add := func(w domain.Wallet) {
		if w.IsToken {
			return
		}
		k := strings.ToLower(w.CurrencyAbbreviation) + "|" + string(w.Network)
		if _, ok := bases[k]; !ok {
			bases[k] = w.ID
		}
	}
	for _, w := range local {
		add(w)
	}
	for _, w := range candidates {
		add(w)
	}
	for i := range candidates {
		w := &candidates[i]
		if !w.IsToken || w.AssociatedWalletID != "" {
			continue
		}
		chain := "eth"
		if o, ok := currency.Resolve(w.CurrencyAbbreviation, w.TokenAddress, custom); ok && o.Chain != "" {
			chain = o.Chain
		}
		w.AssociatedWalletID = bases[chain+"|"+string(w.Network)]
	}
}
