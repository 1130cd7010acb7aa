package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopherwallet.com/internal/wallet/domain"
	"gopherwallet.com/internal/wallet/state"
)

// Command 每个变更操作一个变体，字段强类型，入队前 Validate。
// apply 只在引擎的单写协程里调用。
type Command interface {
	Kind() string
	Validate() error
	apply(s *state.State, now time.Time) (any, error)
}

func bad(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadCommand, fmt.Sprintf(format, args...))
}

func need(fields ...string) error {
	for i := 0; i+1 < len(fields); i += 2 {
		if strings.TrimSpace(fields[i+1]) == "" {
			return bad("%s required", fields[i])
		}
	}
	return nil
}

// ---------------------------------------------------------
// key
// ---------------------------------------------------------

type CreateKey struct {
	Key     domain.Key
	Wallets []domain.Wallet
}

func (CreateKey) Kind() string { return KindCreateKey }
func (c CreateKey) Validate() error {
	return need("key id", c.Key.ID, "fingerprint", c.Key.Properties.FingerPrint)
}
func (c CreateKey) apply(s *state.State, _ time.Time) (any, error) {
	return s.CreateKey(c.Key, c.Wallets)
}

type RenameKey struct {
	KeyID string
	Name  string
}

func (RenameKey) Kind() string      { return KindRenameKey }
func (c RenameKey) Validate() error { return need("key id", c.KeyID, "name", c.Name) }
func (c RenameKey) apply(s *state.State, _ time.Time) (any, error) {
	return nil, s.RenameKey(c.KeyID, c.Name)
}

type SetBackupComplete struct{ KeyID string }

func (SetBackupComplete) Kind() string      { return KindBackupComplete }
func (c SetBackupComplete) Validate() error { return need("key id", c.KeyID) }
func (c SetBackupComplete) apply(s *state.State, _ time.Time) (any, error) {
	return nil, s.SetBackupComplete(c.KeyID)
}

type SetPrivKeyEncryption struct {
	KeyID      string
	Encrypted  bool
	Properties domain.KeyProperties
}

func (SetPrivKeyEncryption) Kind() string { return KindSetPrivKeyEncrypt }
func (c SetPrivKeyEncryption) Validate() error {
	return need("key id", c.KeyID, "fingerprint", c.Properties.FingerPrint)
}
func (c SetPrivKeyEncryption) apply(s *state.State, _ time.Time) (any, error) {
	return nil, s.SetPrivKeyEncryption(c.KeyID, c.Encrypted, c.Properties)
}

type DeleteKey struct{ KeyID string }

func (DeleteKey) Kind() string      { return KindDeleteKey }
func (c DeleteKey) Validate() error { return need("key id", c.KeyID) }
func (c DeleteKey) apply(s *state.State, _ time.Time) (any, error) {
	return s.DeleteKey(c.KeyID)
}

// RollUpKeyBalance Complete=false 时只更新金额，不推进 key 的缓存时间
type RollUpKeyBalance struct {
	KeyID     string
	Total     decimal.Decimal
	LastDay   decimal.Decimal
	StartedAt time.Time
	Complete  bool
}

func (RollUpKeyBalance) Kind() string { return KindRollUpKeyBalance }
func (c RollUpKeyBalance) Validate() error {
	if err := need("key id", c.KeyID); err != nil {
		return err
	}
	if c.Total.IsNegative() || c.LastDay.IsNegative() {
		return bad("negative balance")
	}
	return nil
}
func (c RollUpKeyBalance) apply(s *state.State, now time.Time) (any, error) {
	return s.RollUpKeyBalance(c.KeyID, c.Total, c.LastDay, c.StartedAt, now, c.Complete)
}

type MarkAllRefreshed struct{ StartedAt time.Time }

func (MarkAllRefreshed) Kind() string    { return KindMarkAllRefreshed }
func (MarkAllRefreshed) Validate() error { return nil }
func (c MarkAllRefreshed) apply(s *state.State, now time.Time) (any, error) {
	return s.MarkAllRefreshed(c.StartedAt, now), nil
}

// ---------------------------------------------------------
// wallet
// ---------------------------------------------------------

type AddWallet struct {
	KeyID  string
	Wallet domain.Wallet
}

func (AddWallet) Kind() string { return KindAddWallet }
func (c AddWallet) Validate() error {
	if err := need("key id", c.KeyID, "wallet id", c.Wallet.ID, "currency", c.Wallet.CurrencyAbbreviation); err != nil {
		return err
	}
	if c.Wallet.IsToken && c.Wallet.AssociatedWalletID == "" {
		return bad("token wallet requires associated wallet")
	}
	return nil
}
func (c AddWallet) apply(s *state.State, _ time.Time) (any, error) {
	return s.AddWallet(c.KeyID, c.Wallet)
}

type RenameWallet struct {
	KeyID, WalletID, Name string
}

func (RenameWallet) Kind() string { return KindRenameWallet }
func (c RenameWallet) Validate() error {
	return need("key id", c.KeyID, "wallet id", c.WalletID, "name", c.Name)
}
func (c RenameWallet) apply(s *state.State, _ time.Time) (any, error) {
	return nil, s.RenameWallet(c.KeyID, c.WalletID, c.Name)
}

type ToggleHideWallet struct{ KeyID, WalletID string }

func (ToggleHideWallet) Kind() string      { return KindToggleHideWallet }
func (c ToggleHideWallet) Validate() error { return need("key id", c.KeyID, "wallet id", c.WalletID) }
func (c ToggleHideWallet) apply(s *state.State, _ time.Time) (any, error) {
	return s.ToggleHideWallet(c.KeyID, c.WalletID)
}

type ToggleHideBalance struct{ KeyID, WalletID string }

func (ToggleHideBalance) Kind() string      { return KindToggleHideBalance }
func (c ToggleHideBalance) Validate() error { return need("key id", c.KeyID, "wallet id", c.WalletID) }
func (c ToggleHideBalance) apply(s *state.State, _ time.Time) (any, error) {
	return s.ToggleHideBalance(c.KeyID, c.WalletID)
}

type SetReceiveAddress struct{ KeyID, WalletID, Address string }

func (SetReceiveAddress) Kind() string { return KindSetReceiveAddress }
func (c SetReceiveAddress) Validate() error {
	return need("key id", c.KeyID, "wallet id", c.WalletID, "address", c.Address)
}
func (c SetReceiveAddress) apply(s *state.State, _ time.Time) (any, error) {
	return nil, s.SetReceiveAddress(c.KeyID, c.WalletID, c.Address)
}

type UpdateTxHistory struct {
	KeyID, WalletID string
	History         domain.TxHistory
}

func (UpdateTxHistory) Kind() string      { return KindUpdateTxHistory }
func (c UpdateTxHistory) Validate() error { return need("key id", c.KeyID, "wallet id", c.WalletID) }
func (c UpdateTxHistory) apply(s *state.State, _ time.Time) (any, error) {
	return nil, s.UpdateTxHistory(c.KeyID, c.WalletID, c.History)
}

type BeginRefresh struct {
	KeyID, WalletID string
	StartedAt       time.Time
	Lease           time.Duration
}

func (BeginRefresh) Kind() string { return KindBeginRefresh }
func (c BeginRefresh) Validate() error {
	if c.StartedAt.IsZero() {
		return bad("started at required")
	}
	return need("key id", c.KeyID, "wallet id", c.WalletID)
}
func (c BeginRefresh) apply(s *state.State, _ time.Time) (any, error) {
	return nil, s.BeginWalletRefresh(c.KeyID, c.WalletID, c.StartedAt, c.Lease)
}

// UpdateStatus 结果是 bool：false 表示被更新的拉取覆盖，本次丢弃
type UpdateStatus struct {
	KeyID, WalletID string
	Status          domain.Status
	StartedAt       time.Time
}

func (UpdateStatus) Kind() string { return KindUpdateStatus }
func (c UpdateStatus) Validate() error {
	if c.StartedAt.IsZero() {
		return bad("started at required")
	}
	return need("key id", c.KeyID, "wallet id", c.WalletID)
}
func (c UpdateStatus) apply(s *state.State, now time.Time) (any, error) {
	return s.UpdateWalletStatus(c.KeyID, c.WalletID, c.Status, c.StartedAt, now)
}

type FailStatus struct {
	KeyID, WalletID string
	StartedAt       time.Time
}

func (FailStatus) Kind() string      { return KindFailStatus }
func (c FailStatus) Validate() error { return need("key id", c.KeyID, "wallet id", c.WalletID) }
func (c FailStatus) apply(s *state.State, _ time.Time) (any, error) {
	return nil, s.FailWalletStatus(c.KeyID, c.WalletID, c.StartedAt)
}

// MergeSyncedWallets 结果是实际新增的 []domain.Wallet
type MergeSyncedWallets struct {
	KeyID   string
	Wallets []domain.Wallet
}

func (MergeSyncedWallets) Kind() string      { return KindMergeSyncedWallets }
func (c MergeSyncedWallets) Validate() error { return need("key id", c.KeyID) }
func (c MergeSyncedWallets) apply(s *state.State, _ time.Time) (any, error) {
	return s.MergeSyncedWallets(c.KeyID, c.Wallets)
}

// ---------------------------------------------------------
// 汇率 / 目录 / 偏好
// ---------------------------------------------------------

type SetRates struct {
	DateRange domain.DateRange
	Result    domain.RatesResult
	StartedAt time.Time
}

func (SetRates) Kind() string { return KindSetRates }
func (c SetRates) Validate() error {
	if !c.DateRange.Valid() {
		return bad("date range %d", c.DateRange)
	}
	if c.StartedAt.IsZero() {
		return bad("started at required")
	}
	return nil
}
func (c SetRates) apply(s *state.State, now time.Time) (any, error) {
	return s.SetRates(c.DateRange, c.Result, c.StartedAt, now), nil
}

type SetPriceHistory struct{ History []domain.PriceHistory }

func (SetPriceHistory) Kind() string    { return KindSetPriceHistory }
func (SetPriceHistory) Validate() error { return nil }
func (c SetPriceHistory) apply(s *state.State, _ time.Time) (any, error) {
	s.SetPriceHistory(c.History)
	return nil, nil
}

type SetTokenOptions struct{ Tokens []domain.Token }

func (SetTokenOptions) Kind() string    { return KindSetTokenOptions }
func (SetTokenOptions) Validate() error { return nil }
func (c SetTokenOptions) apply(s *state.State, _ time.Time) (any, error) {
	s.SetTokenOptions(c.Tokens)
	return nil, nil
}

type AddCustomTokens struct{ Tokens []domain.Token }

func (AddCustomTokens) Kind() string { return KindAddCustomTokens }
func (c AddCustomTokens) Validate() error {
	for _, t := range c.Tokens {
		if err := need("token address", t.Address, "token symbol", t.Symbol); err != nil {
			return err
		}
	}
	return nil
}
func (c AddCustomTokens) apply(s *state.State, _ time.Time) (any, error) {
	s.AddCustomTokenOptions(c.Tokens...)
	return nil, nil
}

type SetFeeLevel struct {
	Currency string
	Level    domain.FeeLevel
}

func (SetFeeLevel) Kind() string { return KindSetFeeLevel }

// Validate 非法档位返回 InvalidFeeLevelError 而不是 ErrBadCommand，调用方要区分
func (c SetFeeLevel) Validate() error {
	if !c.Level.Valid() {
		return &domain.InvalidFeeLevelError{Level: string(c.Level)}
	}
	return need("currency", c.Currency)
}
func (c SetFeeLevel) apply(s *state.State, _ time.Time) (any, error) {
	return nil, s.SetFeeLevel(c.Currency, c.Level)
}

type AcceptTerms struct{}

func (AcceptTerms) Kind() string    { return KindAcceptTerms }
func (AcceptTerms) Validate() error { return nil }
func (AcceptTerms) apply(s *state.State, _ time.Time) (any, error) {
	s.SetWalletTermsAccepted()
	return nil, nil
}

type SetPreferences struct{ Preferences state.Preferences }

func (SetPreferences) Kind() string    { return KindSetPreferences }
func (SetPreferences) Validate() error { return nil }
func (c SetPreferences) apply(s *state.State, _ time.Time) (any, error) {
	s.SetPreferences(c.Preferences)
	return nil, nil
}
