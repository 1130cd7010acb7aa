package engine

import (
	"errors"
)

type Config struct {
	MailboxSize int `mapstructure:"mailbox_size"` // 邮箱容量，满了 TryDo 直接拒绝
	BatchMax    int `mapstructure:"batch_max"`    // 一轮最多处理多少条
}

// 定义错误
var (
	ErrEngineBusy    = errors.New("engine busy: mailbox full")
	ErrEngineStopped = errors.New("engine stopped")
	ErrBadCommand    = errors.New("bad command")
)

// 命令类型
const (
	KindCreateKey          = "create_key"
	KindAddWallet          = "add_wallet"
	KindRenameKey          = "rename_key"
	KindRenameWallet       = "rename_wallet"
	KindBackupComplete     = "backup_complete"
	KindToggleHideWallet   = "toggle_hide_wallet"
	KindToggleHideBalance  = "toggle_hide_balance"
	KindSetReceiveAddress  = "set_receive_address"
	KindUpdateTxHistory    = "update_tx_history"
	KindBeginRefresh       = "begin_refresh"
	KindUpdateStatus       = "update_status"
	KindFailStatus         = "fail_status"
	KindSetPrivKeyEncrypt  = "set_priv_key_encryption"
	KindDeleteKey          = "delete_key"
	KindRollUpKeyBalance   = "roll_up_key_balance"
	KindMarkAllRefreshed   = "mark_all_refreshed"
	KindSetRates           = "set_rates"
	KindSetPriceHistory    = "set_price_history"
	KindSetTokenOptions    = "set_token_options"
	KindAddCustomTokens    = "add_custom_tokens"
	KindSetFeeLevel        = "set_fee_level"
	KindAcceptTerms        = "accept_terms"
	KindSetPreferences     = "set_preferences"
	KindMergeSyncedWallets = "merge_synced_wallets"
)
