package domain

import (
	"errors"
	"fmt"
)

var (
	ErrKeyNotFound       = errors.New("wallet: key not found")
	ErrWalletNotFound    = errors.New("wallet: wallet not found")
	ErrRefreshInProgress = errors.New("wallet: refresh already in progress")
	ErrSyncInProgress    = errors.New("wallet: sync already in progress for key")
	ErrStaleUpdate       = errors.New("wallet: update older than current cache stamp")
	ErrInvalidArgument   = errors.New("wallet: invalid argument")
)

type DuplicateKeyError struct {
	KeyID string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("wallet: key %s already exists", e.KeyID)
}

// AssociationError 代币钱包的基础链钱包缺失，或该币种已经挂在基础链钱包下
type AssociationError struct {
	KeyID    string
	WalletID string // 基础链钱包
	Currency string
	Reason   string
}

func (e *AssociationError) Error() string {
	return fmt.Sprintf("wallet: token %s on %s/%s: %s", e.Currency, e.KeyID, e.WalletID, e.Reason)
}

type DuplicateWalletError struct {
	KeyID    string
	WalletID string
	Identity string
}

func (e *DuplicateWalletError) Error() string {
	if e.Identity != "" {
		return fmt.Sprintf("wallet: %s already holds %s", e.KeyID, e.Identity)
	}
	return fmt.Sprintf("wallet: %s already holds wallet %s", e.KeyID, e.WalletID)
}

// DecryptError 密码错误或密文损坏，两者对外不做区分
type DecryptError struct {
	Op  string
	Err error
}

func (e *DecryptError) Error() string {
	if e.Op == "" {
		return "wallet: decrypt failed"
	}
	return "wallet: decrypt failed: " + e.Op
}

func (e *DecryptError) Unwrap() error { return e.Err }

// SyncIntegrityError 重新派生的指纹和本地 key 不一致
type SyncIntegrityError struct {
	KeyID string
}

func (e *SyncIntegrityError) Error() string {
	return fmt.Sprintf("wallet: sync integrity check failed for key %s", e.KeyID)
}

type InvalidFeeLevelError struct {
	Level string
}

func (e *InvalidFeeLevelError) Error() string {
	return fmt.Sprintf("wallet: invalid fee level %q", e.Level)
}

// NetworkOrServerError 暂时性错误，调用方可以重试
type NetworkOrServerError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *NetworkOrServerError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("wallet: %s: server status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("wallet: %s: %v", e.Op, e.Err)
}

func (e *NetworkOrServerError) Unwrap() error   { return e.Err }
func (e *NetworkOrServerError) Temporary() bool { return true }

// PersistenceWriteError 快照写失败，不致命，下一次变更会重试
type PersistenceWriteError struct {
	Attempt uint64
	Err     error
}

func (e *PersistenceWriteError) Error() string {
	return fmt.Sprintf("wallet: persist snapshot (attempt %d): %v", e.Attempt, e.Err)
}

func (e *PersistenceWriteError) Unwrap() error { return e.Err }
