package api

import (
	"context"
	"errors"

	"gopherwallet.com/internal/wallet/domain"
	"gopherwallet.com/internal/wallet/engine"
	"gopherwallet.com/internal/wallet/walletclient"
	"gopherwallet.com/pkg/xerr"
)

// toCodeError 领域错误转成对外错误码，原始错误留在 Unwrap 链里给日志用
func toCodeError(err error) error {
	if err == nil {
		return nil
	}
	var ce *xerr.CodeError
	if errors.As(err, &ce) {
		return err
	}

	var (
		decErr   *domain.DecryptError
		dupKey   *domain.DuplicateKeyError
		dupWal   *domain.DuplicateWalletError
		assocErr *domain.AssociationError
		syncErr  *domain.SyncIntegrityError
		feeErr   *domain.InvalidFeeLevelError
		netErr   *domain.NetworkOrServerError
		status   *walletclient.StatusError
	)
	switch {
	case errors.As(err, &decErr):
		return xerr.Wrap(err, xerr.WrongPassword, "")
	case errors.As(err, &dupKey):
		return xerr.Wrap(err, xerr.DuplicateKey, "")
	case errors.As(err, &dupWal):
		return xerr.Wrap(err, xerr.DuplicateWallet, "")
	case errors.As(err, &assocErr):
		if assocErr.Reason == "currency already added" {
			return xerr.Wrap(err, xerr.CurrencyLinked, "")
		}
		return xerr.Wrap(err, xerr.RequestParamsError, "token wallet needs its base wallet")
	case errors.As(err, &syncErr):
		return xerr.Wrap(err, xerr.SyncFailed, "")
	case errors.Is(err, domain.ErrSyncInProgress):
		return xerr.Wrap(err, xerr.SyncInProgress, "")
	case errors.As(err, &feeErr):
		return xerr.Wrap(err, xerr.InvalidFeeLevel, "")
	case errors.As(err, &netErr):
		return xerr.Wrap(err, xerr.NetworkOrServer, "")
	case errors.As(err, &status):
		return xerr.Wrap(err, xerr.RequestParamsError, "rejected by wallet server")
	case errors.Is(err, domain.ErrRefreshInProgress):
		return xerr.Wrap(err, xerr.RefreshInProgress, "")
	case errors.Is(err, engine.ErrEngineBusy):
		return xerr.Wrap(err, xerr.EngineBusy, "")
	case errors.Is(err, engine.ErrEngineStopped), errors.Is(err, context.DeadlineExceeded):
		return xerr.Wrap(err, xerr.ServiceUnavailable, "")
	case errors.Is(err, domain.ErrKeyNotFound), errors.Is(err, domain.ErrWalletNotFound):
		return xerr.Wrap(err, xerr.RecordNotFound, "")
	case errors.Is(err, walletclient.ErrAlreadyEncrypted), errors.Is(err, walletclient.ErrNotEncrypted):
		return xerr.Wrap(err, xerr.Conflict, "")
	case errors.Is(err, domain.ErrInvalidArgument),
		errors.Is(err, engine.ErrBadCommand),
		errors.Is(err, walletclient.ErrUnknownCurrency):
		return xerr.Wrap(err, xerr.RequestParamsError, "")
	}
	return err
}
