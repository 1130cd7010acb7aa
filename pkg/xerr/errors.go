package xerr

import (
	"errors"
	"fmt"
	"net/http"
)

// 常用错误码定义
const (
	OK                 = 200
	ServerCommonError  = 500
	RequestParamsError = 400
	RecordNotFound     = 404
	Forbidden          = 403
	Conflict           = 409
	TooManyRequests    = 429
	ServiceUnavailable = 503
)

// 钱包业务码
const (
	WrongPassword     = 1001001
	DuplicateKey      = 1002001
	DuplicateWallet   = 1002002
	CurrencyLinked    = 1002003
	SyncFailed        = 1003001
	SyncInProgress    = 1003002
	InvalidFeeLevel   = 1004001
	NetworkOrServer   = 1005001
	RefreshInProgress = 1005002
	EngineBusy        = 1006001
)

type CodeError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	err  error
}

func (e *CodeError) Error() string {
	return fmt.Sprintf("ErrCode:%d, Msg:%s", e.Code, e.Msg)
}

func (e *CodeError) Unwrap() error { return e.err }

func New(code int, msg string) error {
	return &CodeError{Code: code, Msg: msg}
}

func NewErrCode(code int) error {
	return &CodeError{Code: code, Msg: MapErrMsg(code)}
}

// Wrap 保留原始错误用于日志，对外只暴露 code + msg
func Wrap(err error, code int, msg string) error {
	if err == nil {
		return nil
	}
	if msg == "" {
		msg = MapErrMsg(code)
	}
	return &CodeError{Code: code, Msg: msg, err: err}
}

// From 取出 CodeError，取不到就归为服务端错误
func From(err error) *CodeError {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce
	}
	return &CodeError{Code: ServerCommonError, Msg: MapErrMsg(ServerCommonError), err: err}
}

// 对外文案保持笼统，不透出密码学细节
func MapErrMsg(code int) string {
	switch code {
	case ServerCommonError:
		return "internal error"
	case RequestParamsError:
		return "invalid parameters"
	case RecordNotFound:
		return "record not found"
	case Forbidden:
		return "forbidden"
	case Conflict:
		return "conflict"
	case TooManyRequests:
		return "too many requests"
	case ServiceUnavailable:
		return "service unavailable"
	case WrongPassword:
		return "wrong password"
	case DuplicateKey:
		return "key already exists"
	case DuplicateWallet:
		return "wallet already exists"
	case CurrencyLinked:
		return "currency already added"
	case SyncFailed:
		return "failed to sync wallets"
	case SyncInProgress:
		return "sync already running"
	case InvalidFeeLevel:
		return "invalid fee level"
	case NetworkOrServer:
		return "network or server error, please retry"
	case RefreshInProgress:
		return "refresh already running"
	case EngineBusy:
		return "service busy"
	default:
		return "unknown error"
	}
}

// HTTPStatus 业务码对应的 http 状态
func HTTPStatus(code int) int {
	switch code {
	case RequestParamsError, InvalidFeeLevel:
		return http.StatusBadRequest
	case WrongPassword:
		return http.StatusUnauthorized
	case RecordNotFound:
		return http.StatusNotFound
	case Forbidden:
		return http.StatusForbidden
	case Conflict, DuplicateKey, DuplicateWallet, CurrencyLinked, SyncInProgress, RefreshInProgress, SyncFailed:
		return http.StatusConflict
	case EngineBusy, TooManyRequests:
		return http.StatusTooManyRequests
	case NetworkOrServer, ServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
