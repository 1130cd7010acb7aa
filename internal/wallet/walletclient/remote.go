package walletclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/encoding/json"
	"gopherwallet.com/internal/wallet/domain"
)

// StatusError 服务端明确拒绝（4xx），重试没有意义，不计入熔断
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("walletclient: %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

type HTTPConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// HTTPRemote 钱包服务的 JSON 客户端
type HTTPRemote struct {
	baseURL string
	client  *http.Client
}

func NewHTTPRemote(cfg HTTPConfig) *HTTPRemote {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &HTTPRemote{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

type remoteWallet struct {
	WalletID     string         `json:"walletId"`
	Coin         string         `json:"coin"`
	Network      domain.Network `json:"network"`
	Name         string         `json:"name,omitempty"`
	Address      string         `json:"address,omitempty"`
	TokenAddress string         `json:"tokenAddress,omitempty"`
	Complete     bool           `json:"complete"`
}

func (r remoteWallet) handle() WalletHandle {
	return WalletHandle{
		Wallet: domain.Wallet{
			ID:                   r.WalletID,
			CurrencyAbbreviation: strings.ToLower(r.Coin),
			Network:              r.Network,
			WalletName:           r.Name,
			ReceiveAddress:       r.Address,
			IsToken:              r.TokenAddress != "",
			TokenAddress:         r.TokenAddress,
		},
		Complete: r.Complete,
	}
}

type registerReq struct {
	FingerPrint   string `json:"fingerPrint"`
	RequestPubKey string `json:"requestPubKey,omitempty"`
	remoteWallet
}

func (h *HTTPRemote) RegisterWallet(ctx context.Context, kh KeyHandle, w domain.Wallet) (WalletHandle, error) {
	req := registerReq{
		FingerPrint:   kh.FingerPrint,
		RequestPubKey: kh.RequestPubKey,
		remoteWallet: remoteWallet{
			WalletID:     w.ID,
			Coin:         w.CurrencyAbbreviation,
			Network:      w.Network,
			Name:         w.WalletName,
			Address:      w.ReceiveAddress,
			TokenAddress: w.TokenAddress,
		},
	}
	var resp struct {
		Complete bool `json:"complete"`
	}
	if err := h.do(ctx, "register_wallet", http.MethodPost, "/v1/wallets", nil, req, &resp); err != nil {
		return WalletHandle{}, err
	}
	return WalletHandle{Wallet: w, Complete: resp.Complete}, nil
}

func (h *HTTPRemote) GetStatus(ctx context.Context, w domain.Wallet) (domain.Status, error) {
	q := url.Values{}
	q.Set("coin", w.CurrencyAbbreviation)
	q.Set("network", string(w.Network))
	if w.TokenAddress != "" {
		q.Set("tokenAddress", w.TokenAddress)
	}
	var st domain.Status
	err := h.do(ctx, "get_status", http.MethodGet, "/v1/wallets/"+url.PathEscape(w.ID)+"/status", q, nil, &st)
	return st, err
}

func (h *HTTPRemote) ServerAssistedImport(ctx context.Context, kh KeyHandle) ([]WalletHandle, error) {
	req := struct {
		FingerPrint   string `json:"fingerPrint"`
		RequestPubKey string `json:"requestPubKey"`
	}{kh.FingerPrint, kh.RequestPubKey}
	var resp struct {
		Wallets []remoteWallet `json:"wallets"`
	}
	if err := h.do(ctx, "server_assisted_import", http.MethodPost, "/v1/keys/import", nil, req, &resp); err != nil {
		return nil, err
	}
	out := make([]WalletHandle, 0, len(resp.Wallets))
	for _, w := range resp.Wallets {
		out = append(out, w.handle())
	}
	return out, nil
}

func (h *HTTPRemote) FetchRates(ctx context.Context, dr domain.DateRange) (domain.RatesResult, error) {
	q := url.Values{}
	q.Set("dateRange", strconv.Itoa(int(dr)))
	var res domain.RatesResult
	err := h.do(ctx, "fetch_rates", http.MethodGet, "/v1/rates", q, nil, &res)
	return res, err
}

// do 传输错误和 5xx 归为 NetworkOrServerError，4xx 是 StatusError
func (h *HTTPRemote) do(ctx context.Context, op, method, path string, q url.Values, body, out any) error {
	u := h.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return &domain.NetworkOrServerError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return &domain.NetworkOrServerError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return &domain.NetworkOrServerError{Op: op, StatusCode: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	case resp.StatusCode >= 400:
		return &StatusError{Op: op, StatusCode: resp.StatusCode, Body: truncate(string(data), 256)}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &domain.NetworkOrServerError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
