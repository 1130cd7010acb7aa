package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type Network string

const (
	Mainnet Network = "livenet"
	Testnet Network = "testnet"
)

func ParseNetwork(s string) (Network, error) {
	switch strings.ToLower(s) {
	case "", "livenet", "mainnet":
		return Mainnet, nil
	case "testnet":
		return Testnet, nil
	default:
		return "", fmt.Errorf("unknown network %q", s)
	}
}

type Balance struct {
	Sat          int64           `json:"sat"`
	SatConfirmed int64           `json:"satConfirmed"`
	SatAvailable int64           `json:"satAvailable"`
	Fiat         decimal.Decimal `json:"fiat"`
	FiatLastDay  decimal.Decimal `json:"fiatLastDay"`
}

type PendingTx struct {
	TxID      string `json:"txid"`
	Amount    int64  `json:"amount"`
	CreatedOn int64  `json:"createdOn"`
	Message   string `json:"message,omitempty"`
}

type Transaction struct {
	TxID   string `json:"txid"`
	Action string `json:"action"` // sent / received / moved
	Amount int64  `json:"amount"`
	Fees   int64  `json:"fees"`
	Time   int64  `json:"time"`
}

type TxHistory struct {
	Transactions []Transaction `json:"transactions"`
	LoadMore     bool          `json:"loadMore"`
}

// Status 一次状态查询的结果
type Status struct {
	Balance    Balance     `json:"balance"`
	PendingTxs []PendingTx `json:"pendingTxps"`
}

// Wallet 某个 Key 下的一个币种或代币实例。
// IsRefreshing / RefreshStartedAt 是运行期字段，不落盘。
type Wallet struct {
	ID                   string      `json:"id"`
	KeyID                string      `json:"keyId"`
	CurrencyAbbreviation string      `json:"currencyAbbreviation"`
	CurrencyName         string      `json:"currencyName"`
	Img                  string      `json:"img"`
	Network              Network     `json:"network"`
	WalletName           string      `json:"walletName"`
	ReceiveAddress       string      `json:"receiveAddress"`
	Balance              Balance     `json:"balance"`
	PendingTxs           []PendingTx `json:"pendingTxps"`
	TransactionHistory   TxHistory   `json:"transactionHistory"`
	HideWallet           bool        `json:"hideWallet"`
	HideBalance          bool        `json:"hideBalance"`
	Tokens               []string    `json:"tokens,omitempty"` // 基础链钱包持有的代币钱包 ID
	IsToken              bool        `json:"isToken"`
	TokenAddress         string      `json:"tokenAddress,omitempty"`
	AssociatedWalletID   string      `json:"associatedWalletId,omitempty"`
	Decimals             int32       `json:"decimals"`

	IsRefreshing     bool  `json:"-"`
	RefreshStartedAt int64 `json:"-"` // unix ms
}

// Clone 深拷贝切片，保证写时复制后旧快照不受影响
func (w Wallet) Clone() Wallet {
	w.PendingTxs = append([]PendingTx(nil), w.PendingTxs...)
	w.TransactionHistory.Transactions = append([]Transaction(nil), w.TransactionHistory.Transactions...)
	w.Tokens = append([]string(nil), w.Tokens...)
	return w
}

// Identity 币种 + 网络 + 地址，同一个 key 内唯一
func (w *Wallet) Identity() string {
	return strings.ToLower(w.CurrencyAbbreviation) + "|" + string(w.Network) + "|" + strings.ToLower(w.ReceiveAddress)
}

func (w *Wallet) HasToken(walletID string) bool {
	for _, id := range w.Tokens {
		if id == walletID {
			return true
		}
	}
	return false
}
