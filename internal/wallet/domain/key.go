package domain

import (
	"github.com/shopspring/decimal"
)

// Key 一个助记词派生出来的根身份，ID 来自指纹，创建后不可变
type Key struct {
	ID                  string          `json:"id"`
	KeyName             string          `json:"keyName"`
	IsPrivKeyEncrypted  bool            `json:"isPrivKeyEncrypted"`
	Properties          KeyProperties   `json:"properties"`
	Wallets             []string        `json:"wallets"` // 有序的 Wallet.ID
	TotalBalance        decimal.Decimal `json:"totalBalance"`
	TotalBalanceLastDay decimal.Decimal `json:"totalBalanceLastDay"`
	BackupComplete      bool            `json:"backupComplete"`
}

// KeyProperties 钱包客户端序列化出来的 key 引用。
// Blob 对本模块不透明，永远不是明文助记词。
type KeyProperties struct {
	FingerPrint string `json:"fingerPrint"`
	Version     int    `json:"version"`
	Encrypted   bool   `json:"encrypted"`
	Blob        []byte `json:"blob"`
}

// HasWallet 线性查找足够，单个 key 下钱包数量很少
func (k *Key) HasWallet(walletID string) bool {
	for _, id := range k.Wallets {
		if id == walletID {
			return true
		}
	}
	return false
}

func (p KeyProperties) Clone() KeyProperties {
	p.Blob = append([]byte(nil), p.Blob...)
	return p
}

// PortfolioBalance 派生值，只能通过 key 的汇总重算
type PortfolioBalance struct {
	Current  decimal.Decimal `json:"current"`
	LastDay  decimal.Decimal `json:"lastDay"`
	Previous decimal.Decimal `json:"previous"`
}
