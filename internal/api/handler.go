package api

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gopherwallet.com/internal/persist"
	"gopherwallet.com/internal/wallet/domain"
	"gopherwallet.com/internal/wallet/engine"
	"gopherwallet.com/internal/wallet/keys"
	"gopherwallet.com/internal/wallet/refresh"
	"gopherwallet.com/internal/wallet/walletsync"
	"gopherwallet.com/pkg/common"
	"gopherwallet.com/pkg/xerr"
)

// Handler 读走快照，写走引擎
type Handler struct {
	eng       *engine.Engine
	keys      *keys.Service
	syncer    *walletsync.Syncer
	refresher *refresh.Refresher
	gateway   *persist.Gateway
}

func NewHandler(eng *engine.Engine, ks *keys.Service, syncer *walletsync.Syncer, r *refresh.Refresher, g *persist.Gateway) *Handler {
	return &Handler{eng: eng, keys: ks, syncer: syncer, refresher: r, gateway: g}
}

func fail(c *gin.Context, err error) {
	common.FailErr(c, toCodeError(err))
}

func badRequest(c *gin.Context, err error) {
	common.FailErr(c, xerr.Wrap(err, xerr.RequestParamsError, ""))
}

func forceParam(c *gin.Context) bool {
	f, _ := strconv.ParseBool(c.Query("force"))
	return f
}

// keyView 对外不返回加密后的助记词
type keyView struct {
	ID                  string          `json:"id"`
	KeyName             string          `json:"keyName"`
	FingerPrint         string          `json:"fingerPrint"`
	IsPrivKeyEncrypted  bool            `json:"isPrivKeyEncrypted"`
	BackupComplete      bool            `json:"backupComplete"`
	TotalBalance        decimal.Decimal `json:"totalBalance"`
	TotalBalanceLastDay decimal.Decimal `json:"totalBalanceLastDay"`
	Wallets             []domain.Wallet `json:"wallets,omitempty"`
}

func newKeyView(k domain.Key, wallets []domain.Wallet) keyView {
	return keyView{
		ID:                  k.ID,
		KeyName:             k.KeyName,
		FingerPrint:         k.Properties.FingerPrint,
		IsPrivKeyEncrypted:  k.IsPrivKeyEncrypted,
		BackupComplete:      k.BackupComplete,
		TotalBalance:        k.TotalBalance,
		TotalBalanceLastDay: k.TotalBalanceLastDay,
		Wallets:             wallets,
	}
}

type portfolioResp struct {
	Portfolio domain.PortfolioBalance `json:"portfolio"`
	Keys      []keyView               `json:"keys"`
}

func (h *Handler) Portfolio(c *gin.Context) {
	snap := h.eng.Snapshot()
	ks := snap.Keys()
	resp := portfolioResp{Portfolio: snap.Portfolio(), Keys: make([]keyView, 0, len(ks))}
	for _, k := range ks {
		resp.Keys = append(resp.Keys, newKeyView(k, nil))
	}
	common.Success(c, resp)
}

// RefreshAll 所有 key 的余额
func (h *Handler) RefreshAll(c *gin.Context) {
	if err := h.refresher.RefreshAll(c.Request.Context(), forceParam(c)); err != nil {
		fail(c, err)
		return
	}
	common.Success(c, h.eng.Snapshot().Portfolio())
}
