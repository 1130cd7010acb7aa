package api

import (
	"github.com/gin-gonic/gin"
	"gopherwallet.com/internal/wallet/domain"
	"gopherwallet.com/internal/wallet/engine"
	"gopherwallet.com/internal/wallet/walletclient"
	"gopherwallet.com/pkg/common"
)

type addWalletReq struct {
	Currency           string `json:"currency" binding:"required"`
	Network            string `json:"network"`
	Account            uint32 `json:"account"`
	Name               string `json:"name"`
	TokenAddress       string `json:"tokenAddress"`
	AssociatedWalletID string `json:"associatedWalletId"`
	Password           string `json:"password"`
}

type addressReq struct {
	Address string `json:"address" binding:"required"`
}

func (h *Handler) walletResp(c *gin.Context) {
	w, ok := h.eng.Snapshot().Wallet(c.Param("keyId"), c.Param("walletId"))
	if !ok {
		fail(c, domain.ErrWalletNotFound)
		return
	}
	common.Success(c, w)
}

func (h *Handler) GetWallet(c *gin.Context) { h.walletResp(c) }

func (h *Handler) AddWallet(c *gin.Context) {
	var req addWalletReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	network, err := domain.ParseNetwork(req.Network)
	if err != nil {
		badRequest(c, err)
		return
	}
	w, err := h.keys.AddWallet(c.Request.Context(), c.Param("keyId"), req.Currency, walletclient.WalletOptions{
		Network:            network,
		Account:            req.Account,
		Name:               req.Name,
		TokenAddress:       req.TokenAddress,
		AssociatedWalletID: req.AssociatedWalletID,
		Password:           req.Password,
	})
	if err != nil {
		fail(c, err)
		return
	}
	common.Success(c, w)
}

func (h *Handler) RenameWallet(c *gin.Context) {
	var req nameReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	cmd := engine.RenameWallet{KeyID: c.Param("keyId"), WalletID: c.Param("walletId"), Name: req.Name}
	if _, err := h.eng.TryDo(c.Request.Context(), cmd); err != nil {
		fail(c, err)
		return
	}
	h.walletResp(c)
}

func (h *Handler) ToggleHideWallet(c *gin.Context) {
	hidden, err := engine.TryExec[bool](c.Request.Context(), h.eng,
		engine.ToggleHideWallet{KeyID: c.Param("keyId"), WalletID: c.Param("walletId")})
	if err != nil {
		fail(c, err)
		return
	}
	common.Success(c, gin.H{"hideWallet": hidden})
}

func (h *Handler) ToggleHideBalance(c *gin.Context) {
	hidden, err := engine.TryExec[bool](c.Request.Context(), h.eng,
		engine.ToggleHideBalance{KeyID: c.Param("keyId"), WalletID: c.Param("walletId")})
	if err != nil {
		fail(c, err)
		return
	}
	common.Success(c, gin.H{"hideBalance": hidden})
}

func (h *Handler) SetReceiveAddress(c *gin.Context) {
	var req addressReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	cmd := engine.SetReceiveAddress{KeyID: c.Param("keyId"), WalletID: c.Param("walletId"), Address: req.Address}
	if _, err := h.eng.TryDo(c.Request.Context(), cmd); err != nil {
		fail(c, err)
		return
	}
	h.walletResp(c)
}

// RefreshWallet 同一个钱包的并发刷新合并成一次拉取
func (h *Handler) RefreshWallet(c *gin.Context) {
	w, err := h.refresher.RefreshWallet(c.Request.Context(), c.Param("keyId"), c.Param("walletId"), forceParam(c))
	if err != nil {
		fail(c, err)
		return
	}
	common.Success(c, w)
}
