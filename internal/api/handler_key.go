package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"gopherwallet.com/internal/wallet/domain"
	"gopherwallet.com/internal/wallet/engine"
	"gopherwallet.com/internal/wallet/keys"
	"gopherwallet.com/internal/wallet/walletsync"
	"gopherwallet.com/pkg/common"
)

type createKeyReq struct {
	Name       string   `json:"name"`
	Password   string   `json:"password"`
	Currencies []string `json:"currencies"`
	Network    string   `json:"network"`
}

func (r createKeyReq) options() (keys.CreateOptions, error) {
	network, err := domain.ParseNetwork(r.Network)
	if err != nil {
		return keys.CreateOptions{}, err
	}
	return keys.CreateOptions{Name: r.Name, Password: r.Password, Currencies: r.Currencies, Network: network}, nil
}

type importKeyReq struct {
	createKeyReq
	Mnemonic string `json:"mnemonic" binding:"required"`
	// Sync 导入后再向服务端找回这把 key 下已有的钱包
	Sync bool `json:"sync"`
}

type passwordReq struct {
	Password string `json:"password"`
}

type nameReq struct {
	Name string `json:"name" binding:"required"`
}

type syncResp struct {
	Phase         walletsync.Phase `json:"phase"`
	Message       string           `json:"message"`
	AlreadySynced bool             `json:"alreadySynced"`
	Added         []domain.Wallet  `json:"added"`
}

func newSyncResp(r walletsync.Report) syncResp {
	added := r.Added
	if added == nil {
		added = []domain.Wallet{}
	}
	return syncResp{Phase: r.Phase, Message: r.Message, AlreadySynced: r.AlreadySynced(), Added: added}
}

func (h *Handler) keyResp(keyID string) (keyView, bool) {
	snap := h.eng.Snapshot()
	k, ok := snap.Key(keyID)
	if !ok {
		return keyView{}, false
	}
	return newKeyView(k, snap.Wallets(keyID)), true
}

func (h *Handler) ListKeys(c *gin.Context) {
	ks := h.eng.Snapshot().Keys()
	out := make([]keyView, 0, len(ks))
	for _, k := range ks {
		out = append(out, newKeyView(k, nil))
	}
	common.Success(c, out)
}

func (h *Handler) GetKey(c *gin.Context) {
	v, ok := h.keyResp(c.Param("keyId"))
	if !ok {
		fail(c, domain.ErrKeyNotFound)
		return
	}
	common.Success(c, v)
}

func (h *Handler) CreateKey(c *gin.Context) {
	var req createKeyReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	opts, err := req.options()
	if err != nil {
		badRequest(c, err)
		return
	}
	k, err := h.keys.Create(c.Request.Context(), opts)
	if err != nil {
		fail(c, err)
		return
	}
	v, _ := h.keyResp(k.ID)
	common.Success(c, v)
}

func (h *Handler) ImportKey(c *gin.Context) {
	var req importKeyReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	opts, err := req.options()
	if err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	k, err := h.keys.Import(ctx, req.Mnemonic, opts)
	if err != nil {
		fail(c, err)
		return
	}
	if req.Sync {
		// key 已经建好，同步失败只影响找回的钱包
		if _, err := h.syncer.Sync(ctx, k.ID, req.Password); err != nil {
			fail(c, err)
			return
		}
	}
	v, _ := h.keyResp(k.ID)
	common.Success(c, v)
}

func (h *Handler) DeleteKey(c *gin.Context) {
	k, err := h.keys.Delete(c.Request.Context(), c.Param("keyId"))
	if err != nil {
		fail(c, err)
		return
	}
	common.Success(c, newKeyView(k, nil))
}

func (h *Handler) RenameKey(c *gin.Context) {
	var req nameReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	keyID := c.Param("keyId")
	if _, err := h.eng.TryDo(c.Request.Context(), engine.RenameKey{KeyID: keyID, Name: req.Name}); err != nil {
		fail(c, err)
		return
	}
	v, _ := h.keyResp(keyID)
	common.Success(c, v)
}

func (h *Handler) BackupComplete(c *gin.Context) {
	keyID := c.Param("keyId")
	if _, err := h.eng.TryDo(c.Request.Context(), engine.SetBackupComplete{KeyID: keyID}); err != nil {
		fail(c, err)
		return
	}
	v, _ := h.keyResp(keyID)
	common.Success(c, v)
}

func (h *Handler) EncryptKey(c *gin.Context) {
	h.setEncryption(c, h.keys.Encrypt)
}

func (h *Handler) DecryptKey(c *gin.Context) {
	h.setEncryption(c, h.keys.Decrypt)
}

func (h *Handler) setEncryption(c *gin.Context, fn func(ctx context.Context, keyID, password string) error) {
	var req passwordReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	keyID := c.Param("keyId")
	if err := fn(c.Request.Context(), keyID, req.Password); err != nil {
		fail(c, err)
		return
	}
	v, _ := h.keyResp(keyID)
	common.Success(c, v)
}

// ExportMnemonic 只在本机接口上开放
func (h *Handler) ExportMnemonic(c *gin.Context) {
	var req passwordReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	words, err := h.keys.ExportMnemonic(c.Request.Context(), c.Param("keyId"), req.Password)
	if err != nil {
		fail(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	common.Success(c, gin.H{"words": words})
}

func (h *Handler) SyncKey(c *gin.Context) {
	var req passwordReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	report, err := h.syncer.Sync(c.Request.Context(), c.Param("keyId"), req.Password)
	if err != nil {
		fail(c, err)
		return
	}
	common.Success(c, newSyncResp(report))
}

func (h *Handler) RefreshKey(c *gin.Context) {
	k, err := h.refresher.RefreshKey(c.Request.Context(), c.Param("keyId"), forceParam(c))
	if err != nil {
		fail(c, err)
		return
	}
	v, _ := h.keyResp(k.ID)
	common.Success(c, v)
}
