package api

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/segmentio/encoding/json"
	"gopherwallet.com/internal/persist"
	"gopherwallet.com/internal/wallet/domain"
	"gopherwallet.com/internal/wallet/engine"
	"gopherwallet.com/internal/wallet/fee"
	"gopherwallet.com/internal/wallet/state"
	"gopherwallet.com/pkg/common"
	"gopherwallet.com/pkg/xerr"
)

// ---------------------------------------------------------
// 手续费档位
// ---------------------------------------------------------

type feeLevelReq struct {
	Level string `json:"level" binding:"required"`
}

func (h *Handler) FeeLevels(c *gin.Context) {
	common.Success(c, h.eng.Snapshot().FeeLevels())
}

func (h *Handler) GetFeeLevel(c *gin.Context) {
	common.Success(c, gin.H{"currency": c.Param("currency"), "level": h.eng.Snapshot().FeeLevel(c.Param("currency"))})
}

func (h *Handler) SetFeeLevel(c *gin.Context) {
	var req feeLevelReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	level, err := fee.ParseLevel(req.Level)
	if err != nil {
		fail(c, err)
		return
	}
	currency := c.Param("currency")
	if _, err := h.eng.TryDo(c.Request.Context(), engine.SetFeeLevel{Currency: currency, Level: level}); err != nil {
		fail(c, err)
		return
	}
	common.Success(c, gin.H{"currency": currency, "level": level})
}

// ---------------------------------------------------------
// 汇率
// ---------------------------------------------------------

type ratesResp struct {
	DateRange        domain.DateRange `json:"dateRange"`
	Rates            domain.Rates     `json:"rates"`
	LastDayRates     domain.Rates     `json:"lastDayRates"`
	RatesByDateRange domain.Rates     `json:"ratesByDateRange"`
}

type refreshRatesReq struct {
	DateRange domain.DateRange `json:"dateRange"`
	Force     bool             `json:"force"`
}

func dateRangeParam(c *gin.Context) (domain.DateRange, error) {
	s := c.Query("dateRange")
	if s == "" {
		return domain.DefaultDateRange, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || !domain.DateRange(n).Valid() {
		return 0, fmt.Errorf("%w: dateRange %q", domain.ErrInvalidArgument, s)
	}
	return domain.DateRange(n), nil
}

func (h *Handler) ratesResp(dr domain.DateRange) ratesResp {
	snap := h.eng.Snapshot()
	return ratesResp{
		DateRange:        dr,
		Rates:            snap.Rates(),
		LastDayRates:     snap.LastDayRates(),
		RatesByDateRange: snap.RatesByDateRange(dr),
	}
}

func (h *Handler) GetRates(c *gin.Context) {
	dr, err := dateRangeParam(c)
	if err != nil {
		fail(c, err)
		return
	}
	common.Success(c, h.ratesResp(dr))
}

func (h *Handler) RefreshRates(c *gin.Context) {
	var req refreshRatesReq
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, err)
		return
	}
	if req.DateRange == 0 {
		req.DateRange = domain.DefaultDateRange
	}
	if err := h.refresher.RefreshRates(c.Request.Context(), req.DateRange, req.Force); err != nil {
		fail(c, err)
		return
	}
	common.Success(c, h.ratesResp(req.DateRange))
}

// ---------------------------------------------------------
// 代币目录 / 偏好 / 条款
// ---------------------------------------------------------

type customTokensReq struct {
	Tokens []domain.Token `json:"tokens" binding:"required"`
}

func (h *Handler) CustomTokens(c *gin.Context) {
	common.Success(c, h.eng.Snapshot().CustomTokenOptionsByAddress())
}

func (h *Handler) AddCustomTokens(c *gin.Context) {
	var req customTokensReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if _, err := h.eng.TryDo(c.Request.Context(), engine.AddCustomTokens{Tokens: req.Tokens}); err != nil {
		fail(c, err)
		return
	}
	common.Success(c, h.eng.Snapshot().CustomTokenOptionsByAddress())
}

func (h *Handler) GetPreferences(c *gin.Context) {
	common.Success(c, h.eng.Snapshot().Preferences())
}

func (h *Handler) SetPreferences(c *gin.Context) {
	var req state.Preferences
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if _, err := h.eng.TryDo(c.Request.Context(), engine.SetPreferences{Preferences: req}); err != nil {
		fail(c, err)
		return
	}
	common.Success(c, req)
}

func (h *Handler) Terms(c *gin.Context) {
	common.Success(c, gin.H{"accepted": h.eng.Snapshot().TermsAccepted()})
}

func (h *Handler) AcceptTerms(c *gin.Context) {
	if _, err := h.eng.TryDo(c.Request.Context(), engine.AcceptTerms{}); err != nil {
		fail(c, err)
		return
	}
	common.Success(c, gin.H{"accepted": true})
}

// ---------------------------------------------------------
// 其他模块的持久化数据，原样存取
// ---------------------------------------------------------

func (h *Handler) GetSlice(c *gin.Context) {
	raw, ok := h.gateway.Slice(persist.Slice(c.Param("name")))
	if !ok {
		fail(c, xerr.New(xerr.RecordNotFound, "slice not found"))
		return
	}
	common.Success(c, json.RawMessage(raw))
}

func (h *Handler) PutSlice(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		badRequest(c, err)
		return
	}
	if err := h.gateway.SetSlice(persist.Slice(c.Param("name")), raw); err != nil {
		fail(c, err)
		return
	}
	common.Success(c, nil)
}
