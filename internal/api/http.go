// Package api 本机钱包服务的 HTTP 接口
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	ginprom "github.com/zsais/go-gin-prometheus"
	"golang.org/x/time/rate"
	"gopherwallet.com/pkg/common"
	"gopherwallet.com/pkg/middleware"
	"gopherwallet.com/pkg/ratelimit"
)

type Config struct {
	Addr         string        `mapstructure:"addr"`
	RPS          float64       `mapstructure:"rps"` // 每个 ip + 路由
	Burst        int           `mapstructure:"burst"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// 允许调用的浏览器 origin，为空时只接受不带 Origin 的本机客户端
	CORSOrigins []string `mapstructure:"cors_origins"`
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:8470"
	}
	if c.RPS <= 0 {
		c.RPS = 50
	}
	if c.Burst <= 0 {
		c.Burst = 100
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	// 同步要走派生 + 服务端找回，比普通请求慢
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 60 * time.Second
	}
	// 不接受 *，只留完整 origin
	origins := c.CORSOrigins[:0:0]
	for _, o := range c.CORSOrigins {
		if o = strings.TrimRight(strings.ToLower(strings.TrimSpace(o)), "/"); o != "" && o != "*" {
			origins = append(origins, o)
		}
	}
	c.CORSOrigins = origins
	return c
}

// NewRouter ctx 结束时限流桶的回收协程退出
func NewRouter(ctx context.Context, cfg Config, h *Handler) *gin.Engine {
	cfg = cfg.withDefaults()
	store := ratelimit.NewStore(rate.Limit(cfg.RPS), cfg.Burst, 10*time.Minute)
	store.StartJanitor(ctx, time.Minute)

	r := gin.New()
	p := ginprom.NewPrometheus("gopherwallet")
	// 路由模板做 label，避免 key id 撑爆基数
	p.ReqCntURLLabelMappingFn = func(c *gin.Context) string {
		if route := c.FullPath(); route != "" {
			return route
		}
		return "unknown"
	}
	p.Use(r)
	r.Use(
		middleware.ReqId(),
		middleware.Recover(),
		// 助记词导出等接口不能让任意网页跨域读到
		middleware.SameOrigin(cfg.CORSOrigins),
	)
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:  cfg.CORSOrigins,
			AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
			AllowHeaders:  []string{"Origin", "Content-Type", common.HeaderRequestID},
			ExposeHeaders: []string{common.HeaderRequestID},
			MaxAge:        12 * time.Hour,
		}))
	}
	r.Use(middleware.RateLimit(store))
	v1 := r.Group("/v1")
	routes(v1, h)
	return r
}

func routes(v1 *gin.RouterGroup, h *Handler) {
	v1.GET("/portfolio", h.Portfolio)
	v1.POST("/refresh", h.RefreshAll)

	key := v1.Group("/keys")
	{
		key.GET("", h.ListKeys)
		key.POST("", h.CreateKey)
		key.POST("/import", h.ImportKey)
		key.GET("/:keyId", h.GetKey)
		key.DELETE("/:keyId", h.DeleteKey)
		key.PUT("/:keyId/name", h.RenameKey)
		key.POST("/:keyId/backup", h.BackupComplete)
		key.POST("/:keyId/encrypt", h.EncryptKey)
		key.POST("/:keyId/decrypt", h.DecryptKey)
		key.POST("/:keyId/export", h.ExportMnemonic)
		key.POST("/:keyId/sync", h.SyncKey)
		key.POST("/:keyId/refresh", h.RefreshKey)

		key.POST("/:keyId/wallets", h.AddWallet)
		key.GET("/:keyId/wallets/:walletId", h.GetWallet)
		key.PUT("/:keyId/wallets/:walletId/name", h.RenameWallet)
		key.POST("/:keyId/wallets/:walletId/hide", h.ToggleHideWallet)
		key.POST("/:keyId/wallets/:walletId/hide-balance", h.ToggleHideBalance)
		key.PUT("/:keyId/wallets/:walletId/receive-address", h.SetReceiveAddress)
		key.POST("/:keyId/wallets/:walletId/refresh", h.RefreshWallet)
	}

	fees := v1.Group("/fee-levels")
	{
		fees.GET("", h.FeeLevels)
		fees.GET("/:currency", h.GetFeeLevel)
		fees.PUT("/:currency", h.SetFeeLevel)
	}

	v1.GET("/rates", h.GetRates)
	v1.POST("/rates/refresh", h.RefreshRates)
	v1.GET("/tokens/custom", h.CustomTokens)
	v1.POST("/tokens/custom", h.AddCustomTokens)
	v1.GET("/preferences", h.GetPreferences)
	v1.PUT("/preferences", h.SetPreferences)
	v1.GET("/terms", h.Terms)
	v1.POST("/terms/accept", h.AcceptTerms)
	v1.GET("/slices/:name", h.GetSlice)
	v1.PUT("/slices/:name", h.PutSlice)
}

func NewServer(ctx context.Context, cfg Config, h *Handler) *http.Server {
	cfg = cfg.withDefaults()
	return &http.Server{
		Addr:           cfg.Addr,
		Handler:        NewRouter(ctx, cfg, h),
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}
}
