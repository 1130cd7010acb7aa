package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopherwallet.com/pkg/common"
	"gopherwallet.com/pkg/logger"
	"gopherwallet.com/pkg/xerr"
)

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestReqId(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ReqId())
	r.GET("/ping", func(c *gin.Context) {
		rid, _ := c.Request.Context().Value(logger.RequestIdKey).(string)
		c.String(http.StatusOK, rid)
	})

	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"沿用调用方 id", "cli-42.a_b", true},
		{"没带就生成", "", false},
		{"带换行重新生成", "x\ninjected", false},
		{"过长重新生成", strings.Repeat("a", 65), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ping", nil)
			if tt.incoming != "" {
				req.Header.Set(common.HeaderRequestID, tt.incoming)
			}
			w := serve(r, req)
			rid := w.Header().Get(common.HeaderRequestID)
			require.NotEmpty(t, rid)
			assert.Equal(t, rid, w.Body.String(), "context 里的 id 和响应头一致")
			if tt.keep {
				assert.Equal(t, tt.incoming, rid)
			} else {
				assert.NotEqual(t, tt.incoming, rid)
				assert.Len(t, rid, 36)
			}
		})
	}
}

func TestRecover(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ReqId(), Recover())
	r.GET("/v1/keys/:keyId", func(c *gin.Context) { panic("boom") })

	w := serve(r, httptest.NewRequest(http.MethodGet, "/v1/keys/k1", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), `"code":500`)
	assert.NotContains(t, w.Body.String(), "boom")
}

func TestSameOrigin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(SameOrigin([]string{"http://localhost:3000/", "*"}))
	r.POST("/v1/keys/:keyId/export", func(c *gin.Context) { c.String(http.StatusOK, "words") })

	tests := []struct {
		name   string
		origin string
		site   string
		status int
	}{
		{"本机客户端不带 Origin", "", "", http.StatusOK},
		{"白名单 origin", "http://localhost:3000", "", http.StatusOK},
		{"白名单大小写不敏感", "HTTP://LOCALHOST:3000", "", http.StatusOK},
		{"外站 origin", "https://evil.example", "", http.StatusForbidden},
		{"* 不当通配", "https://any.example", "", http.StatusForbidden},
		{"null origin", "null", "", http.StatusForbidden},
		{"只有 Sec-Fetch-Site", "", "cross-site", http.StatusForbidden},
		{"同站 Sec-Fetch-Site", "", "same-origin", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/keys/k1/export", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.site != "" {
				req.Header.Set("Sec-Fetch-Site", tt.site)
			}
			w := serve(r, req)
			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusForbidden {
				assert.NotContains(t, w.Body.String(), "words")
				assert.Contains(t, w.Body.String(), `"code":403`)
				assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
			}
		})
	}
	assert.Equal(t, http.StatusForbidden, xerr.HTTPStatus(xerr.Forbidden))
}
