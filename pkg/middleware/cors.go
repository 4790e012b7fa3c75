package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// corsHeaders は許可オリジンへのレスポンスに付与する固定ヘッダー。
// ブラウザからBearerトークンを送れるよう Authorization を許可し、
// 401の理由を読めるよう WWW-Authenticate を公開する。
var corsHeaders = map[string]string{
	"Access-Control-Allow-Methods":  "GET, POST, OPTIONS",
	"Access-Control-Allow-Headers":  "Authorization, Content-Type",
	"Access-Control-Expose-Headers": "WWW-Authenticate",
	"Access-Control-Max-Age":        "86400",
}

// normalizeOrigin は比較用にオリジンの末尾スラッシュを除き小文字化する。
func normalizeOrigin(origin string) string {
	return strings.ToLower(strings.TrimSuffix(strings.TrimSpace(origin), "/"))
}

// CORS は許可リストに含まれるオリジンにのみCORSヘッダーを返すGinミドルウェアを返す。
// プリフライトはTokenGateより前で204を返して終了する。
func CORS(allowedOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if n := normalizeOrigin(o); n != "" {
			allowed[n] = true
		}
	}

	return func(c *gin.Context) {
		c.Header("Vary", "Origin")

		if origin := c.GetHeader("Origin"); origin != "" && allowed[normalizeOrigin(origin)] {
			c.Header("Access-Control-Allow-Origin", origin)
			for k, v := range corsHeaders {
				c.Header(k, v)
			}
		}

		if isPreflight(c.Request) {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// isPreflight はCORSプリフライトリクエストかどうかを返す。
func isPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
}
