package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RequestLogger はリクエストごとのアクセスログを出力するGinミドルウェアを返す。
// Authorizationヘッダーの値は出力しない。
func RequestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		entry := log.WithFields(logrus.Fields{
			"method":     c.Request.Method,
			"path":       path,
			"status":     status,
			"latency_ms": time.Since(start).Milliseconds(),
			"client_ip":  c.ClientIP(),
			"user_id":    GetUserID(c),
		})

		switch {
		case status >= 500:
			entry.Error("リクエスト処理完了（サーバーエラー）")
		case status >= 400:
			entry.Warn("リクエスト処理完了（クライアントエラー）")
		default:
			entry.Info("リクエスト処理完了")
		}
	}
}
