// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// Bearerトークンゲートのパイプライン統合、認可（識別必須）チェック、
// リクエストログ、パニックリカバリ、CORS設定を含む。
package middleware
