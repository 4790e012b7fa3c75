// Package gateway はtokengateのHTTPサーバーを組み立てる。
//
// すべてのリクエストはTokenGateミドルウェアを通過し、有効なBearerトークンを
// 提示したリクエストにのみ認証済みユーザーが設定される。トークンのない
// リクエストや検証に失敗したリクエストは、ポリシーに応じて匿名として処理される。
package gateway
