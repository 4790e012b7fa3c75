// Package tokengate はAuthorizationヘッダーのBearerトークンを検証し、
// リクエスト単位の認証済みアイデンティティを生成するゲートを提供する。
//
// ゲートはステートレスであり、検証鍵は生成時に一度だけ読み込む。
// 資格情報が無い場合や不正な場合でもエラーを返さず、型付きの Outcome として
// 結果を返す。リクエストを拒否するかどうかは下流の認可処理が判断する。
package tokengate
