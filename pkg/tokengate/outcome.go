package tokengate

import "fmt"

// Status は認証処理の結果種別を表す。
type Status int

const (
	// StatusNoCredential はBearerトークンが提示されなかったことを表す。
	StatusNoCredential Status = iota
	// StatusAuthenticated はトークンの検証に成功したことを表す。
	StatusAuthenticated
	// StatusInvalid はトークンが提示されたが検証に失敗したことを表す。
	StatusInvalid
)

// String はメトリクスやログで使用する状態名を返す。
func (s Status) String() string {
	switch s {
	case StatusNoCredential:
		return "no_credential"
	case StatusAuthenticated:
		return "authenticated"
	case StatusInvalid:
		return "invalid"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Reason は検証失敗の理由を表す。値はログとメトリクスのラベルとして安定している。
type Reason string

const (
	// ReasonMalformed はトークンが3つのセグメントに分解できないことを表す。
	ReasonMalformed Reason = "malformed"
	// ReasonSignatureInvalid は署名が検証鍵で検証できないことを表す。
	// 許可されていない署名アルゴリズムもここに含める。
	ReasonSignatureInvalid Reason = "signature_invalid"
	// ReasonExpired は exp クレームの時刻を過ぎていることを表す。
	ReasonExpired Reason = "expired"
	// ReasonClaimMissing は必須クレームが存在しないことを表す。
	ReasonClaimMissing Reason = "claim_missing"
	// ReasonClaimInvalid はクレームの型や形式が不正であることを表す。
	ReasonClaimInvalid Reason = "claim_invalid"
	// ReasonUserInactive はユーザーディレクトリ上で無効なユーザーであることを表す。
	// ゲート自身は返さず、ディレクトリ照合を行う統合層が使用する。
	ReasonUserInactive Reason = "user_inactive"
	// ReasonUserCheckFailed はユーザーディレクトリとの照合自体が失敗したことを表す。
	// トークンは検証済みだが、ユーザーの有効性を確認できていない。
	ReasonUserCheckFailed Reason = "user_check_failed"
)

// Error は検証失敗の理由と、原因となったエラーを保持する。
type Error struct {
	// Reason は失敗理由。
	Reason Reason
	// Err はJWTライブラリ等から返された元のエラー。
	Err error
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

// Unwrap は元のエラーを返す。
func (e *Error) Unwrap() error {
	return e.Err
}

// Outcome は Authenticate の結果を表す。
// Identity は Status が StatusAuthenticated の場合のみ有効。
type Outcome struct {
	Status   Status
	Identity Identity
	Reason   Reason
	Err      error
}

// Authenticated はアイデンティティが確定した結果かどうかを返す。
func (o Outcome) Authenticated() bool {
	return o.Status == StatusAuthenticated
}

func noCredential() Outcome {
	return Outcome{Status: StatusNoCredential}
}

func authenticated(id Identity) Outcome {
	return Outcome{Status: StatusAuthenticated, Identity: id}
}

// Invalid は指定理由の検証失敗結果を生成する。
func Invalid(reason Reason, err error) Outcome {
	return Outcome{
		Status: StatusInvalid,
		Reason: reason,
		Err:    &Error{Reason: reason, Err: err},
	}
}
