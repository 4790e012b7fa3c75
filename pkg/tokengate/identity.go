package tokengate

import (
	"context"

	"github.com/google/uuid"
)

// Identity は検証済みトークンから得られた認証済みプリンシパル。
// 生成後は変更できず、1リクエストの処理中のみ存在する。
type Identity struct {
	userID  uuid.UUID
	subject string
}

// NewIdentity はユーザーIDとサブジェクトからIdentityを生成する。
func NewIdentity(userID uuid.UUID, subject string) Identity {
	return Identity{userID: userID, subject: subject}
}

// UserID はユーザーの一意識別子を返す。
func (i Identity) UserID() uuid.UUID {
	return i.userID
}

// Subject は sub クレーム（通常はメールアドレス）を返す。
func (i Identity) Subject() string {
	return i.subject
}

// IsZero はIdentityが未設定かどうかを返す。
func (i Identity) IsZero() bool {
	return i.userID == uuid.Nil && i.subject == ""
}

type identityKey struct{}

// WithIdentity はIdentityを格納したコンテキストを返す。
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext はコンテキストからIdentityを取り出す。
// 格納されていない場合は false を返す。
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
