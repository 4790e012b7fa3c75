package tokengate

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// IssueToken はIdentityから HS256 で署名したトークンを生成する。
// ttl が0以下の場合は exp クレームを付与しない。
func IssueToken(key []byte, id Identity, ttl time.Duration) (string, error) {
	return issueAt(key, id, ttl, time.Now())
}

func issueAt(key []byte, id Identity, ttl time.Duration, now time.Time) (string, error) {
	if len(key) == 0 {
		return "", errors.New("署名鍵が空です")
	}
	if id.IsZero() {
		return "", errors.New("Identityが空です")
	}

	claims := jwt.MapClaims{
		ClaimSubject: id.Subject(),
		ClaimUserID:  id.UserID().String(),
		"iat":        jwt.NewNumericDate(now),
	}
	if ttl > 0 {
		claims["exp"] = jwt.NewNumericDate(now.Add(ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("トークンの署名に失敗: %w", err)
	}
	return signed, nil
}
