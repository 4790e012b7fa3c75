package tokengate

import "errors"

// KeyProvider は署名検証に使う鍵を提供する。
type KeyProvider interface {
	VerificationKey() ([]byte, error)
}

// StaticKey は固定のバイト列を検証鍵として返す KeyProvider。
type StaticKey []byte

// VerificationKey はKeyProviderを実装する。
func (k StaticKey) VerificationKey() ([]byte, error) {
	if len(k) == 0 {
		return nil, errors.New("検証鍵が空です")
	}
	return append([]byte(nil), k...), nil
}

// String は鍵の内容を出力しないためのマスク表現を返す。
func (k StaticKey) String() string {
	return "[REDACTED]"
}
