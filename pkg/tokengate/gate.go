package tokengate

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// HeaderAuthorization は資格情報を読み取るHTTPヘッダー名。
	HeaderAuthorization = "Authorization"
	// BearerPrefix は認識するスキーム接頭辞。大文字小文字を区別し、空白は1つのみ。
	BearerPrefix = "Bearer "

	// ClaimSubject はサブジェクト（メールアドレス）を保持するクレーム名。
	ClaimSubject = "sub"
	// ClaimUserID はユーザーIDを保持するクレーム名。
	ClaimUserID = "userId"
)

// defaultMethods は受け付ける署名アルゴリズム。対称鍵のHMACのみ。
var defaultMethods = []string{
	jwt.SigningMethodHS256.Alg(),
	jwt.SigningMethodHS384.Alg(),
	jwt.SigningMethodHS512.Alg(),
}

// Gate はBearerトークンを検証してIdentityを生成する。
// 生成後は読み取り専用であり、複数のゴルーチンから同時に使用できる。
type Gate struct {
	key    []byte
	parser *jwt.Parser
}

type gateOptions struct {
	leeway  time.Duration
	now     func() time.Time
	methods []string
}

// Option はGateの生成時設定を変更する。
type Option func(*gateOptions)

// WithLeeway は exp 検証時に許容する時計のずれを設定する。
func WithLeeway(d time.Duration) Option {
	return func(o *gateOptions) {
		o.leeway = d
	}
}

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(o *gateOptions) {
		o.now = now
	}
}

// WithMethods は受け付ける署名アルゴリズム名（例: "HS256"）を指定する。
func WithMethods(algs ...string) Option {
	return func(o *gateOptions) {
		o.methods = append([]string(nil), algs...)
	}
}

// NewGate はKeyProviderから検証鍵を一度だけ読み込み、Gateを生成する。
// 鍵が取得できない場合はリクエスト単位ではなく起動時の設定エラーとして扱う。
func NewGate(kp KeyProvider, opts ...Option) (*Gate, error) {
	if kp == nil {
		return nil, errors.New("KeyProviderが指定されていません")
	}
	key, err := kp.VerificationKey()
	if err != nil {
		return nil, fmt.Errorf("検証鍵の取得に失敗: %w", err)
	}
	if len(key) == 0 {
		return nil, errors.New("検証鍵が空です")
	}

	o := gateOptions{methods: defaultMethods}
	for _, opt := range opts {
		opt(&o)
	}
	if len(o.methods) == 0 {
		return nil, errors.New("署名アルゴリズムが1つも指定されていません")
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods(o.methods),
		jwt.WithLeeway(o.leeway),
	}
	if o.now != nil {
		parserOpts = append(parserOpts, jwt.WithTimeFunc(o.now))
	}

	return &Gate{
		key:    append([]byte(nil), key...),
		parser: jwt.NewParser(parserOpts...),
	}, nil
}

// AuthenticateRequest はリクエストのAuthorizationヘッダーを検証する。
func (g *Gate) AuthenticateRequest(r *http.Request) Outcome {
	if r == nil {
		return noCredential()
	}
	return g.Authenticate(r.Header.Get(HeaderAuthorization))
}

// Authenticate はAuthorizationヘッダーの値を検証し、結果を返す。
// 失敗はすべて Outcome として返し、エラーやパニックを呼び出し元に伝播しない。
func (g *Gate) Authenticate(header string) Outcome {
	tokenString, found := strings.CutPrefix(header, BearerPrefix)
	if !found {
		return noCredential()
	}
	if tokenString == "" {
		return Invalid(ReasonMalformed, errors.New("接頭辞の後にトークンがありません"))
	}

	claims := jwt.MapClaims{}
	if _, err := g.parser.ParseWithClaims(tokenString, claims, g.keyFunc); err != nil {
		return Invalid(classify(err), err)
	}

	return identityFromClaims(claims)
}

func (g *Gate) keyFunc(_ *jwt.Token) (any, error) {
	return g.key, nil
}

// classify はJWTライブラリのエラーを失敗理由に対応付ける。
// 期限切れは ErrTokenInvalidClaims にも該当するため先に判定する。
func classify(err error) Reason {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ReasonMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return ReasonSignatureInvalid
	case errors.Is(err, jwt.ErrTokenExpired):
		return ReasonExpired
	case errors.Is(err, jwt.ErrTokenInvalidClaims):
		return ReasonClaimInvalid
	default:
		return ReasonMalformed
	}
}

// identityFromClaims は必須クレームを取り出してIdentityを生成する。
func identityFromClaims(claims jwt.MapClaims) Outcome {
	subject, err := claims.GetSubject()
	if err != nil {
		return Invalid(ReasonClaimInvalid, fmt.Errorf("%sクレームが文字列ではありません: %w", ClaimSubject, err))
	}
	if subject == "" {
		return Invalid(ReasonClaimMissing, fmt.Errorf("%sクレームがありません", ClaimSubject))
	}

	raw, ok := claims[ClaimUserID]
	if !ok || raw == nil {
		return Invalid(ReasonClaimMissing, fmt.Errorf("%sクレームがありません", ClaimUserID))
	}
	s, ok := raw.(string)
	if !ok {
		return Invalid(ReasonClaimInvalid, fmt.Errorf("%sクレームが文字列ではありません: %T", ClaimUserID, raw))
	}
	if s == "" {
		return Invalid(ReasonClaimMissing, fmt.Errorf("%sクレームが空です", ClaimUserID))
	}
	userID, err := uuid.Parse(s)
	if err != nil {
		return Invalid(ReasonClaimInvalid, fmt.Errorf("%sクレームがUUID形式ではありません: %w", ClaimUserID, err))
	}

	return authenticated(NewIdentity(userID, subject))
}
