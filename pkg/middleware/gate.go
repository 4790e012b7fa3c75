package middleware

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nao1215/tokengate/pkg/tokengate"
)

// Policy は検証に失敗したトークンの扱いを表す。
type Policy int

const (
	// PolicyFailOpen は検証失敗時も匿名リクエストとして処理を続行する。デフォルト。
	PolicyFailOpen Policy = iota
	// PolicyFailClosed は検証失敗時に401を返して処理を中断する。
	// トークンが提示されていないリクエストは続行する。
	PolicyFailClosed
)

// ginコンテキストに認証情報を格納するキー。
const (
	contextKeyUserID = "user_id"
	contextKeyEmail  = "email"
)

// Observer はゲートの判定結果を受け取る。メトリクス集計に使う。
type Observer interface {
	Observe(tokengate.Outcome)
}

// UserChecker はトークンのユーザーが現在も有効かを照合する。
type UserChecker interface {
	Active(ctx context.Context, id uuid.UUID) (bool, error)
}

type gateConfig struct {
	policy   Policy
	observer Observer
	checker  UserChecker
	log      logrus.FieldLogger
}

// GateOption はTokenGateミドルウェアの設定を変更する。
type GateOption func(*gateConfig)

// WithPolicy は検証失敗時のポリシーを設定する。
func WithPolicy(p Policy) GateOption {
	return func(c *gateConfig) {
		c.policy = p
	}
}

// WithObserver は判定結果の通知先を設定する。
func WithObserver(o Observer) GateOption {
	return func(c *gateConfig) {
		c.observer = o
	}
}

// WithUserChecker は検証成功後にユーザーディレクトリとの照合を行う。
func WithUserChecker(uc UserChecker) GateOption {
	return func(c *gateConfig) {
		c.checker = uc
	}
}

// WithLogger はログ出力先を設定する。
func WithLogger(log logrus.FieldLogger) GateOption {
	return func(c *gateConfig) {
		c.log = log
	}
}

// TokenGate はBearerトークンを検証し、成功時にIdentityをリクエストコンテキストに設定する
// Ginミドルウェアを返す。
// デフォルトではトークンの有無や検証結果にかかわらず後続のハンドラを実行する。
func TokenGate(gate *tokengate.Gate, opts ...GateOption) gin.HandlerFunc {
	if gate == nil {
		panic("middleware: TokenGateにnilのGateが渡されました")
	}
	cfg := gateConfig{policy: PolicyFailOpen}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		cfg.log = discard
	}

	return func(c *gin.Context) {
		outcome := gate.AuthenticateRequest(c.Request)

		if outcome.Authenticated() && cfg.checker != nil {
			outcome = checkUser(c, cfg, outcome)
		}

		if cfg.observer != nil {
			cfg.observer.Observe(outcome)
		}

		switch outcome.Status {
		case tokengate.StatusAuthenticated:
			id := outcome.Identity
			c.Request = c.Request.WithContext(tokengate.WithIdentity(c.Request.Context(), id))
			c.Set(contextKeyUserID, id.UserID().String())
			c.Set(contextKeyEmail, id.Subject())
		case tokengate.StatusInvalid:
			if outcome.Reason == tokengate.ReasonUserCheckFailed {
				// checkUserでerrorレベルのログを出力済み
				if cfg.policy == PolicyFailClosed {
					c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
						"error": "認証情報を確認できません",
					})
					return
				}
				break
			}
			cfg.log.WithFields(logrus.Fields{
				"reason": string(outcome.Reason),
				"method": c.Request.Method,
				"path":   c.Request.URL.Path,
				"ip":     c.ClientIP(),
			}).WithError(outcome.Err).Warn("Bearerトークンの検証に失敗")
			if cfg.policy == PolicyFailClosed {
				c.Header("WWW-Authenticate", `Bearer error="invalid_token"`)
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "トークンが無効です",
				})
				return
			}
		default:
			cfg.log.WithField("path", c.Request.URL.Path).Debug("Bearerトークンなし")
		}

		c.Next()
	}
}

// checkUser は検証済みのIdentityをユーザーディレクトリと照合する。
// 無効なユーザーは user_inactive、照合の失敗は user_check_failed の結果に置き換える。
func checkUser(c *gin.Context, cfg gateConfig, outcome tokengate.Outcome) tokengate.Outcome {
	userID := outcome.Identity.UserID()
	active, err := cfg.checker.Active(c.Request.Context(), userID)
	if err != nil {
		cfg.log.WithFields(logrus.Fields{
			"path":    c.Request.URL.Path,
			"user_id": userID.String(),
		}).WithError(err).Error("ユーザーディレクトリの照合に失敗")
		return tokengate.Invalid(tokengate.ReasonUserCheckFailed, err)
	}
	if !active {
		return tokengate.Invalid(tokengate.ReasonUserInactive, nil)
	}
	return outcome
}

// RequireIdentity はIdentityが設定されていないリクエストを401で中断するGinミドルウェアを返す。
// TokenGateミドルウェアの後に適用する。
func RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := GetIdentity(c); !ok {
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "認証が必要です",
			})
			return
		}
		c.Next()
	}
}

// GetIdentity はリクエストコンテキストからIdentityを取得する。
func GetIdentity(c *gin.Context) (tokengate.Identity, bool) {
	if c.Request == nil {
		return tokengate.Identity{}, false
	}
	return tokengate.IdentityFromContext(c.Request.Context())
}

// GetUserID はGinコンテキストからユーザーIDを取得する。
// 認証されていない場合は空文字列を返す。
func GetUserID(c *gin.Context) string {
	userID, _ := c.Get(contextKeyUserID)
	if id, ok := userID.(string); ok {
		return id
	}
	return ""
}
