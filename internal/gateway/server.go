package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/nao1215/tokengate/internal/directory"
	"github.com/nao1215/tokengate/pkg/config"
	"github.com/nao1215/tokengate/pkg/metrics"
	"github.com/nao1215/tokengate/pkg/middleware"
	"github.com/nao1215/tokengate/pkg/tokengate"
)

// Server はtokengateゲートウェイのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// store はユーザーディレクトリ。
	store *directory.Store
	// signingKey は開発用トークンの署名鍵。検証鍵と同じHMAC秘密鍵。
	signingKey []byte
	// tokenTTL は開発用トークンの有効期間。
	tokenTTL time.Duration
	// devTokens が true の場合のみ POST /auth/dev-token を公開する。
	devTokens bool
	registry  *prometheus.Registry
	log       logrus.FieldLogger
}

// NewServer は設定とユーザーディレクトリからサーバーを生成する。
// 検証鍵が不正な場合はここでエラーを返し、起動を中断させる。
func NewServer(cfg *config.Config, store *directory.Store, log logrus.FieldLogger) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("設定が指定されていません")
	}
	if store == nil {
		return nil, errors.New("ユーザーディレクトリが指定されていません")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	key := tokengate.StaticKey(cfg.Auth.Secret)
	gate, err := tokengate.NewGate(key, tokengate.WithLeeway(cfg.Auth.Leeway))
	if err != nil {
		return nil, fmt.Errorf("トークンゲートの初期化に失敗: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	gateMetrics := metrics.NewGateMetrics(registry)

	gateOpts := []middleware.GateOption{
		middleware.WithPolicy(policyFromConfig(cfg.Auth.Policy)),
		middleware.WithObserver(gateMetrics),
		middleware.WithLogger(log),
	}
	if cfg.Auth.CheckUser {
		gateOpts = append(gateOpts, middleware.WithUserChecker(store))
	}

	router := gin.New()
	router.Use(middleware.Recovery(log))
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.CORS(cfg.CORS.AllowedOrigins))
	router.Use(middleware.TokenGate(gate, gateOpts...))

	s := &Server{
		router:     router,
		port:       cfg.Server.Port,
		store:      store,
		signingKey: []byte(cfg.Auth.Secret),
		tokenTTL:   cfg.Auth.TokenTTL,
		devTokens:  cfg.Auth.DevTokens,
		registry:   registry,
		log:        log,
	}
	s.setupRoutes()

	return s, nil
}

// policyFromConfig は設定値をミドルウェアのポリシーに変換する。
func policyFromConfig(p string) middleware.Policy {
	if p == config.PolicyFailClosed {
		return middleware.PolicyFailClosed
	}
	return middleware.PolicyFailOpen
}

// Handler はテストや組み込み用にHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "tokengate"})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	if s.devTokens {
		s.router.POST("/auth/dev-token", s.handleDevToken())
	}

	api := s.router.Group("/api/v1")
	{
		// 匿名でもアクセス可能
		api.GET("/whoami", s.handleWhoAmI())
		api.GET("/me", middleware.RequireIdentity(), s.handleGetCurrentUser())
	}
}

// devTokenRequest は開発用トークン発行のリクエストボディ。
type devTokenRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// handleDevToken は開発用トークンを発行するハンドラを返す。
// メールアドレスに対応するユーザーを登録し、そのユーザーのトークンを返す。
func (s *Server) handleDevToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req devTokenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "メールアドレスを指定してください"})
			return
		}

		user, err := s.store.Register(c.Request.Context(), req.Email)
		if err != nil {
			s.log.WithError(err).Error("開発ユーザーの登録に失敗")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザー作成に失敗しました"})
			return
		}
		if !user.Active {
			c.JSON(http.StatusForbidden, gin.H{"error": "ユーザーが無効化されています"})
			return
		}

		token, err := tokengate.IssueToken(s.signingKey, tokengate.NewIdentity(user.ID, user.Email), s.tokenTTL)
		if err != nil {
			s.log.WithError(err).Error("トークン生成に失敗")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークン生成に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"token":   token,
			"user_id": user.ID.String(),
		})
	}
}

// handleWhoAmI は現在のリクエストの認証状態を返すハンドラを返す。
func (s *Server) handleWhoAmI() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := middleware.GetIdentity(c)
		if !ok {
			c.JSON(http.StatusOK, gin.H{"authenticated": false})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"authenticated": true,
			"user_id":       id.UserID().String(),
			"email":         id.Subject(),
		})
	}
}

// handleGetCurrentUser は認証済みユーザーのディレクトリ情報を返すハンドラを返す。
func (s *Server) handleGetCurrentUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := middleware.GetIdentity(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		user, err := s.store.FindByID(c.Request.Context(), id.UserID())
		if errors.Is(err, directory.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "ユーザーが見つかりません"})
			return
		}
		if err != nil {
			s.log.WithError(err).Error("ユーザー取得に失敗")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザー取得に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"id":         user.ID.String(),
			"email":      user.Email,
			"active":     user.Active,
			"created_at": user.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
}
