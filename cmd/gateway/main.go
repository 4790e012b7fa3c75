// tokengateゲートウェイのエントリポイント。
// Bearerトークンを検証し、認証済みユーザーをリクエストに付与するHTTPサーバーを起動する。
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/nao1215/tokengate/internal/directory"
	"github.com/nao1215/tokengate/internal/gateway"
	"github.com/nao1215/tokengate/pkg/config"
	"github.com/nao1215/tokengate/pkg/logger"
)

func main() {
	configPath := flag.String("config", os.Getenv("TOKENGATE_CONFIG"), "設定ファイルのパス（省略時は環境変数のみ）")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "tokengate: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logger.New(logger.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	})
	if err != nil {
		return fmt.Errorf("ロガーの初期化に失敗: %w", err)
	}

	gin.SetMode(cfg.Server.Mode)

	store, err := directory.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("ユーザーディレクトリの初期化に失敗: %w", err)
	}
	defer func() { _ = store.Close() }()

	server, err := gateway.NewServer(cfg, store, log)
	if err != nil {
		return fmt.Errorf("サーバーの初期化に失敗: %w", err)
	}

	// 秘密鍵は出力しない
	log.WithFields(logrus.Fields{
		"port":       cfg.Server.Port,
		"policy":     cfg.Auth.Policy,
		"check_user": cfg.Auth.CheckUser,
		"dev_tokens": cfg.Auth.DevTokens,
	}).Info("tokengateを起動します")
	if cfg.Auth.DevTokens {
		log.Warn("開発用トークン発行エンドポイントが有効です。本番環境では無効化してください")
	}

	return server.Run()
}
