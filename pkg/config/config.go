// Package config はtokengateゲートウェイの設定をファイルと環境変数から読み込む。
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
)

// 検証失敗時のポリシー名。
const (
	PolicyFailOpen   = "fail_open"
	PolicyFailClosed = "fail_closed"
)

// envPrefix は環境変数の接頭辞。例: TOKENGATE_AUTH_SECRET
const envPrefix = "TOKENGATE"

// Config はアプリケーション全体の設定。
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	CORS     CORSConfig     `mapstructure:"cors"`
}

// ServerConfig はHTTPサーバーの設定。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // gin mode: debug, release, test
}

// AuthConfig はトークン検証の設定。
type AuthConfig struct {
	// Secret はHMAC署名の検証鍵。ログに出力してはならない。
	Secret    string        `mapstructure:"secret"`
	Policy    string        `mapstructure:"policy"`
	Leeway    time.Duration `mapstructure:"leeway"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
	CheckUser bool          `mapstructure:"check_user"`
	DevTokens bool          `mapstructure:"dev_tokens"`
}

// DatabaseConfig はユーザーディレクトリのSQLite設定。
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig はログ出力の設定。
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// CORSConfig はCORSの許可オリジン設定。
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load は設定ファイル（任意）と環境変数から設定を読み込む。
// configPath が空の場合はデフォルト値と環境変数のみを使う。
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("設定のデシリアライズに失敗: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}
	return &cfg, nil
}

// setDefaults はデフォルト値を設定する。
// AutomaticEnv は既知のキーのみを Unmarshal に反映するため、すべてのキーを登録する。
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")

	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.policy", PolicyFailOpen)
	v.SetDefault("auth.leeway", "0s")
	v.SetDefault("auth.token_ttl", "24h")
	v.SetDefault("auth.check_user", false)
	v.SetDefault("auth.dev_tokens", false)

	v.SetDefault("database.path", "/data/tokengate.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", "")

	v.SetDefault("cors.allowed_origins", []string{"http://localhost:3000"})
}

// Validate は起動に必要な設定が揃っているかを検証する。
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server.port が設定されていません")
	}
	switch c.Server.Mode {
	case gin.DebugMode, gin.ReleaseMode, gin.TestMode:
	default:
		return fmt.Errorf("server.mode が不正です: %q", c.Server.Mode)
	}
	if c.Auth.Secret == "" {
		return errors.New("auth.secret が設定されていません")
	}
	switch c.Auth.Policy {
	case PolicyFailOpen, PolicyFailClosed:
	default:
		return fmt.Errorf("auth.policy が不正です: %q", c.Auth.Policy)
	}
	if c.Auth.Leeway < 0 {
		return errors.New("auth.leeway に負の値は指定できません")
	}
	if c.Database.Path == "" {
		return errors.New("database.path が設定されていません")
	}
	return nil
}
