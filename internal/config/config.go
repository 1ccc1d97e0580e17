package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// デフォルトの認証ドメイン。FIREBASE_AUTH_DOMAINもFIREBASE_PROJECT_IDも未設定の場合に使う。
const defaultAuthDomain = "ns-ai-project.firebaseapp.com"

// TokenMode はBFFがバックエンド向けサービストークンを取得する方式。
type TokenMode string

const (
	// TokenModeMetadata はCloud Run/GCEのメタデータサーバーからIDトークンを取得する。
	TokenModeMetadata TokenMode = "metadata"
	// TokenModeSigned はSERVICE_TOKEN_SECRETでHS256トークンを自前で署名する（ローカル開発用）。
	TokenModeSigned TokenMode = "signed"
	// TokenModeNone はトークンを付与しない。
	TokenModeNone TokenMode = "none"
)

// Config はBFFサーバー全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Backend
	BackendURL string

	// Auth proxy
	FirebaseProjectID string
	AuthDomain        string
	AuthProxyGuard    bool

	// Service identity
	TokenMode          TokenMode
	ServiceTokenSecret string

	// Static assets
	StaticDir string

	// Rate Limit
	RateLimitPerMinute int

	// Server
	Port       string
	EnableH2C  bool
	LogLevel   string
	CORSOrigin string
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む（既存の環境変数は上書きしない）。
// BACKEND_URLが未設定の場合はエラーを返す。
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	var missing []string

	cfg.BackendURL = strings.TrimRight(os.Getenv("BACKEND_URL"), "/")
	if cfg.BackendURL == "" {
		missing = append(missing, "BACKEND_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if _, err := url.ParseRequestURI(cfg.BackendURL); err != nil {
		return nil, fmt.Errorf("invalid BACKEND_URL: %w", err)
	}

	cfg.FirebaseProjectID = getEnvString("FIREBASE_PROJECT_ID", os.Getenv("VITE_FIREBASE_PROJECT_ID"))
	cfg.AuthDomain = resolveAuthDomain(
		getEnvString("FIREBASE_AUTH_DOMAIN", os.Getenv("VITE_FIREBASE_AUTH_DOMAIN")),
		cfg.FirebaseProjectID,
	)
	cfg.AuthProxyGuard = getEnvBool("AUTH_PROXY_GUARD", true)

	cfg.TokenMode = TokenMode(strings.ToLower(getEnvString("SERVICE_TOKEN_MODE", string(TokenModeMetadata))))
	switch cfg.TokenMode {
	case TokenModeMetadata, TokenModeSigned, TokenModeNone:
	default:
		return nil, fmt.Errorf("invalid SERVICE_TOKEN_MODE: %s", cfg.TokenMode)
	}
	cfg.ServiceTokenSecret = os.Getenv("SERVICE_TOKEN_SECRET")
	if cfg.TokenMode == TokenModeSigned && cfg.ServiceTokenSecret == "" {
		return nil, fmt.Errorf("SERVICE_TOKEN_SECRET is required when SERVICE_TOKEN_MODE=signed")
	}

	cfg.StaticDir = getEnvString("STATIC_DIR", "dist")
	cfg.RateLimitPerMinute = getEnvInt("RATE_LIMIT_PER_MINUTE", 600)
	cfg.Port = getEnvString("PORT", "8080")
	cfg.EnableH2C = getEnvBool("ENABLE_H2C", false)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.CORSOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "")

	return cfg, nil
}

// resolveAuthDomain は認証プロキシの転送先ホストを決定する。
// プロジェクトID由来 > 明示指定 > デフォルトの順。
func resolveAuthDomain(explicit, projectID string) string {
	if projectID != "" {
		return projectID + ".firebaseapp.com"
	}
	if explicit != "" {
		return strings.TrimPrefix(strings.TrimPrefix(explicit, "https://"), "http://")
	}
	return defaultAuthDomain
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}
