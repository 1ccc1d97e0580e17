package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// defaultAPIBaseURL はクライアントが接続するバックエンドのデフォルトURL。
const defaultAPIBaseURL = "http://localhost:8000"

// ClientConfig はCLIクライアント（chat/status/admin）の設定。
// 設定ファイル（TOML）を読み込んだ後、環境変数で上書きする。
type ClientConfig struct {
	APIBaseURL     string `toml:"api_base_url"`
	FirebaseAPIKey string `toml:"firebase_api_key"`
	RefreshToken   string `toml:"refresh_token"`
	IDToken        string `toml:"id_token"`

	// 未認証時やサーバー設定取得前の表示設定
	Locale      string `toml:"locale"`
	Timezone    string `toml:"timezone"`
	GlucoseUnit string `toml:"glucose_unit"`
}

// DefaultClientConfigPath は設定ファイルの既定パス（~/.nsai/config.toml）を返す。
func DefaultClientConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".nsai", "config.toml")
}

// LoadClient はクライアント設定を読み込む。
// pathが空の場合はNSAI_CONFIG、次にDefaultClientConfigPathを使う。
// ファイルが存在しない場合はデフォルト値と環境変数のみで構成する。
func LoadClient(path string) (*ClientConfig, error) {
	cfg := &ClientConfig{}

	if path == "" {
		path = getEnvString("NSAI_CONFIG", DefaultClientConfigPath())
	}

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read client config %s: %w", path, err)
			}
		}
	}

	// 環境変数による上書き
	cfg.APIBaseURL = getEnvString("NSAI_API_BASE_URL", cfg.APIBaseURL)
	cfg.FirebaseAPIKey = getEnvString("FIREBASE_API_KEY", cfg.FirebaseAPIKey)
	cfg.RefreshToken = getEnvString("NSAI_REFRESH_TOKEN", cfg.RefreshToken)
	cfg.IDToken = getEnvString("NSAI_ID_TOKEN", cfg.IDToken)

	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBaseURL
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")

	if cfg.RefreshToken != "" && cfg.FirebaseAPIKey == "" {
		return nil, fmt.Errorf("firebase_api_key is required when a refresh token is configured")
	}

	return cfg, nil
}

// HasCredentials は何らかの認証情報が設定されているかを返す。
func (c *ClientConfig) HasCredentials() bool {
	return c.RefreshToken != "" || c.IDToken != ""
}
