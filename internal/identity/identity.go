// Package identity はBFFがバックエンドを呼び出すためのサービストークンを提供する。
package identity

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hitoshi/nsai/internal/config"
)

// expiryLeeway は期限切れ直前のトークンを使わないための余裕。
const expiryLeeway = time.Minute

// TokenSource はサービストークンを返す。
// 空文字列はトークンを付与しないことを意味する。
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	// Name はメトリクスやログに使う取得方式の名前。
	Name() string
}

// NoneSource はトークンを付与しないTokenSource。
type NoneSource struct{}

func (NoneSource) Token(context.Context) (string, error) { return "", nil }
func (NoneSource) Name() string                          { return string(config.TokenModeNone) }

// New は設定に応じたTokenSourceを生成する。audienceはバックエンドのURL。
func New(cfg *config.Config, httpClient *http.Client) (TokenSource, error) {
	switch cfg.TokenMode {
	case config.TokenModeMetadata:
		return NewMetadataTokenSource(cfg.BackendURL, httpClient), nil
	case config.TokenModeSigned:
		return NewSignedTokenSource([]byte(cfg.ServiceTokenSecret), cfg.BackendURL)
	case config.TokenModeNone:
		return NoneSource{}, nil
	default:
		return nil, fmt.Errorf("unknown token mode: %s", cfg.TokenMode)
	}
}
