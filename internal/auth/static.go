package auth

import (
	"context"
	"sync"

	"github.com/hitoshi/nsai/internal/model"
)

// StaticTokenProvider は発行済みのIDトークンをそのまま使うプロバイダー。
// スクリプトやテストで使う。トークンの更新は行わない。
type StaticTokenProvider struct {
	token     string
	listeners listeners

	mu       sync.Mutex
	identity *model.Identity
}

// NewStaticTokenProvider はStaticTokenProviderを生成する。SignInまではサインアウト状態。
func NewStaticTokenProvider(token string) *StaticTokenProvider {
	return &StaticTokenProvider{token: token}
}

// Subscribe は認証状態の変化を購読する。
func (p *StaticTokenProvider) Subscribe(fn func(*model.Identity)) func() {
	return p.listeners.subscribe(fn, func() *model.Identity {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.identity
	})
}

// SignIn はトークンのクレームを読み取り、サインイン状態を通知する。
func (p *StaticTokenProvider) SignIn(_ context.Context) error {
	if p.token == "" {
		return ErrNoCredential
	}
	identity, err := IdentityFromToken(p.token)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.identity = identity
	p.mu.Unlock()

	p.listeners.notify(identity)
	return nil
}

// SignOut はサインアウト状態を通知する。
func (p *StaticTokenProvider) SignOut(_ context.Context) error {
	p.mu.Lock()
	p.identity = nil
	p.mu.Unlock()

	p.listeners.notify(nil)
	return nil
}

// Token はサインイン中であれば保持しているトークンを返す。
func (p *StaticTokenProvider) Token(_ context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.identity == nil {
		return "", nil
	}
	return p.token, nil
}
