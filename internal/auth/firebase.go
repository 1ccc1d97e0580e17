package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/nsai/internal/model"
)

const (
	defaultSecureTokenURL = "https://securetoken.googleapis.com/v1/token"
	// expiryLeeway は期限切れ直前のトークンを使わないための余裕。
	expiryLeeway = time.Minute
)

// FirebaseConfig はFirebaseProviderの設定。
type FirebaseConfig struct {
	APIKey       string
	RefreshToken string

	// テスト用にオーバーライド可能なURL
	TokenURL string
}

// FirebaseProvider はFirebaseのリフレッシュトークンをSecure TokenエンドポイントでIDトークンに交換する。
// IDトークンは期限の少し前までキャッシュする。
type FirebaseProvider struct {
	config     FirebaseConfig
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time

	listeners listeners

	mu           sync.Mutex
	refreshToken string
	idToken      string
	expiresAt    time.Time
	identity     *model.Identity
	// generation はSignOutのたびに進む。交換中にサインアウトされた結果は捨てる。
	generation uint64
}

// NewFirebaseProvider はFirebaseProviderを生成する。
func NewFirebaseProvider(config FirebaseConfig, httpClient *http.Client, logger *slog.Logger) *FirebaseProvider {
	if config.TokenURL == "" {
		config.TokenURL = defaultSecureTokenURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FirebaseProvider{
		config:       config,
		httpClient:   httpClient,
		logger:       logger,
		now:          time.Now,
		refreshToken: config.RefreshToken,
	}
}

// secureTokenResponse はSecure Tokenエンドポイントのレスポンス。
// expires_in は秒数の文字列で返る。
type secureTokenResponse struct {
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    string `json:"expires_in"`
	UserID       string `json:"user_id"`
}

// Subscribe は認証状態の変化を購読する。fnは現在の状態で即座に1回呼ばれる。
func (p *FirebaseProvider) Subscribe(fn func(*model.Identity)) func() {
	return p.listeners.subscribe(fn, p.currentIdentity)
}

func (p *FirebaseProvider) currentIdentity() *model.Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.identity
}

// SignIn はリフレッシュトークンをIDトークンに交換し、成功したらサインイン状態を通知する。
// 返すエラーは交換の失敗のみ。
func (p *FirebaseProvider) SignIn(ctx context.Context) error {
	p.mu.Lock()
	refresh := p.refreshToken
	gen := p.generation
	p.mu.Unlock()
	if refresh == "" {
		refresh = p.config.RefreshToken
	}
	if refresh == "" {
		return ErrNoCredential
	}

	identity, err := p.refresh(ctx, refresh, gen)
	if err != nil {
		return err
	}
	if identity == nil {
		// 交換中にサインアウトされた
		return nil
	}

	p.logger.Info("signed in", slog.String("uid", identity.UID))
	p.listeners.notify(identity)
	return nil
}

// SignOut はキャッシュしたトークンを破棄し、サインアウト状態を通知する。
func (p *FirebaseProvider) SignOut(_ context.Context) error {
	p.mu.Lock()
	p.idToken = ""
	p.expiresAt = time.Time{}
	p.identity = nil
	p.refreshToken = ""
	p.generation++
	p.mu.Unlock()

	p.listeners.notify(nil)
	return nil
}

// Token は有効なIDトークンを返す。期限が近ければ更新する。
// サインインしていない場合は空文字列を返す。
func (p *FirebaseProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	if p.identity == nil {
		p.mu.Unlock()
		return "", nil
	}
	if p.idToken != "" && p.now().Add(expiryLeeway).Before(p.expiresAt) {
		token := p.idToken
		p.mu.Unlock()
		return token, nil
	}
	refresh := p.refreshToken
	gen := p.generation
	p.mu.Unlock()

	identity, err := p.refresh(ctx, refresh, gen)
	if err != nil {
		return "", err
	}
	if identity == nil {
		return "", nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.generation != gen {
		return "", nil
	}
	return p.idToken, nil
}

// refresh はトークンを交換してキャッシュを更新する。
// genの取得後にSignOutされていた場合は何も反映せずnilを返す。
func (p *FirebaseProvider) refresh(ctx context.Context, refreshToken string, gen uint64) (*model.Identity, error) {
	// 1. リフレッシュトークンをIDトークンに交換
	tokenResp, err := p.exchangeRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange refresh token: %w", err)
	}

	// 2. IDトークンのクレームからIdentityを取り出す
	identity, err := IdentityFromToken(tokenResp.IDToken)
	if err != nil {
		return nil, err
	}

	seconds, err := strconv.Atoi(tokenResp.ExpiresIn)
	if err != nil {
		seconds = 3600
	}

	p.mu.Lock()
	if p.generation != gen {
		p.mu.Unlock()
		p.logger.Debug("discarded token refresh after sign-out")
		return nil, nil
	}
	p.idToken = tokenResp.IDToken
	p.expiresAt = p.now().Add(time.Duration(seconds) * time.Second)
	if tokenResp.RefreshToken != "" {
		p.refreshToken = tokenResp.RefreshToken
	} else {
		p.refreshToken = refreshToken
	}
	p.identity = identity
	p.mu.Unlock()

	return identity, nil
}

// exchangeRefreshToken はSecure Tokenエンドポイントを呼び出す。
func (p *FirebaseProvider) exchangeRefreshToken(ctx context.Context, refreshToken string) (*secureTokenResponse, error) {
	data := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}

	endpoint := p.config.TokenURL + "?" + url.Values{"key": {p.config.APIKey}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token exchange failed with status %d: %s", resp.StatusCode, string(body))
	}

	var tokenResp secureTokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}

	if tokenResp.IDToken == "" {
		return nil, fmt.Errorf("empty id token in response")
	}

	return &tokenResp, nil
}
