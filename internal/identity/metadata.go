package identity

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/nsai/internal/config"
)

const defaultMetadataURL = "http://metadata.google.internal/computeMetadata/v1/instance/service-accounts/default/identity"

// maxTokenSize はメタデータサーバーの応答として受け入れる最大サイズ。
const maxTokenSize = 16 * 1024

// MetadataTokenSource はCloud Run/GCEのメタデータサーバーから
// 指定audience向けのIDトークンを取得する。トークンはexpの少し前までキャッシュする。
type MetadataTokenSource struct {
	audience   string
	endpoint   string
	httpClient *http.Client
	now        func() time.Time

	// 同時に期限切れを見た呼び出しの取得を1回にまとめる
	group singleflight.Group

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewMetadataTokenSource はMetadataTokenSourceを生成する。
func NewMetadataTokenSource(audience string, httpClient *http.Client) *MetadataTokenSource {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &MetadataTokenSource{
		audience:   audience,
		endpoint:   defaultMetadataURL,
		httpClient: httpClient,
		now:        time.Now,
	}
}

// Name は取得方式の名前を返す。
func (s *MetadataTokenSource) Name() string { return string(config.TokenModeMetadata) }

// Token はキャッシュ済みのトークン、または新たに取得したトークンを返す。
// 取得中もロックは保持しないので、他の呼び出しは待たされずにctxで抜けられる。
func (s *MetadataTokenSource) Token(ctx context.Context) (string, error) {
	if token, ok := s.cached(); ok {
		return token, nil
	}

	ch := s.group.DoChan("token", func() (any, error) {
		// 直前の取得で更新済みならそれを使う
		if token, ok := s.cached(); ok {
			return token, nil
		}

		// 取得は待っている全員で共有するので、最初の呼び出し元のキャンセルには従わない。
		// 上限はhttpClientのタイムアウト。
		token, err := s.fetch(context.WithoutCancel(ctx))
		if err != nil {
			return "", err
		}
		expiresAt, err := tokenExpiry(token)
		if err != nil {
			return "", err
		}

		s.mu.Lock()
		s.token = token
		s.expiresAt = expiresAt
		s.mu.Unlock()
		return token, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (s *MetadataTokenSource) cached() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != "" && s.now().Add(expiryLeeway).Before(s.expiresAt) {
		return s.token, true
	}
	return "", false
}

// fetch はメタデータサーバーのidentityエンドポイントを呼び出す。
func (s *MetadataTokenSource) fetch(ctx context.Context) (string, error) {
	endpoint := s.endpoint + "?" + url.Values{"audience": {s.audience}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create metadata request: %w", err)
	}
	req.Header.Set("Metadata-Flavor", "Google")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch identity token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenSize))
	if err != nil {
		return "", fmt.Errorf("failed to read identity token: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("metadata server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	token := strings.TrimSpace(string(body))
	if token == "" {
		return "", fmt.Errorf("metadata server returned an empty token")
	}
	return token, nil
}

// tokenExpiry はJWTのexpクレームを取り出す。署名は検証しない（発行元はメタデータサーバー）。
func tokenExpiry(token string) (time.Time, error) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, fmt.Errorf("failed to parse identity token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, fmt.Errorf("identity token has no exp claim")
	}
	return claims.ExpiresAt.Time, nil
}
