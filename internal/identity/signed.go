package identity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/nsai/internal/config"
)

const (
	// signedIssuer は自前署名トークンのiss/sub。
	signedIssuer = "nsai-bff"
	signedTTL    = time.Hour
)

// SignedTokenSource は共有シークレットでHS256トークンを署名する。
// ローカル開発でメタデータサーバーが使えない場合に使う。
type SignedTokenSource struct {
	secret   []byte
	audience string
	now      func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewSignedTokenSource はSignedTokenSourceを生成する。
func NewSignedTokenSource(secret []byte, audience string) (*SignedTokenSource, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("signing secret is empty")
	}
	return &SignedTokenSource{
		secret:   secret,
		audience: audience,
		now:      time.Now,
	}, nil
}

// Name は取得方式の名前を返す。
func (s *SignedTokenSource) Name() string { return string(config.TokenModeSigned) }

// Token は署名済みトークンを返す。期限が近づいたら再署名する。
func (s *SignedTokenSource) Token(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.token != "" && now.Add(expiryLeeway).Before(s.expiresAt) {
		return s.token, nil
	}

	expiresAt := now.Add(signedTTL)
	claims := jwt.RegisteredClaims{
		Issuer:    signedIssuer,
		Subject:   signedIssuer,
		Audience:  jwt.ClaimStrings{s.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign service token: %w", err)
	}

	s.token = token
	s.expiresAt = expiresAt
	return token, nil
}
