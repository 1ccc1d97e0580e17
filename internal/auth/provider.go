// Package auth はCLIクライアント向けのIDプロバイダー実装を提供する。
// プロバイダーは認証状態の変化をプッシュ通知し、呼び出し時点のIDトークンを発行する。
package auth

import (
	"errors"
	"fmt"
	"sync"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/nsai/internal/model"
)

// ErrNoCredential はサインインに必要な認証情報が設定されていない場合のエラー。
var ErrNoCredential = errors.New("auth: no credential configured")

// listeners は認証状態リスナーの登録と通知を管理する。
// 通知はnotifyMuで直列化され、登録順に届く。
type listeners struct {
	mu       sync.Mutex
	notifyMu sync.Mutex
	nextID   int
	fns      map[int]func(*model.Identity)
}

// subscribe はfnを登録し、現在の状態current()で即座に1回呼び出す。
func (l *listeners) subscribe(fn func(*model.Identity), current func() *model.Identity) func() {
	l.notifyMu.Lock()
	defer l.notifyMu.Unlock()

	l.mu.Lock()
	if l.fns == nil {
		l.fns = make(map[int]func(*model.Identity))
	}
	id := l.nextID
	l.nextID++
	l.fns[id] = fn
	l.mu.Unlock()

	fn(current())

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.fns, id)
			l.mu.Unlock()
		})
	}
}

// notify は登録済みのすべてのリスナーにidentityを通知する。
func (l *listeners) notify(identity *model.Identity) {
	l.notifyMu.Lock()
	defer l.notifyMu.Unlock()

	l.mu.Lock()
	fns := make([]func(*model.Identity), 0, len(l.fns))
	// 登録順
	for i := 0; i < l.nextID; i++ {
		if fn, ok := l.fns[i]; ok {
			fns = append(fns, fn)
		}
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(identity)
	}
}

// IdentityFromToken はIDトークン（JWT）のクレームからIdentityを取り出す。
// 署名は検証しない。検証はトークンを受け取るバックエンドが行う。
func IdentityFromToken(token string) (*model.Identity, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("failed to parse id token: %w", err)
	}

	uid := stringClaim(claims, "user_id")
	if uid == "" {
		uid = stringClaim(claims, "sub")
	}
	if uid == "" {
		return nil, errors.New("id token has no subject")
	}

	return &model.Identity{
		UID:         uid,
		Email:       stringClaim(claims, "email"),
		DisplayName: stringClaim(claims, "name"),
	}, nil
}

func stringClaim(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}
