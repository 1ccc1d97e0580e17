package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func TestStaticTokenProvider(t *testing.T) {
	token := makeToken(t, jwt.MapClaims{"sub": "u-1", "email": "s@example.com"})
	p := NewStaticTokenProvider(token)

	var rec recorder
	defer p.Subscribe(rec.listen)()

	ctx := context.Background()
	if tok, _ := p.Token(ctx); tok != "" {
		t.Errorf("Token before sign-in = %q, want empty", tok)
	}

	if err := p.SignIn(ctx); err != nil {
		t.Fatalf("SignIn returned error: %v", err)
	}
	if tok, _ := p.Token(ctx); tok != token {
		t.Error("Token should return the static token after sign-in")
	}

	if err := p.SignOut(ctx); err != nil {
		t.Fatalf("SignOut returned error: %v", err)
	}

	events := rec.snapshot()
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}
	if events[1] == nil || events[1].Email != "s@example.com" {
		t.Errorf("sign-in event = %+v", events[1])
	}
	if events[2] != nil {
		t.Errorf("sign-out event = %+v, want nil", events[2])
	}
}

func TestStaticTokenProvider_EmptyToken(t *testing.T) {
	p := NewStaticTokenProvider("")
	if err := p.SignIn(context.Background()); !errors.Is(err, ErrNoCredential) {
		t.Errorf("SignIn error = %v, want %v", err, ErrNoCredential)
	}
}
