// Package handler はBFFのHTTPルーティングを構成する。
package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/nsai/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// /api/* の中継先
	Backend http.Handler
	// /__/auth/* の中継先。nilの場合はマウントしない
	AuthProxy http.Handler
	// SPAの静的アセット。nilの場合はマウントしない
	Static http.Handler
	// /metrics。nilの場合はマウントしない
	Metrics http.Handler
}

// NewRouter はBFFのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Logging → Recovery → SecurityHeaders → CORS
//
// レート制限は中継ルート（/api/*, /__/auth/*）にのみ適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	// --- BFF自身のエンドポイント ---
	r.Get("/healthz", Healthz)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	// --- 中継ルート ---
	r.Group(func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}

		r.Handle("/api", deps.Backend)
		r.Handle("/api/*", deps.Backend)

		if deps.AuthProxy != nil {
			r.Handle("/__/auth/*", deps.AuthProxy)
		}
	})

	// --- SPA ---
	if deps.Static != nil {
		r.Method(http.MethodGet, "/*", deps.Static)
		r.Method(http.MethodHead, "/*", deps.Static)
	}

	return r
}
