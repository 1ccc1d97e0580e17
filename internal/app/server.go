package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/hitoshi/nsai/internal/bff"
	"github.com/hitoshi/nsai/internal/config"
	"github.com/hitoshi/nsai/internal/handler"
	"github.com/hitoshi/nsai/internal/identity"
	"github.com/hitoshi/nsai/internal/metrics"
	"github.com/hitoshi/nsai/internal/middleware"
	"github.com/hitoshi/nsai/internal/security"
)

const (
	// upstreamTimeout は認証ドメインへの中継の全体タイムアウト。
	upstreamTimeout = 30 * time.Second
	// shutdownTimeout はグレースフルシャットダウンの待ち時間。
	shutdownTimeout = 30 * time.Second
)

// Server はBFFのHTTPサーバーと、停止時に片付けるリソースをまとめたもの。
type Server struct {
	HTTP        *http.Server
	rateLimiter *middleware.RateLimiter
}

// Close はサーバー以外のリソース（レートリミッターのクリーンアップ等）を停止する。
func (s *Server) Close() {
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
}

// NewServer は設定から全依存関係をワイヤリングしたServerを生成する。
// regがnilの場合は新しいレジストリを使う。
func NewServer(cfg *config.Config, logger *slog.Logger, reg *prometheus.Registry) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	// 1. メトリクス
	collector := metrics.NewCollector(reg)

	// 2. サービスID
	tokens, err := identity.New(cfg, &http.Client{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to create token source: %w", err)
	}

	// 3. バックエンドプロキシ
	backendURL, err := url.Parse(cfg.BackendURL)
	if err != nil {
		return nil, fmt.Errorf("invalid backend url: %w", err)
	}
	backend := bff.NewBackendProxy(backendURL, tokens, nil, collector, logger)

	// 4. 認証プロキシ
	var authProxy *bff.AuthProxy
	if cfg.AuthProxyGuard {
		guard := security.NewUpstreamGuard(upstreamTimeout)
		authProxy, err = bff.NewAuthProxy(cfg.AuthDomain, guard, guard.Transport(), collector, logger)
	} else {
		authProxy, err = bff.NewAuthProxy(cfg.AuthDomain, nil, nil, collector, logger)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create auth proxy: %w", err)
	}

	// 5. 静的アセット
	if info, statErr := os.Stat(cfg.StaticDir); statErr != nil || !info.IsDir() {
		logger.Warn("static directory not found, SPA routes will return 404",
			slog.String("static_dir", cfg.StaticDir),
		)
	}
	static := bff.NewSPAHandler(os.DirFS(cfg.StaticDir), logger)

	// 6. レート制限
	rlCfg := middleware.RateLimiterConfigPerMinute(cfg.RateLimitPerMinute)
	rlCfg.OnLimited = collector.RecordRateLimited
	rateLimiter := middleware.NewRateLimiter(rlCfg)

	// 7. ルーター
	var h http.Handler = handler.NewRouter(&handler.RouterDeps{
		Logger:            logger,
		CORSAllowedOrigin: cfg.CORSOrigin,
		RateLimiter:       rateLimiter,
		Backend:           backend,
		AuthProxy:         authProxy,
		Static:            static,
		Metrics:           metrics.Handler(reg),
	})

	// Cloud RunのHTTP/2エンドツーエンドはTLSなしのh2cで届く
	if cfg.EnableH2C {
		h = h2c.NewHandler(h, &http2.Server{})
	}

	logger.Info("bff wired",
		slog.String("backend", backendURL.Redacted()),
		slog.String("auth_domain", authProxy.Target()),
		slog.String("token_source", tokens.Name()),
		slog.Bool("h2c", cfg.EnableH2C),
	)

	return &Server{
		HTTP: &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           h,
			ReadHeaderTimeout: 15 * time.Second,
			ReadTimeout:       60 * time.Second,
			// チャット応答のストリーミングを途中で切らないよう書き込みタイムアウトは設けない
			WriteTimeout: 0,
			IdleTimeout:  120 * time.Second,
		},
		rateLimiter: rateLimiter,
	}, nil
}

// runServe はBFFサーバーモードで起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	srv, err := NewServer(cfg, slog.Default(), nil)
	if err != nil {
		return err
	}
	defer srv.Close()

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("BFF server starting",
			slog.String("addr", srv.HTTP.Addr),
		)
		if err := srv.HTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-stop:
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down BFF server...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.HTTP.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("BFF server stopped gracefully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /healthz エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	return probeHealth(fmt.Sprintf("http://localhost:%s/healthz", port))
}

func probeHealth(target string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}
