package bff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/hitoshi/nsai/internal/metrics"
	"github.com/hitoshi/nsai/internal/middleware"
	"github.com/hitoshi/nsai/internal/model"
)

// AuthPathPrefix は認証ドメインへ中継するパスのプレフィックス。パスはそのまま転送する。
const AuthPathPrefix = "/__/auth"

// HostValidator は転送先ホストを検証する。security.UpstreamGuardが実装する。
type HostValidator interface {
	ValidateHost(host string) error
}

// AuthProxy は/__/auth配下のリクエストを認証ドメインへ中継する。
// カスタムドメインでのサインインリダイレクトを同一オリジンで完結させるために使う。
type AuthProxy struct {
	target  *url.URL
	metrics metrics.MetricsCollector
	logger  *slog.Logger
	proxy   *httputil.ReverseProxy
}

// NewAuthProxy はAuthProxyを生成する。
// validatorが指定された場合、authDomainが検証を通らなければエラーを返す。
func NewAuthProxy(authDomain string, validator HostValidator, transport http.RoundTripper, m metrics.MetricsCollector, logger *slog.Logger) (*AuthProxy, error) {
	if validator != nil {
		if err := validator.ValidateHost(authDomain); err != nil {
			return nil, fmt.Errorf("auth domain rejected: %w", err)
		}
	}
	return newAuthProxy(&url.URL{Scheme: "https", Host: authDomain}, transport, m, logger), nil
}

func newAuthProxy(target *url.URL, transport http.RoundTripper, m metrics.MetricsCollector, logger *slog.Logger) *AuthProxy {
	if m == nil {
		m = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &AuthProxy{
		target:  target,
		metrics: m,
		logger:  logger,
	}
	p.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			// SetURLはHostヘッダーも転送先に書き換える
			pr.SetURL(p.target)
			pr.SetXForwarded()
			p.logger.Debug("proxying auth request",
				slog.String("method", pr.In.Method),
				slog.String("path", pr.In.URL.Path),
				slog.String("upstream", p.target.Host),
			)
		},
		Transport: transport,
		ModifyResponse: func(resp *http.Response) error {
			p.metrics.RecordProxyResponse(metrics.UpstreamAuth, resp.StatusCode, elapsed(resp.Request.Context()))
			return nil
		},
		ErrorHandler: p.handleError,
	}
	return p
}

// Target は転送先のURLを返す。
func (p *AuthProxy) Target() string {
	return p.target.String()
}

// ServeHTTP はhttp.Handlerを実装する。
func (p *AuthProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.proxy.ServeHTTP(w, withStartTime(r))
}

func (p *AuthProxy) handleError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}

	p.metrics.RecordProxyError(metrics.UpstreamAuth)
	p.logger.Error("auth proxy error",
		slog.String("path", r.URL.Path),
		slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
		slog.String("error", err.Error()),
	)
	middleware.WriteErrorResponse(w, http.StatusInternalServerError, model.NewAuthProxyError())
}
