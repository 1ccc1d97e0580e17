// Package bff はブラウザ向けのBackend-for-Frontendを提供する。
// /api をバックエンドへ、/__/auth を認証ドメインへ中継し、SPAの静的アセットを配信する。
package bff

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/nsai/internal/identity"
	"github.com/hitoshi/nsai/internal/metrics"
	"github.com/hitoshi/nsai/internal/middleware"
	"github.com/hitoshi/nsai/internal/model"
)

// APIPrefix はバックエンドへ中継するパスのプレフィックス。転送時に取り除く。
const APIPrefix = "/api"

// ServerlessAuthHeader はCloud RunのIAM認証に使うヘッダー。
// 利用者のAuthorizationヘッダーを残したままサービストークンを渡せる。
const ServerlessAuthHeader = "X-Serverless-Authorization"

type startTimeKey struct{}

// withStartTime はレイテンシ計測用にリクエスト開始時刻をコンテキストに設定する。
func withStartTime(r *http.Request) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), startTimeKey{}, time.Now()))
}

func elapsed(ctx context.Context) time.Duration {
	start, ok := ctx.Value(startTimeKey{}).(time.Time)
	if !ok {
		return 0
	}
	return time.Since(start)
}

// BackendProxy は/api配下のリクエストをバックエンドへ中継する。
type BackendProxy struct {
	target  *url.URL
	tokens  identity.TokenSource
	metrics metrics.MetricsCollector
	logger  *slog.Logger
	proxy   *httputil.ReverseProxy
}

// NewBackendProxy はBackendProxyを生成する。transportがnilの場合はhttp.DefaultTransportを使う。
func NewBackendProxy(target *url.URL, tokens identity.TokenSource, transport http.RoundTripper, m metrics.MetricsCollector, logger *slog.Logger) *BackendProxy {
	if tokens == nil {
		tokens = identity.NoneSource{}
	}
	if m == nil {
		m = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &BackendProxy{
		target:  target,
		tokens:  tokens,
		metrics: m,
		logger:  logger,
	}
	p.proxy = &httputil.ReverseProxy{
		Rewrite:        p.rewrite,
		Transport:      transport,
		FlushInterval:  -1, // NDJSONストリームを即時に届ける
		ModifyResponse: p.modifyResponse,
		ErrorHandler:   p.handleError,
	}
	return p
}

// ServeHTTP はhttp.Handlerを実装する。
func (p *BackendProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.proxy.ServeHTTP(w, withStartTime(r))
}

// rewrite は転送先URLの設定、/apiプレフィックスの除去、サービストークンの付与を行う。
func (p *BackendProxy) rewrite(pr *httputil.ProxyRequest) {
	pr.Out.URL.Path = stripAPIPrefix(pr.In.URL.Path)
	pr.Out.URL.RawPath = stripAPIPrefix(pr.In.URL.RawPath)
	pr.SetURL(p.target)
	pr.SetXForwarded()

	// クライアントが偽装したIAMヘッダーは転送しない
	pr.Out.Header.Del(ServerlessAuthHeader)

	p.logger.Debug("proxying request",
		slog.String("method", pr.In.Method),
		slog.String("path", pr.In.URL.Path),
		slog.String("upstream", p.target.Host),
		slog.String("request_id", middleware.RequestIDFromContext(pr.In.Context())),
	)

	token, err := p.tokens.Token(pr.In.Context())
	if err != nil {
		p.metrics.RecordTokenFailure(p.tokens.Name())
		p.logger.Warn("failed to obtain service token, forwarding without it",
			slog.String("source", p.tokens.Name()),
			slog.String("error", err.Error()),
		)
		return
	}
	if token == "" {
		return
	}

	if pr.Out.Header.Get("Authorization") == "" {
		pr.Out.Header.Set("Authorization", "Bearer "+token)
	} else {
		pr.Out.Header.Set(ServerlessAuthHeader, "Bearer "+token)
	}
}

func (p *BackendProxy) modifyResponse(resp *http.Response) error {
	p.metrics.RecordProxyResponse(metrics.UpstreamBackend, resp.StatusCode, elapsed(resp.Request.Context()))
	return nil
}

// handleError は上流に到達できなかった場合に500を返す。
// クライアントが切断した場合は応答を書かない。
func (p *BackendProxy) handleError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) {
		p.logger.Debug("client canceled proxied request", slog.String("path", r.URL.Path))
		return
	}

	p.metrics.RecordProxyError(metrics.UpstreamBackend)
	p.logger.Error("proxy error",
		slog.String("path", r.URL.Path),
		slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
		slog.String("error", err.Error()),
	)
	middleware.WriteErrorResponse(w, http.StatusInternalServerError, model.NewProxyError())
}

// stripAPIPrefix は先頭の/apiを1回だけ取り除く。/apixのような別パスは対象外。
func stripAPIPrefix(p string) string {
	if p == "" {
		return ""
	}
	if p == APIPrefix {
		return "/"
	}
	if strings.HasPrefix(p, APIPrefix+"/") {
		return p[len(APIPrefix):]
	}
	return p
}
