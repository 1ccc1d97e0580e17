// Package api はアシスタントバックエンドのHTTPクライアントを提供する。
// ヘルスチェック、ユーザー/設定、管理者向けアクティビティ、ストリーミングチャットの各エンドポイントを扱う。
// どの呼び出しも自動リトライは行わない。
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// userAgent はバックエンドへのリクエストに付与するUser-Agent。
const userAgent = "nsai-client/1.0"

// maxErrorBody はStatusErrorに保持するレスポンスボディの上限バイト数。
const maxErrorBody = 4096

// TokenSource は呼び出し時点のベアラートークンを返す。
// 空文字列は匿名アクセスを意味する。
type TokenSource func(ctx context.Context) (string, error)

// StatusError はバックエンドが2xx以外のステータスを返した場合のエラー。
type StatusError struct {
	StatusCode int
	Body       string
}

// Error はerrorインターフェースを実装する。
func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Body)
}

// IsStatus はerrがstatusのStatusErrorかを返す。
func IsStatus(err error, status int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == status
}

// Client はバックエンドAPIのクライアント。
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	tokens     TokenSource
}

// NewClient はClientの新しいインスタンスを生成する。
// tokensがnilの場合は常に匿名でアクセスする。
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger, tokens TokenSource) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
		tokens:     tokens,
	}
}

// BaseURL は接続先のベースURLを返す。
func (c *Client) BaseURL() string {
	return c.baseURL
}

// newRequest はJSONリクエストを組み立てる。
// authがtrueでトークンが取得できた場合のみAuthorizationヘッダーを付与する。
// トークン取得の失敗はログに記録し、匿名リクエストとして続行する。
func (c *Client) newRequest(ctx context.Context, method, path string, body any, auth bool) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if auth && c.tokens != nil {
		token, err := c.tokens(ctx)
		if err != nil {
			c.logger.Warn("failed to obtain bearer token, sending request anonymously",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		} else if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	return req, nil
}

// send はリクエストを実行し、2xx以外はStatusErrorに変換する。
// 成功時のレスポンスボディは呼び出し元がCloseする。
func (c *Client) send(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("backend request failed",
			slog.String("method", req.Method),
			slog.String("path", req.URL.Path),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Warn("backend returned error status",
			slog.String("method", req.Method),
			slog.String("path", req.URL.Path),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	return resp, nil
}

// doJSON はリクエストを実行し、レスポンスをoutにデコードする。
// outがnilの場合はボディを読み捨てる。
func (c *Client) doJSON(ctx context.Context, method, path string, body any, auth bool, out any) error {
	req, err := c.newRequest(ctx, method, path, body, auth)
	if err != nil {
		return err
	}

	resp, err := c.send(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.logger.Error("failed to decode backend response",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}
	return nil
}
