package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, proxy, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeProxyError     = "PROXY_ERROR"
	ErrCodeAuthProxyError = "AUTH_PROXY_ERROR"
	ErrCodeRateLimited    = "RATE_LIMIT_EXCEEDED"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeInternal       = "INTERNAL_ERROR"
)

// NewProxyError はバックエンドへのプロキシ失敗エラーを生成する。
func NewProxyError() *APIError {
	return &APIError{
		Code:     ErrCodeProxyError,
		Message:  "Proxy error",
		Category: "proxy",
		Action:   "Please try again later.",
	}
}

// NewAuthProxyError は認証ドメインへのプロキシ失敗エラーを生成する。
func NewAuthProxyError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthProxyError,
		Message:  "Auth Proxy error",
		Category: "auth",
		Action:   "Please reload the page and sign in again.",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "Too many requests. Please try again later.",
		Category: "system",
		Action:   "Please wait and retry after the specified time.",
	}
}

// NewNotFoundError は静的アセットが存在しない場合のエラーを生成する。
func NewNotFoundError(path string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("not found: %s", path),
		Category: "validation",
		Action:   "Check the requested path.",
	}
}

// NewInternalError は内部エラーを生成する。
// 詳細はログのみに記録し、利用者には一般的なメッセージを返す。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "internal server error",
		Category: "system",
		Action:   "Please try again later.",
	}
}
