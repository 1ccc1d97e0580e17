// Package guard はロールで保護された画面を表示するかどうかを決める。
// 判定は純粋関数で、拒否はエラーではなく表示内容の一種として返す。
package guard

import (
	"github.com/hitoshi/nsai/internal/model"
	"github.com/hitoshi/nsai/internal/session"
)

// LoginPath は未認証時のリダイレクト先。
const LoginPath = "/login"

// 表示メッセージ
const (
	MessageLoading        = "Loading..."
	MessageLoadingProfile = "Loading profile..."
	MessageAdminsOnly     = "Access Denied. Admins only."
	MessagePending        = "Access Denied. Account pending approval."
	MessageDenied         = "Access Denied."
)

// Outcome は判定結果の種別。
type Outcome int

const (
	// Loading はセッションの初期化待ち。
	Loading Outcome = iota
	// Redirect は未認証のためログインへ誘導する。
	Redirect
	// LoadingProfile は認証済みだがロール判定に必要なプロフィールが未取得。
	LoadingProfile
	// Denied はロールが不足している。リダイレクトはしない。
	Denied
	// Render は保護対象を表示してよい。
	Render
)

// String はログ出力用の名前を返す。
func (o Outcome) String() string {
	switch o {
	case Loading:
		return "loading"
	case Redirect:
		return "redirect"
	case LoadingProfile:
		return "loading_profile"
	case Denied:
		return "denied"
	case Render:
		return "render"
	default:
		return "unknown"
	}
}

// Decision は判定結果。
type Decision struct {
	Outcome Outcome
	// RedirectTo はOutcomeがRedirectの場合の遷移先。
	RedirectTo string
	// Message は表示するテキスト。Renderの場合は空。
	Message string
}

// Decide はセッション状態と要求ロールから表示内容を決める。
// requiredが空の場合は認証のみを要求する。
//
// 判定順:
//  1. セッション読み込み中
//  2. 未認証
//  3. ロール要求ありでプロフィール未取得
//  4. ロール不足
//  5. 表示
func Decide(snap session.Snapshot, required model.Role) Decision {
	if snap.Loading {
		return Decision{Outcome: Loading, Message: MessageLoading}
	}

	if !snap.IsAuthenticated() {
		return Decision{Outcome: Redirect, RedirectTo: LoginPath}
	}

	if required == "" {
		return Decision{Outcome: Render}
	}

	if snap.Profile == nil {
		return Decision{Outcome: LoadingProfile, Message: MessageLoadingProfile}
	}

	if !snap.Profile.Role.AtLeast(required) {
		return Decision{Outcome: Denied, Message: deniedMessage(required, snap.Profile.Role)}
	}

	return Decision{Outcome: Render}
}

func deniedMessage(required, actual model.Role) string {
	switch {
	case required == model.RoleAdmin:
		return MessageAdminsOnly
	case actual == model.RolePending:
		return MessagePending
	default:
		return MessageDenied
	}
}
