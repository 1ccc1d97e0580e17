// Package model はドメインモデルを定義する。
package model

import "time"

// Role はユーザーの認可ロールを表す。
// 認可判定に使う唯一のシグナル。
type Role string

const (
	// RolePending は管理者の承認待ちユーザー。
	RolePending Role = "pending"
	// RoleUser は承認済みの一般ユーザー。
	RoleUser Role = "user"
	// RoleAdmin は管理者。
	RoleAdmin Role = "admin"
)

// rank はロール階層（pending < user < admin）の順位を返す。
// 未知のロールは -1 を返す。
func (r Role) rank() int {
	switch r {
	case RolePending:
		return 0
	case RoleUser:
		return 1
	case RoleAdmin:
		return 2
	default:
		return -1
	}
}

// Valid はロールが既知の値かを返す。
func (r Role) Valid() bool {
	return r.rank() >= 0
}

// AtLeast はロールが required 以上の権限を持つかを返す。
// 未知のロールはどの要求も満たさない。
func (r Role) AtLeast(required Role) bool {
	if !r.Valid() || !required.Valid() {
		return false
	}
	return r.rank() >= required.rank()
}

// ParseRole は文字列をRoleに変換する。
func ParseRole(s string) (Role, bool) {
	r := Role(s)
	return r, r.Valid()
}

// Identity は外部IdPが所有する認証主体を表す。
// アプリケーションはIdPからの通知でのみ更新される読み取り専用の参照を保持する。
type Identity struct {
	UID         string
	DisplayName string
	Email       string
}

// UserProfile はバックエンドが返すユーザープロフィール。
type UserProfile struct {
	UID       string        `json:"uid"`
	Email     string        `json:"email"`
	Role      Role          `json:"role"`
	CreatedAt *time.Time    `json:"created_at,omitempty"`
	LastLogin *time.Time    `json:"last_login,omitempty"`
	Settings  *UserSettings `json:"settings,omitempty"`
}

// GlucoseUnit は血糖値の表示単位。
type GlucoseUnit string

const (
	// GlucoseMgDL はmg/dL表示。
	GlucoseMgDL GlucoseUnit = "mg/dL"
	// GlucoseMmolL はmmol/L表示。
	GlucoseMmolL GlucoseUnit = "mmol/L"
)

// Valid は単位が既知の値かを返す。
func (u GlucoseUnit) Valid() bool {
	return u == GlucoseMgDL || u == GlucoseMmolL
}

// UserSettings はユーザーごとの表示設定。サーバーが所有する。
type UserSettings struct {
	Locale      string      `json:"locale"`
	Timezone    string      `json:"timezone"`
	GlucoseUnit GlucoseUnit `json:"glucose_unit"`
}

// DefaultUserSettings は未認証時や取得失敗時に使うデフォルト設定を返す。
func DefaultUserSettings() UserSettings {
	return UserSettings{
		Locale:      "en-US",
		Timezone:    "UTC",
		GlucoseUnit: GlucoseMgDL,
	}
}

// UserSettingsUpdate は設定の部分更新リクエスト。
// nilフィールドは変更しない。
type UserSettingsUpdate struct {
	Locale      *string      `json:"locale,omitempty"`
	Timezone    *string      `json:"timezone,omitempty"`
	GlucoseUnit *GlucoseUnit `json:"glucose_unit,omitempty"`
}

// IsEmpty は変更対象のフィールドが1つもないかを返す。
func (u UserSettingsUpdate) IsEmpty() bool {
	return u.Locale == nil && u.Timezone == nil && u.GlucoseUnit == nil
}
