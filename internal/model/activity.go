package model

import "time"

// ActivitySession は管理画面で閲覧するユーザーのアクティビティセッション。
// タイムスタンプはバックエンドからISO形式の文字列で届く。
type ActivitySession struct {
	SessionID    string `json:"session_id"`
	UID          string `json:"uid"`
	Email        string `json:"email,omitempty"`
	StartedAt    string `json:"started_at,omitempty"`
	LastActivity string `json:"last_activity,omitempty"`
	EventCount   int    `json:"event_count"`
	ErrorCount   int    `json:"error_count"`
}

// SessionEvent はセッション内の1イベント。
type SessionEvent struct {
	EventID    string         `json:"event_id"`
	SessionID  string         `json:"session_id"`
	EventType  string         `json:"event_type"`
	Timestamp  string         `json:"timestamp,omitempty"`
	Data       map[string]any `json:"data"`
	ErrorInfo  map[string]any `json:"error_info,omitempty"`
	Stacktrace string         `json:"stacktrace,omitempty"`
}

// UserWithActivity はユーザーごとのアクティビティ集計。
type UserWithActivity struct {
	UID           string `json:"uid"`
	Email         string `json:"email,omitempty"`
	TotalSessions int    `json:"total_sessions"`
	TotalEvents   int    `json:"total_events"`
	TotalErrors   int    `json:"total_errors"`
	LastActivity  string `json:"last_activity,omitempty"`
}

// FileStoreInfo はアシスタントの知識ベース（ファイルストア）の情報。
type FileStoreInfo struct {
	SizeMB      float64    `json:"size_mb"`
	UploadDate  *time.Time `json:"upload_date,omitempty"`
	DisplayName string     `json:"display_name,omitempty"`
}

// HealthStatus は GET /health のレスポンス。
type HealthStatus struct {
	Status string `json:"status"`
}

// VersionInfo は GET /version のレスポンス。
type VersionInfo struct {
	Version string `json:"version"`
}

// PageLoadCount は GET /page-load のレスポンス。
type PageLoadCount struct {
	Count int `json:"count"`
}
