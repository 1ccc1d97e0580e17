package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/hitoshi/nsai/internal/model"
)

// adminPrefix は管理者向けアクティビティAPIのパスプレフィックス。
const adminPrefix = "/admin"

// UsersWithActivity はユーザーごとのアクティビティ集計を取得する。
func (c *Client) UsersWithActivity(ctx context.Context) ([]model.UserWithActivity, error) {
	var out []model.UserWithActivity
	if err := c.doJSON(ctx, http.MethodGet, adminPrefix+"/users-with-activity", nil, true, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UserSessions は指定ユーザーのセッション一覧を取得する。
func (c *Client) UserSessions(ctx context.Context, uid string) ([]model.ActivitySession, error) {
	var out []model.ActivitySession
	path := adminPrefix + "/users/" + url.PathEscape(uid) + "/sessions"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, true, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SessionEvents は指定セッションのイベント一覧を取得する。
func (c *Client) SessionEvents(ctx context.Context, sessionID string) ([]model.SessionEvent, error) {
	var out []model.SessionEvent
	path := adminPrefix + "/sessions/" + url.PathEscape(sessionID) + "/events"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, true, &out); err != nil {
		return nil, err
	}
	return out, nil
}
