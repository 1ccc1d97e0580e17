package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hitoshi/nsai/internal/model"
)

// Me はログイン中ユーザーのプロフィールを取得する。
func (c *Client) Me(ctx context.Context) (*model.UserProfile, error) {
	var out model.UserProfile
	if err := c.doJSON(ctx, http.MethodGet, "/users/me", nil, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListUsers は全ユーザーを取得する（管理者のみ）。
func (c *Client) ListUsers(ctx context.Context) ([]model.UserProfile, error) {
	var out []model.UserProfile
	if err := c.doJSON(ctx, http.MethodGet, "/users/", nil, true, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type roleUpdateRequest struct {
	Role model.Role `json:"role"`
}

// UpdateUserRole はユーザーのロールを変更し、更新後のプロフィールを返す（管理者のみ）。
func (c *Client) UpdateUserRole(ctx context.Context, uid string, role model.Role) (*model.UserProfile, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("invalid role: %q", role)
	}

	var out model.UserProfile
	path := "/users/" + url.PathEscape(uid) + "/role"
	if err := c.doJSON(ctx, http.MethodPut, path, roleUpdateRequest{Role: role}, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetSettings はログイン中ユーザーの表示設定を取得する。
func (c *Client) GetSettings(ctx context.Context) (*model.UserSettings, error) {
	var out model.UserSettings
	if err := c.doJSON(ctx, http.MethodGet, "/users/me/settings", nil, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateSettings は表示設定を部分更新し、サーバーが保存した設定を返す。
func (c *Client) UpdateSettings(ctx context.Context, update model.UserSettingsUpdate) (*model.UserSettings, error) {
	var out model.UserSettings
	if err := c.doJSON(ctx, http.MethodPut, "/users/me/settings", update, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
