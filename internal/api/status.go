package api

import (
	"context"
	"net/http"

	"github.com/hitoshi/nsai/internal/model"
)

// Health は GET /health を呼び出す。認証ヘッダーは付与しない。
func (c *Client) Health(ctx context.Context) (*model.HealthStatus, error) {
	var out model.HealthStatus
	if err := c.doJSON(ctx, http.MethodGet, "/health", nil, false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Version は GET /version を呼び出す。認証ヘッダーは付与しない。
func (c *Client) Version(ctx context.Context) (*model.VersionInfo, error) {
	var out model.VersionInfo
	if err := c.doJSON(ctx, http.MethodGet, "/version", nil, false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PageLoad は GET /page-load を呼び出し、ページ表示回数を返す。
func (c *Client) PageLoad(ctx context.Context) (*model.PageLoadCount, error) {
	var out model.PageLoadCount
	if err := c.doJSON(ctx, http.MethodGet, "/page-load", nil, false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FileStoreInfo はアシスタントの知識ベースの情報を返す。
func (c *Client) FileStoreInfo(ctx context.Context) (*model.FileStoreInfo, error) {
	var out model.FileStoreInfo
	if err := c.doJSON(ctx, http.MethodGet, "/emanuel/file-store-info", nil, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
