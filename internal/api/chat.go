package api

import (
	"context"
	"errors"
	"io"
	"net/http"
)

// ErrNoBody はストリーミング応答にボディがない場合のエラー。
var ErrNoBody = errors.New("response has no body")

type chatRequest struct {
	Message string `json:"message"`
}

// OpenChatStream は POST /emanuel を呼び出し、NDJSONストリームのボディを返す。
// 呼び出し元は読み終えたらボディをCloseする。
func (c *Client) OpenChatStream(ctx context.Context, message string) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/emanuel", chatRequest{Message: message}, true)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := c.send(req)
	if err != nil {
		return nil, err
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		return nil, ErrNoBody
	}
	return resp.Body, nil
}
