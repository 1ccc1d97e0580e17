package bff

import (
	"bytes"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/hitoshi/nsai/internal/middleware"
	"github.com/hitoshi/nsai/internal/model"
)

const indexFile = "index.html"

// SPAHandler はビルド済みSPAの静的アセットを配信する。
// 存在しないパスにはindex.htmlを返し、クライアント側ルーティングに任せる。
type SPAHandler struct {
	root   fs.FS
	files  http.Handler
	logger *slog.Logger
}

// NewSPAHandler はSPAHandlerを生成する。
func NewSPAHandler(root fs.FS, logger *slog.Logger) *SPAHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SPAHandler{
		root:   root,
		files:  http.FileServerFS(root),
		logger: logger,
	}
}

// ServeHTTP はhttp.Handlerを実装する。
func (h *SPAHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")

	if name != "" {
		info, err := fs.Stat(h.root, name)
		if err == nil && !info.IsDir() {
			// Viteのハッシュ付きアセットは内容が変わればファイル名も変わる
			if strings.HasPrefix(name, "assets/") {
				w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
			}
			h.files.ServeHTTP(w, r)
			return
		}
	}

	h.serveIndex(w, r)
}

// serveIndex はリクエストパスに関係なくindex.htmlを返す。
// ServeFileFSは".."を含むパスを400で拒否するため使わない。
func (h *SPAHandler) serveIndex(w http.ResponseWriter, r *http.Request) {
	info, err := fs.Stat(h.root, indexFile)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			h.logger.Error("failed to stat index.html", slog.String("error", err.Error()))
		}
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewNotFoundError(r.URL.Path))
		return
	}

	data, err := fs.ReadFile(h.root, indexFile)
	if err != nil {
		h.logger.Error("failed to read index.html", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
		return
	}

	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, r, indexFile, info.ModTime(), bytes.NewReader(data))
}
