package app

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/nsai/internal/config"
	"github.com/hitoshi/nsai/internal/logger"
)

func newTestConfig(t *testing.T, backendURL string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>nsai</html>"), 0o600); err != nil {
		t.Fatalf("failed to write index.html: %v", err)
	}
	return &config.Config{
		BackendURL:         backendURL,
		AuthDomain:         "ns-ai-project.firebaseapp.com",
		AuthProxyGuard:     true,
		TokenMode:          config.TokenModeNone,
		StaticDir:          dir,
		RateLimitPerMinute: 600,
		Port:               "0",
	}
}

func startTestServer(t *testing.T, cfg *config.Config) *httptest.Server {
	t.Helper()
	srv, err := NewServer(cfg, logger.Discard(), prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewServer returned error: %v", err)
	}
	t.Cleanup(srv.Close)

	ts := httptest.NewServer(srv.HTTP.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

func TestNewServer_WiresRoutes(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("backend path = %q, want %q", r.URL.Path, "/health")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer backend.Close()

	ts := startTestServer(t, newTestConfig(t, backend.URL))

	resp, body := get(t, ts.URL+"/healthz")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/healthz status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	resp, body = get(t, ts.URL+"/api/health")
	if resp.StatusCode != http.StatusOK || body != `{"status":"ok"}` {
		t.Errorf("/api/health = %d %q", resp.StatusCode, body)
	}

	resp, body = get(t, ts.URL+"/chat")
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, "nsai") {
		t.Errorf("SPA fallback = %d %q", resp.StatusCode, body)
	}

	_, body = get(t, ts.URL+"/metrics")
	if !strings.Contains(body, `nsai_bff_proxy_responses_total{status_code="200",upstream="backend"} 1`) {
		t.Errorf("metrics should count the proxied response, got:\n%s", body)
	}
}

func TestNewServer_H2CStillServesHTTP1(t *testing.T) {
	cfg := newTestConfig(t, "http://127.0.0.1:1")
	cfg.EnableH2C = true

	ts := startTestServer(t, cfg)

	resp, _ := get(t, ts.URL+"/healthz")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/healthz status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

func TestNewServer_BackendDown_Returns500(t *testing.T) {
	backend := httptest.NewServer(http.NotFoundHandler())
	backendURL := backend.URL
	backend.Close()

	ts := startTestServer(t, newTestConfig(t, backendURL))

	resp, body := get(t, ts.URL+"/api/health")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusInternalServerError)
	}
	if !strings.Contains(body, "PROXY_ERROR") {
		t.Errorf("body = %q, want PROXY_ERROR", body)
	}
}

func TestNewServer_RejectsUnsafeAuthDomain(t *testing.T) {
	cfg := newTestConfig(t, "https://backend.example.com")
	cfg.AuthDomain = "localhost"

	if _, err := NewServer(cfg, logger.Discard(), nil); err == nil {
		t.Fatal("NewServer should reject a loopback auth domain when the guard is on")
	}

	cfg.AuthProxyGuard = false
	srv, err := NewServer(cfg, logger.Discard(), nil)
	if err != nil {
		t.Fatalf("NewServer with guard off returned error: %v", err)
	}
	srv.Close()
}

func TestNewServer_SignedModeWithoutSecretFails(t *testing.T) {
	cfg := newTestConfig(t, "https://backend.example.com")
	cfg.TokenMode = config.TokenModeSigned

	if _, err := NewServer(cfg, logger.Discard(), nil); err == nil {
		t.Fatal("NewServer should fail when the signing secret is empty")
	}
}
