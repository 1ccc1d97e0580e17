package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/nsai/internal/model"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

func staticToken(token string) TokenSource {
	return func(context.Context) (string, error) { return token, nil }
}

func newTestClient(t *testing.T, h http.HandlerFunc, tokens TokenSource) (*Client, *bytes.Buffer) {
	t.Helper()
	server := httptest.NewServer(h)
	t.Cleanup(server.Close)

	var buf bytes.Buffer
	return NewClient(server.URL+"/", server.Client(), newTestLogger(&buf), tokens), &buf
}

func TestNewClient_TrimsTrailingSlash(t *testing.T) {
	c := NewClient("http://localhost:8000/", nil, nil, nil)
	if c.BaseURL() != "http://localhost:8000" {
		t.Errorf("BaseURL = %q, want %q", c.BaseURL(), "http://localhost:8000")
	}
}

func TestClient_Health_NoAuthorizationHeader(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("path = %s, want /health", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "" {
			t.Errorf("Authorization = %q, want empty", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}, staticToken("secret"))

	h, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health がエラーを返した: %v", err)
	}
	if h.Status != "ok" {
		t.Errorf("Status = %q, want %q", h.Status, "ok")
	}
}

func TestClient_VersionAndPageLoad(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/version":
			w.Write([]byte(`{"version":"1.4.2"}`))
		case "/page-load":
			w.Write([]byte(`{"count":17}`))
		default:
			http.NotFound(w, r)
		}
	}, nil)

	v, err := c.Version(context.Background())
	if err != nil {
		t.Fatalf("Version がエラーを返した: %v", err)
	}
	if v.Version != "1.4.2" {
		t.Errorf("Version = %q, want %q", v.Version, "1.4.2")
	}

	p, err := c.PageLoad(context.Background())
	if err != nil {
		t.Fatalf("PageLoad がエラーを返した: %v", err)
	}
	if p.Count != 17 {
		t.Errorf("Count = %d, want 17", p.Count)
	}
}

func TestClient_Me_SendsBearerToken(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer id-token" {
			t.Errorf("Authorization = %q, want %q", got, "Bearer id-token")
		}
		w.Write([]byte(`{"uid":"u1","email":"a@example.com","role":"admin","created_at":"2024-03-07T10:00:00Z"}`))
	}, staticToken("id-token"))

	p, err := c.Me(context.Background())
	if err != nil {
		t.Fatalf("Me がエラーを返した: %v", err)
	}
	if p.UID != "u1" || p.Role != model.RoleAdmin {
		t.Errorf("profile = %+v", p)
	}
	if p.CreatedAt == nil || p.CreatedAt.Year() != 2024 {
		t.Errorf("CreatedAt = %v", p.CreatedAt)
	}
}

func TestClient_TokenFailure_ProceedsAnonymously(t *testing.T) {
	failing := func(context.Context) (string, error) { return "", errors.New("refresh failed") }

	c, logs := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "" {
			t.Errorf("Authorization = %q, want empty", got)
		}
		w.Write([]byte(`{"locale":"en-US","timezone":"UTC","glucose_unit":"mg/dL"}`))
	}, failing)

	if _, err := c.GetSettings(context.Background()); err != nil {
		t.Fatalf("GetSettings がエラーを返した: %v", err)
	}
	if !strings.Contains(logs.String(), "refresh failed") {
		t.Errorf("token failure should be logged, got %s", logs.String())
	}
}

func TestClient_EmptyToken_NoHeader(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Header["Authorization"]; ok {
			t.Error("Authorization header should be absent for an empty token")
		}
		w.Write([]byte(`[]`))
	}, staticToken(""))

	if _, err := c.ListUsers(context.Background()); err != nil {
		t.Fatalf("ListUsers がエラーを返した: %v", err)
	}
}

func TestClient_NonOKStatus_ReturnsStatusError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"detail":"Not enough permissions"}`))
	}, staticToken("t"))

	_, err := c.ListUsers(context.Background())
	if err == nil {
		t.Fatal("エラーが返されるべき")
	}

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("error type = %T, want *StatusError", err)
	}
	if se.StatusCode != http.StatusForbidden {
		t.Errorf("StatusCode = %d, want %d", se.StatusCode, http.StatusForbidden)
	}
	if !strings.Contains(se.Body, "Not enough permissions") {
		t.Errorf("Body = %q", se.Body)
	}
	if !IsStatus(err, http.StatusForbidden) {
		t.Error("IsStatus(err, 403) should be true")
	}
	if IsStatus(err, http.StatusNotFound) {
		t.Error("IsStatus(err, 404) should be false")
	}
}

func TestClient_MalformedJSON_ReturnsDecodeError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":`))
	}, nil)

	_, err := c.Health(context.Background())
	if err == nil {
		t.Fatal("エラーが返されるべき")
	}
	var se *StatusError
	if errors.As(err, &se) {
		t.Error("decode failure must not be reported as StatusError")
	}
}

func TestClient_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	var buf bytes.Buffer
	c := NewClient(url, http.DefaultClient, newTestLogger(&buf), nil)

	if _, err := c.Health(context.Background()); err == nil {
		t.Fatal("停止したサーバーへのリクエストはエラーになるべき")
	}
}

func TestClient_UpdateUserRole(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s, want PUT", r.Method)
		}
		if r.URL.Path != "/users/u-42/role" {
			t.Errorf("path = %s, want /users/u-42/role", r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		if body["role"] != "user" {
			t.Errorf("role = %q, want user", body["role"])
		}
		w.Write([]byte(`{"uid":"u-42","email":"b@example.com","role":"user"}`))
	}, staticToken("admin-token"))

	p, err := c.UpdateUserRole(context.Background(), "u-42", model.RoleUser)
	if err != nil {
		t.Fatalf("UpdateUserRole がエラーを返した: %v", err)
	}
	if p.Role != model.RoleUser {
		t.Errorf("Role = %q, want %q", p.Role, model.RoleUser)
	}
}

func TestClient_UpdateUserRole_InvalidRole(t *testing.T) {
	c := NewClient("http://unused.invalid", nil, nil, nil)
	if _, err := c.UpdateUserRole(context.Background(), "u1", model.Role("owner")); err == nil {
		t.Fatal("未知のロールはエラーになるべき")
	}
}

func TestClient_UpdateSettings_SendsOnlySetFields(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		if _, ok := body["timezone"]; ok {
			t.Errorf("timezone should be omitted, body = %s", raw)
		}
		if body["glucose_unit"] != "mmol/L" {
			t.Errorf("glucose_unit = %v, want mmol/L", body["glucose_unit"])
		}
		w.Write([]byte(`{"locale":"en-US","timezone":"UTC","glucose_unit":"mmol/L"}`))
	}, staticToken("t"))

	unit := model.GlucoseMmolL
	s, err := c.UpdateSettings(context.Background(), model.UserSettingsUpdate{GlucoseUnit: &unit})
	if err != nil {
		t.Fatalf("UpdateSettings がエラーを返した: %v", err)
	}
	if s.GlucoseUnit != model.GlucoseMmolL {
		t.Errorf("GlucoseUnit = %q, want %q", s.GlucoseUnit, model.GlucoseMmolL)
	}
}

func TestClient_FileStoreInfo(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/emanuel/file-store-info" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"size_mb":12.5,"display_name":"nightscout-docs"}`))
	}, nil)

	info, err := c.FileStoreInfo(context.Background())
	if err != nil {
		t.Fatalf("FileStoreInfo がエラーを返した: %v", err)
	}
	if info.SizeMB != 12.5 || info.DisplayName != "nightscout-docs" {
		t.Errorf("info = %+v", info)
	}
}
