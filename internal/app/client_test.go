package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mattn/go-runewidth"

	"github.com/hitoshi/nsai/internal/chat"
	"github.com/hitoshi/nsai/internal/config"
	"github.com/hitoshi/nsai/internal/guard"
	"github.com/hitoshi/nsai/internal/logger"
	"github.com/hitoshi/nsai/internal/model"
	"github.com/hitoshi/nsai/internal/security"
)

// fakeBackend はクライアントコマンドが呼ぶバックエンドAPIを再現する。
type fakeBackend struct {
	role string

	mu        sync.Mutex
	roleBody  map[string]string
	chatLines []string
}

func newFakeBackend(t *testing.T, role string) (*fakeBackend, *httptest.Server) {
	t.Helper()
	b := &fakeBackend{role: role}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", b.json(`{"status":"ok"}`))
	mux.HandleFunc("GET /version", b.json(`{"version":"1.2.3"}`))
	mux.HandleFunc("GET /page-load", b.json(`{"count":1234}`))
	mux.HandleFunc("GET /emanuel/file-store-info", b.json(`{"size_mb":12.5,"display_name":"guidelines.pdf","upload_date":"2025-01-02T00:00:00Z"}`))
	mux.HandleFunc("GET /users/me", func(w http.ResponseWriter, r *http.Request) {
		b.json(`{"uid":"u1","email":"alice@example.com","role":"` + b.role + `"}`)(w, r)
	})
	mux.HandleFunc("GET /users/me/settings", b.json(`{"locale":"en-US","timezone":"UTC","glucose_unit":"mg/dL"}`))
	mux.HandleFunc("GET /users/", b.json(`[
		{"uid":"u1","email":"alice@example.com","role":"admin"},
		{"uid":"u2","email":"bob@example.com","role":"pending"}
	]`))
	mux.HandleFunc("GET /admin/users-with-activity", b.json(`[
		{"uid":"u2","email":"bob@example.com","total_sessions":3,"total_events":42,"total_errors":1}
	]`))
	mux.HandleFunc("PUT /users/{uid}/role", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		b.mu.Lock()
		b.roleBody = body
		b.mu.Unlock()
		b.json(`{"uid":"` + r.PathValue("uid") + `","email":"bob@example.com","role":"` + body["role"] + `"}`)(w, r)
	})
	mux.HandleFunc("GET /admin/users/{uid}/sessions", b.json(`[
		{"session_id":"s1","uid":"u2","started_at":"2025-01-02T10:00:00","event_count":5,"error_count":0}
	]`))
	mux.HandleFunc("GET /admin/sessions/{id}/events", b.json(`[
		{"event_id":"e1","session_id":"s1","event_type":"page_view","timestamp":"2025-01-02T10:00:00","data":{"path":"/chat"}}
	]`))
	mux.HandleFunc("POST /emanuel", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		lines := b.chatLines
		b.mu.Unlock()
		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, l := range lines {
			w.Write([]byte(l + "\n"))
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return b, srv
}

func (b *fakeBackend) json(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}
}

func testIDToken(t *testing.T) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "u1",
		"email": "alice@example.com",
	}).SignedString([]byte("test"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

func newTestEnv(t *testing.T, srv *httptest.Server, signedIn bool) *clientEnv {
	t.Helper()
	cfg := &config.ClientConfig{APIBaseURL: srv.URL}
	if signedIn {
		cfg.IDToken = testIDToken(t)
	}
	env := newClientEnv(cfg, srv.Client(), logger.Discard())
	t.Cleanup(env.close)
	return env
}

func TestRunStatus_Unauthenticated(t *testing.T) {
	_, srv := newFakeBackend(t, "user")
	env := newTestEnv(t, srv, false)

	var out bytes.Buffer
	if err := runStatus(context.Background(), env, &out); err != nil {
		t.Fatalf("runStatus returned error: %v", err)
	}

	got := out.String()
	for _, want := range []string{"ok", "1.2.3", "1,234", "no"} {
		if !strings.Contains(got, want) {
			t.Errorf("output should contain %q, got:\n%s", want, got)
		}
	}
	if strings.Contains(got, "guidelines.pdf") {
		t.Errorf("knowledge base should not be shown when signed out, got:\n%s", got)
	}
}

func TestRunStatus_Authenticated_ShowsKnowledgeBase(t *testing.T) {
	_, srv := newFakeBackend(t, "user")
	env := newTestEnv(t, srv, true)

	var out bytes.Buffer
	if err := runStatus(context.Background(), env, &out); err != nil {
		t.Fatalf("runStatus returned error: %v", err)
	}

	got := out.String()
	for _, want := range []string{"alice@example.com (user)", "guidelines.pdf", "12.5 MB", "01/02/2025"} {
		if !strings.Contains(got, want) {
			t.Errorf("output should contain %q, got:\n%s", want, got)
		}
	}
}

func TestRunStatus_BackendOffline(t *testing.T) {
	_, srv := newFakeBackend(t, "user")
	env := newTestEnv(t, srv, false)
	srv.Close()

	var out bytes.Buffer
	if err := runStatus(context.Background(), env, &out); err != nil {
		t.Fatalf("runStatus should not fail when the backend is down, got %v", err)
	}
	if !strings.Contains(out.String(), "offline") {
		t.Errorf("output should report offline, got:\n%s", out.String())
	}
}

func TestClientEnv_DisplayUsesConfigWhenSignedOut(t *testing.T) {
	_, srv := newFakeBackend(t, "user")
	env := newTestEnv(t, srv, false)
	env.cfg.Locale = "sv-SE"
	env.cfg.GlucoseUnit = "mmol/L"
	env.cfg.Timezone = "Europe/Stockholm"

	if _, err := env.start(context.Background()); err != nil {
		t.Fatalf("start returned error: %v", err)
	}

	d := env.display()
	if d.Locale != "sv-SE" || d.GlucoseUnit != "mmol/L" || d.Timezone != "Europe/Stockholm" {
		t.Errorf("display = %+v, want config overrides", d)
	}
}

func TestRunChat_StreamsSanitizedReply(t *testing.T) {
	b, srv := newFakeBackend(t, "user")
	b.chatLines = []string{
		`{"type":"content","text":"Hello "}`,
		`{"type":"content","text":"<b>world</b>\u001b[31m!"}`,
		`{"type":"usage","input_tokens":1200,"output_tokens":34}`,
	}
	env := newTestEnv(t, srv, true)

	in := newScannerReader(strings.NewReader("hi\n/usage\n/quit\n"), nil)
	var out bytes.Buffer
	if err := runChat(context.Background(), env, in, &out); err != nil {
		t.Fatalf("runChat returned error: %v", err)
	}

	got := out.String()
	if !strings.Contains(got, "nsai> Hello world!\n") {
		t.Errorf("reply should be streamed without markup or escapes, got:\n%q", got)
	}
	if !strings.Contains(got, "input tokens: 1,200, output tokens: 34") {
		t.Errorf("usage should be reported, got:\n%s", got)
	}
}

func TestRunChat_StreamErrorKeepsPartialReply(t *testing.T) {
	b, srv := newFakeBackend(t, "user")
	b.chatLines = []string{
		`{"type":"content","text":"Partial"}`,
		`{"type":"error","text":"model overloaded"}`,
	}
	env := newTestEnv(t, srv, true)

	in := newScannerReader(strings.NewReader("hi\n"), nil)
	var out bytes.Buffer
	if err := runChat(context.Background(), env, in, &out); err != nil {
		t.Fatalf("runChat returned error: %v", err)
	}

	got := out.String()
	if !strings.Contains(got, "Partial\n") || !strings.Contains(got, "model overloaded") {
		t.Errorf("partial reply and error should both be shown, got:\n%q", got)
	}
}

func TestRunChat_PendingUserIsDenied(t *testing.T) {
	_, srv := newFakeBackend(t, "pending")
	env := newTestEnv(t, srv, true)

	var out bytes.Buffer
	err := runChat(context.Background(), env, newScannerReader(strings.NewReader(""), nil), &out)
	if !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("error = %v, want ErrAccessDenied", err)
	}
	if !strings.Contains(out.String(), guard.MessagePending) {
		t.Errorf("output = %q, want %q", out.String(), guard.MessagePending)
	}
}

func TestRunChat_SignedOutIsDenied(t *testing.T) {
	_, srv := newFakeBackend(t, "user")
	env := newTestEnv(t, srv, false)

	var out bytes.Buffer
	err := runChat(context.Background(), env, newScannerReader(strings.NewReader(""), nil), &out)
	if !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("error = %v, want ErrAccessDenied", err)
	}
	if !strings.Contains(out.String(), "Not signed in") {
		t.Errorf("output = %q, want sign-in hint", out.String())
	}
}

func TestTranscriptPrinter_ApologyStartsNewLine(t *testing.T) {
	var out bytes.Buffer
	p := newTranscriptPrinter(&out)

	msgs := []model.Message{
		{Role: model.MessageRoleUser, Content: "hi"},
		{Role: model.MessageRoleAssistant, Content: "Part"},
	}
	p.refresh(msgs)
	msgs = append(msgs, model.Message{Role: model.MessageRoleAssistant, Content: chat.Apology})
	p.refresh(msgs)
	p.endTurn()

	want := "nsai> Part\nnsai> " + chat.Apology + "\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
}

func TestRunAdmin_ListsUsers(t *testing.T) {
	_, srv := newFakeBackend(t, "admin")
	env := newTestEnv(t, srv, true)

	var out bytes.Buffer
	if err := runAdmin(context.Background(), env, nil, &out); err != nil {
		t.Fatalf("runAdmin returned error: %v", err)
	}

	got := out.String()
	for _, want := range []string{"EMAIL", "alice@example.com", "bob@example.com", "pending", "42"} {
		if !strings.Contains(got, want) {
			t.Errorf("output should contain %q, got:\n%s", want, got)
		}
	}
}

func TestRunAdmin_SetRole(t *testing.T) {
	b, srv := newFakeBackend(t, "admin")
	env := newTestEnv(t, srv, true)

	var out bytes.Buffer
	if err := runAdmin(context.Background(), env, []string{"set-role", "u2", "user"}, &out); err != nil {
		t.Fatalf("runAdmin returned error: %v", err)
	}

	b.mu.Lock()
	body := b.roleBody
	b.mu.Unlock()
	if body["role"] != "user" {
		t.Errorf("role sent = %q, want %q", body["role"], "user")
	}
	if !strings.Contains(out.String(), "u2 is now user") {
		t.Errorf("output = %q", out.String())
	}
}

func TestRunAdmin_SessionsAndEvents(t *testing.T) {
	_, srv := newFakeBackend(t, "admin")
	env := newTestEnv(t, srv, true)

	var out bytes.Buffer
	if err := runAdmin(context.Background(), env, []string{"sessions", "u2"}, &out); err != nil {
		t.Fatalf("sessions returned error: %v", err)
	}
	if !strings.Contains(out.String(), "s1") {
		t.Errorf("sessions output = %q", out.String())
	}

	out.Reset()
	if err := runAdmin(context.Background(), env, []string{"events", "s1"}, &out); err != nil {
		t.Fatalf("events returned error: %v", err)
	}
	if !strings.Contains(out.String(), "page_view") || !strings.Contains(out.String(), `{"path":"/chat"}`) {
		t.Errorf("events output = %q", out.String())
	}
}

func TestRunAdmin_InvalidArguments(t *testing.T) {
	_, srv := newFakeBackend(t, "admin")

	tests := [][]string{
		{"set-role", "u2"},
		{"set-role", "u2", "owner"},
		{"sessions"},
		{"unknown"},
	}
	for _, args := range tests {
		env := newTestEnv(t, srv, true)
		var out bytes.Buffer
		if err := runAdmin(context.Background(), env, args, &out); !errors.Is(err, errUsage) {
			t.Errorf("runAdmin(%v) error = %v, want errUsage", args, err)
		}
	}
}

func TestRunAdmin_UserRoleIsDenied(t *testing.T) {
	_, srv := newFakeBackend(t, "user")
	env := newTestEnv(t, srv, true)

	var out bytes.Buffer
	err := runAdmin(context.Background(), env, nil, &out)
	if !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("error = %v, want ErrAccessDenied", err)
	}
	if !strings.Contains(out.String(), guard.MessageAdminsOnly) {
		t.Errorf("output = %q, want %q", out.String(), guard.MessageAdminsOnly)
	}
}

func TestAdminCell_TruncatesByDisplayWidth(t *testing.T) {
	a := &adminCommand{sanitizer: security.NewTerminalSanitizer()}

	got := a.cell("とても長いメールアドレスのユーザー@example.com", 16)
	if w := runewidth.StringWidth(got); w > 16 {
		t.Errorf("width = %d, want <= 16 (%q)", w, got)
	}
	if !strings.HasSuffix(got, "…") {
		t.Errorf("cell = %q, want ellipsis", got)
	}
	if got := a.cell("line1\nline2\tx", 40); got != "line1 line2 x" {
		t.Errorf("cell = %q, want whitespace collapsed", got)
	}
	if got := a.cell("", 10); got != "-" {
		t.Errorf("cell(empty) = %q, want %q", got, "-")
	}
}
