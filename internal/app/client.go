package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/nsai/internal/api"
	"github.com/hitoshi/nsai/internal/auth"
	"github.com/hitoshi/nsai/internal/config"
	"github.com/hitoshi/nsai/internal/format"
	"github.com/hitoshi/nsai/internal/guard"
	"github.com/hitoshi/nsai/internal/model"
	"github.com/hitoshi/nsai/internal/session"
	"github.com/hitoshi/nsai/internal/settings"
)

// ErrAccessDenied はガードが保護対象の表示を許可しなかった場合のエラー。
var ErrAccessDenied = errors.New("access denied")

// startupTimeout はセッションと設定の初期化を待つ上限。
const startupTimeout = 15 * time.Second

// identityProvider はsession.IdentityProviderと同じ。
type identityProvider = session.IdentityProvider

// clientEnv はクライアントコマンドが共有する依存関係。
type clientEnv struct {
	cfg      *config.ClientConfig
	logger   *slog.Logger
	provider identityProvider
	api      *api.Client
	session  *session.Holder
	settings *settings.Holder

	unbind func()
}

// newClientEnv は設定からクライアントの依存関係を組み立てる。
// リフレッシュトークンがあればFirebaseで、IDトークンのみなら固定トークンで認証する。
func newClientEnv(cfg *config.ClientConfig, httpClient *http.Client, logger *slog.Logger) *clientEnv {
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	var provider identityProvider
	if cfg.RefreshToken != "" {
		provider = auth.NewFirebaseProvider(auth.FirebaseConfig{
			APIKey:       cfg.FirebaseAPIKey,
			RefreshToken: cfg.RefreshToken,
		}, &http.Client{Timeout: 10 * time.Second}, logger)
	} else {
		provider = auth.NewStaticTokenProvider(cfg.IDToken)
	}

	client := api.NewClient(cfg.APIBaseURL, httpClient, logger, provider.Token)
	sess := session.New(provider, client, logger)

	return &clientEnv{
		cfg:      cfg,
		logger:   logger,
		provider: provider,
		api:      client,
		session:  sess,
		settings: settings.New(client, logger),
	}
}

// start はセッションを開始し、認証情報があればサインインしてプロフィールと設定の取得を待つ。
func (e *clientEnv) start(ctx context.Context) (session.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	e.session.Start()
	if e.cfg.HasCredentials() {
		if err := e.session.Login(ctx); err != nil {
			return e.session.Current(), fmt.Errorf("sign-in failed: %w", err)
		}
	}

	snap, err := e.session.Ready(ctx)
	if err != nil {
		return snap, fmt.Errorf("session did not become ready: %w", err)
	}

	e.unbind = e.settings.Bind(context.Background(), e.session)
	e.settings.Wait()
	return snap, nil
}

// close はセッションの購読を解除する。
func (e *clientEnv) close() {
	if e.unbind != nil {
		e.unbind()
	}
	e.session.Close()
}

// require はガードの判定を行い、表示できない場合は利用者向けのメッセージとErrAccessDeniedを返す。
func (e *clientEnv) require(snap session.Snapshot, role model.Role) (string, error) {
	d := guard.Decide(snap, role)
	switch d.Outcome {
	case guard.Render:
		return "", nil
	case guard.Redirect:
		return "Not signed in. Set refresh_token (or id_token) in the client config.", ErrAccessDenied
	default:
		return d.Message, ErrAccessDenied
	}
}

// display は表示に使う設定を返す。
// 未認証時はデフォルトにクライアント設定ファイルの表示設定を重ねる。
func (e *clientEnv) display() model.UserSettings {
	s := e.settings.Settings()
	if e.session.IsAuthenticated() {
		return s
	}
	if e.cfg.Locale != "" {
		s.Locale = e.cfg.Locale
	}
	if e.cfg.Timezone != "" {
		s.Timezone = e.cfg.Timezone
	}
	if u := model.GlucoseUnit(e.cfg.GlucoseUnit); u.Valid() {
		s.GlucoseUnit = u
	}
	return s
}

// formatDate はdisplay設定で日付を整形する。
func (e *clientEnv) formatDate(t *time.Time) string {
	s := e.display()
	return format.Date(t, s.Locale, s.Timezone)
}

// formatTimestamp はdisplay設定でISO文字列の日時を整形する。
func (e *clientEnv) formatTimestamp(ts string) string {
	s := e.display()
	return format.DateTimeString(ts, s.Locale, s.Timezone)
}

// formatNumber はdisplay設定で数値を整形する。
func (e *clientEnv) formatNumber(v float64, decimals int) string {
	return format.Number(&v, e.display().Locale, decimals)
}
