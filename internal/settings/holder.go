// Package settings はユーザーごとの表示設定（ロケール、タイムゾーン、血糖値単位）をキャッシュする。
// 設定はサーバーが所有し、更新はサーバーの応答でのみキャッシュに反映する。
package settings

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/nsai/internal/format"
	"github.com/hitoshi/nsai/internal/model"
	"github.com/hitoshi/nsai/internal/session"
)

// Store は設定の取得と更新を行うバックエンド。*api.Client が満たす。
type Store interface {
	GetSettings(ctx context.Context) (*model.UserSettings, error)
	UpdateSettings(ctx context.Context, update model.UserSettingsUpdate) (*model.UserSettings, error)
}

// SessionSource は認証状態の通知元。*session.Holder が満たす。
type SessionSource interface {
	Current() session.Snapshot
	Subscribe(fn func(session.Snapshot)) func()
}

// Holder は表示設定のキャッシュ。
type Holder struct {
	store  Store
	logger *slog.Logger
	wg     sync.WaitGroup

	mu       sync.Mutex
	settings model.UserSettings
	loading  bool
	gen      uint64
	bound    bool
	boundUID string
}

// New はデフォルト設定で初期化したHolderを生成する。最初の解決まではLoading。
func New(store Store, logger *slog.Logger) *Holder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Holder{
		store:    store,
		logger:   logger,
		settings: model.DefaultUserSettings(),
		loading:  true,
	}
}

// Settings は現在の設定を返す。
func (h *Holder) Settings() model.UserSettings {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.settings
}

// Loading は最初の解決が済んでいないかを返す。
func (h *Holder) Loading() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loading
}

// Load は認証状態に応じて設定を解決する。
// 認証済みならサーバーから取得し、失敗時はデフォルトに戻す。未認証ならデフォルト。
func (h *Holder) Load(ctx context.Context, authenticated bool) model.UserSettings {
	h.mu.Lock()
	h.gen++
	gen := h.gen
	h.mu.Unlock()

	h.resolve(ctx, gen, authenticated)
	return h.Settings()
}

// Bind はセッションの認証状態が変わるたびに設定を解決する。返り値で購読を解除する。
func (h *Holder) Bind(ctx context.Context, sess SessionSource) func() {
	unsubscribe := sess.Subscribe(func(s session.Snapshot) {
		h.onSession(ctx, s)
	})
	h.onSession(ctx, sess.Current())
	return unsubscribe
}

// Wait はBindが起動した解決処理の完了を待つ。
func (h *Holder) Wait() {
	h.wg.Wait()
}

func (h *Holder) onSession(ctx context.Context, s session.Snapshot) {
	if s.Loading {
		return
	}
	uid := ""
	if s.Identity != nil {
		uid = s.Identity.UID
	}

	h.mu.Lock()
	if h.bound && h.boundUID == uid {
		h.mu.Unlock()
		return
	}
	h.bound = true
	h.boundUID = uid
	h.gen++
	gen := h.gen
	h.wg.Add(1)
	h.mu.Unlock()

	go func() {
		defer h.wg.Done()
		h.resolve(ctx, gen, uid != "")
	}()
}

// resolve は設定を取得してキャッシュを更新する。genが古くなっていれば結果を捨てる。
func (h *Holder) resolve(ctx context.Context, gen uint64, authenticated bool) {
	next := model.DefaultUserSettings()
	if authenticated {
		s, err := h.store.GetSettings(ctx)
		if err != nil {
			h.logger.Warn("failed to fetch user settings, using defaults",
				slog.String("error", err.Error()),
			)
		} else {
			next = *s
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if gen != h.gen {
		return
	}
	h.settings = next
	h.loading = false
}

// Update は設定を部分更新する。キャッシュはサーバーの応答でのみ置き換え、失敗時は変更しない。
func (h *Holder) Update(ctx context.Context, update model.UserSettingsUpdate) (model.UserSettings, error) {
	if update.IsEmpty() {
		return h.Settings(), nil
	}
	if err := validate(update); err != nil {
		return h.Settings(), err
	}

	s, err := h.store.UpdateSettings(ctx, update)
	if err != nil {
		h.logger.Error("failed to update settings", slog.String("error", err.Error()))
		return h.Settings(), fmt.Errorf("update settings: %w", err)
	}

	h.mu.Lock()
	// 取得中の古い結果で上書きされないようにする
	h.gen++
	h.settings = *s
	h.loading = false
	h.mu.Unlock()
	return *s, nil
}

func validate(update model.UserSettingsUpdate) error {
	if update.GlucoseUnit != nil && !update.GlucoseUnit.Valid() {
		return fmt.Errorf("invalid glucose unit: %q", *update.GlucoseUnit)
	}
	if update.Timezone != nil {
		if _, err := time.LoadLocation(*update.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", *update.Timezone, err)
		}
	}
	if update.Locale != nil && *update.Locale == "" {
		return fmt.Errorf("locale must not be empty")
	}
	return nil
}

// Draft は保存前の編集バッファ。
type Draft struct {
	model.UserSettings
	base model.UserSettings
}

// Draft は現在の設定をコピーした編集バッファを返す。
func (h *Holder) Draft() *Draft {
	s := h.Settings()
	return &Draft{UserSettings: s, base: s}
}

// HasChanges は編集前から変わったフィールドがあるかを返す。
func (d *Draft) HasChanges() bool {
	return d.UserSettings != d.base
}

// Changes は変更されたフィールドだけを含む部分更新を返す。
func (d *Draft) Changes() model.UserSettingsUpdate {
	var u model.UserSettingsUpdate
	if d.Locale != d.base.Locale {
		v := d.Locale
		u.Locale = &v
	}
	if d.Timezone != d.base.Timezone {
		v := d.Timezone
		u.Timezone = &v
	}
	if d.GlucoseUnit != d.base.GlucoseUnit {
		v := d.GlucoseUnit
		u.GlucoseUnit = &v
	}
	return u
}

// Save は編集バッファの変更を送信する。成功すると編集バッファの基準も更新される。
func (h *Holder) Save(ctx context.Context, d *Draft) (model.UserSettings, error) {
	s, err := h.Update(ctx, d.Changes())
	if err != nil {
		return s, err
	}
	d.UserSettings = s
	d.base = s
	return s, nil
}

// FormatDate は現在の設定で日付を整形する。
func (h *Holder) FormatDate(t *time.Time) string {
	s := h.Settings()
	return format.Date(t, s.Locale, s.Timezone)
}

// FormatDateTime は現在の設定で日時を整形する。
func (h *Holder) FormatDateTime(t *time.Time) string {
	s := h.Settings()
	return format.DateTime(t, s.Locale, s.Timezone)
}

// FormatTimestamp はバックエンドのタイムスタンプ文字列を日時として整形する。
func (h *Holder) FormatTimestamp(ts string) string {
	return h.FormatDateTime(format.ParseTimestamp(ts))
}

// FormatNumber は現在のロケールで数値を整形する。
func (h *Holder) FormatNumber(v *float64, decimals int) string {
	return format.Number(v, h.Settings().Locale, decimals)
}

// FormatGlucose は血糖値をsourceから現在の表示単位に換算して整形する。
func (h *Holder) FormatGlucose(v *float64, source model.GlucoseUnit) string {
	s := h.Settings()
	return format.Glucose(v, s.GlucoseUnit, s.Locale, source)
}
