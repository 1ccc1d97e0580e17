// Package roster は管理画面のユーザー一覧とロール変更を扱う。
// ロール変更は行（ユーザー）単位で実行中フラグを持ち、サーバーの確認後にのみキャッシュを書き換える。
package roster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/nsai/internal/model"
)

// 利用者向けのエラーメッセージ
const (
	MessageFetchFailed  = "Failed to fetch users"
	MessageUpdateFailed = "Failed to update status"
)

var (
	// ErrFetchUsers はユーザー一覧の取得に失敗した場合のエラー。
	ErrFetchUsers = errors.New("roster: failed to fetch users")
	// ErrUpdateRole はロール変更に失敗した場合のエラー。
	ErrUpdateRole = errors.New("roster: failed to update role")
)

// Backend は管理者向けAPI。*api.Client が満たす。
type Backend interface {
	ListUsers(ctx context.Context) ([]model.UserProfile, error)
	UsersWithActivity(ctx context.Context) ([]model.UserWithActivity, error)
	UpdateUserRole(ctx context.Context, uid string, role model.Role) (*model.UserProfile, error)
	UserSessions(ctx context.Context, uid string) ([]model.ActivitySession, error)
	SessionEvents(ctx context.Context, sessionID string) ([]model.SessionEvent, error)
}

// rowAction は実行中フラグのキー。同じユーザーでも別ロールへの変更は別キー。
type rowAction struct {
	uid  string
	role model.Role
}

// Roster はユーザー一覧とアクティビティ集計のキャッシュ。
type Roster struct {
	backend Backend
	logger  *slog.Logger

	mu       sync.Mutex
	users    []model.UserProfile
	activity []model.UserWithActivity
	loaded   bool
	inFlight map[rowAction]int
}

// New はRosterを生成する。
func New(backend Backend, logger *slog.Logger) *Roster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Roster{
		backend:  backend,
		logger:   logger,
		inFlight: make(map[rowAction]int),
	}
}

// Load はユーザー一覧とアクティビティ集計を並行して取得する。
// アクティビティの取得失敗はログに記録して空として扱う。ユーザー一覧の失敗はエラーを返し、キャッシュは変更しない。
func (r *Roster) Load(ctx context.Context) error {
	var (
		users    []model.UserProfile
		activity []model.UserWithActivity
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		users, err = r.backend.ListUsers(gctx)
		return err
	})
	g.Go(func() error {
		a, err := r.backend.UsersWithActivity(gctx)
		if err != nil {
			r.logger.Warn("failed to fetch users with activity", slog.String("error", err.Error()))
			return nil
		}
		activity = a
		return nil
	})

	if err := g.Wait(); err != nil {
		r.logger.Error("failed to fetch users", slog.String("error", err.Error()))
		return fmt.Errorf("%w: %w", ErrFetchUsers, err)
	}
	if activity == nil {
		activity = []model.UserWithActivity{}
	}

	r.mu.Lock()
	r.users = users
	r.activity = activity
	r.loaded = true
	r.mu.Unlock()
	return nil
}

// Loaded は一覧を一度でも取得できたかを返す。
func (r *Roster) Loaded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loaded
}

// Users はキャッシュしているユーザー一覧のコピーを返す。
func (r *Roster) Users() []model.UserProfile {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.UserProfile, len(r.users))
	copy(out, r.users)
	return out
}

// Activity はuidのアクティビティ集計を返す。
func (r *Roster) Activity(uid string) (model.UserWithActivity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.activity {
		if a.UID == uid {
			return a, true
		}
	}
	return model.UserWithActivity{}, false
}

// ActivityList はアクティビティ集計のコピーを返す。
func (r *Roster) ActivityList() []model.UserWithActivity {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.UserWithActivity, len(r.activity))
	copy(out, r.activity)
	return out
}

// InFlight はuidをroleへ変更するリクエストが実行中かを返す。
func (r *Roster) InFlight(uid string, role model.Role) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inFlight[rowAction{uid: uid, role: role}] > 0
}

// SetRole はユーザーのロールを変更する。
// 成功時はそのユーザーのロールだけをキャッシュ上で置き換え、一覧の再取得はしない。
// 失敗時はキャッシュを変更せず、実行中フラグを解除してエラーを返す。
// 同じ変更の同時実行は防がず、最後に返った応答がキャッシュに残る。
func (r *Roster) SetRole(ctx context.Context, uid string, role model.Role) error {
	key := rowAction{uid: uid, role: role}

	r.mu.Lock()
	r.inFlight[key]++
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		if r.inFlight[key]--; r.inFlight[key] <= 0 {
			delete(r.inFlight, key)
		}
		r.mu.Unlock()
	}()

	updated, err := r.backend.UpdateUserRole(ctx, uid, role)
	if err != nil {
		r.logger.Error("failed to update role",
			slog.String("uid", uid),
			slog.String("role", string(role)),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %w", ErrUpdateRole, err)
	}

	newRole := role
	if updated != nil && updated.Role.Valid() {
		newRole = updated.Role
	}

	r.mu.Lock()
	for i := range r.users {
		if r.users[i].UID == uid {
			r.users[i].Role = newRole
		}
	}
	r.mu.Unlock()

	r.logger.Info("role updated", slog.String("uid", uid), slog.String("role", string(newRole)))
	return nil
}

// Sessions はユーザーのセッション一覧を取得する。
func (r *Roster) Sessions(ctx context.Context, uid string) ([]model.ActivitySession, error) {
	sessions, err := r.backend.UserSessions(ctx, uid)
	if err != nil {
		r.logger.Error("failed to fetch sessions", slog.String("uid", uid), slog.String("error", err.Error()))
		return nil, fmt.Errorf("fetch sessions for %s: %w", uid, err)
	}
	return sessions, nil
}

// Events はセッションのイベント一覧を取得する。
func (r *Roster) Events(ctx context.Context, sessionID string) ([]model.SessionEvent, error) {
	events, err := r.backend.SessionEvents(ctx, sessionID)
	if err != nil {
		r.logger.Error("failed to fetch events", slog.String("session_id", sessionID), slog.String("error", err.Error()))
		return nil, fmt.Errorf("fetch events for %s: %w", sessionID, err)
	}
	return events, nil
}
