// Package session はログイン中の認証主体とプロフィールを保持する。
// IdPからのプッシュ通知でのみIdentityが変わり、変化のたびにプロフィールをバックエンドから1回取得する。
package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hitoshi/nsai/internal/model"
)

// IdentityProvider は外部IdPとの境界。
type IdentityProvider interface {
	// Subscribe は認証状態の変化を購読し、解除関数を返す。
	Subscribe(fn func(*model.Identity)) (unsubscribe func())
	SignIn(ctx context.Context) error
	SignOut(ctx context.Context) error
	Token(ctx context.Context) (string, error)
}

// ProfileFetcher はログイン中ユーザーのプロフィールを取得する。
// *api.Client が満たす。
type ProfileFetcher interface {
	Me(ctx context.Context) (*model.UserProfile, error)
}

// Snapshot はある時点のセッション状態。読み取り専用として扱う。
type Snapshot struct {
	// Loading は最初のIdP通知を受け取るまでtrue。
	Loading  bool
	Identity *model.Identity
	Profile  *model.UserProfile
}

// IsAuthenticated はIdentityが存在するかを返す。
func (s Snapshot) IsAuthenticated() bool {
	return s.Identity != nil
}

// Holder はセッション状態を保持する。Start後にIdPの通知を受け付ける。
type Holder struct {
	provider IdentityProvider
	fetcher  ProfileFetcher
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	snap        Snapshot
	generation  uint64
	fetching    bool
	started     bool
	closed      bool
	unsubscribe func()
	changed     chan struct{}

	notifyMu  sync.Mutex
	listenMu  sync.Mutex
	nextID    int
	listeners map[int]func(Snapshot)
}

// New はHolderを生成する。初期状態はLoading。
func New(provider IdentityProvider, fetcher ProfileFetcher, logger *slog.Logger) *Holder {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Holder{
		provider:  provider,
		fetcher:   fetcher,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		snap:      Snapshot{Loading: true},
		changed:   make(chan struct{}),
		listeners: make(map[int]func(Snapshot)),
	}
}

// Start はIdPにコールバックを1つだけ登録する。2回目以降の呼び出しは何もしない。
func (h *Holder) Start() {
	h.mu.Lock()
	if h.started || h.closed {
		h.mu.Unlock()
		return
	}
	h.started = true
	h.mu.Unlock()

	unsubscribe := h.provider.Subscribe(h.onIdentityChanged)

	h.mu.Lock()
	h.unsubscribe = unsubscribe
	h.mu.Unlock()
}

// Close は購読を解除し、実行中のプロフィール取得を取り消して終了を待つ。
func (h *Holder) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	unsubscribe := h.unsubscribe
	h.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	h.cancel()
	h.wg.Wait()
}

// Current は現在のスナップショットを返す。
func (h *Holder) Current() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snap
}

// IsAuthenticated はログイン中かを返す。
func (h *Holder) IsAuthenticated() bool {
	return h.Current().IsAuthenticated()
}

// Login は対話的なサインインを開始する。
// 返すエラーは開始の失敗のみで、結果のIdentityはIdPの通知で非同期に反映される。
func (h *Holder) Login(ctx context.Context) error {
	return h.provider.SignIn(ctx)
}

// Logout はIdentityとプロフィールを同時に消去してからIdPのサインアウトを行う。
func (h *Holder) Logout(ctx context.Context) error {
	h.mu.Lock()
	h.generation++
	h.snap.Identity = nil
	h.snap.Profile = nil
	h.fetching = false
	h.mu.Unlock()
	h.publish()

	return h.provider.SignOut(ctx)
}

// Token は現在の認証情報でベアラートークンを発行する。api.TokenSourceとして使える。
func (h *Holder) Token(ctx context.Context) (string, error) {
	return h.provider.Token(ctx)
}

// Subscribe は状態変化のたびにfnを呼ぶ。fnは通知の順に直列に呼ばれる。
func (h *Holder) Subscribe(fn func(Snapshot)) func() {
	h.listenMu.Lock()
	id := h.nextID
	h.nextID++
	h.listeners[id] = fn
	h.listenMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.listenMu.Lock()
			delete(h.listeners, id)
			h.listenMu.Unlock()
		})
	}
}

// Ready は最初のIdP通知とプロフィール取得が済むまで待ち、その時点のスナップショットを返す。
func (h *Holder) Ready(ctx context.Context) (Snapshot, error) {
	for {
		h.mu.Lock()
		if !h.snap.Loading && !h.fetching {
			snap := h.snap
			h.mu.Unlock()
			return snap, nil
		}
		ch := h.changed
		h.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return h.Current(), ctx.Err()
		}
	}
}

// onIdentityChanged はIdPからの通知を処理する。
func (h *Holder) onIdentityChanged(identity *model.Identity) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.generation++
	gen := h.generation
	h.snap.Loading = false
	if identity != nil {
		id := *identity
		h.snap.Identity = &id
	} else {
		h.snap.Identity = nil
	}
	// 前のIdentityのプロフィールは残さない
	h.snap.Profile = nil
	h.fetching = identity != nil
	if h.fetching {
		h.wg.Add(1)
	}
	h.mu.Unlock()
	h.publish()

	if identity != nil {
		go h.fetchProfile(gen, identity.UID)
	}
}

// fetchProfile はプロフィールを取得する。
// 取得中にIdentityが変わっていた場合は結果を捨てる。
func (h *Holder) fetchProfile(gen uint64, uid string) {
	defer h.wg.Done()

	profile, err := h.fetcher.Me(h.ctx)

	h.mu.Lock()
	if gen != h.generation {
		h.mu.Unlock()
		h.logger.Debug("discarding stale profile", slog.String("uid", uid))
		return
	}
	h.fetching = false
	switch {
	case err != nil:
		h.logger.Error("failed to fetch user profile",
			slog.String("uid", uid),
			slog.String("error", err.Error()),
		)
	case profile == nil:
	case profile.UID != "" && profile.UID != uid:
		h.logger.Warn("profile does not match current identity",
			slog.String("uid", uid),
			slog.String("profile_uid", profile.UID),
		)
	default:
		p := *profile
		h.snap.Profile = &p
	}
	h.mu.Unlock()
	h.publish()
}

// publish はReadyの待機を解除し、リスナーに現在のスナップショットを通知する。
func (h *Holder) publish() {
	h.notifyMu.Lock()
	defer h.notifyMu.Unlock()

	h.mu.Lock()
	snap := h.snap
	close(h.changed)
	h.changed = make(chan struct{})
	h.mu.Unlock()

	h.listenMu.Lock()
	fns := make([]func(Snapshot), 0, len(h.listeners))
	for i := 0; i < h.nextID; i++ {
		if fn, ok := h.listeners[i]; ok {
			fns = append(fns, fn)
		}
	}
	h.listenMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}
