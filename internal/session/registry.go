package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// DefaultIdleTTL は未使用のコントローラーを破棄するまでの既定時間。
const DefaultIdleTTL = 30 * time.Minute

// ErrRegistryClosed はClose後にControllerを要求した場合に返される。
var ErrRegistryClosed = errors.New("session: registry is closed")

// entry はレジストリが保持するコントローラーと最終アクセス時刻、利用中のリクエスト数。
type entry struct {
	ctrl       *Controller
	start      sync.Once
	lastAccess time.Time
	inUse      int
}

// Registry はクライアントIDごとのControllerを管理する。
// 初回アクセス時に生成・起動し、一定時間アクセスのないものを破棄する。
type Registry struct {
	deps    Deps
	idleTTL time.Duration
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

// NewRegistry はRegistryを生成する。idleTTLが0以下の場合はDefaultIdleTTLを使用する。
func NewRegistry(deps Deps, idleTTL time.Duration) *Registry {
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Registry{
		deps:    deps,
		idleTTL: idleTTL,
		logger:  logger,
		now:     now,
		entries: make(map[string]*entry),
	}
}

// Controller はクライアントIDに対応するControllerを返す。
// 存在しない場合は生成して起動する。同一クライアントの並行呼び出しは起動完了を待つ。
// 返したControllerは利用中として扱わない。リクエストの間保持する場合はAcquireを使う。
func (r *Registry) Controller(ctx context.Context, clientID string) (*Controller, error) {
	ctrl, release, err := r.Acquire(ctx, clientID)
	if err != nil {
		return nil, err
	}
	release()
	return ctrl, nil
}

// Acquire はControllerを利用中として取得し、解放関数とともに返す。
// 解放関数が呼ばれるまでSweepIdleはこのControllerを破棄しない。解放関数は複数回呼んでも安全。
// セッションの有効期限が切れていれば、返す前にサインアウト状態にする。
func (r *Registry) Acquire(ctx context.Context, clientID string) (*Controller, func(), error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, nil, ErrRegistryClosed
	}
	e, ok := r.entries[clientID]
	if !ok {
		e = &entry{ctrl: NewController(clientID, r.deps)}
		r.entries[clientID] = e
	}
	e.lastAccess = r.now()
	e.inUse++
	r.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			r.mu.Lock()
			e.inUse--
			e.lastAccess = r.now()
			r.mu.Unlock()
		})
	}

	// 起動はリクエストのキャンセルに影響されないようにする
	bg := context.WithoutCancel(ctx)
	e.start.Do(func() {
		e.ctrl.Start(bg)
	})
	e.ctrl.ExpireSession(bg)
	return e.ctrl, release, nil
}

// Len は管理中のController数を返す。
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// StartCleanup は指定間隔で未使用のControllerを破棄する。
// コンテキストがキャンセルされるまで実行を継続する。
func (r *Registry) StartCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.SweepIdle(); n > 0 {
				r.logger.Info("未使用のセッションコントローラーを破棄しました",
					slog.Int("disposed_count", n),
				)
			}
		}
	}
}

// SweepIdle はidleTTLを超えてアクセスのないControllerを破棄し、破棄した数を返す。
// 利用中のControllerは最終アクセス時刻にかかわらず破棄しない。
func (r *Registry) SweepIdle() int {
	r.mu.Lock()
	cutoff := r.now().Add(-r.idleTTL)
	var idle []*Controller
	for id, e := range r.entries {
		if e.inUse > 0 || !e.lastAccess.Before(cutoff) {
			continue
		}
		idle = append(idle, e.ctrl)
		delete(r.entries, id)
	}
	r.mu.Unlock()

	for _, c := range idle {
		c.Dispose()
	}
	return len(idle)
}

// Close は全てのControllerを破棄し、以降の生成を拒否する。
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	all := make([]*Controller, 0, len(r.entries))
	for _, e := range r.entries {
		all = append(all, e.ctrl)
	}
	r.entries = make(map[string]*entry)
	r.mu.Unlock()

	for _, c := range all {
		c.Dispose()
	}
}
