package auth

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/captionly/internal/model"
)

// EventKind は認証状態イベントの種類。
type EventKind int

const (
	// EventSignedOut は未認証状態を表す。
	EventSignedOut EventKind = iota
	// EventSignedIn は認証済み状態を表す。
	EventSignedIn
)

// Event は認証状態の変化を表す。SignedInの場合のみUserとExpiresAtを持つ。
// ExpiresAtがゼロ値の場合、セッションの有効期限は不明として扱う。
type Event struct {
	Kind      EventKind
	User      *model.User
	ExpiresAt time.Time
}

// SignedIn は有効期限なしのSignedInイベントを生成する。
func SignedIn(user *model.User) Event {
	return Event{Kind: EventSignedIn, User: user}
}

// SignedInUntil はexpiresAtまで有効なセッションのSignedInイベントを生成する。
func SignedInUntil(user *model.User, expiresAt time.Time) Event {
	return Event{Kind: EventSignedIn, User: user, ExpiresAt: expiresAt}
}

// SignedOut はSignedOutイベントを生成する。
func SignedOut() Event {
	return Event{Kind: EventSignedOut}
}

// Listener は認証状態の変化を受け取るコールバック。
type Listener func(ctx context.Context, ev Event)

// listenerHub はクライアントIDごとのリスナーを管理する。
type listenerHub struct {
	mu        sync.Mutex
	nextID    uint64
	listeners map[string]map[uint64]Listener
}

func newListenerHub() *listenerHub {
	return &listenerHub{listeners: make(map[string]map[uint64]Listener)}
}

// add はリスナーを登録し、登録解除関数を返す。解除関数は複数回呼んでも安全。
func (h *listenerHub) add(clientID string, fn Listener) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	if h.listeners[clientID] == nil {
		h.listeners[clientID] = make(map[uint64]Listener)
	}
	h.listeners[clientID][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.listeners[clientID], id)
			if len(h.listeners[clientID]) == 0 {
				delete(h.listeners, clientID)
			}
		})
	}
}

// publish はクライアントIDのリスナーへ同期的にイベントを配信する。
// ロック外で呼び出すため、リスナー内から登録解除してもデッドロックしない。
func (h *listenerHub) publish(ctx context.Context, clientID string, ev Event) {
	h.mu.Lock()
	fns := make([]Listener, 0, len(h.listeners[clientID]))
	for _, fn := range h.listeners[clientID] {
		fns = append(fns, fn)
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(ctx, ev)
	}
}

// count はクライアントIDの登録数を返す。テスト用。
func (h *listenerHub) count(clientID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners[clientID])
}
