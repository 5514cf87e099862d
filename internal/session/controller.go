// Package session はクライアント単位のセッション状態（ユーザー、履歴、連携アカウント、
// 画面、通知）を保持し、全ての変更操作を仲介するセッションコントローラーを提供する。
package session

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/hitoshi/captionly/internal/auth"
	"github.com/hitoshi/captionly/internal/generator"
	"github.com/hitoshi/captionly/internal/history"
	"github.com/hitoshi/captionly/internal/localcache"
	"github.com/hitoshi/captionly/internal/metrics"
	"github.com/hitoshi/captionly/internal/model"
	"github.com/hitoshi/captionly/internal/repository"
)

// State はセッションの状態。
type State string

const (
	StateLoading         State = "loading"
	StateUnauthenticated State = "unauthenticated"
	StateGuest           State = "guest"
	StateAuthenticated   State = "authenticated"
)

// NotificationDuration は通知の表示時間（表示2.7秒 + フェードアウト0.3秒）。
const NotificationDuration = 2700*time.Millisecond + 300*time.Millisecond

// 通知メッセージ。
const (
	MsgWelcome             = "Welcome to Captionly AI!"
	MsgAccountCreated      = "Account created successfully!"
	MsgCredentialsRequired = "Email and password are required."
	MsgSaved               = "Captions saved to history!"
	MsgSaveFailed          = "Failed to save captions. Please try again."
	MsgDeleted             = "Caption removed from history."
	MsgDeleteFailed        = "Failed to delete caption. Please try again."
	MsgToggleFailed        = "Failed to update integrations. Please try again."
	MsgPartialLoad         = "Some of your data could not be loaded."
	MsgRestored            = "Could not reach the sign-in service. Showing your last session."
	MsgPaymentSoon         = "Payment processing is coming soon!"
	MsgContactSalesSoon    = "Sales contact form is coming soon!"
	MsgSignInToGenerate    = "Sign in or continue as a guest to generate captions."
	MsgInvalidScreen       = "Unknown screen."
	MsgInvalidIntegration  = "Unknown integration platform."
	MsgNothingToSave       = "There is no generated result to save."
	MsgSessionExpired      = "Your session has expired. Please sign in again."
)

// IdentityProvider は外部IDプロバイダーのインターフェース。
// auth.Serviceが実装する。
type IdentityProvider interface {
	Subscribe(ctx context.Context, clientID string, fn auth.Listener) (func(), error)
	SignInWithPassword(ctx context.Context, clientID, email, password string) (*model.User, error)
	SignUpWithPassword(ctx context.Context, clientID, email, password, displayName string) (*model.User, error)
	LoginURL(providerID, state string) (string, error)
	SignInWithFederatedProvider(ctx context.Context, clientID, providerID, code string) (*model.User, error)
	SignOut(ctx context.Context, clientID string) error
}

// Generator はキャプション生成のインターフェース。
// generator.Mediatorが実装する。
type Generator interface {
	Generate(ctx context.Context, req generator.Request) (model.CaptionResult, error)
}

// Deps はコントローラーが保持する外部サービスのハンドル。
// Identity/Profiles/History/Generator はnilを許容し、nilの場合はローカルのみの動作に縮退する。
type Deps struct {
	Identity  IdentityProvider
	Profiles  repository.ProfileRepository
	History   repository.HistoryRepository
	Cache     localcache.Store
	Generator Generator
	Metrics   metrics.MetricsCollector
	Logger    *slog.Logger
	Now       func() time.Time
}

// Snapshot はコントローラー状態の読み取り専用コピー。
type Snapshot struct {
	State             State                 `json:"state"`
	User              *model.User           `json:"user"`
	History           []model.CaptionResult `json:"history"`
	ConnectedAccounts []string              `json:"connectedAccounts"`
	Screen            model.Screen          `json:"screen"`
	CurrentResult     *model.CaptionResult  `json:"currentResult"`
	CurrentSaved      bool                  `json:"currentSaved"`
	Notification      *model.Notification   `json:"notification"`
}

// Controller は1クライアント分のセッション状態の唯一の所有者。
// 状態はmuで保護し、保存・削除・連携切り替えはopMuで直列化する。
// 外部呼び出しの間はmuを保持しないため、Snapshotは外部呼び出しを待たない。
type Controller struct {
	clientID string
	deps     Deps
	logger   *slog.Logger
	now      func() time.Time

	opMu sync.Mutex

	mu           sync.RWMutex
	state        State
	user         *model.User
	history      []model.CaptionResult
	accounts     []string
	screen       model.Screen
	current      *model.CaptionResult
	notification *model.Notification
	disposed     bool
	authSeq      uint64
	authExpiry   time.Time
	genSeq       uint64
	unsubscribe  func()
}

// NewController はLoading状態のControllerを生成する。Startで状態を確定させる。
func NewController(clientID string, deps Deps) *Controller {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	if deps.Cache == nil {
		deps.Cache = localcache.NewMemoryStore()
	}
	return &Controller{
		clientID: clientID,
		deps:     deps,
		logger:   logger.With(slog.String("client_id", clientID)),
		now:      now,
		state:    StateLoading,
		screen:   model.ScreenHome,
	}
}

// ClientID はコントローラーが担当するクライアントIDを返す。
func (c *Controller) ClientID() string {
	return c.clientID
}

// Start は初期状態を確定させる。
// IDプロバイダーがない場合はキャッシュのゲストフラグでGuest/Unauthenticatedを決める。
// ある場合は認証状態を購読し、購読が失敗した場合はキャッシュ済みユーザーを復元する。
func (c *Controller) Start(ctx context.Context) {
	if c.deps.Identity == nil {
		c.applySignedOut(ctx)
		return
	}

	unsubscribe, err := c.deps.Identity.Subscribe(ctx, c.clientID, c.onAuthEvent)

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		if unsubscribe != nil {
			unsubscribe()
		}
		return
	}
	c.unsubscribe = unsubscribe
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("認証状態の購読に失敗しました",
			slog.String("error", err.Error()),
		)
		c.restore(ctx)
	}
}

// restore はキャッシュ済みユーザーをAuthenticatedとして復元する。
// キャッシュがない場合はサインアウト状態にする。
func (c *Controller) restore(ctx context.Context) {
	user, err := localcache.LoadUser(ctx, c.deps.Cache, c.clientID)
	if err != nil || user == nil {
		c.applySignedOut(ctx)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed || c.state != StateLoading {
		return
	}
	c.state = StateAuthenticated
	c.user = user
	c.history = []model.CaptionResult{}
	c.accounts = []string{}
	c.notifyLocked(MsgRestored, model.NotificationError)
}

// Dispose は認証状態の購読を解除し、以降に到着する結果を破棄する。
func (c *Controller) Dispose() {
	c.mu.Lock()
	c.disposed = true
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// Snapshot は現在の状態のコピーを返す。期限切れの通知は含めない。
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		State:             c.state,
		History:           make([]model.CaptionResult, 0, len(c.history)),
		ConnectedAccounts: append([]string{}, c.accounts...),
		Screen:            c.screen,
	}
	for _, e := range c.history {
		snap.History = append(snap.History, e.WithHistoryID(e.HistoryID))
	}
	if c.user != nil {
		u := *c.user
		snap.User = &u
	}
	if c.current != nil {
		cur := c.current.WithHistoryID(c.current.HistoryID)
		snap.CurrentResult = &cur
		snap.CurrentSaved = history.Contains(c.history, cur.HistoryID)
	}
	if c.notification != nil && c.now().Before(c.notification.ExpiresAt) {
		n := *c.notification
		snap.Notification = &n
	}
	return snap
}

// Navigate は表示画面を切り替える。
func (c *Controller) Navigate(screen string) error {
	s, ok := model.ParseScreen(screen)
	if !ok {
		return model.NewValidationError(MsgInvalidScreen)
	}
	c.mu.Lock()
	c.screen = s
	c.mu.Unlock()
	return nil
}

// DismissNotification は表示中の通知を消す。
func (c *Controller) DismissNotification() {
	c.mu.Lock()
	c.notification = nil
	c.mu.Unlock()
}

// ContinueAsGuest はUnauthenticatedからGuestへ遷移する。他の状態では何もしない。
func (c *Controller) ContinueAsGuest(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.currentState() != StateUnauthenticated {
		return nil
	}

	if err := localcache.SetGuest(ctx, c.deps.Cache, c.clientID); err != nil {
		c.logger.Warn("ゲストフラグの保存に失敗しました",
			slog.String("error", err.Error()),
		)
	}
	saved, err := localcache.LoadHistory(ctx, c.deps.Cache, c.clientID)
	if err != nil {
		saved = []model.CaptionResult{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateUnauthenticated {
		return nil
	}
	c.state = StateGuest
	c.history = history.Dedupe(saved)
	c.accounts = []string{}
	return nil
}

// SignUpRedirect はサインアウトと同じ動作でUnauthenticatedに戻し、サインアップ画面へ誘導する。
func (c *Controller) SignUpRedirect(ctx context.Context) error {
	return c.Logout(ctx)
}

// Upgrade は有料プランへのアップグレードを受け付ける。
// 未サインインの場合はサインアップへ誘導する。
func (c *Controller) Upgrade(ctx context.Context) error {
	if c.currentState() != StateAuthenticated {
		return c.SignUpRedirect(ctx)
	}
	c.notify(MsgPaymentSoon, model.NotificationInfo)
	return nil
}

// ContactSales は営業問い合わせを受け付ける。
func (c *Controller) ContactSales() {
	c.notify(MsgContactSalesSoon, model.NotificationInfo)
}

// Generate はキャプションを生成し、最新の生成結果として保持する。
// 生成中にコントローラーが破棄された場合や、より新しい生成・クリアが行われた場合は
// 結果を状態に反映しない。
func (c *Controller) Generate(ctx context.Context, req generator.Request) (model.CaptionResult, error) {
	c.mu.Lock()
	if (c.state != StateAuthenticated && c.state != StateGuest) || c.sessionExpiredLocked() {
		c.mu.Unlock()
		return model.CaptionResult{}, model.NewInvalidStateError(MsgSignInToGenerate)
	}
	c.genSeq++
	seq := c.genSeq
	c.current = nil
	c.mu.Unlock()

	if c.deps.Generator == nil {
		return model.CaptionResult{}, model.NewGenerationError()
	}

	result, err := c.deps.Generator.Generate(ctx, req)
	if err != nil {
		return model.CaptionResult{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed || seq != c.genSeq {
		c.logger.Info("古い生成結果を破棄しました")
		return result, nil
	}
	cur := result.WithHistoryID(model.HistoryID{})
	c.current = &cur
	return result, nil
}

// ClearResult は最新の生成結果を破棄する。実行中の生成結果も反映されなくなる。
func (c *Controller) ClearResult() {
	c.mu.Lock()
	c.genSeq++
	c.current = nil
	c.mu.Unlock()
}

// CurrentResult は最新の生成結果を返す。
func (c *Controller) CurrentResult() (model.CaptionResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return model.CaptionResult{}, false
	}
	return c.current.WithHistoryID(c.current.HistoryID), true
}

// FindHistory はHistoryIDに一致する履歴エントリを返す。
func (c *Controller) FindHistory(id model.HistoryID) (model.CaptionResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i := history.Index(c.history, id)
	if i < 0 {
		return model.CaptionResult{}, false
	}
	return c.history[i].WithHistoryID(c.history[i].HistoryID), true
}

// ExpireSession はセッションの有効期限を過ぎていればサインアウト状態にし、通知を出す。
// IDプロバイダーは期限切れを通知しないため、アクセスのたびに呼び出す。
func (c *Controller) ExpireSession(ctx context.Context) bool {
	c.mu.RLock()
	expired := c.sessionExpiredLocked()
	c.mu.RUnlock()
	if !expired {
		return false
	}

	c.logger.Info("セッションの有効期限が切れました")
	c.applySignedOut(ctx)
	c.notify(MsgSessionExpired, model.NotificationError)
	return true
}

// sessionExpiredLocked はAuthenticatedのセッションが有効期限を過ぎているかを返す。muを保持して呼ぶ。
func (c *Controller) sessionExpiredLocked() bool {
	return c.state == StateAuthenticated && !c.authExpiry.IsZero() && !c.now().Before(c.authExpiry)
}

func (c *Controller) currentState() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// notify は単一スロットの通知を置き換える。
func (c *Controller) notify(message string, kind model.NotificationKind) {
	c.mu.Lock()
	c.notifyLocked(message, kind)
	c.mu.Unlock()
}

func (c *Controller) notifyLocked(message string, kind model.NotificationKind) {
	c.notification = &model.Notification{
		Message:   message,
		Kind:      kind,
		ExpiresAt: c.now().Add(NotificationDuration),
	}
}

// sameContent は生成結果の内容（キャプション・ハッシュタグ・入力）が一致するかを返す。
func sameContent(a, b model.CaptionResult) bool {
	return a.InputDetails == b.InputDetails &&
		slices.Equal(a.Captions, b.Captions) &&
		slices.Equal(a.Hashtags, b.Hashtags)
}
