package session

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/captionly/internal/auth"
	"github.com/hitoshi/captionly/internal/history"
	"github.com/hitoshi/captionly/internal/localcache"
	"github.com/hitoshi/captionly/internal/model"
)

// onAuthEvent はIDプロバイダーからの認証状態通知を受け取る唯一の経路。
func (c *Controller) onAuthEvent(ctx context.Context, ev auth.Event) {
	switch ev.Kind {
	case auth.EventSignedIn:
		if ev.User == nil {
			c.applySignedOut(ctx)
			return
		}
		c.reconcile(ctx, ev.User, ev.ExpiresAt)
	default:
		c.applySignedOut(ctx)
	}
}

// applySignedOut はサインアウト状態を反映する。
// キャッシュにゲストフラグがある場合はGuest、なければUnauthenticatedにする。
func (c *Controller) applySignedOut(ctx context.Context) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.authSeq++
	seq := c.authSeq
	c.mu.Unlock()

	guest, err := localcache.IsGuest(ctx, c.deps.Cache, c.clientID)
	if err != nil {
		c.logger.Warn("ゲストフラグの読み込みに失敗しました",
			slog.String("error", err.Error()),
		)
	}

	var saved []model.CaptionResult
	if guest {
		saved, err = localcache.LoadHistory(ctx, c.deps.Cache, c.clientID)
		if err != nil {
			saved = []model.CaptionResult{}
		}
	} else if err := localcache.Clear(ctx, c.deps.Cache, c.clientID); err != nil {
		c.logger.Warn("ローカルキャッシュの消去に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed || seq != c.authSeq {
		return
	}
	c.user = nil
	c.authExpiry = time.Time{}
	c.accounts = []string{}
	if guest {
		c.state = StateGuest
		c.history = history.Dedupe(saved)
		return
	}
	c.state = StateUnauthenticated
	c.history = []model.CaptionResult{}
}

// reconcile はサインイン時にプロフィールと履歴を並行取得して状態に反映する。
// いずれかの取得に失敗しても空データでAuthenticatedに遷移し、通知で知らせる。
// expiresAtがゼロ値でなければ、その時刻以降のアクセスでサインアウト状態に戻す。
func (c *Controller) reconcile(ctx context.Context, user *model.User, expiresAt time.Time) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.authSeq++
	seq := c.authSeq
	c.mu.Unlock()

	var (
		profile    *model.Profile
		entries    []model.CaptionResult
		profileErr error
		historyErr error
	)

	// 片方の失敗でもう片方を中断しないよう、派生コンテキストは使わない
	var g errgroup.Group
	g.Go(func() error {
		profile, profileErr = c.loadProfile(ctx, user)
		return profileErr
	})
	g.Go(func() error {
		entries, historyErr = c.loadHistory(ctx, user)
		return historyErr
	})
	if err := g.Wait(); err != nil {
		c.logger.Warn("サインイン時のデータ取得に一部失敗しました",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	created := false
	accounts := []string{}
	if profileErr == nil {
		if profile == nil {
			if c.deps.Profiles != nil {
				if err := c.deps.Profiles.Create(ctx, user.ID, user.DisplayName, user.Email); err != nil {
					profileErr = err
					c.logger.Warn("プロフィールの作成に失敗しました",
						slog.String("user_id", user.ID),
						slog.String("error", err.Error()),
					)
				} else {
					created = true
				}
			}
		} else {
			accounts = dedupeStrings(profile.ConnectedAccounts)
		}
	}
	if historyErr != nil {
		entries = []model.CaptionResult{}
	}

	principal := *user
	if principal.DisplayName == "" && profile != nil {
		principal.DisplayName = profile.DisplayName
	}

	if err := localcache.SaveUser(ctx, c.deps.Cache, c.clientID, &principal); err != nil {
		c.logger.Warn("ユーザー情報のキャッシュに失敗しました",
			slog.String("error", err.Error()),
		)
	}
	if err := c.deps.Cache.Remove(ctx, c.clientID, localcache.KeyIsGuest); err != nil {
		c.logger.Warn("ゲストフラグの削除に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed || seq != c.authSeq {
		return
	}
	c.state = StateAuthenticated
	c.user = &principal
	c.authExpiry = expiresAt
	c.history = history.Dedupe(entries)
	c.accounts = accounts

	switch {
	case profileErr != nil || historyErr != nil:
		c.notifyLocked(MsgPartialLoad, model.NotificationError)
	case created:
		c.notifyLocked(MsgWelcome, model.NotificationSuccess)
	}
}

// loadProfile はプロフィールを取得する。
// ドキュメントストアがない場合はキャッシュの連携アカウントからプロフィールを組み立てる。
func (c *Controller) loadProfile(ctx context.Context, user *model.User) (*model.Profile, error) {
	if c.deps.Profiles == nil {
		accounts, err := localcache.LoadAccounts(ctx, c.deps.Cache, c.clientID)
		if err != nil {
			return nil, err
		}
		return &model.Profile{
			UserID:            user.ID,
			DisplayName:       user.DisplayName,
			Email:             user.Email,
			ConnectedAccounts: accounts,
		}, nil
	}
	return c.deps.Profiles.Get(ctx, user.ID)
}

// loadHistory は履歴を新しい順に取得する。
// ドキュメントストアがない場合はキャッシュの履歴を使う。
func (c *Controller) loadHistory(ctx context.Context, user *model.User) ([]model.CaptionResult, error) {
	if c.deps.History == nil {
		return localcache.LoadHistory(ctx, c.deps.Cache, c.clientID)
	}
	return c.deps.History.List(ctx, user.ID)
}

// Login はメールアドレスとパスワードでサインインする。
// 状態遷移は認証状態通知によって行われる。
func (c *Controller) Login(ctx context.Context, email, password string) error {
	if c.deps.Identity == nil {
		return model.NewAuthUnavailableError()
	}
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return model.NewValidationError(MsgCredentialsRequired)
	}
	if _, err := c.deps.Identity.SignInWithPassword(ctx, c.clientID, email, password); err != nil {
		return c.authFailure("サインインに失敗しました", err)
	}
	return nil
}

// SignUpWithCredentials はアカウントを作成してサインインする。
func (c *Controller) SignUpWithCredentials(ctx context.Context, email, password, displayName string) error {
	if c.deps.Identity == nil {
		return model.NewAuthUnavailableError()
	}
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return model.NewValidationError(MsgCredentialsRequired)
	}
	if _, err := c.deps.Identity.SignUpWithPassword(ctx, c.clientID, email, password, strings.TrimSpace(displayName)); err != nil {
		return c.authFailure("サインアップに失敗しました", err)
	}
	c.notify(MsgAccountCreated, model.NotificationSuccess)
	return nil
}

// ProviderLoginURL は外部プロバイダーの認可URLを返す。
func (c *Controller) ProviderLoginURL(providerID, state string) (string, error) {
	if c.deps.Identity == nil {
		return "", model.NewAuthUnavailableError()
	}
	u, err := c.deps.Identity.LoginURL(providerID, state)
	if err != nil {
		return "", c.authFailure("認可URLの生成に失敗しました", err)
	}
	return u, nil
}

// SignInWithProvider は外部プロバイダーの認可コードでサインインする。
func (c *Controller) SignInWithProvider(ctx context.Context, providerID, code string) error {
	if c.deps.Identity == nil {
		return model.NewAuthUnavailableError()
	}
	if _, err := c.deps.Identity.SignInWithFederatedProvider(ctx, c.clientID, providerID, code); err != nil {
		return c.authFailure("外部プロバイダーでのサインインに失敗しました", err)
	}
	return nil
}

// Logout はIDプロバイダーからサインアウトし、ローカル状態を初期化する。
// サインアウトが失敗した場合やIDプロバイダーがない場合もローカル状態は初期化する。
func (c *Controller) Logout(ctx context.Context) error {
	if c.deps.Identity != nil {
		if err := c.deps.Identity.SignOut(ctx, c.clientID); err != nil {
			c.logger.Warn("サインアウトに失敗しました",
				slog.String("error", err.Error()),
			)
		}
	}

	if err := localcache.Clear(ctx, c.deps.Cache, c.clientID); err != nil {
		c.logger.Warn("ローカルキャッシュの消去に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return nil
	}
	// 実行中の再構築結果を破棄する
	c.authSeq++
	c.state = StateUnauthenticated
	c.user = nil
	c.history = []model.CaptionResult{}
	c.accounts = []string{}
	c.screen = model.ScreenHome
	c.current = nil
	c.genSeq++
	return nil
}

func (c *Controller) authFailure(msg string, err error) error {
	c.logger.Info(msg, slog.String("error", err.Error()))
	return model.NewAuthError(auth.DisplayMessage(err))
}

func dedupeStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
