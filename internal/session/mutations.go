package session

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/hitoshi/captionly/internal/generator"
	"github.com/hitoshi/captionly/internal/history"
	"github.com/hitoshi/captionly/internal/localcache"
	"github.com/hitoshi/captionly/internal/metrics"
	"github.com/hitoshi/captionly/internal/model"
)

// target はセッションの変更操作の対象（保存先とユーザー）。
type target struct {
	state  State
	userID string
	seq    uint64
	remote bool
}

// mutationTarget は変更操作の対象を決める。
// Guest、またはドキュメントストアがないAuthenticatedはローカル保存になる。
func (c *Controller) mutationTarget(remoteAvailable bool) (target, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch c.state {
	case StateAuthenticated:
		if c.sessionExpiredLocked() {
			return target{}, false
		}
		return target{
			state:  c.state,
			userID: c.user.ID,
			seq:    c.authSeq,
			remote: remoteAvailable,
		}, true
	case StateGuest:
		return target{state: c.state, seq: c.authSeq}, true
	default:
		return target{}, false
	}
}

// stillValid は外部呼び出しの間に認証状態が変わっていないかを返す。muを保持して呼ぶ。
func (c *Controller) stillValid(t target) bool {
	return !c.disposed && c.state == t.state && c.authSeq == t.seq
}

// SaveCurrent は最新の生成結果を履歴に保存する。
func (c *Controller) SaveCurrent(ctx context.Context) (model.CaptionResult, error) {
	cur, ok := c.CurrentResult()
	if !ok {
		return model.CaptionResult{}, model.NewValidationError(MsgNothingToSave)
	}
	return c.SaveResult(ctx, cur)
}

// SaveResult は生成結果を履歴の先頭に保存し、HistoryIDが付与されたコピーを返す。
// 未サインイン、または同じHistoryIDのエントリが既に存在する場合は何もしない。
// 保存に失敗した場合は履歴を変更せず、失敗通知を出してPersistenceErrorを返す。
func (c *Controller) SaveResult(ctx context.Context, result model.CaptionResult) (model.CaptionResult, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	t, ok := c.mutationTarget(c.deps.History != nil)
	if !ok {
		return result, nil
	}

	c.mu.RLock()
	duplicate := history.Contains(c.history, result.HistoryID)
	c.mu.RUnlock()
	if duplicate {
		return result, nil
	}

	result, err := normalizeResult(result)
	if err != nil {
		return model.CaptionResult{}, err
	}

	if t.remote {
		return c.saveRemote(ctx, t, result)
	}
	return c.saveLocal(ctx, t, result)
}

// normalizeResult は保存前の生成結果を生成時と同じ規則でプレーンテキストに整形し、件数を検証する。
// クライアントから送られた結果も最新の生成結果と同じ形でしか保存しない。
func normalizeResult(result model.CaptionResult) (model.CaptionResult, error) {
	if len(result.Captions) == 0 && len(result.Hashtags) == 0 {
		return model.CaptionResult{}, model.NewValidationError(MsgNothingToSave)
	}
	return generator.NormalizeResult(result)
}

func (c *Controller) saveRemote(ctx context.Context, t target, result model.CaptionResult) (model.CaptionResult, error) {
	saved, err := c.deps.History.Save(ctx, t.userID, result.WithHistoryID(model.HistoryID{}))
	if err != nil {
		c.recordSave(metrics.TargetRemote, metrics.OutcomeFailure)
		c.logger.Error("履歴の保存に失敗しました",
			slog.String("user_id", t.userID),
			slog.String("error", err.Error()),
		)
		c.notify(MsgSaveFailed, model.NotificationError)
		return model.CaptionResult{}, model.NewPersistenceError(MsgSaveFailed)
	}
	c.recordSave(metrics.TargetRemote, metrics.OutcomeSuccess)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.stillValid(t) {
		return saved, nil
	}
	c.applySavedLocked(result, saved)
	return saved, nil
}

// saveLocal はクライアント専用IDを付与してローカルキャッシュに保存する。
func (c *Controller) saveLocal(ctx context.Context, t target, result model.CaptionResult) (model.CaptionResult, error) {
	id := result.HistoryID
	if !id.IsLocal() {
		id = model.LocalID(uuid.NewString())
	}
	saved := result.WithHistoryID(id)

	c.mu.RLock()
	next := history.Prepend(c.history, saved)
	c.mu.RUnlock()

	if err := localcache.SaveHistory(ctx, c.deps.Cache, c.clientID, next); err != nil {
		c.recordSave(metrics.TargetLocal, metrics.OutcomeFailure)
		c.logger.Error("履歴のローカル保存に失敗しました",
			slog.String("error", err.Error()),
		)
		c.notify(MsgSaveFailed, model.NotificationError)
		return model.CaptionResult{}, model.NewPersistenceError(MsgSaveFailed)
	}
	c.recordSave(metrics.TargetLocal, metrics.OutcomeSuccess)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.stillValid(t) {
		return saved, nil
	}
	c.applySavedLocked(result, saved)
	return saved, nil
}

// applySavedLocked は保存済みエントリを履歴の先頭に追加し、最新の生成結果にIDを反映する。
func (c *Controller) applySavedLocked(original, saved model.CaptionResult) {
	if !history.Contains(c.history, saved.HistoryID) {
		c.history = history.Prepend(c.history, saved)
	}
	if c.current != nil && c.current.HistoryID == original.HistoryID && sameContent(*c.current, original) {
		updated := c.current.WithHistoryID(saved.HistoryID)
		c.current = &updated
	}
	c.notifyLocked(MsgSaved, model.NotificationSuccess)
}

// DeleteResult は履歴エントリを削除する。
// 未サインイン、IDがゼロ値、または履歴に存在しない場合は何もしない。
// ドキュメントストアのエントリはリモート削除の成功後にのみメモリから除去する。
// クライアント専用IDのエントリはリモート呼び出しなしで除去する。
func (c *Controller) DeleteResult(ctx context.Context, id model.HistoryID) error {
	if id.IsZero() {
		return nil
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	t, ok := c.mutationTarget(c.deps.History != nil)
	if !ok {
		return nil
	}

	c.mu.RLock()
	exists := history.Contains(c.history, id)
	next := history.Remove(c.history, id)
	c.mu.RUnlock()
	if !exists {
		return nil
	}

	switch {
	case t.remote && id.IsPersisted():
		if err := c.deps.History.Delete(ctx, t.userID, id); err != nil {
			c.recordDelete(metrics.TargetRemote, metrics.OutcomeFailure)
			c.logger.Error("履歴の削除に失敗しました",
				slog.String("user_id", t.userID),
				slog.String("history_id", id.String()),
				slog.String("error", err.Error()),
			)
			c.notify(MsgDeleteFailed, model.NotificationError)
			return model.NewPersistenceError(MsgDeleteFailed)
		}
		c.recordDelete(metrics.TargetRemote, metrics.OutcomeSuccess)
	case !t.remote:
		if err := localcache.SaveHistory(ctx, c.deps.Cache, c.clientID, next); err != nil {
			c.recordDelete(metrics.TargetLocal, metrics.OutcomeFailure)
			c.logger.Error("履歴のローカル削除に失敗しました",
				slog.String("history_id", id.String()),
				slog.String("error", err.Error()),
			)
			c.notify(MsgDeleteFailed, model.NotificationError)
			return model.NewPersistenceError(MsgDeleteFailed)
		}
		c.recordDelete(metrics.TargetLocal, metrics.OutcomeSuccess)
	default:
		// ドキュメントストア利用中に残ったクライアント専用IDはメモリからのみ除去する
		c.recordDelete(metrics.TargetLocal, metrics.OutcomeSuccess)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.stillValid(t) {
		return nil
	}
	c.history = history.Remove(c.history, id)
	c.notifyLocked(MsgDeleted, model.NotificationInfo)
	return nil
}

// ToggleIntegration は連携アカウントの接続状態を反転する。
// Authenticated以外では何もしない。永続化に成功した場合のみメモリ上の集合を置き換える。
func (c *Controller) ToggleIntegration(ctx context.Context, platform string) error {
	if !model.IsValidIntegration(platform) {
		return model.NewValidationError(MsgInvalidIntegration)
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	t, ok := c.mutationTarget(c.deps.Profiles != nil)
	if !ok || t.state != StateAuthenticated {
		return nil
	}

	c.mu.RLock()
	connecting := !slices.Contains(c.accounts, platform)
	next := toggled(c.accounts, platform)
	c.mu.RUnlock()

	var err error
	if t.remote {
		err = c.deps.Profiles.SetIntegrations(ctx, t.userID, next)
	} else {
		err = localcache.SaveAccounts(ctx, c.deps.Cache, c.clientID, next)
	}
	if err != nil {
		c.recordToggle(connecting, metrics.OutcomeFailure)
		c.logger.Error("連携アカウントの更新に失敗しました",
			slog.String("user_id", t.userID),
			slog.String("platform", platform),
			slog.String("error", err.Error()),
		)
		c.notify(MsgToggleFailed, model.NotificationError)
		return model.NewPersistenceError(MsgToggleFailed)
	}
	c.recordToggle(connecting, metrics.OutcomeSuccess)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.stillValid(t) {
		return nil
	}
	c.accounts = next
	if connecting {
		c.notifyLocked(fmt.Sprintf("%s connected successfully", platform), model.NotificationSuccess)
	} else {
		c.notifyLocked(fmt.Sprintf("%s integration removed", platform), model.NotificationInfo)
	}
	return nil
}

// toggled は集合にplatformがなければ追加、あれば除去した新しいスライスを返す。
func toggled(accounts []string, platform string) []string {
	if slices.Contains(accounts, platform) {
		out := make([]string, 0, len(accounts))
		for _, a := range accounts {
			if a != platform {
				out = append(out, a)
			}
		}
		return out
	}
	out := make([]string, 0, len(accounts)+1)
	out = append(out, accounts...)
	return append(out, platform)
}

func (c *Controller) recordSave(dest, outcome string) {
	if c.deps.Metrics != nil {
		c.deps.Metrics.RecordHistorySave(dest, outcome)
	}
}

func (c *Controller) recordDelete(dest, outcome string) {
	if c.deps.Metrics != nil {
		c.deps.Metrics.RecordHistoryDelete(dest, outcome)
	}
}

func (c *Controller) recordToggle(connecting bool, outcome string) {
	if c.deps.Metrics != nil {
		c.deps.Metrics.RecordIntegrationToggle(connecting, outcome)
	}
}
