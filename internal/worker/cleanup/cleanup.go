// Package cleanup は期限切れセッションの自動削除ジョブを提供する。
// サインイン状態の永続化に使うsessionsテーブルから、有効期限を
// 猶予期間以上過ぎた行を定期的に削除する。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// DefaultBatchSize は1回のDELETEで削除する最大件数のデフォルト値。
const DefaultBatchSize = 1000

// deleteExpiredSessions は期限切れセッションを最大$2件削除する。
// 長時間のロックを避けるため、全件を一度に削除しない。
const deleteExpiredSessions = `DELETE FROM sessions WHERE id IN (
	SELECT id FROM sessions WHERE expires_at < now() - $1::interval LIMIT $2
)`

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// CleanupJob は期限切れセッションの削除ジョブ。
// 冪等: 削除対象がない場合でもエラーにならない。
type CleanupJob struct {
	db     Executor
	logger *slog.Logger

	GracePeriod time.Duration // 有効期限を過ぎてから削除するまでの猶予（デフォルト: 1時間）
	BatchSize   int           // 1回のDELETEで削除する最大件数（デフォルト: DefaultBatchSize）
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(db Executor, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		db:          db,
		logger:      logger,
		GracePeriod: time.Hour,
		BatchSize:   DefaultBatchSize,
	}
}

// Run は有効期限をGracePeriod以上過ぎたセッションを、削除対象がなくなるまで
// BatchSize件ずつ削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	batchSize := j.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	interval := fmt.Sprintf("%d seconds", int64(j.GracePeriod.Seconds()))

	var total int64
	batches := 0
	for {
		n, err := j.deleteBatch(ctx, interval, batchSize)
		if err != nil {
			j.logger.Error("セッションクリーンアップジョブの実行に失敗しました",
				slog.String("error", err.Error()),
				slog.Int64("deleted_count", total),
				slog.Duration("grace_period", j.GracePeriod),
			)
			return fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
		}
		total += n
		batches++
		if n < int64(batchSize) {
			break
		}
	}

	j.logger.Info("セッションクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", total),
		slog.Int("batches", batches),
		slog.Duration("grace_period", j.GracePeriod),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

func (j *CleanupJob) deleteBatch(ctx context.Context, interval string, limit int) (int64, error) {
	result, err := j.db.ExecContext(ctx, deleteExpiredSessions, interval, limit)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗: %w", err)
	}
	return n, nil
}

// Start は起動直後に1回実行し、以降intervalごとにRunを繰り返す。
// ctxがキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	j.runLogged(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.runLogged(ctx)
		}
	}
}

// runLogged はRunの失敗をWarnログに記録する。停止中のキャンセルは記録しない。
func (j *CleanupJob) runLogged(ctx context.Context) {
	if err := j.Run(ctx); err != nil && ctx.Err() == nil {
		j.logger.Warn("セッションクリーンアップをスキップしました", slog.String("error", err.Error()))
	}
}
