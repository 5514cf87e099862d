package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/hitoshi/captionly/internal/model"
	"github.com/lib/pq"
)

var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var historyColumns = []string{"id", "topic", "tone", "platform", "captions", "hashtags"}

// PostgresHistoryRepo はPostgreSQLを使用したキャプション履歴リポジトリ。
type PostgresHistoryRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresHistoryRepo はPostgresHistoryRepoを生成する。
func NewPostgresHistoryRepo(db *sql.DB) *PostgresHistoryRepo {
	return &PostgresHistoryRepo{db: db, now: time.Now}
}

// List はユーザーの履歴を作成日時の降順で返す。
func (r *PostgresHistoryRepo) List(ctx context.Context, userID string) ([]model.CaptionResult, error) {
	query, args, err := psq.Select(historyColumns...).
		From("history_entries").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at DESC", "id DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build history query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	results := []model.CaptionResult{}
	for rows.Next() {
		var (
			id       string
			res      model.CaptionResult
			captions []string
			hashtags []string
		)
		if err := rows.Scan(&id, &res.InputDetails.Topic, &res.InputDetails.Tone, &res.InputDetails.Platform,
			pq.Array(&captions), pq.Array(&hashtags)); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		res.HistoryID = model.PersistedID(id)
		res.Captions = captions
		res.Hashtags = hashtags
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history: %w", err)
	}

	return results, nil
}

// Save は履歴エントリを保存し、採番したHistoryIDを付与したコピーを返す。
// 入力のHistoryIDは無視する。
func (r *PostgresHistoryRepo) Save(ctx context.Context, userID string, result model.CaptionResult) (model.CaptionResult, error) {
	id := uuid.New().String()

	query, args, err := psq.Insert("history_entries").
		Columns("id", "user_id", "topic", "tone", "platform", "captions", "hashtags", "created_at").
		Values(id, userID,
			result.InputDetails.Topic, result.InputDetails.Tone, result.InputDetails.Platform,
			pq.Array(result.Captions), pq.Array(result.Hashtags), r.now()).
		ToSql()
	if err != nil {
		return model.CaptionResult{}, fmt.Errorf("failed to build history insert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return model.CaptionResult{}, fmt.Errorf("failed to save history entry: %w", err)
	}

	return result.WithHistoryID(model.PersistedID(id)), nil
}

// Delete は履歴エントリを削除する。ゼロ値やクライアント専用IDの場合は何もしない。
func (r *PostgresHistoryRepo) Delete(ctx context.Context, userID string, id model.HistoryID) error {
	if !id.IsPersisted() {
		return nil
	}

	query, args, err := psq.Delete("history_entries").
		Where(sq.Eq{"id": id.Value()}).
		Where(sq.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build history delete: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete history entry: %w", err)
	}
	return nil
}

// compile-time interface check
var _ HistoryRepository = (*PostgresHistoryRepo)(nil)
