package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/captionly/internal/model"
	"github.com/lib/pq"
)

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
// connected_accountsはTEXT[]で保持する。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

// Get はユーザーのプロフィールを取得する。存在しない場合はnilを返す。
func (r *PostgresProfileRepo) Get(ctx context.Context, userID string) (*model.Profile, error) {
	profile := &model.Profile{}
	var accounts []string
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, display_name, email, connected_accounts
		 FROM profiles
		 WHERE user_id = $1`,
		userID,
	).Scan(&profile.UserID, &profile.DisplayName, &profile.Email, pq.Array(&accounts))

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	profile.ConnectedAccounts = accounts
	return profile, nil
}

// Create はプロフィールを作成する。既に存在する場合は何もしない。
func (r *PostgresProfileRepo) Create(ctx context.Context, userID, displayName, email string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO profiles (user_id, display_name, email, connected_accounts, created_at, updated_at)
		 VALUES ($1, $2, $3, '{}', now(), now())
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, displayName, email,
	)
	if err != nil {
		return fmt.Errorf("failed to create profile: %w", err)
	}
	return nil
}

// SetIntegrations は接続済みアカウントを全件置換する。
// display_name、emailは変更しない（マージ書き込み）。
func (r *PostgresProfileRepo) SetIntegrations(ctx context.Context, userID string, accounts []string) error {
	if accounts == nil {
		accounts = []string{}
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO profiles (user_id, connected_accounts, created_at, updated_at)
		 VALUES ($1, $2, now(), now())
		 ON CONFLICT (user_id) DO UPDATE
		 SET connected_accounts = EXCLUDED.connected_accounts, updated_at = now()`,
		userID, pq.Array(accounts),
	)
	if err != nil {
		return fmt.Errorf("failed to set integrations: %w", err)
	}
	return nil
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)
