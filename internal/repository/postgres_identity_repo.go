package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/hitoshi/captionly/internal/model"
)

var identityColumns = []string{"id", "user_id", "provider", "provider_user_id", "created_at"}

// PostgresIdentityRepo はPostgreSQLを使用した外部IdP紐付けリポジトリ。
type PostgresIdentityRepo struct {
	db *sql.DB
}

// NewPostgresIdentityRepo はPostgresIdentityRepoを生成する。
func NewPostgresIdentityRepo(db *sql.DB) *PostgresIdentityRepo {
	return &PostgresIdentityRepo{db: db}
}

// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresIdentityRepo) FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error) {
	query, args, err := psq.Select(identityColumns...).
		From("identities").
		Where(sq.Eq{"provider": provider, "provider_user_id": providerUserID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build identity query: %w", err)
	}

	identity := &model.Identity{}
	err = r.db.QueryRowContext(ctx, query, args...).
		Scan(&identity.ID, &identity.UserID, &identity.Provider, &identity.ProviderUserID, &identity.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}
	return identity, nil
}

// Create は既存ユーザーにidentityを追加する。
// 同じprovider_user_idが別ユーザーに紐付いている場合は一意制約違反のエラーになる。
func (r *PostgresIdentityRepo) Create(ctx context.Context, identity *model.Identity) error {
	query, args, err := psq.Insert("identities").
		Columns(identityColumns...).
		Values(identity.ID, identity.UserID, identity.Provider, identity.ProviderUserID, identity.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build identity insert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert identity: %w", err)
	}
	return nil
}

var _ IdentityRepository = (*PostgresIdentityRepo)(nil)
