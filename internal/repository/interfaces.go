// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/captionly/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はパスワード認証のユーザーを作成する。
	Create(ctx context.Context, user *model.User) error

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)

	// Create は既存ユーザーにidentityを追加する。
	Create(ctx context.Context, identity *model.Identity) error
}

// SessionRepository は認証セッションの永続化インターフェース。
// セッションIDはクライアントIDと同一のため、同じIDへの再ログインは上書きになる。
type SessionRepository interface {
	// Upsert はセッションを作成または上書きする。
	Upsert(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
}

// ProfileRepository はプロフィールドキュメントの永続化インターフェース。
type ProfileRepository interface {
	// Get はユーザーのプロフィールを取得する。存在しない場合はnilを返す。
	Get(ctx context.Context, userID string) (*model.Profile, error)

	// Create はプロフィールを作成する。接続済みアカウントは空で初期化する。
	Create(ctx context.Context, userID, displayName, email string) error

	// SetIntegrations は接続済みアカウントを全件置換する。
	// プロフィールが存在しない場合は作成し、他のフィールドは変更しない。
	SetIntegrations(ctx context.Context, userID string, accounts []string) error
}

// HistoryRepository はキャプション履歴の永続化インターフェース。
type HistoryRepository interface {
	// List はユーザーの履歴を作成日時の降順で返す。
	List(ctx context.Context, userID string) ([]model.CaptionResult, error)

	// Save は履歴エントリを保存し、採番したHistoryIDを付与したコピーを返す。
	Save(ctx context.Context, userID string, result model.CaptionResult) (model.CaptionResult, error)

	// Delete は履歴エントリを削除する。クライアント専用IDの場合は何もしない。
	Delete(ctx context.Context, userID string, id model.HistoryID) error
}
