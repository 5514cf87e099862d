// Package auth はIdP（メール/パスワード認証、Google OAuth）と認証状態の購読を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/captionly/internal/model"
	"github.com/hitoshi/captionly/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

// ProviderGoogle はGoogleフェデレーションのプロバイダーID。
const ProviderGoogle = "google"

const minPasswordLength = 6

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	Name           string
	AvatarURL      string
	Provider       string
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
	BcryptCost    int // 0の場合はbcrypt.DefaultCost
}

// Service はIdPとしての認証ロジックを提供する。
// セッションIDはクライアントIDと同一で、サインイン/アウトのたびに
// 同じクライアントIDの購読者へ認証状態イベントを配信する。
type Service struct {
	oauth       OAuthProvider
	userRepo    repository.UserRepository
	identRepo   repository.IdentityRepository
	sessionRepo repository.SessionRepository
	config      ServiceConfig
	hub         *listenerHub
	now         func() time.Time
}

// NewService はServiceを生成する。oauthがnilの場合、フェデレーションは無効になる。
func NewService(
	oauth OAuthProvider,
	userRepo repository.UserRepository,
	identRepo repository.IdentityRepository,
	sessionRepo repository.SessionRepository,
	config ServiceConfig,
) *Service {
	if config.BcryptCost == 0 {
		config.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		oauth:       oauth,
		userRepo:    userRepo,
		identRepo:   identRepo,
		sessionRepo: sessionRepo,
		config:      config,
		hub:         newListenerHub(),
		now:         time.Now,
	}
}

// Subscribe はクライアントIDの認証状態リスナーを登録し、現在の状態を即座に配信する。
// 現在の状態を取得できなかった場合は配信せずにエラーを返すが、登録は維持される。
func (s *Service) Subscribe(ctx context.Context, clientID string, fn Listener) (func(), error) {
	unsubscribe := s.hub.add(clientID, fn)

	user, expiresAt, err := s.currentUser(ctx, clientID)
	if err != nil {
		return unsubscribe, fmt.Errorf("failed to resolve current auth state: %w", err)
	}

	if user != nil {
		fn(ctx, SignedInUntil(user, expiresAt))
	} else {
		fn(ctx, SignedOut())
	}
	return unsubscribe, nil
}

// SignInWithPassword はメールアドレスとパスワードで認証する。
func (s *Service) SignInWithPassword(ctx context.Context, clientID, email, password string) (*model.User, error) {
	user, err := s.userRepo.FindByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil || user.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	if err := s.signIn(ctx, clientID, user); err != nil {
		return nil, err
	}
	return user, nil
}

// SignUpWithPassword はメールアドレスとパスワードでユーザーを作成し、サインインする。
// displayNameが空の場合はメールアドレスのローカル部を使用する。
func (s *Service) SignUpWithPassword(ctx context.Context, clientID, email, password, displayName string) (*model.User, error) {
	// 1. 入力の検証
	email = strings.TrimSpace(email)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return nil, ErrInvalidEmail
	}
	if len(password) < minPasswordLength {
		return nil, ErrWeakPassword
	}

	// 2. 重複チェック
	existing, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if existing != nil {
		return nil, ErrEmailAlreadyInUse
	}

	// 3. ユーザー作成
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.config.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	userID := uuid.New().String()
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = strings.SplitN(email, "@", 2)[0]
	}
	user := &model.User{
		ID:           userID,
		Email:        email,
		DisplayName:  displayName,
		AvatarURL:    DefaultAvatarURL(userID),
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("new user signed up",
		slog.String("user_id", userID),
		slog.String("provider", "password"),
	)

	// 4. セッション発行
	if err := s.signIn(ctx, clientID, user); err != nil {
		return nil, err
	}
	return user, nil
}

// LoginURL はフェデレーションプロバイダーの認証URLを生成する。
func (s *Service) LoginURL(providerID, state string) (string, error) {
	if providerID != ProviderGoogle || s.oauth == nil {
		return "", ErrUnsupportedProvider
	}
	return s.oauth.GetLoginURL(state), nil
}

// SignInWithFederatedProvider はOAuthコールバックを処理し、サインインする。
// 未登録ユーザーの場合はusersレコードとidentitiesレコードを同時に自動作成する。
func (s *Service) SignInWithFederatedProvider(ctx context.Context, clientID, providerID, code string) (*model.User, error) {
	if providerID != ProviderGoogle || s.oauth == nil {
		return nil, ErrUnsupportedProvider
	}

	// 1. 認可コードをトークンに交換し、ユーザー情報を取得
	userInfo, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		slog.Warn("oauth code exchange failed", slog.String("error", err.Error()))
		return nil, ErrFederatedSignIn
	}

	// 2. identitiesテーブルで既存ユーザーを検索
	identity, err := s.identRepo.FindByProviderAndProviderUserID(ctx, userInfo.Provider, userInfo.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}

	var user *model.User
	if identity != nil {
		// 3a. 既存ユーザー
		user, err = s.userRepo.FindByID(ctx, identity.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to find user: %w", err)
		}
		if user == nil {
			return nil, ErrFederatedSignIn
		}
	} else {
		// 3b. 未連携: 同じメールアドレスのユーザーがいれば連携し、いなければ新規作成
		user, err = s.linkOrCreateFederatedUser(ctx, userInfo)
		if err != nil {
			return nil, err
		}
	}

	// 4. セッション発行
	if err := s.signIn(ctx, clientID, user); err != nil {
		return nil, err
	}
	return user, nil
}

// linkOrCreateFederatedUser はIdPのユーザー情報に対応するユーザーを返す。
// 同じメールアドレスのユーザーが存在する場合はidentityのみを追加し、
// 存在しない場合はusersレコードとidentitiesレコードを同時に作成する。
func (s *Service) linkOrCreateFederatedUser(ctx context.Context, userInfo *OAuthUserInfo) (*model.User, error) {
	now := s.now()
	newIdentity := &model.Identity{
		ID:             uuid.New().String(),
		Provider:       userInfo.Provider,
		ProviderUserID: userInfo.ProviderUserID,
		CreatedAt:      now,
	}

	if userInfo.Email != "" {
		existing, err := s.userRepo.FindByEmail(ctx, userInfo.Email)
		if err != nil {
			return nil, fmt.Errorf("failed to find user by email: %w", err)
		}
		if existing != nil {
			newIdentity.UserID = existing.ID
			if err := s.identRepo.Create(ctx, newIdentity); err != nil {
				return nil, fmt.Errorf("failed to link identity: %w", err)
			}
			slog.Info("identity linked to existing user",
				slog.String("user_id", existing.ID),
				slog.String("provider", userInfo.Provider),
			)
			return existing, nil
		}
	}

	userID := uuid.New().String()
	avatar := userInfo.AvatarURL
	if avatar == "" {
		avatar = DefaultAvatarURL(userID)
	}
	name := userInfo.Name
	if name == "" {
		name = strings.SplitN(userInfo.Email, "@", 2)[0]
	}
	user := &model.User{
		ID:          userID,
		Email:       userInfo.Email,
		DisplayName: name,
		AvatarURL:   avatar,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	newIdentity.UserID = userID
	if err := s.userRepo.CreateWithIdentity(ctx, user, newIdentity); err != nil {
		return nil, fmt.Errorf("failed to create user and identity: %w", err)
	}
	slog.Info("new user created",
		slog.String("user_id", userID),
		slog.String("provider", userInfo.Provider),
	)
	return user, nil
}

// SignOut はセッションを破棄し、SignedOutを配信する。
func (s *Service) SignOut(ctx context.Context, clientID string) error {
	if clientID == "" {
		return fmt.Errorf("client ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, clientID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user signed out", slog.String("client_id", clientID))
	s.hub.publish(ctx, clientID, SignedOut())
	return nil
}

// DefaultAvatarURL はアバター未設定時のURLを返す。
func DefaultAvatarURL(userID string) string {
	return "https://i.pravatar.cc/150?u=" + userID
}

// signIn はセッションを発行し、SignedInを配信する。
func (s *Service) signIn(ctx context.Context, clientID string, user *model.User) error {
	if clientID == "" {
		return fmt.Errorf("client ID is required")
	}

	now := s.now()
	session := &model.Session{
		ID:        clientID,
		UserID:    user.ID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}
	if err := s.sessionRepo.Upsert(ctx, session); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	slog.Info("user signed in",
		slog.String("user_id", user.ID),
		slog.String("client_id", clientID),
	)
	s.hub.publish(ctx, clientID, SignedInUntil(user, session.ExpiresAt))
	return nil
}

// currentUser はクライアントIDのセッションからユーザーとセッションの有効期限を取得する。
// 未認証の場合、または期限切れの場合はnil。
func (s *Service) currentUser(ctx context.Context, clientID string) (*model.User, time.Time, error) {
	if clientID == "" {
		return nil, time.Time{}, nil
	}

	session, err := s.sessionRepo.FindByID(ctx, clientID)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, time.Time{}, nil
	}
	if !session.ExpiresAt.IsZero() && !s.now().Before(session.ExpiresAt) {
		return nil, time.Time{}, nil
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to find user: %w", err)
	}
	return user, session.ExpiresAt, nil
}

// IsAuthError はIdPが返した表示可能なエラーかどうかを返す。
func IsAuthError(err error) bool {
	var ae *Error
	return errors.As(err, &ae)
}
