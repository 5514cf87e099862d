package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/hitoshi/captionly/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)


func TestPostgresUserRepo_FindByID_Found(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(`SELECT id, email, display_name, avatar_url, password_hash, created_at, updated_at FROM users WHERE id = \$1`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows(userColumns).
			AddRow("user-1", "a@example.com", "Alice", "https://i.pravatar.cc/150?u=user-1", "hash", now, now))

	repo := NewPostgresUserRepo(db)
	user, err := repo.FindByID(context.Background(), "user-1")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "Alice", user.DisplayName)
	assert.Equal(t, "hash", user.PasswordHash)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUserRepo_FindByEmail_NotFoundReturnsNil(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`FROM users WHERE lower\(email\) = lower\(\$1\)`).
		WithArgs("nobody@example.com").
		WillReturnRows(sqlmock.NewRows(userColumns))

	repo := NewPostgresUserRepo(db)
	user, err := repo.FindByEmail(context.Background(), "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, user)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUserRepo_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	user := &model.User{ID: "user-1", Email: "a@example.com", DisplayName: "a", PasswordHash: "h", CreatedAt: now, UpdatedAt: now}

	mock.ExpectExec("INSERT INTO users").
		WithArgs("user-1", "a@example.com", "a", "", "h", now, now).
		WillReturnResult(sqlmock.NewResult(1, 1))

	repo := NewPostgresUserRepo(db)
	assert.NoError(t, repo.Create(context.Background(), user))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUserRepo_CreateWithIdentity_RollsBackOnIdentityError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO users").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO identities").WillReturnError(errors.New("duplicate key"))
	mock.ExpectRollback()

	repo := NewPostgresUserRepo(db)
	err = repo.CreateWithIdentity(context.Background(),
		&model.User{ID: "user-1"},
		&model.Identity{ID: "ident-1", UserID: "user-1", Provider: "google", ProviderUserID: "g-1"},
	)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUserRepo_CreateWithIdentity_Commits(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	user := &model.User{ID: "user-1", Email: "a@example.com", DisplayName: "a", AvatarURL: "https://example.com/a.png", CreatedAt: now, UpdatedAt: now}
	identity := &model.Identity{ID: "ident-1", UserID: "user-1", Provider: "google", ProviderUserID: "g-1", CreatedAt: now}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO users").
		WithArgs("user-1", "a@example.com", "a", "https://example.com/a.png", "", now, now).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO identities").
		WithArgs("ident-1", "user-1", "google", "g-1", now).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	repo := NewPostgresUserRepo(db)
	assert.NoError(t, repo.CreateWithIdentity(context.Background(), user, identity))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUserRepo_FindByID_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM users").WillReturnError(errors.New("connection refused"))

	repo := NewPostgresUserRepo(db)
	user, err := repo.FindByID(context.Background(), "user-1")
	assert.Error(t, err)
	assert.Nil(t, user)
}
