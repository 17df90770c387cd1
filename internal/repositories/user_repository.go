package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"chat-relay/internal/models"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("username already exists")
)

// UserRepository defines interactions for registered accounts.
type UserRepository interface {
	CreateUser(ctx context.Context, user models.User) error
	GetUser(ctx context.Context, username string) (models.User, error)
}

// UserRepo is a sqlx-backed repository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// CreateUser inserts a new account. Returns ErrUserExists when the username
// is already taken.
func (r *UserRepo) CreateUser(ctx context.Context, user models.User) error {
	res, err := r.db.ExecContext(ctx, `INSERT INTO users (username, password_hash, full_name, avatar_url)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (username) DO NOTHING`, user.Username, user.PasswordHash, user.FullName, user.AvatarURL)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrUserExists
	}
	return nil
}

// GetUser fetches an account by username.
func (r *UserRepo) GetUser(ctx context.Context, username string) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT username, password_hash, full_name, avatar_url, created_at FROM users WHERE username=$1`, username)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}
