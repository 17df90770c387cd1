package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/alexedwards/argon2id"

	"chat-relay/internal/models"
	"chat-relay/internal/repositories"
)

var (
	ErrUnknownAccount = errors.New("account does not exist")
	ErrBadPassword    = errors.New("incorrect password")
	ErrUsernameTaken  = errors.New("username already exists")
)

// Service implements credential check and account creation against the user
// store.
type Service struct {
	users repositories.UserRepository
}

// NewService constructs the auth service.
func NewService(users repositories.UserRepository) *Service {
	return &Service{users: users}
}

// Login verifies a username/password pair and returns the account identity.
func (s *Service) Login(ctx context.Context, username, password string) (models.Identity, error) {
	user, err := s.users.GetUser(ctx, username)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return models.Identity{}, ErrUnknownAccount
		}
		return models.Identity{}, fmt.Errorf("load user: %w", err)
	}

	match, err := argon2id.ComparePasswordAndHash(password, user.PasswordHash)
	if err != nil {
		return models.Identity{}, fmt.Errorf("verify password: %w", err)
	}
	if !match {
		return models.Identity{}, ErrBadPassword
	}

	return models.Identity{Username: user.Username, FullName: user.FullName, AvatarURL: user.AvatarURL}, nil
}

// Register creates a new account with a hashed password and a derived avatar.
func (s *Service) Register(ctx context.Context, username, password, fullName string) (models.Identity, error) {
	hash, err := argon2id.CreateHash(password, argon2id.DefaultParams)
	if err != nil {
		return models.Identity{}, fmt.Errorf("hash password: %w", err)
	}

	user := models.User{
		Username:     username,
		PasswordHash: hash,
		FullName:     fullName,
		AvatarURL:    AvatarURL(username),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repositories.ErrUserExists) {
			return models.Identity{}, ErrUsernameTaken
		}
		return models.Identity{}, fmt.Errorf("create user: %w", err)
	}

	return models.Identity{Username: user.Username, FullName: user.FullName, AvatarURL: user.AvatarURL}, nil
}

// AvatarURL derives a display avatar from the username. Same input always
// yields the same URL; it is not meaningful beyond display.
func AvatarURL(username string) string {
	return "https://api.dicebear.com/8.x/bottts/svg?seed=" + url.QueryEscape(username)
}
