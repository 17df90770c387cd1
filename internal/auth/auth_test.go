package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/alexedwards/argon2id"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-relay/internal/mocks"
	"chat-relay/internal/models"
	"chat-relay/internal/repositories"
)

func TestRegisterHashesPasswordAndDerivesAvatar(t *testing.T) {
	users := new(mocks.UserRepositoryMock)
	service := NewService(users)

	var created models.User
	users.On("CreateUser", mock.Anything, mock.AnythingOfType("models.User")).Run(func(args mock.Arguments) {
		created = args.Get(1).(models.User)
	}).Return(nil).Once()

	identity, err := service.Register(context.Background(), "alice", "secret", "Alice A")
	require.NoError(t, err)
	require.Equal(t, "alice", identity.Username)
	require.Equal(t, "Alice A", identity.FullName)
	require.Equal(t, AvatarURL("alice"), identity.AvatarURL)

	require.NotEqual(t, "secret", created.PasswordHash)
	match, err := argon2id.ComparePasswordAndHash("secret", created.PasswordHash)
	require.NoError(t, err)
	require.True(t, match)

	users.AssertExpectations(t)
}

func TestRegisterUsernameTaken(t *testing.T) {
	users := new(mocks.UserRepositoryMock)
	service := NewService(users)

	users.On("CreateUser", mock.Anything, mock.AnythingOfType("models.User")).
		Return(repositories.ErrUserExists).Once()

	_, err := service.Register(context.Background(), "alice", "secret", "Alice A")
	require.ErrorIs(t, err, ErrUsernameTaken)
	users.AssertExpectations(t)
}

func TestLoginSuccess(t *testing.T) {
	users := new(mocks.UserRepositoryMock)
	service := NewService(users)

	hash, err := argon2id.CreateHash("secret", argon2id.DefaultParams)
	require.NoError(t, err)

	users.On("GetUser", mock.Anything, "alice").Return(models.User{
		Username:     "alice",
		PasswordHash: hash,
		FullName:     "Alice A",
		AvatarURL:    AvatarURL("alice"),
	}, nil).Once()

	identity, err := service.Login(context.Background(), "alice", "secret")
	require.NoError(t, err)
	require.Equal(t, "alice", identity.Username)
	require.Equal(t, AvatarURL("alice"), identity.AvatarURL)
	users.AssertExpectations(t)
}

func TestLoginWrongPassword(t *testing.T) {
	users := new(mocks.UserRepositoryMock)
	service := NewService(users)

	hash, err := argon2id.CreateHash("secret", argon2id.DefaultParams)
	require.NoError(t, err)

	users.On("GetUser", mock.Anything, "alice").Return(models.User{Username: "alice", PasswordHash: hash}, nil).Once()

	_, err = service.Login(context.Background(), "alice", "wrong")
	require.ErrorIs(t, err, ErrBadPassword)
	users.AssertExpectations(t)
}

func TestLoginUnknownAccount(t *testing.T) {
	users := new(mocks.UserRepositoryMock)
	service := NewService(users)

	users.On("GetUser", mock.Anything, "ghost").Return(models.User{}, repositories.ErrUserNotFound).Once()

	_, err := service.Login(context.Background(), "ghost", "secret")
	require.ErrorIs(t, err, ErrUnknownAccount)
	users.AssertExpectations(t)
}

func TestLoginStoreError(t *testing.T) {
	users := new(mocks.UserRepositoryMock)
	service := NewService(users)

	users.On("GetUser", mock.Anything, "alice").Return(models.User{}, errors.New("connection refused")).Once()

	_, err := service.Login(context.Background(), "alice", "secret")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrUnknownAccount)
	users.AssertExpectations(t)
}

func TestAvatarURLIsDeterministic(t *testing.T) {
	require.Equal(t, AvatarURL("alice"), AvatarURL("alice"))
	require.NotEqual(t, AvatarURL("alice"), AvatarURL("bob"))
	require.Contains(t, AvatarURL("alice"), "seed=alice")
}
