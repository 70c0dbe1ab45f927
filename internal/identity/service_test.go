package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingOpener struct {
	opened []string
}

func (r *recordingOpener) OpenAccount(_ context.Context, userID string) error {
	r.opened = append(r.opened, userID)
	return nil
}

type failingOpener struct{}

func (failingOpener) OpenAccount(context.Context, string) error {
	return errors.New("ledger unavailable")
}

func TestRegisterAndAuthenticate(t *testing.T) {
	repo := NewMemoryRepository()
	opener := &recordingOpener{}
	svc := NewService(repo, opener)
	ctx := context.Background()

	user, err := svc.Register(ctx, Credentials{Email: "Seller@Example.com", Password: "s3cret-pass", Role: RoleSeller})
	require.NoError(t, err)
	require.Equal(t, "seller@example.com", user.Email)
	require.Equal(t, []string{user.ID}, opener.opened)

	authed, err := svc.Authenticate(ctx, Credentials{Email: "seller@example.com", Password: "s3cret-pass"})
	require.NoError(t, err)
	require.Equal(t, user.ID, authed.ID)
	require.NotNil(t, authed.LastLogin)
}

func TestRegisterSurvivesAccountOpeningFailure(t *testing.T) {
	svc := NewService(NewMemoryRepository(), failingOpener{})
	ctx := context.Background()

	user, err := svc.Register(ctx, Credentials{Email: "late@example.com", Password: "s3cret-pass"})
	require.ErrorContains(t, err, "ledger unavailable")
	require.NotEmpty(t, user.ID)

	_, err = svc.Register(ctx, Credentials{Email: "late@example.com", Password: "s3cret-pass"})
	require.ErrorIs(t, err, ErrUserExists)

	authed, err := svc.Authenticate(ctx, Credentials{Email: "late@example.com", Password: "s3cret-pass"})
	require.NoError(t, err)
	require.Equal(t, user.ID, authed.ID)
}

func TestRegisterValidation(t *testing.T) {
	svc := NewService(NewMemoryRepository(), nil)
	ctx := context.Background()

	_, err := svc.Register(ctx, Credentials{Email: "nope", Password: "s3cret-pass"})
	require.ErrorIs(t, err, ErrInvalidEmail)
	_, err = svc.Register(ctx, Credentials{Email: "a@b.co", Password: "short"})
	require.ErrorIs(t, err, ErrWeakPassword)
	_, err = svc.Register(ctx, Credentials{Email: "a@b.co", Password: "s3cret-pass", Role: "admin"})
	require.ErrorIs(t, err, ErrInvalidRole)

	_, err = svc.Register(ctx, Credentials{Email: "a@b.co", Password: "s3cret-pass"})
	require.NoError(t, err)
	_, err = svc.Register(ctx, Credentials{Email: "A@B.co", Password: "s3cret-pass"})
	require.ErrorIs(t, err, ErrUserExists)
}

func TestAuthenticateWrongPassword(t *testing.T) {
	svc := NewService(NewMemoryRepository(), nil)
	ctx := context.Background()

	_, err := svc.Register(ctx, Credentials{Email: "a@b.co", Password: "s3cret-pass"})
	require.NoError(t, err)

	_, err = svc.Authenticate(ctx, Credentials{Email: "a@b.co", Password: "wrong-pass"})
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Authenticate(ctx, Credentials{Email: "ghost@b.co", Password: "s3cret-pass"})
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestTokenVersionBump(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewService(repo, nil)
	ctx := context.Background()
	user, err := svc.Register(ctx, Credentials{Email: "a@b.co", Password: "s3cret-pass"})
	require.NoError(t, err)

	v, err := repo.UpdateTokenVersion(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, 1, v)

	_, err = repo.UpdateTokenVersion(ctx, "missing")
	require.ErrorIs(t, err, ErrUserNotFound)
}
