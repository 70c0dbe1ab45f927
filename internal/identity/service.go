package identity

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 8

// AccountOpener provisions the wallet of a newly registered user.
type AccountOpener interface {
	OpenAccount(ctx context.Context, userID string) error
}

// Service manages identity lifecycle.
type Service struct {
	repo     Repository
	accounts AccountOpener
}

// NewService creates a new identity service. accounts may be nil.
func NewService(repo Repository, accounts AccountOpener) *Service {
	return &Service{repo: repo, accounts: accounts}
}

// Register creates a user with a hashed password and opens their ledger account. If opening
// the account fails the user is still registered and returned with the error; the wallet opens
// the account on first use.
func (s *Service) Register(ctx context.Context, creds Credentials) (User, error) {
	email, err := normalizeEmail(creds.Email)
	if err != nil {
		return User{}, err
	}
	if len(creds.Password) < minPasswordLength {
		return User{}, ErrWeakPassword
	}
	role := creds.Role
	if role == "" {
		role = RoleCustomer
	}
	if role != RoleCustomer && role != RoleSeller {
		return User{}, ErrInvalidRole
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}

	user := User{
		ID:           uuid.New().String(),
		Email:        email,
		Role:         role,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return User{}, err
	}
	if s.accounts != nil {
		if err := s.accounts.OpenAccount(ctx, user.ID); err != nil {
			return user, fmt.Errorf("open wallet account: %w", err)
		}
	}

	return user, nil
}

// Authenticate verifies email and password. Unknown emails and wrong passwords are
// indistinguishable to the caller.
func (s *Service) Authenticate(ctx context.Context, creds Credentials) (User, error) {
	email, err := normalizeEmail(creds.Email)
	if err != nil {
		return User{}, ErrInvalidCredentials
	}
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return User{}, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(creds.Password)); err != nil {
		return User{}, ErrInvalidCredentials
	}

	now := time.Now().UTC()
	if err := s.repo.TouchLogin(ctx, user.ID, now); err == nil {
		user.LastLogin = &now
	}
	return user, nil
}

// Get returns a user by id.
func (s *Service) Get(ctx context.Context, id string) (User, error) {
	return s.repo.FindByID(ctx, id)
}

func normalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidEmail, err)
	}
	return strings.ToLower(addr.Address), nil
}
