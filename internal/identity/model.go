package identity

import (
	"errors"
	"time"
)

const (
	RoleCustomer = "customer"
	RoleSeller   = "seller"
)

var (
	ErrUserExists         = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidRole        = errors.New("role must be customer or seller")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrInvalidEmail       = errors.New("invalid email")
)

// User represents a registered wallet owner.
type User struct {
	ID           string
	Email        string
	Role         string
	PasswordHash []byte
	TokenVersion int
	CreatedAt    time.Time
	LastLogin    *time.Time
}

// Credentials request structure.
type Credentials struct {
	Email    string
	Password string
	Role     string
}
