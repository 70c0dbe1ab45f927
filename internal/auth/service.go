package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/congo-pay/walletcore/internal/config"
	"github.com/congo-pay/walletcore/internal/identity"
)

// Service issues and verifies tokens for identity users.
type Service struct {
	cfg    config.Config
	idRepo identity.Repository
	now    func() time.Time
}

// NewService builds a token service.
func NewService(cfg config.Config, idRepo identity.Repository) *Service {
	return &Service{cfg: cfg, idRepo: idRepo, now: time.Now}
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Login issues a token pair for an authenticated user.
func (s *Service) Login(user identity.User) (TokenPair, error) {
	access, err := s.sign(user.ID, user.Role, user.TokenVersion, tokenAccess, []byte(s.cfg.JWTSecret), s.cfg.AccessTokenTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.sign(user.ID, user.Role, user.TokenVersion, tokenRefresh, []byte(s.cfg.RefreshSecret), s.cfg.RefreshTokenTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresIn: int64(s.cfg.AccessTokenTTL.Seconds())}, nil
}

func (s *Service) sign(sub, role string, version int, use string, secret []byte, ttl time.Duration) (string, error) {
	now := s.now()
	return signHS256(Claims{
		Role:    role,
		Version: version,
		Use:     use,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   sub,
			Issuer:    s.cfg.AppName,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}, secret)
}

// VerifyAccess checks an access token and that it has not been revoked by a logout.
func (s *Service) VerifyAccess(ctx context.Context, token string) (*Claims, error) {
	claims, err := parseHS256(token, []byte(s.cfg.JWTSecret), tokenAccess)
	if err != nil {
		return nil, err
	}
	if err := s.checkVersion(ctx, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// Refresh verifies the refresh token and returns a new access token if valid.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, int64, error) {
	claims, err := parseHS256(refreshToken, []byte(s.cfg.RefreshSecret), tokenRefresh)
	if err != nil {
		return "", 0, err
	}
	if err := s.checkVersion(ctx, claims); err != nil {
		return "", 0, err
	}
	signed, err := s.sign(claims.Subject, claims.Role, claims.Version, tokenAccess, []byte(s.cfg.JWTSecret), s.cfg.AccessTokenTTL)
	if err != nil {
		return "", 0, err
	}
	return signed, int64(s.cfg.AccessTokenTTL.Seconds()), nil
}

// Logout increments token version so older tokens become invalid.
func (s *Service) Logout(ctx context.Context, userID string) error {
	_, err := s.idRepo.UpdateTokenVersion(ctx, userID)
	return err
}

func (s *Service) checkVersion(ctx context.Context, claims *Claims) error {
	user, err := s.idRepo.FindByID(ctx, claims.Subject)
	if err != nil {
		return ErrInvalidToken
	}
	if user.TokenVersion != claims.Version {
		return ErrTokenRevoked
	}
	return nil
}
