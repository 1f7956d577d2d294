package utils

import (
	"RetinaTrack/config"
	"errors"
	"fmt"
	"time"

	"github.com/o1egl/paseto"
)

const (
	TokenKindAccess  = "access"
	TokenKindRefresh = "refresh"
)

var (
	ErrTokenExpired            = errors.New("token expired")
	ErrInsufficientPermissions = errors.New("insufficient permissions")
	ErrWrongTokenKind          = errors.New("wrong token kind")
)

// TokenClaims struct represents the data in the token (UserID, Role, Expiry).
type TokenClaims struct {
	UserID string    `json:"userId"`
	Role   string    `json:"role"`
	Kind   string    `json:"kind"`
	Expiry time.Time `json:"expiry"`
}

// TokenService issues and verifies PASETO v2 local tokens.
type TokenService struct {
	key        []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewTokenService(cfg config.AuthConfig) (*TokenService, error) {
	if len(cfg.SymmetricKey) != 32 {
		return nil, fmt.Errorf("symmetric key must be 32 bytes long, got %d", len(cfg.SymmetricKey))
	}
	return &TokenService{
		key:        []byte(cfg.SymmetricKey),
		accessTTL:  cfg.AccessTokenTTL,
		refreshTTL: cfg.RefreshTokenTTL,
		now:        time.Now,
	}, nil
}

func (s *TokenService) AccessTTL() time.Duration  { return s.accessTTL }
func (s *TokenService) RefreshTTL() time.Duration { return s.refreshTTL }

// GenerateTokens generates both the access token and refresh token for the given user ID and role.
func (s *TokenService) GenerateTokens(userID, role string) (accessToken, refreshToken string, err error) {
	accessToken, err = s.generate(userID, role, TokenKindAccess, s.accessTTL)
	if err != nil {
		return "", "", err
	}
	refreshToken, err = s.generate(userID, role, TokenKindRefresh, s.refreshTTL)
	if err != nil {
		return "", "", err
	}
	return accessToken, refreshToken, nil
}

func (s *TokenService) GenerateAccessToken(userID, role string) (string, error) {
	return s.generate(userID, role, TokenKindAccess, s.accessTTL)
}

func (s *TokenService) generate(userID, role, kind string, ttl time.Duration) (string, error) {
	claims := TokenClaims{
		UserID: userID,
		Role:   role,
		Kind:   kind,
		Expiry: s.now().Add(ttl),
	}
	token, err := paseto.NewV2().Encrypt(s.key, claims, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return token, nil
}

// ValidateToken checks the token's kind and expiry and, when roles are
// given, that the token carries one of them.
func (s *TokenService) ValidateToken(tokenString, kind string, requiredRoles ...string) (*TokenClaims, error) {
	var claims TokenClaims
	if err := paseto.NewV2().Decrypt(tokenString, s.key, &claims, nil); err != nil {
		return nil, fmt.Errorf("failed to decrypt token: %w", err)
	}
	if claims.Kind != kind {
		return nil, ErrWrongTokenKind
	}
	if s.now().After(claims.Expiry) {
		return nil, ErrTokenExpired
	}
	if len(requiredRoles) == 0 {
		return &claims, nil
	}
	for _, role := range requiredRoles {
		if claims.Role == role {
			return &claims, nil
		}
	}
	return nil, ErrInsufficientPermissions
}
