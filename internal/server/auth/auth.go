package auth

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AuthService issues and validates the bearer tokens clients present.
// Tokens are minted by an operator with the server CLI.
type AuthService struct {
	config *Config
}

func NewAuthService(config *Config) *AuthService {
	return &AuthService{
		config: config,
	}
}

func (s *AuthService) IsEnabled() bool {
	return s.config.Enabled
}

// IsAdmin reports whether subject may use the admin routes. With auth disabled everyone is.
func (s *AuthService) IsAdmin(subject string) bool {
	if !s.IsEnabled() {
		return true
	}
	return slices.Contains(s.config.Admins, subject)
}

// IssueAccessToken mints an access token for subject
func (s *AuthService) IssueAccessToken(subject string) (string, error) {
	if !s.IsEnabled() {
		return "", ErrAuthDisabled
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", ErrInvalidSubject
	}

	expiry := s.config.AccessTokenExpiry
	if expiry == 0 {
		expiry = DefaultAccessTokenExpiry
	}
	return newToken(subject, s.config.TokenIssuer, s.config.AccessTokenSecret, expiry, AccessToken)
}

func (s *AuthService) ValidateAccessToken(ctx context.Context, accessToken string) (*Claims, error) {
	if accessToken == "" {
		return nil, ErrInvalidAccessToken
	}

	claims, err := ParseClaims(accessToken, s.config.AccessTokenSecret, s.config.TokenIssuer)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAccessToken, err)
	}
	return claims, nil
}

func newToken(subject, issuer, jwtSecret string, expiry time.Duration, tokenType AuthTokenType) (string, error) {
	var expiryTime *jwt.NumericDate

	if expiry > 0 {
		expiryTime = jwt.NewNumericDate(time.Now().Add(expiry))
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   subject,
			Issuer:    issuer,
			ExpiresAt: expiryTime,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Type: tokenType,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(jwtSecret))
}
