package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	return &Config{
		Enabled:           true,
		TokenIssuer:       "aldersync-test",
		AccessTokenSecret: "0123456789abcdef-secret",
		AccessTokenExpiry: time.Hour,
		Admins:            []string{"admin@church.example"},
	}
}

func TestAuthService_IssueAndValidate(t *testing.T) {
	svc := NewAuthService(testConfig())

	token, err := svc.IssueAccessToken("alice@church.example")
	require.NoError(t, err)

	claims, err := svc.ValidateAccessToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "alice@church.example", claims.Subject)
	assert.Equal(t, AccessToken, claims.Type)
	assert.Equal(t, "aldersync-test", claims.Issuer)
}

func TestAuthService_ValidateRejects(t *testing.T) {
	cfg := testConfig()
	svc := NewAuthService(cfg)

	other := *cfg
	other.TokenIssuer = "someone-else"
	foreign, err := NewAuthService(&other).IssueAccessToken("alice")
	require.NoError(t, err)

	wrongSecret, err := newToken("alice", cfg.TokenIssuer, "another-secret-value", time.Hour, AccessToken)
	require.NoError(t, err)

	wrongType, err := newToken("alice", cfg.TokenIssuer, cfg.AccessTokenSecret, time.Hour, "refresh")
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "garbage", token: "invalid.token.string"},
		{name: "wrong secret", token: wrongSecret},
		{name: "wrong issuer", token: foreign},
		{name: "wrong type", token: wrongType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ValidateAccessToken(context.Background(), tt.token)
			assert.ErrorIs(t, err, ErrInvalidAccessToken)
		})
	}
}

func TestParseClaims_Expired(t *testing.T) {
	cfg := testConfig()
	claims := Claims{
		Type: AccessToken,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			Issuer:    cfg.TokenIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.AccessTokenSecret))
	require.NoError(t, err)

	_, err = ParseClaims(token, cfg.AccessTokenSecret, cfg.TokenIssuer)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestParseClaims(t *testing.T) {
	cfg := testConfig()
	sign := func(c Claims) string {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(cfg.AccessTokenSecret))
		require.NoError(t, err)
		return token
	}
	valid := jwt.RegisteredClaims{Subject: " alice ", Issuer: cfg.TokenIssuer}

	claims, err := ParseClaims(sign(Claims{Type: AccessToken, RegisteredClaims: valid}), cfg.AccessTokenSecret, cfg.TokenIssuer)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.User())

	_, err = ParseClaims(sign(Claims{Type: "refresh", RegisteredClaims: valid}), cfg.AccessTokenSecret, cfg.TokenIssuer)
	assert.ErrorContains(t, err, "token type")

	foreign := valid
	foreign.Issuer = "elsewhere"
	_, err = ParseClaims(sign(Claims{Type: AccessToken, RegisteredClaims: foreign}), cfg.AccessTokenSecret, cfg.TokenIssuer)
	assert.ErrorIs(t, err, jwt.ErrTokenInvalidIssuer)

	anonymous := valid
	anonymous.Subject = "  "
	_, err = ParseClaims(sign(Claims{Type: AccessToken, RegisteredClaims: anonymous}), cfg.AccessTokenSecret, cfg.TokenIssuer)
	assert.ErrorContains(t, err, "subject")
}

func TestAuthService_IsAdmin(t *testing.T) {
	svc := NewAuthService(testConfig())
	assert.True(t, svc.IsAdmin("admin@church.example"))
	assert.False(t, svc.IsAdmin("alice@church.example"))

	disabled := NewAuthService(&Config{})
	assert.True(t, disabled.IsAdmin("anyone"))
	_, err := disabled.IssueAccessToken("alice")
	assert.ErrorIs(t, err, ErrAuthDisabled)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "disabled", cfg: Config{}},
		{name: "enabled", cfg: *testConfig()},
		{name: "missing issuer", cfg: Config{Enabled: true, AccessTokenSecret: "0123456789abcdef"}, wantErr: true},
		{name: "missing secret", cfg: Config{Enabled: true, TokenIssuer: "x"}, wantErr: true},
		{name: "short secret", cfg: Config{Enabled: true, TokenIssuer: "x", AccessTokenSecret: "short"}, wantErr: true},
		{name: "negative expiry", cfg: Config{AccessTokenExpiry: -time.Second}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
