package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type AuthTokenType string

const (
	AccessToken AuthTokenType = "access"
)

// Claims carry the user name in sub. The token type guards against
// other tokens signed with the same secret.
type Claims struct {
	Type AuthTokenType `json:"type"`
	jwt.RegisteredClaims
}

// User is the name recorded on transactions and revisions
func (c *Claims) User() string {
	return strings.TrimSpace(c.Subject)
}

// ParseClaims verifies signature, expiry and issuer, then checks that the
// token is an access token naming a user.
func ParseClaims(tokenString, jwtSecret, issuer string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return []byte(jwtSecret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
	)
	if err != nil {
		return nil, err
	}

	if claims.Type != AccessToken {
		return nil, fmt.Errorf("wrong token type %q", claims.Type)
	}
	if claims.User() == "" {
		return nil, errors.New("missing subject")
	}
	return claims, nil
}
