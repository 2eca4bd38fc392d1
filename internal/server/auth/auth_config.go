package auth

import (
	"fmt"
	"time"
)

const DefaultAccessTokenExpiry = 30 * 24 * time.Hour

type Config struct {
	Enabled           bool          `mapstructure:"enabled"`
	TokenIssuer       string        `mapstructure:"token_issuer"`
	AccessTokenSecret string        `mapstructure:"access_token_secret"`
	AccessTokenExpiry time.Duration `mapstructure:"access_token_expiry"`
	// Admins may list and cancel other users' transactions
	Admins []string `mapstructure:"admins"`
}

func (c *Config) Validate() error {
	if c.Enabled {
		if c.TokenIssuer == "" {
			return fmt.Errorf("auth `token_issuer` is required when auth is enabled")
		}
		if c.AccessTokenSecret == "" {
			return fmt.Errorf("auth `access_token_secret` is required when auth is enabled")
		}
		if len(c.AccessTokenSecret) < 16 {
			return fmt.Errorf("auth `access_token_secret` must be at least 16 characters")
		}
	}
	if c.AccessTokenExpiry < 0 {
		return fmt.Errorf("auth `access_token_expiry` must not be negative")
	}
	return nil
}
