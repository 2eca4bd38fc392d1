package syncsdk

import (
	"net/url"
	"strings"
)

const DefaultBaseURL = "http://127.0.0.1:8080"

// Config is the configuration for the SyncSDK
type Config struct {
	BaseURL     string // BaseURL is required
	User        string // User names the caller when the server runs without auth
	AccessToken string // AccessToken is required when the server runs with auth
}

func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return ErrNoServerURL
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidServerURL
	}
	if strings.TrimSpace(c.User) == "" && c.AccessToken == "" {
		return ErrNoIdentity
	}
	return nil
}
