package server

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/InsereNomen/AlderSync/internal/lock"
	"github.com/InsereNomen/AlderSync/internal/revision"
	"github.com/InsereNomen/AlderSync/internal/server/auth"
	"github.com/InsereNomen/AlderSync/internal/server/middlewares"
	"github.com/InsereNomen/AlderSync/internal/transaction"
)

const (
	DefaultAddr          = "127.0.0.1:8080"
	DefaultRoot          = ".data"
	DefaultRateLimit     = "600-M"
	DefaultStagingMaxAge = 24 * time.Hour
	DefaultIgnoreFile    = "aldersyncignore"
	DefaultHSTSMaxAge    = 365 * 24 * time.Hour

	dbFileName     = "aldersync.db"
	blobDirName    = "blobs"
	stagingDirName = "staging"
)

type Config struct {
	HTTP     HTTPConfig          `mapstructure:"http"`
	Storage  StorageConfig       `mapstructure:"storage"`
	Blob     revision.BlobConfig `mapstructure:"blob"`
	Lock     lock.Config         `mapstructure:"lock"`
	Sync     transaction.Config  `mapstructure:"sync"`
	Auth     auth.Config         `mapstructure:"auth"`
	LogLevel string              `mapstructure:"log_level"`
}

type HTTPConfig struct {
	Addr      string `mapstructure:"addr"`
	CertFile  string `mapstructure:"cert_file"`
	KeyFile   string `mapstructure:"key_file"`
	RateLimit string `mapstructure:"rate_limit"`
	// BehindProxy means a proxy in front terminates TLS and sets X-Forwarded-Proto
	BehindProxy bool            `mapstructure:"behind_proxy"`
	HSTSMaxAge  time.Duration   `mapstructure:"hsts_max_age"`
	AccessLog   AccessLogConfig `mapstructure:"access_log"`
}

type AccessLogConfig struct {
	Level     string   `mapstructure:"level"`
	SkipPaths []string `mapstructure:"skip_paths"`
}

type StorageConfig struct {
	Root          string        `mapstructure:"root"`
	MaxRevisions  int           `mapstructure:"max_revisions"`
	IgnoreFile    string        `mapstructure:"ignore_file"`
	StagingMaxAge time.Duration `mapstructure:"staging_max_age"`
}

func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:       DefaultAddr,
			RateLimit:  DefaultRateLimit,
			HSTSMaxAge: DefaultHSTSMaxAge,
			AccessLog: AccessLogConfig{
				Level:     "info",
				SkipPaths: []string{"/healthz"},
			},
		},
		Storage: StorageConfig{
			Root:          DefaultRoot,
			MaxRevisions:  revision.DefaultMaxRevisions,
			StagingMaxAge: DefaultStagingMaxAge,
		},
		Blob: revision.BlobConfig{Backend: revision.BackendLocal},
		Lock: lock.DefaultConfig(),
		Sync: transaction.DefaultConfig(),
		Auth: auth.Config{
			TokenIssuer:       "aldersync",
			AccessTokenExpiry: auth.DefaultAccessTokenExpiry,
		},
		LogLevel: "info",
	}
}

func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return errors.New("http.addr required")
	}
	if (c.HTTP.CertFile == "") != (c.HTTP.KeyFile == "") {
		return errors.New("http.cert_file and http.key_file must be set together")
	}
	if c.HTTP.HSTSMaxAge < 0 {
		return errors.New("http.hsts_max_age must not be negative")
	}
	if _, err := parseLevel(c.HTTP.AccessLog.Level); err != nil {
		return fmt.Errorf("http.access_log.level: %w", err)
	}
	if c.Storage.Root == "" {
		return errors.New("storage.root required")
	}
	if c.Storage.MaxRevisions < 0 {
		return errors.New("storage.max_revisions must not be negative")
	}
	if c.Storage.StagingMaxAge < 0 {
		return errors.New("storage.staging_max_age must not be negative")
	}
	if err := c.Blob.Validate(); err != nil {
		return fmt.Errorf("blob: %w", err)
	}
	if err := c.Lock.Validate(); err != nil {
		return fmt.Errorf("lock: %w", err)
	}
	if err := c.Sync.Validate(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

func (c *Config) Level() (slog.Level, error) {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		return level, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

// parseLevel reads a slog level name, info when empty
func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	err := level.UnmarshalText([]byte(s))
	return level, err
}

func (c *Config) TLS() bool {
	return c.HTTP.CertFile != "" && c.HTTP.KeyFile != ""
}

// secureOptions applies when clients reach the server over TLS, directly or through a proxy
func (c *Config) secureOptions() (middlewares.SecureOptions, bool) {
	opts := middlewares.SecureOptions{HSTSMaxAge: c.HTTP.HSTSMaxAge, BehindProxy: c.HTTP.BehindProxy}
	return opts, c.TLS() || c.HTTP.BehindProxy
}

func (c *Config) accessLogOptions() middlewares.AccessLogOptions {
	level, _ := parseLevel(c.HTTP.AccessLog.Level)
	return middlewares.AccessLogOptions{Level: level, SkipPaths: c.HTTP.AccessLog.SkipPaths}
}

func (c *Config) dbPath() string {
	return filepath.Join(c.Storage.Root, dbFileName)
}

func (c *Config) blobDir() string {
	return filepath.Join(c.Storage.Root, blobDirName)
}

func (c *Config) stagingDir() string {
	return filepath.Join(c.Storage.Root, stagingDirName)
}

// ignoreFile is relative to the storage root unless absolute
func (c *Config) ignoreFile() string {
	name := c.Storage.IgnoreFile
	if name == "" {
		name = DefaultIgnoreFile
	}
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.Storage.Root, name)
}
