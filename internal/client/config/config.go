package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/InsereNomen/AlderSync/internal/synctypes"
	"github.com/InsereNomen/AlderSync/internal/utils"
	"gopkg.in/yaml.v3"
)

var (
	home, _           = os.UserHomeDir()
	DefaultConfigPath = filepath.Join(home, ".aldersync", "config.yaml")
	DefaultServerURL  = "http://127.0.0.1:8080"
)

var ErrNoFolder = errors.New("no folder configured for service type")

// Config is the client configuration, persisted as YAML
type Config struct {
	ServerURL   string `yaml:"server_url"`
	User        string `yaml:"user"`
	AccessToken string `yaml:"access_token,omitempty"`
	// Folders maps a service type to the local folder kept in sync with it
	Folders map[synctypes.ServiceType]string `yaml:"folders"`
	Path    string                           `yaml:"-"`
}

func (c *Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid server url %q", c.ServerURL)
	}

	c.User = strings.TrimSpace(c.User)
	if c.User == "" && c.AccessToken == "" {
		return errors.New("user or access_token required")
	}

	if len(c.Folders) == 0 {
		return errors.New("at least one folder required")
	}
	seen := make(map[string]synctypes.ServiceType, len(c.Folders))
	for st, dir := range c.Folders {
		if !st.Valid() {
			return fmt.Errorf("unknown service type %q", st)
		}
		abs, err := utils.ResolvePath(dir)
		if err != nil {
			return fmt.Errorf("folder for %s: %w", st, err)
		}
		if other, ok := seen[abs]; ok {
			return fmt.Errorf("%s and %s share folder %s", other, st, abs)
		}
		seen[abs] = st
		c.Folders[st] = abs
	}

	if c.Path != "" {
		abs, err := utils.ResolvePath(c.Path)
		if err != nil {
			return fmt.Errorf("config path: %w", err)
		}
		c.Path = abs
	}
	return nil
}

// Folder returns the local folder of a service type
func (c *Config) Folder(st synctypes.ServiceType) (string, error) {
	dir, ok := c.Folders[st]
	if !ok || dir == "" {
		return "", fmt.Errorf("%w: %s", ErrNoFolder, st)
	}
	return dir, nil
}

func (c *Config) Save() error {
	if c.Path == "" {
		return errors.New("config path not set")
	}
	if err := utils.EnsureParent(c.Path); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	// the file may hold an access token
	return os.WriteFile(c.Path, data, 0o600)
}

func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.ServerURL == "" {
		cfg.ServerURL = DefaultServerURL
	}
	cfg.Path = path

	return &cfg, nil
}
