package transaction

import (
	"errors"
	"time"
)

const (
	DefaultApplyWorkers = 4
	DefaultReapInterval = 30 * time.Second
)

type Config struct {
	ApplyWorkers int           `mapstructure:"apply_workers"`
	ReapInterval time.Duration `mapstructure:"reap_interval"`
}

func DefaultConfig() Config {
	return Config{
		ApplyWorkers: DefaultApplyWorkers,
		ReapInterval: DefaultReapInterval,
	}
}

func (c *Config) Validate() error {
	if c.ApplyWorkers < 1 {
		return errors.New("apply_workers must be at least 1")
	}
	if c.ReapInterval < 0 {
		return errors.New("reap_interval must not be negative")
	}
	return nil
}
