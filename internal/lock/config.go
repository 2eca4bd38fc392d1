package lock

import (
	"errors"
	"math"
	"time"
)

const (
	DefaultMinTimeout      = 300 * time.Second
	DefaultTransferRate    = 1.0 // MB per second
	DefaultPerFileOverhead = 2 * time.Second
	DefaultReapInterval    = 30 * time.Second

	// MaxTimeout bounds any lock, however large the estimate
	MaxTimeout = 30 * 24 * time.Hour
)

type Config struct {
	MinTimeout       time.Duration `mapstructure:"min_timeout"`
	TransferRateMBps float64       `mapstructure:"transfer_rate_mbps"`
	PerFileOverhead  time.Duration `mapstructure:"per_file_overhead"`
	ReapInterval     time.Duration `mapstructure:"reap_interval"`
}

func DefaultConfig() Config {
	return Config{
		MinTimeout:       DefaultMinTimeout,
		TransferRateMBps: DefaultTransferRate,
		PerFileOverhead:  DefaultPerFileOverhead,
		ReapInterval:     DefaultReapInterval,
	}
}

func (c *Config) Validate() error {
	if c.MinTimeout <= 0 {
		return errors.New("min_timeout must be positive")
	}
	if c.TransferRateMBps <= 0 {
		return errors.New("transfer_rate_mbps must be positive")
	}
	if c.PerFileOverhead < 0 {
		return errors.New("per_file_overhead must not be negative")
	}
	if c.ReapInterval < 0 {
		return errors.New("reap_interval must not be negative")
	}
	return nil
}

// Estimate is the expected size of the work a lock protects
type Estimate struct {
	SizeMB    float64 `json:"size_mb"`
	FileCount int     `json:"file_count"`
}

// EstimateFromBytes rounds a byte count to megabytes
func EstimateFromBytes(bytes float64, files int) Estimate {
	return Estimate{SizeMB: bytes / (1024 * 1024), FileCount: files}
}

// Timeout sizes the lock to the work: transfer time plus a fixed cost per file,
// never below MinTimeout and never above MaxTimeout.
func (c Config) Timeout(est Estimate) time.Duration {
	secs := 0.0
	if est.SizeMB > 0 && c.TransferRateMBps > 0 {
		secs = est.SizeMB / c.TransferRateMBps
	}
	if est.FileCount > 0 {
		secs += float64(est.FileCount) * c.PerFileOverhead.Seconds()
	}
	if math.IsNaN(secs) || secs >= MaxTimeout.Seconds() {
		return max(c.MinTimeout, MaxTimeout)
	}
	return max(c.MinTimeout, time.Duration(secs*float64(time.Second)))
}
