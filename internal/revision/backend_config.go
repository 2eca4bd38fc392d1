package revision

import (
	"context"
	"fmt"
	"net/url"
)

const (
	BackendLocal = "local"
	BackendS3    = "s3"
)

type S3Config struct {
	BucketName string `mapstructure:"bucket_name"`
	Region     string `mapstructure:"region"`
	AccessKey  string `mapstructure:"access_key"`
	SecretKey  string `mapstructure:"secret_key"`
	Endpoint   string `mapstructure:"endpoint"`
	Prefix     string `mapstructure:"prefix"`
}

func (c *S3Config) Validate() error {
	if c.BucketName == "" {
		return fmt.Errorf("bucket_name required")
	}
	if c.Region == "" {
		return fmt.Errorf("region required")
	}
	if c.AccessKey == "" {
		return fmt.Errorf("access_key required")
	}
	if c.SecretKey == "" {
		return fmt.Errorf("secret_key required")
	}
	if c.Endpoint != "" {
		if u, err := url.Parse(c.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid endpoint URL %q", c.Endpoint)
		}
	}
	return nil
}

// BlobConfig selects where revision content lives
type BlobConfig struct {
	Backend string   `mapstructure:"backend"`
	S3      S3Config `mapstructure:"s3"`
}

func (c *BlobConfig) Validate() error {
	switch c.Backend {
	case "", BackendLocal:
		return nil
	case BackendS3:
		if err := c.S3.Validate(); err != nil {
			return fmt.Errorf("s3: %w", err)
		}
		return nil
	}
	return fmt.Errorf("unknown blob backend %q", c.Backend)
}

// NewBackend builds the configured backend. localRoot is used by the local backend.
func NewBackend(ctx context.Context, cfg *BlobConfig, localRoot string) (ContentBackend, error) {
	switch cfg.Backend {
	case "", BackendLocal:
		return NewLocalBackend(localRoot)
	case BackendS3:
		return NewS3BackendWithConfig(ctx, &cfg.S3)
	}
	return nil, fmt.Errorf("unknown blob backend %q", cfg.Backend)
}
