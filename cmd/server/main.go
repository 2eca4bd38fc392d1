package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/InsereNomen/AlderSync/internal/server"
	"github.com/InsereNomen/AlderSync/internal/utils"
	"github.com/InsereNomen/AlderSync/internal/version"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	envPrefix      = "ALDERSYNC"
	configFileName = "server"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "aldersync-server",
		Short:   "AlderSync revision server",
		Version: version.Detailed(),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			cmd.SilenceUsage = true

			closer, err := setupLogger(cmd, cfg)
			if err != nil {
				return err
			}
			defer closer.Close()

			slog.Info("aldersync server", "version", version.Short(), "addr", cfg.HTTP.Addr, "root", cfg.Storage.Root, "blob", cfg.Blob.Backend,
				"auth", cfg.Auth.Enabled, "secret", utils.MaskToken(cfg.Auth.AccessTokenSecret))

			srv, err := server.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			defer slog.Info("Bye!")
			return srv.Start(cmd.Context())
		},
	}

	cmd.Flags().SortFlags = false
	cmd.PersistentFlags().StringP("config", "c", "", "config file (yaml or json)")
	cmd.Flags().StringP("bind", "b", server.DefaultAddr, "address to bind the server")
	cmd.Flags().StringP("root", "r", server.DefaultRoot, "data directory")
	cmd.Flags().String("cert", "", "TLS certificate file")
	cmd.Flags().String("key", "", "TLS key file")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	cmd.Flags().String("log-file", "", "also write logs to this file")

	cmd.AddCommand(newTokenCmd())
	return cmd
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// loadConfig layers the config file, ALDERSYNC_* variables and flags over the defaults
func loadConfig(cmd *cobra.Command) (*server.Config, error) {
	v := viper.New()

	if f := cmd.Flag("config"); f != nil && f.Value.String() != "" {
		v.SetConfigFile(f.Value.String())
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/aldersync")
		v.SetConfigName(configFileName)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config read '%s': %w", v.ConfigFileUsed(), err)
		}
	} else {
		slog.Debug("config loaded", "path", v.ConfigFileUsed())
	}

	setDefaults(v, server.DefaultConfig())

	for key, flag := range map[string]string{
		"http.addr":      "bind",
		"http.cert_file": "cert",
		"http.key_file":  "key",
		"storage.root":   "root",
		"log_level":      "log-level",
	} {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := server.DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config decode: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every key so environment variables can reach nested fields
func setDefaults(v *viper.Viper, d *server.Config) {
	v.SetDefault("http.addr", d.HTTP.Addr)
	v.SetDefault("http.cert_file", d.HTTP.CertFile)
	v.SetDefault("http.key_file", d.HTTP.KeyFile)
	v.SetDefault("http.rate_limit", d.HTTP.RateLimit)
	v.SetDefault("http.behind_proxy", d.HTTP.BehindProxy)
	v.SetDefault("http.hsts_max_age", d.HTTP.HSTSMaxAge)
	v.SetDefault("http.access_log.level", d.HTTP.AccessLog.Level)
	v.SetDefault("http.access_log.skip_paths", d.HTTP.AccessLog.SkipPaths)

	v.SetDefault("storage.root", d.Storage.Root)
	v.SetDefault("storage.max_revisions", d.Storage.MaxRevisions)
	v.SetDefault("storage.ignore_file", d.Storage.IgnoreFile)
	v.SetDefault("storage.staging_max_age", d.Storage.StagingMaxAge)

	v.SetDefault("blob.backend", d.Blob.Backend)
	v.SetDefault("blob.s3.bucket_name", d.Blob.S3.BucketName)
	v.SetDefault("blob.s3.region", d.Blob.S3.Region)
	v.SetDefault("blob.s3.access_key", d.Blob.S3.AccessKey)
	v.SetDefault("blob.s3.secret_key", d.Blob.S3.SecretKey)
	v.SetDefault("blob.s3.endpoint", d.Blob.S3.Endpoint)
	v.SetDefault("blob.s3.prefix", d.Blob.S3.Prefix)

	v.SetDefault("lock.min_timeout", d.Lock.MinTimeout)
	v.SetDefault("lock.transfer_rate_mbps", d.Lock.TransferRateMBps)
	v.SetDefault("lock.per_file_overhead", d.Lock.PerFileOverhead)
	v.SetDefault("lock.reap_interval", d.Lock.ReapInterval)

	v.SetDefault("sync.apply_workers", d.Sync.ApplyWorkers)
	v.SetDefault("sync.reap_interval", d.Sync.ReapInterval)

	v.SetDefault("auth.enabled", d.Auth.Enabled)
	v.SetDefault("auth.token_issuer", d.Auth.TokenIssuer)
	v.SetDefault("auth.access_token_secret", d.Auth.AccessTokenSecret)
	v.SetDefault("auth.access_token_expiry", d.Auth.AccessTokenExpiry)
	v.SetDefault("auth.admins", d.Auth.Admins)

	v.SetDefault("log_level", d.LogLevel)
}

func setupLogger(cmd *cobra.Command, cfg *server.Config) (io.Closer, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	logFile, _ := cmd.Flags().GetString("log-file")
	return utils.SetupLogger(level, logFile)
}
