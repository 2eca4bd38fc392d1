package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/InsereNomen/AlderSync/internal/client/config"
	"github.com/InsereNomen/AlderSync/internal/syncsdk"
	"github.com/InsereNomen/AlderSync/internal/synctypes"
	"github.com/InsereNomen/AlderSync/internal/utils"
	"github.com/InsereNomen/AlderSync/internal/version"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "ALDERSYNC"

var home, _ = os.UserHomeDir()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "aldersync",
		Short:         "AlderSync client",
		Version:       version.Detailed(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogger(cmd)
		},
	}

	cmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "config file")
	cmd.PersistentFlags().BoolP("verbose", "v", false, "show debug logs")
	cmd.PersistentFlags().String("log-file", "", "also write logs to this file")

	cmd.AddCommand(
		newInitCmd(),
		newSyncCmd(synctypes.ModePull, "Bring the server's changes into the local folders"),
		newSyncCmd(synctypes.ModePush, "Send local changes to the server"),
		newSyncCmd(synctypes.ModeReconcile, "Sync both ways, resolving conflicts"),
		newWatchCmd(),
		newStatusCmd(),
		newLsCmd(),
		newGetCmd(),
		newHistoryCmd(),
		newRestoreCmd(),
		newAdminCmd(),
		newConfigPathCmd(),
		newVersionCmd(),
	)
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		color.New(color.FgHiRed, color.Bold).Fprint(os.Stderr, "ERROR: ")
		fmt.Fprintln(os.Stderr, explain(err))
		os.Exit(1)
	}
}

// explain adds a hint for the errors a user can act on
func explain(err error) string {
	switch {
	case errors.Is(err, synctypes.ErrBusy):
		return fmt.Sprintf("%s\nanother sync is running, try again once it is done", err)
	case errors.Is(err, syncsdk.ErrUnauthorized):
		return fmt.Sprintf("%s\ncheck access_token in %s", err, config.DefaultConfigPath)
	case errors.Is(err, os.ErrNotExist):
		return fmt.Sprintf("%s\nrun `aldersync init` to create a config", err)
	}
	return err.Error()
}

func setupLogger(cmd *cobra.Command) error {
	level := slog.LevelWarn
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	logFile, _ := cmd.Flags().GetString("log-file")
	_, err := utils.SetupLogger(level, logFile)
	return err
}

// loadClientConfig reads the config file. ALDERSYNC_SERVER_URL, ALDERSYNC_USER and
// ALDERSYNC_ACCESS_TOKEN override what the file says.
func loadClientConfig(cmd *cobra.Command) (*config.Config, error) {
	path := resolveConfigPath(cmd)
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	if s := v.GetString("server_url"); s != "" {
		cfg.ServerURL = s
	}
	if s := v.GetString("user"); s != "" {
		cfg.User = s
	}
	if s := v.GetString("access_token"); s != "" {
		cfg.AccessToken = s
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	slog.Debug("config loaded", "path", cfg.Path, "server", cfg.ServerURL, "user", cfg.User)
	return cfg, nil
}

func newSDK(cfg *config.Config) (*syncsdk.SyncSDK, error) {
	return syncsdk.New(&syncsdk.Config{
		BaseURL:     cfg.ServerURL,
		User:        cfg.User,
		AccessToken: cfg.AccessToken,
	})
}

func connect(cmd *cobra.Command) (*config.Config, *syncsdk.SyncSDK, error) {
	cfg, err := loadClientConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	sdk, err := newSDK(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, sdk, nil
}

// serviceTypesFor resolves the service types named in args, or every configured one
func serviceTypesFor(cfg *config.Config, args []string) ([]synctypes.ServiceType, error) {
	if len(args) == 0 {
		types := make([]synctypes.ServiceType, 0, len(cfg.Folders))
		for st := range cfg.Folders {
			types = append(types, st)
		}
		sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
		return types, nil
	}

	types := make([]synctypes.ServiceType, 0, len(args))
	for _, arg := range args {
		st, err := synctypes.ParseServiceType(arg)
		if err != nil {
			return nil, err
		}
		if _, err := cfg.Folder(st); err != nil {
			return nil, err
		}
		types = append(types, st)
	}
	return types, nil
}

func isInteractive() bool {
	return isatty.IsTerminal(os.Stdin.Fd()) && isatty.IsTerminal(os.Stdout.Fd())
}
