package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/InsereNomen/AlderSync/internal/client/config"
	"github.com/InsereNomen/AlderSync/internal/synctypes"
	"github.com/InsereNomen/AlderSync/internal/utils"
	"github.com/spf13/cobra"
)

const pingTimeout = 10 * time.Second

func newInitCmd() *cobra.Command {
	var (
		serverURL string
		user      string
		token     string
		folders   map[string]string
		force     bool
		noCheck   bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the client config",
		Example: `  aldersync init --user alice --folder Contemporary=~/Worship/Contemporary
  aldersync init   (asks for everything)`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath(cmd)
			out := cmd.OutOrStdout()

			if existing, err := config.LoadFromFile(path); err == nil && !force {
				fmt.Fprintln(out, "AlderSync is already set up, use --force to replace the config")
				printConfig(out, existing)
				return nil
			}

			cfg := &config.Config{
				ServerURL:   serverURL,
				User:        user,
				AccessToken: token,
				Folders:     make(map[synctypes.ServiceType]string),
				Path:        path,
			}
			for name, dir := range folders {
				st, err := synctypes.ParseServiceType(name)
				if err != nil {
					return err
				}
				cfg.Folders[st] = dir
			}

			check := func(cfg *config.Config) error {
				if err := cfg.Validate(); err != nil {
					return err
				}
				if noCheck {
					return nil
				}
				return ping(cmd.Context(), cfg)
			}

			if (user == "" && token == "") || len(folders) == 0 {
				if !isInteractive() {
					return errors.New("--user and at least one --folder are required")
				}
				err := RunInitTUI(InitTUIOpts{
					ConfigPath: path,
					Values: [fieldCount]string{
						fieldServer:       cfg.ServerURL,
						fieldUser:         cfg.User,
						fieldContemporary: cfg.Folders[synctypes.Contemporary],
						fieldTraditional:  cfg.Folders[synctypes.Traditional],
					},
					Submit: func(values [fieldCount]string) error {
						cfg.ServerURL = values[fieldServer]
						cfg.User = values[fieldUser]
						cfg.Folders = make(map[synctypes.ServiceType]string)
						if values[fieldContemporary] != "" {
							cfg.Folders[synctypes.Contemporary] = values[fieldContemporary]
						}
						if values[fieldTraditional] != "" {
							cfg.Folders[synctypes.Traditional] = values[fieldTraditional]
						}
						return check(cfg)
					},
				})
				if err != nil {
					return err
				}
			} else if err := check(cfg); err != nil {
				return err
			}

			for _, dir := range cfg.Folders {
				if err := utils.EnsureDir(dir); err != nil {
					return fmt.Errorf("create folder: %w", err)
				}
			}
			if err := cfg.Save(); err != nil {
				return err
			}

			fmt.Fprintln(out, "AlderSync is set up")
			printConfig(out, cfg)
			return nil
		},
	}

	cmd.Flags().SortFlags = false
	cmd.Flags().StringVarP(&serverURL, "server", "s", config.DefaultServerURL, "server URL")
	cmd.Flags().StringVarP(&user, "user", "u", os.Getenv("USER"), "user name shown on locks and changes")
	cmd.Flags().StringVarP(&token, "token", "t", "", "access token issued by the server admin")
	cmd.Flags().StringToStringVarP(&folders, "folder", "f", nil, "local folder of a service type, as ServiceType=path")
	cmd.Flags().BoolVar(&force, "force", false, "replace an existing config")
	cmd.Flags().BoolVar(&noCheck, "no-check", false, "do not contact the server")
	return cmd
}

// ping makes sure the server answers with these credentials
func ping(ctx context.Context, cfg *config.Config) error {
	sdk, err := newSDK(cfg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if _, err := sdk.Admin.Status(ctx); err != nil {
		return fmt.Errorf("server %s: %w", cfg.ServerURL, err)
	}
	return nil
}

func printConfig(w io.Writer, cfg *config.Config) {
	fmt.Fprintf(w, "Config  %s\n", green.Render(cfg.Path))
	fmt.Fprintf(w, "Server  %s\n", cyan.Render(cfg.ServerURL))
	fmt.Fprintf(w, "User    %s\n", cyan.Render(cfg.User))
	if cfg.AccessToken != "" {
		fmt.Fprintf(w, "Token   %s\n", gray.Render(utils.MaskToken(cfg.AccessToken)))
	}
	for _, st := range synctypes.ServiceTypes {
		if dir, ok := cfg.Folders[st]; ok {
			fmt.Fprintf(w, "%-13s %s\n", st, cyan.Render(dir))
		}
	}
}
