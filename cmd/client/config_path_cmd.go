package main

import (
	"fmt"

	"github.com/InsereNomen/AlderSync/internal/client/config"
	"github.com/InsereNomen/AlderSync/internal/utils"
	"github.com/spf13/cobra"
)

func newConfigPathCmd() *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "config-path",
		Short: "Print the resolved config file path",
		Long:  "Print the config file the other commands would use. With --check, also load it and fail when it is missing or invalid.",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath(cmd)
			if _, err := fmt.Fprintln(cmd.OutOrStdout(), path); err != nil {
				return err
			}

			if !utils.FileExists(path) {
				if check {
					return fmt.Errorf("%s not found, run init first", path)
				}
				fmt.Fprintln(cmd.ErrOrStderr(), gray.Render("not created yet, run init"))
				return nil
			}
			if !check {
				return nil
			}

			cfg, err := config.LoadFromFile(path)
			if err != nil {
				return err
			}
			return cfg.Validate()
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "load and validate the config")
	return cmd
}
