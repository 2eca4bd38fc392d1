package main

import (
	"errors"
	"fmt"

	"github.com/InsereNomen/AlderSync/internal/server/auth"
	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token <user>",
		Short: "Issue an access token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if !cfg.Auth.Enabled {
				return errors.New("auth is disabled, clients identify with their user name")
			}
			if err := cfg.Auth.Validate(); err != nil {
				return err
			}

			token, err := auth.NewAuthService(&cfg.Auth).IssueAccessToken(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}
