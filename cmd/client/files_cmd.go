package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/InsereNomen/AlderSync/internal/synctypes"
	"github.com/InsereNomen/AlderSync/internal/utils"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newLsCmd() *cobra.Command {
	var deleted bool

	cmd := &cobra.Command{
		Use:   "ls <service-type> [glob]",
		Short: "List the current files on the server",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := synctypes.ParseServiceType(args[0])
			if err != nil {
				return err
			}
			glob := ""
			if len(args) == 2 {
				glob = args[1]
				if !doublestar.ValidatePattern(glob) {
					return fmt.Errorf("invalid glob %q", glob)
				}
			}

			_, sdk, err := connect(cmd)
			if err != nil {
				return err
			}
			list, err := sdk.Files.List(cmd.Context(), st, glob)
			if err != nil {
				return err
			}
			printFiles(cmd.OutOrStdout(), list, deleted)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&deleted, "deleted", "d", false, "include deleted paths")
	return cmd
}

func newGetCmd() *cobra.Command {
	var (
		rev    int
		output string
	)

	cmd := &cobra.Command{
		Use:   "get <service-type> <path>",
		Short: "Download one revision of a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := synctypes.ParseServiceType(args[0])
			if err != nil {
				return err
			}
			_, sdk, err := connect(cmd)
			if err != nil {
				return err
			}

			var revp *int
			if cmd.Flags().Changed("rev") {
				revp = &rev
			}
			body, meta, err := sdk.Files.Download(cmd.Context(), st, args[1], revp)
			if err != nil {
				return err
			}
			defer body.Close()

			if output == "" || output == "-" {
				_, err = io.Copy(cmd.OutOrStdout(), body)
				return err
			}

			if _, _, err := utils.WriteFileAtomic(output, body, meta.ContentHash); err != nil {
				return err
			}
			if err := os.Chtimes(output, meta.ModifiedAt, meta.ModifiedAt); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%s revision %d, %s\n", green.Render(output), meta.Revision, humanize.Bytes(uint64(meta.Size)))
			return nil
		},
	}
	cmd.Flags().IntVarP(&rev, "rev", "r", 0, "revision, the current one if not set")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to this file instead of stdout")
	return cmd
}

func newHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <service-type> <path>",
		Short: "Show every stored revision of a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := synctypes.ParseServiceType(args[0])
			if err != nil {
				return err
			}
			_, sdk, err := connect(cmd)
			if err != nil {
				return err
			}
			history, err := sdk.Files.History(cmd.Context(), st, args[1])
			if err != nil {
				return err
			}
			printHistory(cmd.OutOrStdout(), history)
			return nil
		},
	}
}

func newRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <service-type> <path> <revision>",
		Short: "Make an earlier revision current again",
		Long:  "Restore stores the content of an earlier revision as a new revision. Run pull afterwards to bring it into the local folder.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := synctypes.ParseServiceType(args[0])
			if err != nil {
				return err
			}
			rev, err := strconv.Atoi(args[2])
			if err != nil || rev < 0 {
				return fmt.Errorf("invalid revision %q", args[2])
			}
			_, sdk, err := connect(cmd)
			if err != nil {
				return err
			}

			rec, err := sdk.Files.Restore(cmd.Context(), st, args[1], rev)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s restored from revision %d as revision %d\n", green.Render(rec.Path), rev, rec.Revision)
			return nil
		},
	}
}
