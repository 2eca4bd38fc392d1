package main

import (
	"fmt"
	"time"

	"github.com/InsereNomen/AlderSync/internal/client"
	"github.com/InsereNomen/AlderSync/internal/utils"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show who is syncing and when each folder last synced",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, sdk, err := connect(cmd)
			if err != nil {
				return err
			}
			status, err := sdk.Admin.Status(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s as %s\n", gray.Render("server"), cyan.Render(cfg.ServerURL), cyan.Render(cfg.User))

			t := newTable("SERVICE", "STATE", "FOLDER", "LAST SYNC")
			for _, s := range status.Services {
				state := green.Render(s.Message)
				if s.Locked {
					state = yellow.Render(s.Message)
				}

				folder, last := gray.Render("not configured"), ""
				if dir, err := cfg.Folder(s.ServiceType); err == nil {
					folder = dir
					last = lastSync(cmd, dir)
				}
				t.Row(s.ServiceType.String(), state, folder, last)
			}
			fmt.Fprintln(out, t.String())
			return nil
		},
	}
}

func lastSync(cmd *cobra.Command, dir string) string {
	if !utils.DirExists(dir) {
		return gray.Render("never")
	}
	journal, err := client.OpenJournal(dir)
	if err != nil {
		return red.Render(err.Error())
	}
	defer journal.Close()

	t, err := journal.LastSync(cmd.Context())
	if err != nil {
		return red.Render(err.Error())
	}
	if t.IsZero() {
		return gray.Render("never")
	}
	return fmt.Sprintf("%s (%s)", humanize.Time(t), t.Local().Format(time.DateTime))
}
