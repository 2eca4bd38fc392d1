package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/InsereNomen/AlderSync/internal/client"
	"github.com/InsereNomen/AlderSync/internal/synctypes"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newWatchCmd() *cobra.Command {
	var (
		mode     string
		keep     string
		interval time.Duration
		quiet    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch [service-type...]",
		Short: "Keep folders in sync until interrupted",
		Long:  "Watch syncs each folder when it changes locally and at every interval to pick up changes made by others.",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := synctypes.ParseMode(mode)
			if err != nil {
				return err
			}
			keepAll := synctypes.Winner(keep)
			if keep != "" && !keepAll.Valid() {
				return fmt.Errorf("--keep must be %q or %q", synctypes.WinnerServer, synctypes.WinnerClient)
			}

			cfg, sdk, err := connect(cmd)
			if err != nil {
				return err
			}
			types, err := serviceTypesFor(cfg, args)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			var outMu sync.Mutex

			eg, ctx := errgroup.WithContext(cmd.Context())
			for _, st := range types {
				folder, _ := cfg.Folder(st)
				runner, err := client.NewRunner(sdk, st, folder)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "watching %s %s\n", cyan.Render(st.String()), gray.Render(folder))

				eg.Go(func() error {
					return runner.Watch(ctx, client.WatchOptions{
						SyncOptions: client.SyncOptions{
							Mode:        m,
							KeepAll:     keepAll,
							Description: "watch",
						},
						Interval:    interval,
						QuietPeriod: quiet,
						OnReport: func(r *client.Report) {
							outMu.Lock()
							defer outMu.Unlock()
							printReport(out, st, r)
						},
					})
				})
			}
			return eg.Wait()
		},
	}

	cmd.Flags().SortFlags = false
	cmd.Flags().StringVar(&mode, "mode", string(synctypes.ModeReconcile), "pull, push or reconcile")
	cmd.Flags().StringVar(&keep, "keep", "", "winner of every conflict: server or client")
	cmd.Flags().DurationVar(&interval, "interval", client.DefaultWatchInterval, "sync at least this often")
	cmd.Flags().DurationVar(&quiet, "quiet", client.DefaultQuietPeriod, "wait this long after the last local change")
	return cmd
}
