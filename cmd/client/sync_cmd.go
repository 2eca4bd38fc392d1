package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/InsereNomen/AlderSync/internal/client"
	"github.com/InsereNomen/AlderSync/internal/synctypes"
	"github.com/spf13/cobra"
)

func newSyncCmd(mode synctypes.Mode, short string) *cobra.Command {
	var (
		dryRun  bool
		yes     bool
		keep    string
		prefer  map[string]string
		message string
	)

	cmd := &cobra.Command{
		Use:   string(mode) + " [service-type...]",
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, sdk, err := connect(cmd)
			if err != nil {
				return err
			}
			types, err := serviceTypesFor(cfg, args)
			if err != nil {
				return err
			}
			resolutions, err := parseResolutions(prefer)
			if err != nil {
				return err
			}
			keepAll := synctypes.Winner(keep)
			if keep != "" && !keepAll.Valid() {
				return fmt.Errorf("--keep must be %q or %q", synctypes.WinnerServer, synctypes.WinnerClient)
			}

			out := cmd.OutOrStdout()
			for _, st := range types {
				folder, _ := cfg.Folder(st)
				runner, err := client.NewRunner(sdk, st, folder)
				if err != nil {
					return err
				}

				opts := client.SyncOptions{
					Mode:        mode,
					Resolutions: resolutions,
					KeepAll:     keepAll,
					Description: message,
					DryRun:      dryRun,
				}
				if !yes && !dryRun && isInteractive() {
					opts.Confirm = func(plan synctypes.ActionPlan) bool {
						printPlan(out, st, mode, plan)
						if plan.IsEmpty() {
							return true
						}
						return confirm(cmd.InOrStdin(), out, fmt.Sprintf("Apply %d actions to %s?", plan.Len(), st))
					}
				}

				report, err := runner.Sync(cmd.Context(), opts)
				if err != nil {
					return fmt.Errorf("%s: %w", st, err)
				}
				if report.Result == nil {
					if dryRun {
						printPlan(out, st, mode, report.Plan)
					} else {
						fmt.Fprintln(out, gray.Render("nothing applied"))
					}
					continue
				}
				printReport(out, st, report)
			}
			return nil
		},
	}

	cmd.Flags().SortFlags = false
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "show the plan without applying it")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "apply without asking")
	cmd.Flags().StringVar(&keep, "keep", "", "winner of every conflict: server or client")
	cmd.Flags().StringToStringVar(&prefer, "prefer", nil, "winner of one conflict, as path=server|client")
	cmd.Flags().StringVarP(&message, "message", "m", "", "description recorded with the change")
	return cmd
}

func parseResolutions(prefer map[string]string) (map[string]synctypes.Winner, error) {
	out := make(map[string]synctypes.Winner, len(prefer))
	for p, w := range prefer {
		path, err := synctypes.NormalizePath(p)
		if err != nil {
			return nil, err
		}
		winner := synctypes.Winner(strings.ToLower(strings.TrimSpace(w)))
		if !winner.Valid() {
			return nil, fmt.Errorf("--prefer %s: winner must be %q or %q", p, synctypes.WinnerServer, synctypes.WinnerClient)
		}
		out[path] = winner
	}
	return out, nil
}

func confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s %s ", question, gray.Render("[y/N]"))
	answer, _ := bufio.NewReader(in).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}
