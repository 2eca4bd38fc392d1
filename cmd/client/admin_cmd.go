package main

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Inspect and cancel transactions on the server",
	}
	cmd.AddCommand(newAdminTransactionsCmd(), newAdminCancelCmd(), newAdminOperationsCmd())
	return cmd
}

func newAdminTransactionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transactions",
		Short: "List transactions that have not finished",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, sdk, err := connect(cmd)
			if err != nil {
				return err
			}
			resp, err := sdk.Admin.Transactions(cmd.Context())
			if err != nil {
				return err
			}

			t := newTable("ID", "SERVICE", "MODE", "OWNER", "STATE", "ACTIONS", "STARTED")
			for _, tx := range resp.Transactions {
				t.Row(tx.ID, tx.ServiceType.String(), string(tx.Mode), tx.Owner, tx.State, strconv.Itoa(tx.Actions), humanize.Time(tx.CreatedAt))
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.String())
			return nil
		},
	}
}

func newAdminCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <transaction-id>",
		Short: "Cancel a transaction and release its lock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, sdk, err := connect(cmd)
			if err != nil {
				return err
			}
			if err := sdk.Admin.Cancel(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s cancelled\n", args[0])
			return nil
		},
	}
}

func newAdminOperationsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "operations",
		Short: "Show recent sync operations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, sdk, err := connect(cmd)
			if err != nil {
				return err
			}
			resp, err := sdk.Admin.Operations(cmd.Context(), limit)
			if err != nil {
				return err
			}

			t := newTable("STARTED", "SERVICE", "MODE", "OWNER", "STATUS", "PULLED", "PUSHED", "DELETED", "CONFLICTS", "BYTES")
			for _, op := range resp.Operations {
				status := op.Status
				if op.Error != "" {
					status = red.Render(status)
				}
				t.Row(op.StartedAt, op.ServiceType, op.Mode, op.Owner, status,
					strconv.Itoa(op.FilesPulled), strconv.Itoa(op.FilesPushed), strconv.Itoa(op.FilesDeleted),
					strconv.Itoa(op.Conflicts), humanize.Bytes(uint64(op.BytesTransferred)))
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.String())
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "number of operations")
	return cmd
}
