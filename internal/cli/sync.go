package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/till/internal/app"
	"github.com/roach88/till/internal/remote"
)

// NewSyncCommand creates the sync command group.
func NewSyncCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Pull state from the remote, or push the open-ticket backup",
		Long: `Pull state from the remote, or push the open-ticket backup.

These commands need remote.endpoint to be configured.`,
	}
	cmd.AddCommand(
		newSyncTicketsCommand(opts),
		newSyncShiftCommand(opts),
		newSyncSummaryCommand(opts),
		newSyncPushCommand(opts),
	)
	return cmd
}

func newSyncTicketsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tickets",
		Short: "Replace local open tickets with the remote's backup",
		Long: `Replace local open tickets with the remote's backup.

Tickets already paid on this till are kept closed.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, opts, func(ctx context.Context, l *app.Ledger, out *OutputFormatter) error {
				res, err := l.Pipeline.SyncOpenTicketsFromRemote(ctx)
				if err != nil {
					return remoteError(err)
				}
				return out.Result(res, func(w io.Writer) error {
					fmt.Fprintf(w, "Restored %d tickets with %d items; replaced %d local tickets\n", res.Tickets, res.Items, res.Removed)
					if len(res.Skipped) > 0 {
						fmt.Fprintf(w, "Kept closed: %s\n", strings.Join(res.Skipped, ", "))
					}
					return nil
				})
			})
		},
	}
}

func newSyncShiftCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "shift",
		Short:         "Adopt the remote's current shift",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, opts, func(ctx context.Context, l *app.Ledger, out *OutputFormatter) error {
				sh, err := l.Pipeline.SyncCurrentShiftFromRemote(ctx)
				if err != nil {
					return remoteError(err)
				}
				return out.Result(sh, func(w io.Writer) error {
					if sh == nil {
						_, err := fmt.Fprintln(w, "The remote has no open shift.")
						return err
					}
					_, err := fmt.Fprintf(w, "Shift %s is current (opened %s by %s)\n", sh.ID, sh.OpenedAt.Format(timeLayout), sh.OpenedBy)
					return err
				})
			})
		},
	}
}

func newSyncSummaryCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "summary <shift>",
		Short:         "Fetch the remote's settlement of a shift",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, opts, func(ctx context.Context, l *app.Ledger, out *OutputFormatter) error {
				sum, err := l.Pipeline.FetchShiftSummary(ctx, args[0])
				if err != nil {
					return remoteError(err)
				}
				return out.Result(sum, func(w io.Writer) error {
					if sum == nil {
						_, err := fmt.Fprintf(w, "The remote has no summary for shift %s.\n", args[0])
						return err
					}
					fmt.Fprintf(w, "Shift %s (remote)\n\n", sum.ShiftID)
					return writeSummary(w, *sum)
				})
			})
		},
	}
}

func newSyncPushCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "push",
		Short:         "Push the open-ticket backup now",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, opts, func(ctx context.Context, l *app.Ledger, out *OutputFormatter) error {
				pushed, err := l.Pipeline.PushSnapshot(ctx)
				if err != nil {
					return remoteError(err)
				}
				return out.Result(map[string]bool{"pushed": pushed}, func(w io.Writer) error {
					msg := "Backup pushed"
					if !pushed {
						msg = "Backup unchanged; nothing sent"
					}
					_, err := fmt.Fprintln(w, msg)
					return err
				})
			})
		},
	}
}

func remoteError(err error) error {
	if errors.Is(err, remote.ErrOffline) {
		return WrapExitError(ExitCommandError, "set remote.endpoint to reach the remote", err)
	}
	return err
}
