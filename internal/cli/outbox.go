package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/till/internal/app"
	"github.com/roach88/till/internal/store"
)

// NewOutboxCommand creates the outbox command group.
func NewOutboxCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect and deliver queued remote events",
	}
	cmd.AddCommand(newOutboxDrainCommand(opts), newOutboxListCommand(opts))
	return cmd
}

func newOutboxDrainCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Deliver every due event once",
		Long: `Deliver every due event once.

Failed events are rescheduled with backoff and dropped once their attempt
budget is spent. Use "till serve" to keep draining in the background.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, opts, func(ctx context.Context, l *app.Ledger, out *OutputFormatter) error {
				res, err := l.Pipeline.Drain(ctx)
				if err != nil {
					return remoteError(err)
				}
				return out.Result(res, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "Sent %d, failed %d, dropped %d\n", res.Sent, res.Failed, res.Dropped)
					return err
				})
			})
		},
	}
}

func newOutboxListCommand(opts *RootOptions) *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List queued events, newest first",
		Example:       `  till outbox list --status pending -n 20`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			st := store.OutboxStatus(status)
			switch st {
			case "", store.OutboxPending, store.OutboxSent, store.OutboxDropped:
			default:
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid --status %q: want pending, sent or dropped", status))
			}
			return withLedger(cmd, opts, func(ctx context.Context, l *app.Ledger, out *OutputFormatter) error {
				var entries []store.OutboxEntry
				err := l.Store.View(ctx, func(tx *store.Tx) error {
					var err error
					entries, err = tx.ListOutbox(ctx, st, limit)
					return err
				})
				if err != nil {
					return err
				}
				return out.Result(entries, func(w io.Writer) error {
					if len(entries) == 0 {
						_, err := fmt.Fprintln(w, "Outbox is empty.")
						return err
					}
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "ID\tACTION\tSTATUS\tATTEMPTS\tCREATED\tLAST ERROR")
					for _, e := range entries {
						fmt.Fprintf(tw, "%d\t%s\t%s\t%d/%d\t%s\t%s\n",
							e.ID, e.Action, e.Status, e.Attempts, e.MaxAttempts, e.CreatedAt.Format(timeLayout), e.LastError)
					}
					return tw.Flush()
				})
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only entries in this state (pending|sent|dropped)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum entries to list; 0 lists all")
	return cmd
}
