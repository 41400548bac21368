package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/till/internal/app"
	"github.com/roach88/till/internal/model"
	"github.com/roach88/till/internal/void"
)

// NewVoidCommand creates the void command group.
func NewVoidCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "void",
		Short: "Request, approve and reject item voids",
	}
	cmd.AddCommand(
		newVoidRequestCommand(opts),
		newVoidDecideCommand(opts, true),
		newVoidDecideCommand(opts, false),
		newVoidPendingCommand(opts),
		newVoidNotificationsCommand(opts),
	)
	return cmd
}

type voidRequestOptions struct {
	item     string
	sku      string
	qty      int
	approver string
	reason   string
}

func newVoidRequestCommand(opts *RootOptions) *cobra.Command {
	vo := &voidRequestOptions{}
	cmd := &cobra.Command{
		Use:   "request <ticket>",
		Short: "Ask an approver to void items from a ticket",
		Long: `Ask an approver to void items from a ticket.

The approver is notified and paged through the remote. The cart is only
changed once the request is approved.`,
		Example:       `  till void request 004-002 --item Latte --qty 1 --approver carol --reason "spilled"`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, opts, func(ctx context.Context, l *app.Ledger, out *OutputFormatter) error {
				v, err := l.Voids.CreateVoidRequest(ctx, void.Request{
					TicketID:     args[0],
					ItemName:     vo.item,
					ItemSKU:      vo.sku,
					RequestedQty: vo.qty,
					ApproverID:   vo.approver,
					Reason:       vo.reason,
					RequestedBy:  actor(l),
				})
				if err != nil {
					return err
				}
				return out.Result(v, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "Void request %s sent to %s\n", v.ID, v.ApproverID)
					return err
				})
			})
		},
	}
	cmd.Flags().StringVar(&vo.item, "item", "", "item name")
	cmd.Flags().StringVar(&vo.sku, "sku", "", "item SKU; preferred over the name when set")
	cmd.Flags().IntVarP(&vo.qty, "qty", "q", 1, "quantity to void")
	cmd.Flags().StringVar(&vo.approver, "approver", "", "who must approve")
	cmd.Flags().StringVar(&vo.reason, "reason", "", "why the items are voided")
	return cmd
}

func newVoidDecideCommand(opts *RootOptions, approve bool) *cobra.Command {
	var reason string
	use, short := "approve <request>", "Approve a pending void and adjust the cart"
	if !approve {
		use, short = "reject <request>", "Reject a pending void"
	}
	cmd := &cobra.Command{
		Use:           use,
		Short:         short,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, opts, func(ctx context.Context, l *app.Ledger, out *OutputFormatter) error {
				var v *model.VoidRequest
				var err error
				if approve {
					v, err = l.Voids.ApproveVoidRequest(ctx, args[0], actor(l))
				} else {
					v, err = l.Voids.RejectVoidRequest(ctx, args[0], actor(l), reason)
				}
				if err != nil {
					return err
				}
				if v == nil {
					return NewExitError(ExitCommandError, fmt.Sprintf("void request %s not found", args[0]))
				}
				return out.Result(v, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "Void request %s %s\n", v.ID, v.Status)
					return err
				})
			})
		},
	}
	if !approve {
		cmd.Flags().StringVar(&reason, "reason", "", "why the void was rejected")
	}
	return cmd
}

func newVoidPendingCommand(opts *RootOptions) *cobra.Command {
	var approver string
	cmd := &cobra.Command{
		Use:           "pending",
		Short:         "List pending void requests, oldest first",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, opts, func(ctx context.Context, l *app.Ledger, out *OutputFormatter) error {
				reqs, err := l.Voids.ListPending(ctx, approver)
				if err != nil {
					return err
				}
				return out.Result(reqs, func(w io.Writer) error {
					if len(reqs) == 0 {
						_, err := fmt.Fprintln(w, "No pending void requests.")
						return err
					}
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "REQUEST\tTICKET\tITEM\tQTY\tAPPROVER\tBY\tREASON")
					for _, v := range reqs {
						fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
							v.ID, v.TicketID, v.ItemName, v.RequestedQty, v.ApproverID, v.RequestedBy, v.Reason)
					}
					return tw.Flush()
				})
			})
		},
	}
	cmd.Flags().StringVar(&approver, "approver", "", "only requests awaiting this approver")
	return cmd
}

func newVoidNotificationsCommand(opts *RootOptions) *cobra.Command {
	var unread, markRead bool
	cmd := &cobra.Command{
		Use:           "notifications <recipient>",
		Short:         "List a user's void notifications, newest first",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, opts, func(ctx context.Context, l *app.Ledger, out *OutputFormatter) error {
				notes, err := l.Voids.Notifications(ctx, args[0], unread)
				if err != nil {
					return err
				}
				if markRead {
					for _, n := range notes {
						if n.ReadAt != nil {
							continue
						}
						if err := l.Voids.MarkRead(ctx, n.ID); err != nil {
							return err
						}
					}
				}
				return out.Result(notes, func(w io.Writer) error {
					if len(notes) == 0 {
						_, err := fmt.Fprintln(w, "No notifications.")
						return err
					}
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					for _, n := range notes {
						mark := " "
						if n.ReadAt == nil {
							mark = "*"
						}
						fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", mark, n.CreatedAt.Format(timeLayout), n.Title, n.Body)
					}
					return tw.Flush()
				})
			})
		},
	}
	cmd.Flags().BoolVar(&unread, "unread", false, "only unread notifications")
	cmd.Flags().BoolVar(&markRead, "mark-read", false, "mark the listed notifications as read")
	return cmd
}
