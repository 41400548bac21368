package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/till/internal/app"
	"github.com/roach88/till/internal/model"
	"github.com/roach88/till/internal/store"
)

// AuditOptions holds flags for the audit command.
type AuditOptions struct {
	*RootOptions
	Shifts  []string
	Actions []string
	Entity  string
	Details bool
}

// NewAuditCommand creates the audit command.
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AuditOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the audit log",
		Long: `Query the audit log in write order.

Every ledger change is recorded with who made it, when, and on which
shift. Filters combine; repeat --shift or --action to match any of several.

Examples:
  till audit --shift 004
  till audit --action voidApproved --action voidRejected
  till audit --entity ticket:004-002 --details
  till audit --shift 004 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAudit(opts, cmd)
		},
	}

	cmd.Flags().StringArrayVar(&opts.Shifts, "shift", nil, "only entries on this shift (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Actions, "action", nil, "only this action, e.g. ticketPaid (repeatable)")
	cmd.Flags().StringVar(&opts.Entity, "entity", "", `only this entity, "type" or "type:id"`)
	cmd.Flags().BoolVar(&opts.Details, "details", false, "print each entry's details")

	return cmd
}

func runAudit(opts *AuditOptions, cmd *cobra.Command) error {
	filter := store.AuditFilter{ShiftIDs: opts.Shifts}
	for _, a := range opts.Actions {
		filter.Actions = append(filter.Actions, model.Action(a))
	}
	if opts.Entity != "" {
		filter.Entity, filter.EntityID, _ = strings.Cut(opts.Entity, ":")
	}

	return withLedger(cmd, opts.RootOptions, func(ctx context.Context, l *app.Ledger, out *OutputFormatter) error {
		var entries []model.AuditEntry
		err := l.Store.View(ctx, func(tx *store.Tx) error {
			var err error
			entries, err = tx.ListAudit(ctx, filter)
			return err
		})
		if err != nil {
			return err
		}
		return out.Result(entries, func(w io.Writer) error {
			return writeAudit(w, entries, opts.Details)
		})
	})
}

func writeAudit(w io.Writer, entries []model.AuditEntry, details bool) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "No audit entries.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tACTION\tENTITY\tACTOR\tSHIFT")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s:%s\t%s\t%s\n",
			e.Timestamp.Format("2006-01-02 15:04:05"), e.Action, e.Entity, e.EntityID, e.Actor, e.ShiftID)
		if details {
			data, err := json.Marshal(e.Event)
			if err != nil {
				return err
			}
			fmt.Fprintf(tw, "\t%s\n", data)
		}
	}
	return tw.Flush()
}
