package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/till/internal/app"
	"github.com/roach88/till/internal/model"
	"github.com/roach88/till/internal/ticket"
)

// NewTicketCommand creates the ticket command group.
func NewTicketCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ticket",
		Short: "Open tickets, edit carts and take payment",
	}
	cmd.AddCommand(
		newTicketOpenCommand(opts),
		newTicketUpdateCommand(opts),
		newTicketCartCommand(opts),
		newTicketPayCommand(opts),
		newTicketListCommand(opts),
		newTicketShowCommand(opts),
	)
	return cmd
}

func newTicketOpenCommand(opts *RootOptions) *cobra.Command {
	var covers int
	var notes string
	cmd := &cobra.Command{
		Use:           "open",
		Short:         "Open a ticket on the current shift",
		Example:       `  till ticket open --covers 2 --notes "window table"`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var d ticket.Details
			if cmd.Flags().Changed("covers") {
				d.Covers = &covers
			}
			if cmd.Flags().Changed("notes") {
				d.Notes = &notes
			}
			return withLedger(cmd, opts, func(ctx context.Context, l *app.Ledger, out *OutputFormatter) error {
				t, err := l.Tickets.OpenTicket(ctx, actor(l), d)
				if err != nil {
					return err
				}
				return out.Result(t, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "Ticket %s opened\n", t.ID)
					return err
				})
			})
		},
	}
	cmd.Flags().IntVar(&covers, "covers", 0, "number of guests")
	cmd.Flags().StringVar(&notes, "notes", "", "free-form notes")
	return cmd
}

func newTicketUpdateCommand(opts *RootOptions) *cobra.Command {
	var covers int
	var notes string
	var clearCovers, clearNotes bool
	cmd := &cobra.Command{
		Use:   "update <ticket>",
		Short: "Change an open ticket's covers or notes",
		Example: `  till ticket update 004-002 --covers 3
  till ticket update 004-002 --clear-notes`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var p ticket.DetailsPatch
			switch {
			case clearCovers:
				p.SetCovers = true
			case cmd.Flags().Changed("covers"):
				p.SetCovers, p.Covers = true, &covers
			}
			switch {
			case clearNotes:
				p.SetNotes = true
			case cmd.Flags().Changed("notes"):
				p.SetNotes, p.Notes = true, &notes
			}
			return withLedger(cmd, opts, func(ctx context.Context, l *app.Ledger, out *OutputFormatter) error {
				patch, err := l.Tickets.UpdateTicketDetails(ctx, args[0], actor(l), p)
				if err != nil {
					return err
				}
				return out.Result(patch, func(w io.Writer) error {
					if len(patch.Changed) == 0 {
						_, err := fmt.Fprintf(w, "Ticket %s unchanged\n", args[0])
						return err
					}
					_, err := fmt.Fprintf(w, "Ticket %s updated: %s\n", args[0], strings.Join(patch.Changed, ", "))
					return err
				})
			})
		},
	}
	cmd.Flags().IntVar(&covers, "covers", 0, "number of guests")
	cmd.Flags().StringVar(&notes, "notes", "", "free-form notes")
	cmd.Flags().BoolVar(&clearCovers, "clear-covers", false, "unset the number of guests")
	cmd.Flags().BoolVar(&clearNotes, "clear-notes", false, "unset the notes")
	cmd.MarkFlagsMutuallyExclusive("covers", "clear-covers")
	cmd.MarkFlagsMutuallyExclusive("notes", "clear-notes")
	return cmd
}

func newTicketCartCommand(opts *RootOptions) *cobra.Command {
	var lines []string
	cmd := &cobra.Command{
		Use:   "cart <ticket>",
		Short: "Replace a ticket's cart",
		Long: `Replace a ticket's cart with the given lines.

Each --line is "name:qty:price" with an optional ":sku". Saving no lines
empties the cart.`,
		Example: `  till ticket cart 004-002 --line "Latte:2:3.50" --line "Muffin:1:2.50:MUF-01"`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cart := make([]model.CartLine, 0, len(lines))
			for _, s := range lines {
				line, err := parseCartLine(s)
				if err != nil {
					return err
				}
				cart = append(cart, line)
			}
			return withLedger(cmd, opts, func(ctx context.Context, l *app.Ledger, out *OutputFormatter) error {
				if err := l.Tickets.SaveCart(ctx, args[0], actor(l), cart); err != nil {
					return err
				}
				items, err := l.Tickets.Items(ctx, args[0])
				if err != nil {
					return err
				}
				return out.Result(items, func(w io.Writer) error {
					return writeItems(w, items)
				})
			})
		},
	}
	cmd.Flags().StringArrayVarP(&lines, "line", "l", nil, `cart line "name:qty:price[:sku]" (repeatable)`)
	return cmd
}

func newTicketPayCommand(opts *RootOptions) *cobra.Command {
	var method string
	var tendered float64
	cmd := &cobra.Command{
		Use:   "pay <ticket>",
		Short: "Take payment and close a ticket",
		Example: `  till ticket pay 004-002 --method cash --tendered 20
  till ticket pay 004-003 --method card`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			pm, err := model.ParsePayMethod(method)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid --method", err)
			}
			return withLedger(cmd, opts, func(ctx context.Context, l *app.Ledger, out *OutputFormatter) error {
				r, err := l.Tickets.PayTicket(ctx, args[0], ticket.Payment{Method: pm, Tendered: tendered, Actor: actor(l)})
				if err != nil {
					return err
				}
				return out.Result(r, func(w io.Writer) error {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintf(tw, "Ticket %s paid by %s\n", r.TicketID, r.Method)
					fmt.Fprintf(tw, "Subtotal\t%s\n", r.Totals.Subtotal.StringFixed(2))
					fmt.Fprintf(tw, "Tax (%s%%)\t%s\n", r.Totals.TaxRate.String(), r.Totals.TaxAmount.StringFixed(2))
					fmt.Fprintf(tw, "Total\t%s\n", r.Amount.StringFixed(2))
					fmt.Fprintf(tw, "Tendered\t%s\n", r.Tendered.StringFixed(2))
					fmt.Fprintf(tw, "Change\t%s\n", r.Change.StringFixed(2))
					return tw.Flush()
				})
			})
		},
	}
	cmd.Flags().StringVarP(&method, "method", "m", "cash", "payment method (cash|card|promptpay)")
	cmd.Flags().Float64Var(&tendered, "tendered", 0, "cash handed over (cash payments)")
	return cmd
}

func newTicketListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List open tickets",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, opts, func(ctx context.Context, l *app.Ledger, out *OutputFormatter) error {
				tickets, err := l.Tickets.ListOpen(ctx)
				if err != nil {
					return err
				}
				return out.Result(tickets, func(w io.Writer) error {
					if len(tickets) == 0 {
						_, err := fmt.Fprintln(w, "No open tickets.")
						return err
					}
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "TICKET\tOPENED\tBY\tCOVERS\tNOTES")
					for _, t := range tickets {
						fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
							t.ID, t.OpenedAt.Format(timeLayout), t.OpenedBy, optInt(t.Covers), optString(t.Notes))
					}
					return tw.Flush()
				})
			})
		},
	}
}

func newTicketShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show <ticket>",
		Short:         "Show a ticket and its cart",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, opts, func(ctx context.Context, l *app.Ledger, out *OutputFormatter) error {
				t, err := l.Tickets.Get(ctx, args[0])
				if err != nil {
					return err
				}
				items, err := l.Tickets.Items(ctx, t.ID)
				if err != nil {
					return err
				}
				data := map[string]any{"ticket": t, "items": items}
				return out.Result(data, func(w io.Writer) error {
					fmt.Fprintf(w, "Ticket %s (%s), opened %s by %s\n", t.ID, t.Status, t.OpenedAt.Format(timeLayout), t.OpenedBy)
					if t.Status == model.TicketClosed {
						fmt.Fprintf(w, "Paid %s by %s, change %s\n", t.Total.StringFixed(2), t.PayMethod, t.Change.StringFixed(2))
					}
					fmt.Fprintln(w)
					return writeItems(w, items)
				})
			})
		},
	}
}

// parseCartLine parses "name:qty:price[:sku]".
func parseCartLine(s string) (model.CartLine, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 3 || len(parts) > 4 {
		return model.CartLine{}, NewExitError(ExitCommandError, fmt.Sprintf("invalid line %q: want name:qty:price[:sku]", s))
	}
	qty, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return model.CartLine{}, NewExitError(ExitCommandError, fmt.Sprintf("invalid line %q: qty %q is not a whole number", s, parts[1]))
	}
	price, err := parseDecimal("price", strings.TrimSpace(parts[2]))
	if err != nil {
		return model.CartLine{}, err
	}
	line := model.CartLine{Name: strings.TrimSpace(parts[0]), Qty: qty, Price: price}
	if len(parts) == 4 {
		line.SKU = strings.TrimSpace(parts[3])
	}
	return line, nil
}

func writeItems(w io.Writer, items []model.TicketItem) error {
	if len(items) == 0 {
		_, err := fmt.Fprintln(w, "Cart is empty.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ITEM\tSKU\tQTY\tPRICE\tTOTAL")
	for _, it := range items {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", it.Name, it.SKU, it.Qty, it.Price.StringFixed(2), it.LineTotal.StringFixed(2))
	}
	return tw.Flush()
}

func optInt(p *int) string {
	if p == nil {
		return "-"
	}
	return strconv.Itoa(*p)
}

func optString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
