package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/roach88/till/internal/app"
	"github.com/roach88/till/internal/model"
	"github.com/roach88/till/internal/shift"
)

const timeLayout = "2006-01-02 15:04"

// NewShiftCommand creates the shift command group.
func NewShiftCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shift",
		Short: "Open, settle and inspect shifts and their cash drawers",
	}
	cmd.AddCommand(
		newShiftOpenCommand(opts),
		newShiftCloseCommand(opts),
		newShiftCurrentCommand(opts),
		newShiftListCommand(opts),
		newShiftFloatCommand(opts, "float", "Set the opening cash float", (*shift.Manager).SetStartingFloat),
		newShiftFloatCommand(opts, "petty-float", "Set the opening petty-cash balance", (*shift.Manager).SetStartingPetty),
		newShiftCashCommand(opts),
		newShiftPettyCommand(opts),
		newShiftBalanceCommand(opts),
	)
	return cmd
}

func newShiftOpenCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "open",
		Short: "Open a shift, or show the one already open",
		Example: `  till shift open
  till shift open --actor amy --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, opts, func(ctx context.Context, l *app.Ledger, out *OutputFormatter) error {
				opened, err := l.Shifts.OpenShift(ctx, actor(l))
				if err != nil {
					return err
				}
				return out.Result(opened, func(w io.Writer) error {
					if opened.Existing {
						_, err := fmt.Fprintf(w, "Shift %s is already open (since %s)\n", opened.ShiftID, opened.OpenedAt.Format(timeLayout))
						return err
					}
					_, err := fmt.Fprintf(w, "Shift %s opened\n", opened.ShiftID)
					return err
				})
			})
		},
	}
}

type closeOptions struct {
	closingFloat   string
	floatWithdrawn string
	closingPetty   string
	notes          string
}

func newShiftCloseCommand(opts *RootOptions) *cobra.Command {
	co := &closeOptions{}
	cmd := &cobra.Command{
		Use:   "close",
		Short: "Settle and close the open shift",
		Long: `Settle and close the open shift.

Sales are totalled from the shift's paid tickets and the drawer counts are
recorded as given. Amounts left unset are stored as unknown.`,
		Example: `  till shift close --closing-float 95 --float-withdrawn 420.50 --notes "quiet night"`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, opts, func(ctx context.Context, l *app.Ledger, out *OutputFormatter) error {
				in := shift.CloseInput{ClosedBy: actor(l), Notes: co.notes}
				var err error
				if in.ClosingFloat, err = optDecimal("closing-float", co.closingFloat); err != nil {
					return err
				}
				if in.FloatWithdrawn, err = optDecimal("float-withdrawn", co.floatWithdrawn); err != nil {
					return err
				}
				if in.ClosingPetty, err = optDecimal("closing-petty", co.closingPetty); err != nil {
					return err
				}
				sum, err := l.Shifts.CloseShift(ctx, in)
				if err != nil {
					return err
				}
				return out.Result(sum, func(w io.Writer) error {
					fmt.Fprintf(w, "Shift %s closed\n\n", sum.ShiftID)
					return writeSummary(w, sum.ShiftSummary)
				})
			})
		},
	}
	cmd.Flags().StringVar(&co.closingFloat, "closing-float", "", "cash left in the drawer")
	cmd.Flags().StringVar(&co.floatWithdrawn, "float-withdrawn", "", "cash taken out of the drawer")
	cmd.Flags().StringVar(&co.closingPetty, "closing-petty", "", "petty cash counted at close")
	cmd.Flags().StringVar(&co.notes, "notes", "", "closing notes")
	return cmd
}

func newShiftCurrentCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "current",
		Short:         "Show the open shift",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, opts, func(ctx context.Context, l *app.Ledger, out *OutputFormatter) error {
				sh, err := l.Shifts.Current(ctx)
				if err != nil {
					return err
				}
				return out.Result(sh, func(w io.Writer) error {
					if sh == nil {
						_, err := fmt.Fprintln(w, "No open shift.")
						return err
					}
					_, err := fmt.Fprintf(w, "Shift %s open since %s by %s\n", sh.ID, sh.OpenedAt.Format(timeLayout), sh.OpenedBy)
					return err
				})
			})
		},
	}
}

func newShiftListCommand(opts *RootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List recent shifts, newest first",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, opts, func(ctx context.Context, l *app.Ledger, out *OutputFormatter) error {
				shifts, err := l.Shifts.Recent(ctx, limit)
				if err != nil {
					return err
				}
				return out.Result(shifts, func(w io.Writer) error {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "SHIFT\tSTATUS\tOPENED\tCLOSED\tTICKETS\tSALES")
					for _, sh := range shifts {
						total := sh.CashSales.Add(sh.CardSales).Add(sh.PromptPaySales)
						fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
							sh.ID, sh.Status, sh.OpenedAt.Format(timeLayout), formatOptTime(sh.ClosedAt),
							sh.TicketsCount, total.StringFixed(2))
					}
					return tw.Flush()
				})
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum number of shifts")
	return cmd
}

func newShiftFloatCommand(opts *RootOptions, use, short string, set func(*shift.Manager, context.Context, decimal.Decimal, string) error) *cobra.Command {
	return &cobra.Command{
		Use:           use + " <amount>",
		Short:         short,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseDecimal("amount", args[0])
			if err != nil {
				return err
			}
			return withLedger(cmd, opts, func(ctx context.Context, l *app.Ledger, out *OutputFormatter) error {
				if err := set(l.Shifts, ctx, amount, actor(l)); err != nil {
					return err
				}
				return out.Result(map[string]any{"amount": amount}, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "Opening %s set to %s\n", use, amount.StringFixed(2))
					return err
				})
			})
		},
	}
}

func newShiftCashCommand(opts *RootOptions) *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "cash <in|out> <amount>",
		Short: "Record cash put into or taken out of the drawer",
		Example: `  till shift cash out 5 --description "ice from the shop next door"
  till shift cash in 50 --description "change top-up"`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseDecimal("amount", args[1])
			if err != nil {
				return err
			}
			return withLedger(cmd, opts, func(ctx context.Context, l *app.Ledger, out *OutputFormatter) error {
				e, err := l.Shifts.AddCashAdjustment(ctx, shift.CashInput{
					Type: args[0], Amount: amount, Description: description, Actor: actor(l),
				})
				if err != nil {
					return err
				}
				return out.Result(e, entryText(e))
			})
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "what the cash was for (required)")
	return cmd
}

func newShiftPettyCommand(opts *RootOptions) *cobra.Command {
	var description, category string
	cmd := &cobra.Command{
		Use:   "petty <amount>",
		Short: "Record a petty-cash movement; negative amounts are spending",
		Example: `  till shift petty -- -12.30 --category supplies --description milk
  till shift petty 100 --description "top-up from safe"`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseDecimal("amount", args[0])
			if err != nil {
				return err
			}
			return withLedger(cmd, opts, func(ctx context.Context, l *app.Ledger, out *OutputFormatter) error {
				e, err := l.Shifts.AddPettyCashEntry(ctx, shift.PettyInput{
					Category: category, Amount: amount, Description: description, Actor: actor(l),
				})
				if err != nil {
					return err
				}
				return out.Result(e, entryText(e))
			})
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "what the movement was for (required)")
	cmd.Flags().StringVar(&category, "category", "", "expense category")
	return cmd
}

func newShiftBalanceCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "balance",
		Short:         "Show the open shift's cash and petty-cash ledgers",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, opts, func(ctx context.Context, l *app.Ledger, out *OutputFormatter) error {
				cash, err := l.Shifts.CashBalance(ctx)
				if err != nil {
					return err
				}
				petty, err := l.Shifts.PettyBalance(ctx)
				if err != nil {
					return err
				}
				data := map[string]shift.Balance{"cash": cash, "petty": petty}
				return out.Result(data, func(w io.Writer) error {
					fmt.Fprintf(w, "Shift %s\n\nCash drawer\n", cash.ShiftID)
					if err := writeLedger(w, cash); err != nil {
						return err
					}
					fmt.Fprintln(w, "\nPetty cash")
					return writeLedger(w, petty)
				})
			})
		},
	}
}

func entryText(e shift.Entry) func(w io.Writer) error {
	return func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "Recorded %s %s (%s); balance %s\n",
			e.Kind, e.Amount.StringFixed(2), e.Description, e.Balance.StringFixed(2))
		return err
	}
}

func writeLedger(w io.Writer, b shift.Balance) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tACTOR\tTYPE\tAMOUNT\tBALANCE\tDESCRIPTION")
	fmt.Fprintf(tw, "\t\topening\t\t%s\t\n", b.Opening.StringFixed(2))
	for _, e := range b.Entries {
		tag := e.Type
		if tag == "" {
			tag = e.Category
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.At.Format(timeLayout), e.Actor, tag, e.Amount.StringFixed(2), e.Balance.StringFixed(2), e.Description)
	}
	fmt.Fprintf(tw, "\t\tnet\t%s\t%s\t\n", b.Net.StringFixed(2), b.Current.StringFixed(2))
	return tw.Flush()
}

func writeSummary(w io.Writer, s model.ShiftSummary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Cash sales\t%s\n", s.CashSales.StringFixed(2))
	fmt.Fprintf(tw, "Card sales\t%s\n", s.CardSales.StringFixed(2))
	fmt.Fprintf(tw, "PromptPay sales\t%s\n", s.PromptPaySales.StringFixed(2))
	fmt.Fprintf(tw, "Total sales\t%s\n", s.TotalSales.StringFixed(2))
	fmt.Fprintf(tw, "Tickets\t%d\n", s.TicketsCount)
	fmt.Fprintf(tw, "Items\t%d\n", s.TotalItems)
	names := make([]string, 0, len(s.ItemsSold))
	for name := range s.ItemsSold {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(tw, "  %s\t%d\n", name, s.ItemsSold[name])
	}
	return tw.Flush()
}

func parseDecimal(name, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, NewExitError(ExitCommandError, fmt.Sprintf("invalid %s %q: not a number", name, s))
	}
	return d, nil
}

func optDecimal(name, s string) (decimal.NullDecimal, error) {
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := parseDecimal(name, s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

func formatOptTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(timeLayout)
}
