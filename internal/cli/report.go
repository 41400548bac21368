package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/till/internal/app"
	"github.com/roach88/till/internal/report"
)

// NewReportCommand creates the report command.
func NewReportCommand(opts *RootOptions) *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "report <shift>",
		Short: "Export a shift's settlement as an XLSX workbook",
		Long: `Export a shift's settlement as an XLSX workbook.

The workbook has a summary sheet, the items sold, and the cash and petty
cash ledgers. Open shifts are exported as they stand.`,
		Example: `  till report 004
  till report 004 --out /tmp/friday.xlsx`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, opts, func(ctx context.Context, l *app.Ledger, out *OutputFormatter) error {
				r, err := report.Build(ctx, l.Shifts, args[0])
				if err != nil {
					return err
				}
				path := outPath
				if path == "" {
					path = r.FileName()
				}
				if err := writeReport(path, r); err != nil {
					return WrapExitError(ExitCommandError, "failed to write report", err)
				}
				return out.Result(map[string]string{"shiftId": r.Shift.ID, "file": path}, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "Wrote %s\n", path)
					return err
				})
			})
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "output file (default shift-<id>-<date>.xlsx)")
	return cmd
}

func writeReport(path string, r report.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := r.WriteXLSX(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
