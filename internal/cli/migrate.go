package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/till/internal/app"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(opts *RootOptions) *cobra.Command {
	var reset, yes bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the ledger database",
		Long: `Create or upgrade the ledger database and print its schema version.

With --reset every ledger row is deleted and the schema is kept. This
cannot be undone and needs --yes.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if reset && !yes {
				return NewExitError(ExitCommandError, "--reset deletes every ledger row; pass --yes to confirm")
			}
			return withLedger(cmd, opts, func(ctx context.Context, l *app.Ledger, out *OutputFormatter) error {
				if reset {
					if err := l.Store.Reset(ctx); err != nil {
						return err
					}
				}
				version, err := l.Store.SchemaVersion()
				if err != nil {
					return err
				}
				path := l.Config.Config().DBPath
				data := map[string]any{"database": path, "schemaVersion": version, "reset": reset}
				return out.Result(data, func(w io.Writer) error {
					if reset {
						fmt.Fprintf(w, "Ledger %s reset\n", path)
					}
					_, err := fmt.Fprintf(w, "Ledger %s at schema version %d\n", path, version)
					return err
				})
			})
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "delete every ledger row")
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm --reset")
	return cmd
}
