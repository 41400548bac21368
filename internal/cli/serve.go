package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/till/internal/app"
)

// NewServeCommand creates the serve command.
func NewServeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the till in the background until interrupted",
		Long: `Run the till in the background until interrupted.

Drains the outbox to the remote, pushes the open-ticket backup after
changes, reloads the config file when it changes and, when metrics.addr is
set, serves Prometheus metrics.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := loadConfig(opts)
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd)
			defer stop()

			fmt.Fprintln(cmd.OutOrStdout(), "Till running. Press Ctrl-C to stop.")
			if err := app.Serve(ctx, h, appOptions...); err != nil && !errors.Is(err, context.Canceled) {
				return WrapExitError(ExitCommandError, "serve failed", err)
			}
			return nil
		},
	}
}

// signalContext derives a context from the command's that is cancelled on
// SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			fmt.Fprintf(cmd.ErrOrStderr(), "received %s, shutting down\n", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}
