package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/till/internal/clock"
	"github.com/roach88/till/internal/devremote"
	"github.com/roach88/till/internal/logging"
)

// NewDevRemoteCommand creates the devremote command.
func NewDevRemoteCommand(opts *RootOptions) *cobra.Command {
	var addr, secret string
	cmd := &cobra.Command{
		Use:   "devremote",
		Short: "Run an in-memory remote for local development",
		Long: `Run an in-memory remote for local development.

The server accepts the same actions as the production remote and keeps
everything in memory. Point remote.endpoint at the printed URL. By default
it listens on devremote.addr and verifies tokens with remote.secret.`,
		Example:       `  till devremote --addr 127.0.0.1:8787`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := loadConfig(opts)
			if err != nil {
				return err
			}
			cfg := h.Config()
			if !cmd.Flags().Changed("addr") {
				addr = cfg.DevRemote.Addr
			}
			if !cmd.Flags().Changed("secret") {
				secret = cfg.Remote.Secret
			}
			log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to build logger", err)
			}
			defer func() { _ = log.Sync() }()

			srv := &http.Server{
				Handler: devremote.New(devremote.Options{
					Secret: secret,
					Clock:  clock.Real{},
					Log:    log.Named("devremote"),
				}).Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to listen", err)
			}

			ctx, stop := signalContext(cmd)
			defer stop()
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Serve(ln) }()

			fmt.Fprintf(cmd.OutOrStdout(), "Dev remote listening on http://%s%s\n", ln.Addr(), devremote.Path)
			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return WrapExitError(ExitCommandError, "dev remote stopped", err)
				}
				return nil
			case <-ctx.Done():
			}

			shutCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
			defer cancel()
			if err := srv.Shutdown(shutCtx); err != nil {
				log.Warn("dev remote shutdown", zap.Error(err))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default devremote.addr)")
	cmd.Flags().StringVar(&secret, "secret", "", "token secret; empty disables auth (default remote.secret)")
	return cmd
}
