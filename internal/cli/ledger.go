package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/roach88/till/internal/app"
	"github.com/roach88/till/internal/config"
)

// closeTimeout bounds the snapshot flush on the way out of a command.
const closeTimeout = 15 * time.Second

// appOptions are extra fx options for every ledger a command opens. Tests
// use it to decorate a fake clock.
var appOptions []fx.Option

// loadConfig reads the configuration and applies the global flag overrides.
func loadConfig(opts *RootOptions) (*config.Holder, error) {
	h, err := config.Load(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	overrides := map[string]string{}
	if opts.Database != "" {
		overrides["db_path"] = opts.Database
	}
	if opts.Actor != "" {
		overrides["actor"] = opts.Actor
	}
	if opts.Verbose {
		overrides["log.level"] = "debug"
	}
	for key, value := range overrides {
		if err := h.Set(key, value); err != nil {
			return nil, WrapExitError(ExitCommandError, "invalid flag value", err)
		}
	}
	return h, nil
}

// withLedger opens the ledger, runs fn and closes it again. Errors from fn
// are reported through the output formatter.
func withLedger(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, l *app.Ledger, out *OutputFormatter) error) (err error) {
	out := newOutput(cmd, opts)
	h, err := loadConfig(opts)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := h.Config()
	out.VerboseLog("ledger %s (tenant %s, actor %s)", cfg.DBPath, cfg.Tenant, cfg.Actor)
	l, err := app.Open(ctx, h, appOptions...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open ledger", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if cerr := l.Close(closeCtx); cerr != nil && err == nil {
			err = WrapExitError(ExitCommandError, "failed to close ledger", cerr)
		}
	}()

	return out.Fail(fn(ctx, l, out))
}

// actor is the operator recorded on ledger changes.
func actor(l *app.Ledger) string {
	return l.Config.Config().Actor
}
