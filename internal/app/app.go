// Package app assembles the till's object graph with fx: configuration,
// logger, ledger store, remote client, managers and replication pipeline.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/roach88/till/internal/clock"
	"github.com/roach88/till/internal/config"
	"github.com/roach88/till/internal/logging"
	"github.com/roach88/till/internal/remote"
	"github.com/roach88/till/internal/replication"
	"github.com/roach88/till/internal/shift"
	"github.com/roach88/till/internal/store"
	"github.com/roach88/till/internal/ticket"
	"github.com/roach88/till/internal/void"
)

// Module provides every ledger component. It expects a *config.Holder to be
// supplied.
var Module = fx.Module("till",
	fx.Provide(
		provideLogger,
		provideClock,
		provideStore,
		provideClient,
		provideRegistry,
		provideMetrics,
		providePipeline,
		provideTickets,
		provideShifts,
		provideVoids,
		newLedger,
	),
)

// Ledger bundles the components a command works with.
type Ledger struct {
	Config   *config.Holder
	Log      *zap.Logger
	Clock    clock.Clock
	Store    *store.Store
	Remote   remote.Client
	Tickets  *ticket.Manager
	Shifts   *shift.Manager
	Voids    *void.Manager
	Pipeline *replication.Pipeline

	app *fx.App
}

type ledgerParams struct {
	fx.In

	Config   *config.Holder
	Log      *zap.Logger
	Clock    clock.Clock
	Store    *store.Store
	Remote   remote.Client
	Tickets  *ticket.Manager
	Shifts   *shift.Manager
	Voids    *void.Manager
	Pipeline *replication.Pipeline
}

func newLedger(p ledgerParams) *Ledger {
	return &Ledger{
		Config:   p.Config,
		Log:      p.Log,
		Clock:    p.Clock,
		Store:    p.Store,
		Remote:   p.Remote,
		Tickets:  p.Tickets,
		Shifts:   p.Shifts,
		Voids:    p.Voids,
		Pipeline: p.Pipeline,
	}
}

// Open builds and starts the graph for a one-shot command. opts may replace
// providers, e.g. fx.Decorate a fake clock in tests.
func Open(ctx context.Context, h *config.Holder, opts ...fx.Option) (*Ledger, error) {
	var l *Ledger
	app := fx.New(options(h, append(opts, fx.Populate(&l))...)...)
	if err := app.Err(); err != nil {
		return nil, err
	}
	if err := app.Start(ctx); err != nil {
		return nil, err
	}
	l.app = app
	return l, nil
}

// Close stops the graph: pending snapshot pushes are flushed and the store
// is closed.
func (l *Ledger) Close(ctx context.Context) error {
	if l.app == nil {
		return nil
	}
	return l.app.Stop(ctx)
}

// Serve runs the till as a long-lived process until ctx is cancelled: the
// outbox drain loop, config hot reload and, when configured, the metrics
// endpoint.
func Serve(ctx context.Context, h *config.Holder, opts ...fx.Option) error {
	app := fx.New(options(h, append(opts, fx.Invoke(registerServe))...)...)
	if err := app.Err(); err != nil {
		return err
	}
	startCtx, cancel := context.WithTimeout(ctx, app.StartTimeout())
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}
	<-ctx.Done()
	stopCtx, cancelStop := context.WithTimeout(context.Background(), app.StopTimeout())
	defer cancelStop()
	return app.Stop(stopCtx)
}

func options(h *config.Holder, opts ...fx.Option) []fx.Option {
	return append([]fx.Option{
		fx.Supply(h),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			l := &fxevent.ZapLogger{Logger: log.Named("fx")}
			l.UseLogLevel(zapcore.DebugLevel)
			return l
		}),
		Module,
	}, opts...)
}

func provideLogger(lc fx.Lifecycle, h *config.Holder) (*zap.Logger, error) {
	cfg := h.Config()
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	log = log.With(zap.String("tenant", cfg.Tenant))
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			_ = log.Sync()
			return nil
		},
	})
	return log, nil
}

func provideClock() clock.Clock { return clock.Real{} }

func provideStore(lc fx.Lifecycle, h *config.Holder, log *zap.Logger) (*store.Store, error) {
	cfg := h.Config()
	st, err := store.Open(cfg.DBPath, store.WithNodeID(cfg.NodeID))
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", cfg.DBPath, err)
	}
	log.Debug("ledger opened", zap.String("path", cfg.DBPath))
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return st.Close() },
	})
	return st, nil
}

func provideClient(h *config.Holder, clk clock.Clock, log *zap.Logger) remote.Client {
	cfg := h.Config().Remote
	if cfg.Endpoint == "" {
		log.Info("no remote endpoint configured; running offline")
		return remote.Offline{}
	}
	var opts []remote.HTTPOption
	if cfg.Secret != "" {
		opts = append(opts, remote.WithSigner(remote.NewSigner(cfg.Secret, cfg.TokenTTL, clk)))
	}
	return remote.NewHTTPClient(cfg.Endpoint, h.Config().Tenant, cfg.Timeout, clk, opts...)
}

func provideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func provideMetrics(reg *prometheus.Registry) *replication.Metrics {
	return replication.NewMetrics(reg)
}

func providePipeline(lc fx.Lifecycle, h *config.Holder, st *store.Store, client remote.Client, clk clock.Clock, log *zap.Logger, m *replication.Metrics) *replication.Pipeline {
	cfg := h.Config()
	r := cfg.Replication
	p := replication.New(st, client, clk, log, m, replication.Config{
		Tenant:        cfg.Tenant,
		Debounce:      r.Debounce,
		DrainInterval: r.DrainInterval,
		PushTimeout:   r.PushTimeout,
		BatchSize:     r.BatchSize,
		RetryInitial:  r.RetryInitial,
		RetryMax:      r.RetryMax,
		RetryFactor:   r.RetryFactor,
	})
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			if err := p.Flush(ctx); err != nil && !errors.Is(err, remote.ErrOffline) {
				log.Warn("final snapshot push failed", zap.Error(err))
			}
			p.Close()
			return nil
		},
	})
	return p
}

func provideTickets(h *config.Holder, st *store.Store, clk clock.Clock, log *zap.Logger) *ticket.Manager {
	cfg := h.Config()
	return ticket.New(st, clk, log, ticket.Config{
		Tenant:         cfg.Tenant,
		TaxRate:        h.TaxRate,
		RecordAttempts: cfg.Replication.RecordAttempts,
	})
}

func provideShifts(h *config.Holder, st *store.Store, clk clock.Clock, log *zap.Logger) *shift.Manager {
	cfg := h.Config()
	return shift.New(st, clk, log, shift.Config{
		Tenant:         cfg.Tenant,
		RecordAttempts: cfg.Replication.RecordAttempts,
	})
}

func provideVoids(h *config.Holder, st *store.Store, clk clock.Clock, log *zap.Logger) *void.Manager {
	r := h.Config().Replication
	return void.New(st, clk, log, void.Config{
		PageAttempts:   r.PageAttempts,
		RecordAttempts: r.RecordAttempts,
	})
}

type serveParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    *config.Holder
	Log       *zap.Logger
	Pipeline  *replication.Pipeline
	Registry  *prometheus.Registry
}

func registerServe(p serveParams) {
	log := p.Log.Named("serve")
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			p.Config.Watch(log)
			go func() {
				defer close(done)
				_ = p.Pipeline.Run(runCtx)
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		},
	})

	addr := p.Config.Config().Metrics.Addr
	if addr == "" {
		return
	}
	srv := &http.Server{
		Handler:           promhttp.HandlerFor(p.Registry, promhttp.HandlerOpts{Registry: p.Registry}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen metrics on %s: %w", addr, err)
			}
			log.Info("serving metrics", zap.String("addr", ln.Addr().String()))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("metrics server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
