package replication

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/roach88/till/internal/clock"
	"github.com/roach88/till/internal/model"
	"github.com/roach88/till/internal/remote"
	"github.com/roach88/till/internal/sequence"
	"github.com/roach88/till/internal/store"
)

// Defaults applied by New for zero Config fields.
const (
	DefaultDebounce      = 1500 * time.Millisecond
	DefaultDrainInterval = 30 * time.Second
	DefaultPushTimeout   = 15 * time.Second
	DefaultBatchSize     = 50
	DefaultRetryInitial  = 2 * time.Second
	DefaultRetryMax      = 5 * time.Minute
	DefaultRetryFactor   = 2.0
)

// syncActor is the audit actor of remote-origin changes.
const syncActor = "sync"

// Config tunes the pipeline.
type Config struct {
	Tenant string

	// Debounce is the quiet period before a backup push.
	Debounce time.Duration
	// DrainInterval is how often Run drains the outbox without a wake-up.
	DrainInterval time.Duration
	// PushTimeout bounds each background push.
	PushTimeout time.Duration
	// BatchSize bounds the entries one Drain pass loads at a time.
	BatchSize int

	RetryInitial time.Duration
	RetryMax     time.Duration
	RetryFactor  float64
}

func (c Config) withDefaults() Config {
	if c.Debounce <= 0 {
		c.Debounce = DefaultDebounce
	}
	if c.DrainInterval <= 0 {
		c.DrainInterval = DefaultDrainInterval
	}
	if c.PushTimeout <= 0 {
		c.PushTimeout = DefaultPushTimeout
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = DefaultRetryInitial
	}
	if c.RetryMax <= 0 {
		c.RetryMax = DefaultRetryMax
	}
	if c.RetryFactor < 1 {
		c.RetryFactor = DefaultRetryFactor
	}
	return c
}

// Pipeline replicates the ledger to a remote.
//
// Thread-safety: all methods are safe for concurrent use. Run must be
// called from one goroutine.
type Pipeline struct {
	store   *store.Store
	client  remote.Client
	clock   clock.Clock
	seq     *sequence.Allocator
	log     *zap.Logger
	metrics *Metrics
	cfg     Config

	mu       sync.Mutex
	timer    *time.Timer
	lastHash string
	closed   bool

	inFlight atomic.Bool
	rearm    atomic.Bool

	// drainMu serializes Drain passes.
	drainMu sync.Mutex

	// wake is signaled when the outbox gains entries. Buffer of one
	// coalesces bursts.
	wake chan struct{}
}

// New creates a pipeline and subscribes it to the store: ticket mutations
// schedule a backup push and outbox appends wake the drain loop. metrics
// may be nil.
func New(st *store.Store, client remote.Client, clk clock.Clock, log *zap.Logger, metrics *Metrics, cfg Config) *Pipeline {
	if metrics == nil {
		metrics = NewMetrics(prometheus.NewRegistry())
	}
	cfg = cfg.withDefaults()
	p := &Pipeline{
		store:   st,
		client:  client,
		clock:   clk,
		seq:     sequence.New(cfg.Tenant, clk),
		log:     log.Named("replication"),
		metrics: metrics,
		cfg:     cfg,
		wake:    make(chan struct{}, 1),
	}
	st.OnTicketsChanged(p.Touch)
	st.OnOutboxEnqueued(p.Wake)
	return p
}

// Touch schedules a backup push after the debounce period, restarting the
// period if one is already pending.
func (p *Pipeline) Touch() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if p.timer == nil {
		p.timer = time.AfterFunc(p.cfg.Debounce, p.fire)
		return
	}
	p.timer.Reset(p.cfg.Debounce)
}

// fire runs a debounced push. When a push is already in flight this one is
// skipped and the running push re-arms the timer once it finishes.
func (p *Pipeline) fire() {
	if !p.inFlight.CompareAndSwap(false, true) {
		p.rearm.Store(true)
		return
	}
	defer func() {
		p.inFlight.Store(false)
		if p.rearm.Swap(false) {
			p.Touch()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.PushTimeout)
	defer cancel()
	if _, err := p.PushSnapshot(ctx); err != nil && !errors.Is(err, remote.ErrOffline) {
		p.log.Warn("backup push failed", zap.Error(err))
	}
}

// PushSnapshot sends every open ticket and its items to the remote. It
// reports false without calling the remote when the snapshot matches the
// last one sent.
func (p *Pipeline) PushSnapshot(ctx context.Context) (bool, error) {
	if _, offline := p.client.(remote.Offline); offline {
		return false, remote.ErrOffline
	}
	start := time.Now()
	snap, err := p.openSnapshot(ctx)
	if err != nil {
		return false, err
	}
	hash, err := fingerprint(snap)
	if err != nil {
		return false, err
	}
	p.mu.Lock()
	same := hash == p.lastHash
	p.mu.Unlock()
	if same {
		p.metrics.push(remote.ActionSaveOpenTicketsSnapshot, resultSkipped)
		p.log.Debug("backup push skipped: unchanged", zap.Int("tickets", len(snap.Tickets)))
		return false, nil
	}

	err = p.client.Post(ctx, remote.ActionSaveOpenTicketsSnapshot, snap)
	p.metrics.snapshotDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		p.metrics.push(remote.ActionSaveOpenTicketsSnapshot, resultFailed)
		return false, err
	}
	p.metrics.push(remote.ActionSaveOpenTicketsSnapshot, resultSent)

	p.mu.Lock()
	p.lastHash = hash
	p.mu.Unlock()
	p.log.Debug("backup pushed", zap.Int("tickets", len(snap.Tickets)))
	return true, nil
}

func (p *Pipeline) openSnapshot(ctx context.Context) (remote.Snapshot, error) {
	var tickets []model.Ticket
	var items map[string][]model.TicketItem
	err := p.store.View(ctx, func(tx *store.Tx) error {
		open := store.TicketFilter{Status: model.TicketOpen}
		var err error
		if tickets, err = tx.ListTickets(ctx, open); err != nil {
			return err
		}
		items, err = tx.ItemsByTicket(ctx, open)
		return err
	})
	if err != nil {
		return remote.Snapshot{}, fmt.Errorf("read open tickets: %w", err)
	}
	return remote.SnapshotOf(tickets, items, p.clock.Now()), nil
}

// Flush runs a pending backup push now instead of waiting for the debounce
// period. Nothing is sent when no push is pending.
func (p *Pipeline) Flush(ctx context.Context) error {
	p.mu.Lock()
	pending := p.timer != nil && p.timer.Stop()
	p.mu.Unlock()
	if !pending {
		return nil
	}
	_, err := p.PushSnapshot(ctx)
	return err
}

// Close stops the debounce timer. Later Touch calls are ignored.
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.timer != nil {
		p.timer.Stop()
	}
}
