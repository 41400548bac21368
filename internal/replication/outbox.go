package replication

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/roach88/till/internal/remote"
	"github.com/roach88/till/internal/store"
)

// DrainResult counts the outcome of one Drain call.
type DrainResult struct {
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Dropped int `json:"dropped"`
}

// Total is the number of delivery attempts made.
func (r DrainResult) Total() int { return r.Sent + r.Failed + r.Dropped }

// Wake signals the drain loop that the outbox gained entries. Never blocks.
func (p *Pipeline) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Enqueue appends an event to the outbox in its own transaction. Ledger
// operations enqueue inside their own transaction instead.
func (p *Pipeline) Enqueue(ctx context.Context, action string, payload any, maxAttempts int) (store.OutboxEntry, error) {
	var e store.OutboxEntry
	err := p.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		e, err = tx.Enqueue(ctx, action, payload, maxAttempts, p.clock.Now())
		return err
	})
	return e, err
}

// Drain delivers every due outbox entry in enqueue order. Each delivery
// outcome is committed before the next entry is tried. A failed entry is
// rescheduled with exponential backoff, or dropped once its attempt budget
// is spent. Entries that fail stay out of this pass even when their retry
// falls due during it.
func (p *Pipeline) Drain(ctx context.Context) (DrainResult, error) {
	if _, offline := p.client.(remote.Offline); offline {
		return DrainResult{}, remote.ErrOffline
	}
	p.drainMu.Lock()
	defer p.drainMu.Unlock()

	var res DrainResult
	tried := map[int64]bool{}
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		var due []store.OutboxEntry
		err := p.store.View(ctx, func(tx *store.Tx) error {
			var err error
			due, err = tx.DueOutbox(ctx, p.clock.Now(), p.cfg.BatchSize)
			return err
		})
		if err != nil {
			return res, fmt.Errorf("load due outbox: %w", err)
		}

		progressed := false
		for _, e := range due {
			if tried[e.ID] {
				continue
			}
			tried[e.ID] = true
			progressed = true
			if err := p.deliver(ctx, e, &res); err != nil {
				return res, err
			}
		}
		if !progressed || len(due) < p.cfg.BatchSize {
			break
		}
	}
	p.updateDepth(ctx)
	return res, nil
}

// deliver posts one entry and records the outcome. Only store errors are
// returned; remote errors are counted.
func (p *Pipeline) deliver(ctx context.Context, e store.OutboxEntry, res *DrainResult) error {
	pushCtx, cancel := context.WithTimeout(ctx, p.cfg.PushTimeout)
	postErr := p.client.Post(pushCtx, e.Action, json.RawMessage(e.Payload))
	cancel()

	now := p.clock.Now()
	if postErr == nil {
		err := p.store.WithTx(ctx, func(tx *store.Tx) error {
			return tx.MarkOutboxSent(ctx, e.ID, now)
		})
		if err != nil {
			return fmt.Errorf("mark outbox %d sent: %w", e.ID, err)
		}
		res.Sent++
		p.metrics.push(e.Action, resultSent)
		return nil
	}
	if ctx.Err() != nil && errors.Is(postErr, ctx.Err()) {
		// Shutdown interrupted the attempt; it does not count.
		return ctx.Err()
	}

	var status store.OutboxStatus
	next := now.Add(p.retryDelay(e.Attempts + 1))
	err := p.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		status, err = tx.MarkOutboxFailed(ctx, e.ID, next, postErr.Error())
		return err
	})
	if err != nil {
		return fmt.Errorf("mark outbox %d failed: %w", e.ID, err)
	}

	log := p.log.With(
		zap.Int64("outbox_id", e.ID),
		zap.String("action", e.Action),
		zap.Int("attempt", e.Attempts+1),
		zap.Error(postErr),
	)
	if status == store.OutboxDropped {
		res.Dropped++
		p.metrics.push(e.Action, resultDropped)
		log.Error("outbox entry dropped after final attempt")
		return nil
	}
	res.Failed++
	p.metrics.push(e.Action, resultFailed)
	log.Warn("outbox delivery failed", zap.Time("next_attempt", next))
	return nil
}

func (p *Pipeline) updateDepth(ctx context.Context) {
	var n int
	err := p.store.View(ctx, func(tx *store.Tx) error {
		var err error
		n, err = tx.CountOutbox(ctx, store.OutboxPending)
		return err
	})
	if err != nil {
		p.log.Warn("count outbox failed", zap.Error(err))
		return
	}
	p.metrics.outboxDepth.Set(float64(n))
}

// retryDelay is the wait before attempt n+1 after n failed attempts:
// RetryInitial * RetryFactor^(n-1), capped at RetryMax.
func (p *Pipeline) retryDelay(failed int) time.Duration {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.cfg.RetryInitial,
		RandomizationFactor: 0,
		Multiplier:          p.cfg.RetryFactor,
		MaxInterval:         p.cfg.RetryMax,
	}
	b.Reset()
	d := b.NextBackOff()
	for i := 1; i < failed; i++ {
		d = b.NextBackOff()
	}
	return d
}

// Run drains the outbox until ctx is cancelled: once at start, on every
// Wake, and every DrainInterval. Offline it only waits. Returns nil on
// cancellation.
func (p *Pipeline) Run(ctx context.Context) error {
	if _, offline := p.client.(remote.Offline); offline {
		p.log.Info("replication idle: offline, events stay queued")
		<-ctx.Done()
		return nil
	}
	p.log.Info("replication started", zap.Duration("drain_interval", p.cfg.DrainInterval))
	ticker := time.NewTicker(p.cfg.DrainInterval)
	defer ticker.Stop()

	for {
		p.drainOnce(ctx)
		select {
		case <-ctx.Done():
			p.log.Info("replication stopped")
			return nil
		case <-p.wake:
		case <-ticker.C:
		}
	}
}

func (p *Pipeline) drainOnce(ctx context.Context) {
	res, err := p.Drain(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.log.Error("drain failed", zap.Error(err))
		}
		return
	}
	if res.Total() > 0 {
		p.log.Debug("outbox drained",
			zap.Int("sent", res.Sent),
			zap.Int("failed", res.Failed),
			zap.Int("dropped", res.Dropped),
		)
	}
}
