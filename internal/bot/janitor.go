package bot

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/groupwarden/groupwarden/internal/action"
	"github.com/groupwarden/groupwarden/internal/flood"
	"github.com/groupwarden/groupwarden/internal/metrics"
	"github.com/groupwarden/groupwarden/internal/storage"
)

// floodPruneWindow bounds how long an idle flood window may linger.
const floodPruneWindow = 10 * time.Minute

// Janitor reconciles the store with the platform: it retries unconfirmed
// enforcements, closes overdue expiries whose timers failed, and keeps
// the gauges fresh.
type Janitor struct {
	store    storage.Store
	engine   *action.Engine
	detector *flood.Detector
	interval time.Duration
	log      zerolog.Logger
}

// NewJanitor creates a Janitor.
func NewJanitor(store storage.Store, engine *action.Engine, detector *flood.Detector,
	interval time.Duration, log zerolog.Logger) *Janitor {
	return &Janitor{
		store:    store,
		engine:   engine,
		detector: detector,
		interval: interval,
		log:      log,
	}
}

// Run executes the janitor loop until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	// Run immediately on start
	j.tick(ctx, "startup")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			j.tick(ctx, "interval")
		}
	}
}

func (j *Janitor) tick(ctx context.Context, trigger string) {
	start := time.Now()
	defer func() {
		metrics.ReconcileDuration.WithLabelValues(trigger).Observe(time.Since(start).Seconds())
	}()

	// Retry enforcement for persisted-but-unconfirmed actions.
	unconfirmed, err := j.store.ActiveUnconfirmed()
	if err != nil {
		j.log.Warn().Err(err).Msg("janitor: list unconfirmed actions failed")
	} else {
		metrics.UnconfirmedActions.Set(float64(len(unconfirmed)))
		for _, rec := range unconfirmed {
			if err := j.engine.RetryEnforcement(ctx, rec); err != nil {
				j.log.Warn().Err(err).Str("action_id", rec.ID).
					Int64("chat_id", rec.ChatID).Int64("user_id", rec.UserID).
					Msg("janitor: enforcement retry failed")
				continue
			}
			metrics.ReconcileRepaired.WithLabelValues("enforced").Inc()
		}
	}

	// Close overdue expiries whose timer fire failed on the platform.
	if n, err := j.engine.ExpireOverdue(ctx); err != nil {
		j.log.Warn().Err(err).Msg("janitor: expire overdue failed")
	} else if n > 0 {
		metrics.ReconcileRepaired.WithLabelValues("expired").Add(float64(n))
		j.log.Info().Int("count", n).Msg("janitor: closed overdue actions")
	}

	// Drop idle flood windows.
	j.detector.Prune(floodPruneWindow)

	// Update gauges.
	counts, err := j.store.CountActive()
	if err != nil {
		j.log.Warn().Err(err).Msg("janitor: count active failed")
	} else {
		for _, kind := range []storage.ActionKind{storage.KindBan, storage.KindMute} {
			metrics.ActiveActions.WithLabelValues(string(kind)).Set(float64(counts[kind]))
		}
	}
	size, err := j.store.SizeBytes()
	if err != nil {
		j.log.Warn().Err(err).Msg("janitor: read db size failed")
	} else {
		metrics.DBSizeBytes.Set(float64(size))
	}

	j.log.Debug().Str("trigger", trigger).Msg("janitor: tick complete")
}

// ReconcileResult summarizes a one-shot reconciliation sweep.
type ReconcileResult struct {
	Enforced int // unconfirmed actions whose enforcement was repaired
	Expired  int // overdue actions closed
}

// ReconcileOnce runs a single reconciliation sweep. Used by the
// `reconcile` subcommand.
func (b *Bot) ReconcileOnce(ctx context.Context) (*ReconcileResult, error) {
	res := &ReconcileResult{}

	unconfirmed, err := b.store.ActiveUnconfirmed()
	if err != nil {
		return nil, err
	}
	for _, rec := range unconfirmed {
		if err := b.engine.RetryEnforcement(ctx, rec); err != nil {
			b.log.Warn().Err(err).Str("action_id", rec.ID).Msg("reconcile: enforcement retry failed")
			continue
		}
		res.Enforced++
	}

	n, err := b.engine.ExpireOverdue(ctx)
	if err != nil {
		return res, err
	}
	res.Expired = n
	return res, nil
}
