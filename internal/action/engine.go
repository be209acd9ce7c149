package action

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/groupwarden/groupwarden/internal/metrics"
	"github.com/groupwarden/groupwarden/internal/platform"
	"github.com/groupwarden/groupwarden/internal/storage"
)

// AdminChecker answers whether a user is an administrator of a chat.
// Satisfied by the admin cache.
type AdminChecker interface {
	IsAdmin(ctx context.Context, chatID, userID int64) (bool, error)
}

// Config holds engine-level policy.
type Config struct {
	BotID          int64
	OwnerID        int64
	ExemptUsers    map[int64]struct{}
	EnforceTimeout time.Duration
	MaxDuration    time.Duration
}

// Engine applies and reverses moderation actions. Ordering is store-first:
// the record is persisted before the platform call, so a crash between the
// two leaves an unconfirmed record the reconciliation sweep can repair.
type Engine struct {
	cfg      Config
	store    storage.Store
	enforcer platform.Enforcer
	admins   AdminChecker
	locks    *KeyMutex
	sched    *Scheduler
	clock    func() time.Time
	log      zerolog.Logger
}

// New builds an Engine and its expiry scheduler.
func New(cfg Config, store storage.Store, enforcer platform.Enforcer, admins AdminChecker, log zerolog.Logger) *Engine {
	if cfg.EnforceTimeout <= 0 {
		cfg.EnforceTimeout = 10 * time.Second
	}
	e := &Engine{
		cfg:      cfg,
		store:    store,
		enforcer: enforcer,
		admins:   admins,
		locks:    NewKeyMutex(),
		clock:    time.Now,
		log:      log,
	}
	e.sched = NewScheduler(e.expire, log)
	return e
}

// SetClock overrides the engine's time source. Test hook.
func (e *Engine) SetClock(clock func() time.Time) {
	e.clock = clock
	e.sched.clock = clock
}

// Scheduler exposes the expiry scheduler for lifecycle control.
func (e *Engine) Scheduler() *Scheduler {
	return e.sched
}

// Apply validates, persists, enforces and schedules an intent. An active
// action of the same kind is rejected with ErrConflictingAction unless the
// intent opts into superseding it; there is never more than one active
// record per (chat, target, kind). A platform failure after persistence
// returns the Result together with an *EnforcementError; the record stands
// and is reconciled later.
func (e *Engine) Apply(ctx context.Context, in Intent) (*Result, error) {
	if err := e.validate(in); err != nil {
		metrics.IntentsRejected.WithLabelValues(string(in.Kind), "validation").Inc()
		return nil, err
	}
	if err := e.checkTarget(ctx, in); err != nil {
		metrics.IntentsRejected.WithLabelValues(string(in.Kind), "protected").Inc()
		return nil, err
	}

	key := lockKey(in.ChatID, in.TargetID)
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	now := e.clock().UTC()
	rec := storage.ActionRecord{
		ID:       uuid.NewString(),
		ChatID:   in.ChatID,
		UserID:   in.TargetID,
		Kind:     in.Kind,
		Status:   storage.StatusActive,
		IssuedBy: in.ActorID,
		Reason:   in.Reason,
		IssuedAt: now,
		FedID:    in.FedID,
	}
	if in.Duration > 0 {
		rec.ExpiresAt = now.Add(in.Duration)
	}

	active, err := e.store.ActiveAction(in.ChatID, in.TargetID, in.Kind)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("read active action: %w", err)
	}

	res := &Result{Record: &rec}
	if active != nil {
		if !in.Supersede {
			metrics.IntentsRejected.WithLabelValues(string(in.Kind), "conflict").Inc()
			return nil, fmt.Errorf("%w: %s on %d in chat %d", ErrConflictingAction, in.Kind, in.TargetID, in.ChatID)
		}
		e.sched.Cancel(active.ID)
		if err := e.store.SupersedeAndAppend(rec); err != nil {
			return nil, fmt.Errorf("supersede action: %w", err)
		}
		res.Superseded = true
	} else {
		if err := e.store.AppendAction(rec); err != nil {
			return nil, fmt.Errorf("append action: %w", err)
		}
	}

	enforceErr := e.enforceApply(ctx, rec, in.RevokeMessages)
	if enforceErr == nil {
		res.Enforced = true
		if err := e.store.MarkEnforced(rec.ChatID, rec.UserID, rec.Kind, rec.ID, e.clock().UTC()); err != nil {
			e.log.Error().Err(err).Str("action_id", rec.ID).Msg("mark enforced failed")
		}
	}

	if rec.Timed() {
		e.sched.Schedule(rec)
	}

	if enforceErr != nil {
		metrics.IntentsProcessed.WithLabelValues(string(in.Kind), "enforce_failed").Inc()
		metrics.EnforcementFailures.WithLabelValues(string(in.Kind)).Inc()
		e.log.Error().Err(enforceErr).
			Int64("chat_id", in.ChatID).Int64("user_id", in.TargetID).
			Str("kind", string(in.Kind)).Msg("persisted but enforcement failed")
		return res, &EnforcementError{Op: string(in.Kind), Err: enforceErr}
	}
	metrics.IntentsProcessed.WithLabelValues(string(in.Kind), "ok").Inc()
	return res, nil
}

// Reverse lifts the active action of the given kind. The platform call is
// made even with no stored record so out-of-band bans still get cleared,
// and ErrNoActiveAction is returned to let callers word the reply.
func (e *Engine) Reverse(ctx context.Context, chatID, userID int64, kind storage.ActionKind, actorID int64) (*Result, error) {
	key := lockKey(chatID, userID)
	e.locks.Lock(key)
	defer e.locks.Unlock(key)
	return e.reverseLocked(ctx, chatID, userID, kind, storage.StatusReversed)
}

func (e *Engine) reverseLocked(ctx context.Context, chatID, userID int64, kind storage.ActionKind, status storage.ActionStatus) (*Result, error) {
	active, err := e.store.ActiveAction(chatID, userID, kind)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("read active action: %w", err)
	}

	if active == nil {
		if err := e.enforceReverse(ctx, chatID, userID, kind); err != nil {
			e.log.Debug().Err(err).Int64("chat_id", chatID).Int64("user_id", userID).
				Str("kind", string(kind)).Msg("reversal with no record also failed on platform")
		}
		return nil, ErrNoActiveAction
	}

	e.sched.Cancel(active.ID)
	if err := e.store.CloseAction(chatID, userID, kind, active.ID, status, e.clock().UTC()); err != nil {
		return nil, fmt.Errorf("close action: %w", err)
	}

	res := &Result{Record: active}
	if err := e.enforceReverse(ctx, chatID, userID, kind); err != nil {
		metrics.EnforcementFailures.WithLabelValues("un" + string(kind)).Inc()
		return res, &EnforcementError{Op: "un" + string(kind), Err: err}
	}
	res.Enforced = true
	return res, nil
}

// Kick removes the user without a standing record: enforcement only.
func (e *Engine) Kick(ctx context.Context, chatID, userID, actorID int64) error {
	if err := e.checkTarget(ctx, Intent{ChatID: chatID, TargetID: userID, ActorID: actorID, Kind: storage.KindBan}); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.EnforceTimeout)
	defer cancel()
	if err := e.enforcer.Kick(ctx, chatID, userID); err != nil {
		return &EnforcementError{Op: "kick", Err: err}
	}
	metrics.IntentsProcessed.WithLabelValues("kick", "ok").Inc()
	return nil
}

// RebuildSchedule re-arms timers for every active timed action. Called once
// at startup; elapsed expiries fire immediately.
func (e *Engine) RebuildSchedule() error {
	recs, err := e.store.ActiveTimedActions()
	if err != nil {
		return fmt.Errorf("load timed actions: %w", err)
	}
	e.sched.Rebuild(recs)
	e.log.Info().Int("count", len(recs)).Msg("expiry schedule rebuilt")
	return nil
}

// RetryEnforcement re-runs the platform call for an unconfirmed record.
// Used by the reconciliation sweep.
func (e *Engine) RetryEnforcement(ctx context.Context, rec storage.ActionRecord) error {
	key := lockKey(rec.ChatID, rec.UserID)
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	active, err := e.store.ActiveAction(rec.ChatID, rec.UserID, rec.Kind)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	if active.ID != rec.ID || !active.EnforcedAt.IsZero() {
		return nil // superseded or confirmed meanwhile
	}
	if err := e.enforceApply(ctx, *active, false); err != nil {
		return err
	}
	return e.store.MarkEnforced(rec.ChatID, rec.UserID, rec.Kind, rec.ID, e.clock().UTC())
}

// ExpireOverdue closes every active timed action whose expiry has passed.
// Backstop for expiry fires that failed on the platform; called by the
// reconciliation sweep.
func (e *Engine) ExpireOverdue(ctx context.Context) (int, error) {
	recs, err := e.store.ActiveTimedActions()
	if err != nil {
		return 0, fmt.Errorf("load timed actions: %w", err)
	}
	now := e.clock()
	n := 0
	for _, rec := range recs {
		if rec.ExpiresAt.After(now) {
			continue
		}
		e.expire(rec)
		n++
	}
	return n, nil
}

// expire is the scheduler fire path. The record's status is re-checked
// under the key lock so a reversal or supersede that won the race turns
// the fire into a no-op. A failed platform reversal leaves the record
// active; ExpireOverdue retries it on the next sweep.
func (e *Engine) expire(rec storage.ActionRecord) {
	key := lockKey(rec.ChatID, rec.UserID)
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	active, err := e.store.ActiveAction(rec.ChatID, rec.UserID, rec.Kind)
	if err != nil || active == nil || active.ID != rec.ID {
		metrics.ExpiryFired.WithLabelValues(string(rec.Kind), "stale").Inc()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.EnforceTimeout)
	defer cancel()
	if err := e.enforceReverse(ctx, rec.ChatID, rec.UserID, rec.Kind); err != nil {
		metrics.ExpiryFired.WithLabelValues(string(rec.Kind), "enforce_failed").Inc()
		e.log.Error().Err(err).Str("action_id", rec.ID).
			Int64("chat_id", rec.ChatID).Int64("user_id", rec.UserID).
			Msg("expiry reversal failed on platform, will retry")
		return
	}

	if err := e.store.CloseAction(rec.ChatID, rec.UserID, rec.Kind, rec.ID, storage.StatusExpired, e.clock().UTC()); err != nil {
		metrics.ExpiryFired.WithLabelValues(string(rec.Kind), "error").Inc()
		e.log.Error().Err(err).Str("action_id", rec.ID).Msg("expiry close failed")
		return
	}
	metrics.ExpiryFired.WithLabelValues(string(rec.Kind), "ok").Inc()
	e.log.Info().Str("action_id", rec.ID).Str("kind", string(rec.Kind)).
		Int64("chat_id", rec.ChatID).Int64("user_id", rec.UserID).Msg("action expired")
}

func (e *Engine) validate(in Intent) error {
	switch in.Kind {
	case storage.KindBan, storage.KindMute:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrValidation, in.Kind)
	}
	if in.ChatID == 0 || in.TargetID == 0 {
		return fmt.Errorf("%w: missing chat or target", ErrValidation)
	}
	if in.Duration < 0 {
		return fmt.Errorf("%w: negative duration", ErrValidation)
	}
	if e.cfg.MaxDuration > 0 && in.Duration > e.cfg.MaxDuration {
		return fmt.Errorf("%w: duration %s exceeds maximum %s", ErrValidation, in.Duration, e.cfg.MaxDuration)
	}
	return nil
}

// checkTarget rejects intents against protected users: the bot itself,
// the bot owner, globally exempt users, chat admins and per-chat approved
// users. Federation shadow applies skip the admin lookup in chats where
// the bot cannot list admins; the fan-out reports those as failures.
func (e *Engine) checkTarget(ctx context.Context, in Intent) error {
	if in.TargetID == e.cfg.BotID {
		return fmt.Errorf("%w: cannot moderate the bot", ErrPermissionDenied)
	}
	if in.TargetID == e.cfg.OwnerID {
		return fmt.Errorf("%w: cannot moderate the bot owner", ErrPermissionDenied)
	}
	if _, ok := e.cfg.ExemptUsers[in.TargetID]; ok {
		return fmt.Errorf("%w: user is exempt", ErrPermissionDenied)
	}

	settings, err := e.store.ChatSettings(in.ChatID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("read chat settings: %w", err)
	}
	if settings != nil && settings.IsApproved(in.TargetID) {
		return fmt.Errorf("%w: user is approved in this chat", ErrPermissionDenied)
	}

	isAdmin, err := e.admins.IsAdmin(ctx, in.ChatID, in.TargetID)
	if err != nil {
		return fmt.Errorf("admin lookup: %w", err)
	}
	if isAdmin {
		return fmt.Errorf("%w: target is a chat admin", ErrPermissionDenied)
	}
	return nil
}

func (e *Engine) enforceApply(ctx context.Context, rec storage.ActionRecord, revoke bool) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.EnforceTimeout)
	defer cancel()
	start := time.Now()
	defer func() {
		metrics.EnforcementDuration.WithLabelValues(string(rec.Kind)).Observe(time.Since(start).Seconds())
	}()

	switch rec.Kind {
	case storage.KindBan:
		return e.enforcer.Ban(ctx, rec.ChatID, rec.UserID, rec.ExpiresAt, revoke)
	case storage.KindMute:
		return e.enforcer.Restrict(ctx, rec.ChatID, rec.UserID, rec.ExpiresAt)
	default:
		return fmt.Errorf("unenforceable kind %q", rec.Kind)
	}
}

func (e *Engine) enforceReverse(ctx context.Context, chatID, userID int64, kind storage.ActionKind) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.EnforceTimeout)
	defer cancel()

	switch kind {
	case storage.KindBan:
		return e.enforcer.Unban(ctx, chatID, userID)
	case storage.KindMute:
		return e.enforcer.Unrestrict(ctx, chatID, userID)
	default:
		return fmt.Errorf("unenforceable kind %q", kind)
	}
}
