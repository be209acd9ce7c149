// Package warnings implements the per-chat warning ladder: warnings
// accumulate per (chat, user) and escalate into a configured action at
// the chat's threshold.
package warnings

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/groupwarden/groupwarden/internal/metrics"
	"github.com/groupwarden/groupwarden/internal/storage"
)

// maxHistory bounds the stored per-user warning history.
const maxHistory = 10

// Outcome reports the state after adding a warning.
type Outcome struct {
	Count     int
	Limit     int
	Escalated bool
	Mode      string // escalation action when Escalated
}

// Defaults are the ladder settings for chats without stored overrides.
type Defaults struct {
	Limit int
	Mode  string
}

// Ladder persists warnings through the store and decides escalation.
type Ladder struct {
	store    storage.Store
	defaults Defaults
	clock    func() time.Time
	log      zerolog.Logger
}

// New builds a Ladder.
func New(store storage.Store, defaults Defaults, log zerolog.Logger) *Ladder {
	return &Ladder{store: store, defaults: defaults, clock: time.Now, log: log}
}

// SetClock overrides the time source. Test hook.
func (l *Ladder) SetClock(clock func() time.Time) {
	l.clock = clock
}

// settings returns the chat's effective warn limit and mode.
func (l *Ladder) settings(chatID int64) (int, string) {
	limit, mode := l.defaults.Limit, l.defaults.Mode
	s, err := l.store.ChatSettings(chatID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			l.log.Error().Err(err).Int64("chat_id", chatID).Msg("chat settings read failed, using defaults")
		}
		return limit, mode
	}
	if s.WarnLimit > 0 {
		limit = s.WarnLimit
	}
	if s.WarnMode != "" {
		mode = s.WarnMode
	}
	return limit, mode
}

// Add records a warning. At the threshold the outcome escalates and the
// counter resets to zero, so the ladder restarts after the escalation.
func (l *Ladder) Add(chatID, userID, issuedBy int64, reason string) (Outcome, error) {
	limit, mode := l.settings(chatID)

	state, err := l.store.AddWarning(chatID, userID, storage.WarnEntry{
		Reason:   reason,
		IssuedBy: issuedBy,
		IssuedAt: l.clock().UTC(),
	}, maxHistory)
	if err != nil {
		return Outcome{}, fmt.Errorf("add warning: %w", err)
	}

	out := Outcome{Count: state.Count, Limit: limit, Mode: mode}
	if state.Count >= limit {
		out.Escalated = true
		if err := l.store.ResetWarnings(chatID, userID); err != nil {
			return out, fmt.Errorf("reset after escalation: %w", err)
		}
	}
	metrics.WarningsIssued.WithLabelValues(fmt.Sprintf("%t", out.Escalated)).Inc()
	return out, nil
}

// State returns the current warning state for a (chat, user).
func (l *Ladder) State(chatID, userID int64) (storage.WarnState, error) {
	return l.store.Warnings(chatID, userID)
}

// Reset clears the counter and history for a (chat, user).
func (l *Ladder) Reset(chatID, userID int64) error {
	return l.store.ResetWarnings(chatID, userID)
}
