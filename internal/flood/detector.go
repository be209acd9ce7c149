// Package flood detects message floods with a per-(chat,user) sliding
// window. Configuration is per chat and read through the store; state is
// in-memory only and rebuilt from live traffic after a restart.
package flood

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/groupwarden/groupwarden/internal/metrics"
	"github.com/groupwarden/groupwarden/internal/storage"
)

// Verdict is the outcome of observing one message.
type Verdict struct {
	Triggered bool
	Count     int    // messages inside the window, including this one
	Mode      string // enforcement mode when triggered
}

// Detector tracks message timestamps per (chat, user).
type Detector struct {
	mu       sync.Mutex
	windows  map[string][]time.Time
	store    storage.Store
	defaults storage.FloodConfig
	clock    func() time.Time
	log      zerolog.Logger
}

// New builds a Detector. defaults apply to chats without stored config.
func New(store storage.Store, defaults storage.FloodConfig, log zerolog.Logger) *Detector {
	return &Detector{
		windows:  make(map[string][]time.Time),
		store:    store,
		defaults: defaults,
		clock:    time.Now,
		log:      log,
	}
}

// SetClock overrides the time source. Test hook.
func (d *Detector) SetClock(clock func() time.Time) {
	d.clock = clock
}

// Config returns the effective flood configuration for a chat.
func (d *Detector) Config(chatID int64) storage.FloodConfig {
	cfg, err := d.store.FloodConfig(chatID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			d.log.Error().Err(err).Int64("chat_id", chatID).Msg("flood config read failed, using defaults")
		}
		return d.defaults
	}
	return *cfg
}

// Observe records one message and reports whether it crossed the limit.
// On trigger the window for that key is cleared, so one burst fires
// exactly once. Limit 0 disables detection for the chat.
func (d *Detector) Observe(chatID, userID int64, at time.Time) Verdict {
	cfg := d.Config(chatID)
	if cfg.Limit <= 0 {
		return Verdict{}
	}
	if at.IsZero() {
		at = d.clock()
	}

	key := fmt.Sprintf("%d/%d", chatID, userID)
	cutoff := at.Add(-cfg.Window)

	d.mu.Lock()
	defer d.mu.Unlock()

	window := d.windows[key]
	// Prune entries older than the window before appending.
	keep := window[:0]
	for _, ts := range window {
		if ts.After(cutoff) {
			keep = append(keep, ts)
		}
	}
	keep = append(keep, at)

	if len(keep) >= cfg.Limit {
		delete(d.windows, key)
		metrics.FloodTriggers.WithLabelValues(cfg.Mode).Inc()
		return Verdict{Triggered: true, Count: len(keep), Mode: cfg.Mode}
	}
	d.windows[key] = keep
	return Verdict{Count: len(keep)}
}

// Forget drops the window for a key, e.g. after an explicit moderation
// action made further counting pointless.
func (d *Detector) Forget(chatID, userID int64) {
	key := fmt.Sprintf("%d/%d", chatID, userID)
	d.mu.Lock()
	delete(d.windows, key)
	d.mu.Unlock()
}

// Prune drops windows whose newest entry is older than the chat-agnostic
// maximum window. Called periodically so idle keys do not accumulate.
func (d *Detector) Prune(maxWindow time.Duration) {
	cutoff := d.clock().Add(-maxWindow)
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, window := range d.windows {
		if len(window) == 0 || !window[len(window)-1].After(cutoff) {
			delete(d.windows, key)
		}
	}
}
