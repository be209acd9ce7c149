package action

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/groupwarden/groupwarden/internal/metrics"
	"github.com/groupwarden/groupwarden/internal/storage"
)

// Scheduler arms one timer per active timed action and fires the engine's
// expiry path at most once per action id. Cancellation is advisory: a
// cancelled-too-late fire is made harmless by the engine's status re-check.
type Scheduler struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	fire   func(storage.ActionRecord)
	clock  func() time.Time
	log    zerolog.Logger
}

// NewScheduler builds a Scheduler that calls fire on expiry.
func NewScheduler(fire func(storage.ActionRecord), log zerolog.Logger) *Scheduler {
	return &Scheduler{
		timers: make(map[string]*time.Timer),
		fire:   fire,
		clock:  time.Now,
		log:    log,
	}
}

// Schedule arms a timer for the record. An already-elapsed expiry fires
// immediately on its own goroutine.
func (s *Scheduler) Schedule(rec storage.ActionRecord) {
	if !rec.Timed() {
		return
	}
	delay := rec.ExpiresAt.Sub(s.clock())

	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[rec.ID]; ok {
		t.Stop()
		delete(s.timers, rec.ID)
	}
	s.timers[rec.ID] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		_, armed := s.timers[rec.ID]
		delete(s.timers, rec.ID)
		s.mu.Unlock()
		metrics.ScheduledReversals.Set(float64(s.Len()))
		if !armed {
			return // cancelled after the timer fired but before it ran
		}
		s.fire(rec)
	})
	metrics.ScheduledReversals.Set(float64(len(s.timers)))
}

// Cancel disarms the timer for an action id, if still armed.
func (s *Scheduler) Cancel(id string) {
	s.mu.Lock()
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
	n := len(s.timers)
	s.mu.Unlock()
	metrics.ScheduledReversals.Set(float64(n))
}

// Rebuild arms timers for every record. Used at startup.
func (s *Scheduler) Rebuild(recs []storage.ActionRecord) {
	for _, rec := range recs {
		s.Schedule(rec)
	}
}

// Len returns the number of armed timers.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop disarms all timers. In-flight fires may still run; the engine's
// status re-check keeps them harmless.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	metrics.ScheduledReversals.Set(0)
}
