package action

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/groupwarden/groupwarden/internal/storage"
	"github.com/groupwarden/groupwarden/internal/testutil"
)

type fakeAdmins struct {
	admins map[int64]bool
	err    error
}

func (f *fakeAdmins) IsAdmin(_ context.Context, _, userID int64) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.admins[userID], nil
}

func newTestEngine(t *testing.T) (*Engine, storage.Store, *testutil.MockEnforcer) {
	t.Helper()
	store, err := storage.NewBboltStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewBboltStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	enforcer := testutil.NewMockEnforcer()
	admins := &fakeAdmins{admins: map[int64]bool{50: true}}
	eng := New(Config{
		BotID:          999,
		OwnerID:        1,
		ExemptUsers:    map[int64]struct{}{77: {}},
		EnforceTimeout: 2 * time.Second,
		MaxDuration:    8784 * time.Hour,
	}, store, enforcer, admins, zerolog.Nop())
	t.Cleanup(eng.Scheduler().Stop)
	return eng, store, enforcer
}

func banIntent(target int64, d time.Duration) Intent {
	return Intent{ChatID: -10, TargetID: target, ActorID: 2, Kind: storage.KindBan, Reason: "spam", Duration: d}
}

func TestApplyPersistsThenEnforces(t *testing.T) {
	eng, store, enforcer := newTestEngine(t)

	res, err := eng.Apply(context.Background(), banIntent(5, 0))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !res.Enforced || res.Superseded {
		t.Errorf("unexpected result: %+v", res)
	}

	active, err := store.ActiveAction(-10, 5, storage.KindBan)
	if err != nil {
		t.Fatalf("ActiveAction: %v", err)
	}
	if active.EnforcedAt.IsZero() {
		t.Error("enforcement should be confirmed in the store")
	}
	if enforcer.CallCount("ban") != 1 {
		t.Errorf("expected 1 ban call, got %d", enforcer.CallCount("ban"))
	}
}

func TestApplyRejectsConflictingActiveAction(t *testing.T) {
	eng, store, enforcer := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.Apply(ctx, banIntent(5, time.Hour)); err != nil {
		t.Fatalf("first Apply: %v", err)
	}
	res, err := eng.Apply(ctx, banIntent(5, 0))
	if !errors.Is(err, ErrConflictingAction) {
		t.Fatalf("second apply without supersede: expected ErrConflictingAction, got (%+v, %v)", res, err)
	}

	// The first record is untouched and no second platform call was made.
	history, err := store.ActionHistory(-10, 5, storage.KindBan)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].Status != storage.StatusActive {
		t.Fatalf("conflicting apply must not alter the ledger, got %+v", history)
	}
	if enforcer.CallCount("ban") != 1 {
		t.Errorf("expected 1 ban call, got %d", enforcer.CallCount("ban"))
	}
	if eng.Scheduler().Len() != 1 {
		t.Errorf("the original timer must stay armed, got %d", eng.Scheduler().Len())
	}
}

func TestApplySupersedesActiveSameKind(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.Apply(ctx, banIntent(5, time.Hour)); err != nil {
		t.Fatalf("first Apply: %v", err)
	}
	in := banIntent(5, 0)
	in.Supersede = true
	res, err := eng.Apply(ctx, in)
	if err != nil {
		t.Fatalf("second Apply: %v", err)
	}
	if !res.Superseded {
		t.Error("second apply should supersede the first")
	}

	history, err := store.ActionHistory(-10, 5, storage.KindBan)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 records, got %d", len(history))
	}
	if history[0].Status != storage.StatusSuperseded {
		t.Errorf("first record should be superseded, got %s", history[0].Status)
	}
	if history[1].Status != storage.StatusActive {
		t.Errorf("second record should be active, got %s", history[1].Status)
	}
	if eng.Scheduler().Len() != 0 {
		t.Errorf("superseding a timed ban with a permanent one should disarm its timer")
	}
}

func TestApplyRejectsProtectedTargets(t *testing.T) {
	eng, _, enforcer := newTestEngine(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		target int64
	}{
		{"bot itself", 999},
		{"bot owner", 1},
		{"exempt user", 77},
		{"chat admin", 50},
	}
	for _, tc := range cases {
		_, err := eng.Apply(ctx, banIntent(tc.target, 0))
		if !errors.Is(err, ErrPermissionDenied) {
			t.Errorf("%s: expected ErrPermissionDenied, got %v", tc.name, err)
		}
	}
	if enforcer.CallCount("ban") != 0 {
		t.Errorf("no platform calls expected for protected targets, got %d", enforcer.CallCount("ban"))
	}
}

func TestApplyRejectsApprovedUser(t *testing.T) {
	eng, store, _ := newTestEngine(t)

	if err := store.SetChatSettings(-10, storage.ChatSettings{Approved: []int64{5}}); err != nil {
		t.Fatal(err)
	}
	_, err := eng.Apply(context.Background(), banIntent(5, 0))
	if !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("expected ErrPermissionDenied for approved user, got %v", err)
	}
}

func TestApplyValidation(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	cases := []Intent{
		{ChatID: -10, TargetID: 5, Kind: "warn"},                                      // unknown kind
		{ChatID: 0, TargetID: 5, Kind: storage.KindBan},                               // missing chat
		{ChatID: -10, TargetID: 5, Kind: storage.KindBan, Duration: -time.Minute},     // negative
		{ChatID: -10, TargetID: 5, Kind: storage.KindBan, Duration: 9000 * time.Hour}, // over max
	}
	for i, in := range cases {
		if _, err := eng.Apply(ctx, in); !errors.Is(err, ErrValidation) {
			t.Errorf("case %d: expected ErrValidation, got %v", i, err)
		}
	}
}

func TestApplyEnforceFailureKeepsRecord(t *testing.T) {
	eng, store, enforcer := newTestEngine(t)
	ctx := context.Background()

	enforcer.SetError("ban", errors.New("telegram down"))
	res, err := eng.Apply(ctx, banIntent(5, 0))

	var enfErr *EnforcementError
	if !errors.As(err, &enfErr) {
		t.Fatalf("expected EnforcementError, got %v", err)
	}
	if res == nil || res.Enforced {
		t.Fatalf("result should carry the unenforced record, got %+v", res)
	}

	active, err := store.ActiveAction(-10, 5, storage.KindBan)
	if err != nil {
		t.Fatalf("record must survive the enforcement failure: %v", err)
	}
	if !active.EnforcedAt.IsZero() {
		t.Error("record must stay unconfirmed")
	}

	unconfirmed, err := store.ActiveUnconfirmed()
	if err != nil {
		t.Fatal(err)
	}
	if len(unconfirmed) != 1 {
		t.Fatalf("expected 1 unconfirmed record, got %d", len(unconfirmed))
	}

	// Reconciliation retries and confirms once the platform recovers.
	enforcer.SetError("ban", nil)
	if err := eng.RetryEnforcement(ctx, unconfirmed[0]); err != nil {
		t.Fatalf("RetryEnforcement: %v", err)
	}
	active, _ = store.ActiveAction(-10, 5, storage.KindBan)
	if active.EnforcedAt.IsZero() {
		t.Error("retry should confirm enforcement")
	}
}

func TestReverseClosesAndUnbans(t *testing.T) {
	eng, store, enforcer := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.Apply(ctx, banIntent(5, 0)); err != nil {
		t.Fatal(err)
	}
	res, err := eng.Reverse(ctx, -10, 5, storage.KindBan, 2)
	if err != nil {
		t.Fatalf("Reverse: %v", err)
	}
	if !res.Enforced {
		t.Error("reversal should be enforced")
	}

	if _, err := store.ActiveAction(-10, 5, storage.KindBan); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("no action should remain active, got %v", err)
	}
	history, _ := store.ActionHistory(-10, 5, storage.KindBan)
	if history[0].Status != storage.StatusReversed {
		t.Errorf("record should be reversed, got %s", history[0].Status)
	}
	if enforcer.CallCount("unban") != 1 {
		t.Errorf("expected 1 unban call, got %d", enforcer.CallCount("unban"))
	}
}

func TestReverseWithNoActiveActionIsBenign(t *testing.T) {
	eng, _, enforcer := newTestEngine(t)

	_, err := eng.Reverse(context.Background(), -10, 5, storage.KindBan, 2)
	if !errors.Is(err, ErrNoActiveAction) {
		t.Fatalf("expected ErrNoActiveAction, got %v", err)
	}
	// The platform call still happens so out-of-band bans get cleared.
	if enforcer.CallCount("unban") != 1 {
		t.Errorf("expected best-effort unban, got %d calls", enforcer.CallCount("unban"))
	}
}

func TestKickLeavesNoRecord(t *testing.T) {
	eng, store, enforcer := newTestEngine(t)

	if err := eng.Kick(context.Background(), -10, 5, 2); err != nil {
		t.Fatalf("Kick: %v", err)
	}
	if enforcer.CallCount("kick") != 1 {
		t.Errorf("expected 1 kick call, got %d", enforcer.CallCount("kick"))
	}
	if _, err := store.ActiveAction(-10, 5, storage.KindBan); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("kick must not persist a record, got %v", err)
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestTimedActionExpiresLive(t *testing.T) {
	eng, store, enforcer := newTestEngine(t)

	if _, err := eng.Apply(context.Background(), banIntent(5, 30*time.Millisecond)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 3*time.Second, func() bool {
		_, err := store.ActiveAction(-10, 5, storage.KindBan)
		return errors.Is(err, storage.ErrNotFound)
	})

	history, _ := store.ActionHistory(-10, 5, storage.KindBan)
	if history[0].Status != storage.StatusExpired {
		t.Errorf("record should be expired, got %s", history[0].Status)
	}
	if enforcer.CallCount("unban") != 1 {
		t.Errorf("expiry should unban once, got %d", enforcer.CallCount("unban"))
	}
}

func TestRebuildScheduleFiresOverdueImmediately(t *testing.T) {
	eng, store, enforcer := newTestEngine(t)

	// Simulate a restart: an active timed record whose expiry already passed.
	rec := storage.ActionRecord{
		ID:        "overdue-1",
		ChatID:    -10,
		UserID:    5,
		Kind:      storage.KindMute,
		Status:    storage.StatusActive,
		IssuedAt:  time.Now().Add(-2 * time.Hour).UTC(),
		ExpiresAt: time.Now().Add(-time.Hour).UTC(),
	}
	if err := store.AppendAction(rec); err != nil {
		t.Fatal(err)
	}

	if err := eng.RebuildSchedule(); err != nil {
		t.Fatalf("RebuildSchedule: %v", err)
	}
	waitFor(t, 3*time.Second, func() bool {
		_, err := store.ActiveAction(-10, 5, storage.KindMute)
		return errors.Is(err, storage.ErrNotFound)
	})
	if enforcer.CallCount("unrestrict") != 1 {
		t.Errorf("overdue mute should be lifted once, got %d", enforcer.CallCount("unrestrict"))
	}
}

func TestExpiryAfterReversalIsNoOp(t *testing.T) {
	eng, _, enforcer := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.Apply(ctx, banIntent(5, time.Hour)); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.Reverse(ctx, -10, 5, storage.KindBan, 2); err != nil {
		t.Fatal(err)
	}

	// Fire the stale record by hand; the status re-check must swallow it.
	history, _ := eng.store.ActionHistory(-10, 5, storage.KindBan)
	eng.expire(history[0])

	if enforcer.CallCount("unban") != 1 {
		t.Errorf("stale expiry must not unban again, got %d calls", enforcer.CallCount("unban"))
	}
}

func TestExpireOverdueRetriesFailedReversal(t *testing.T) {
	eng, store, enforcer := newTestEngine(t)
	ctx := context.Background()

	enforcer.SetError("unban", errors.New("telegram down"))
	if _, err := eng.Apply(ctx, banIntent(5, 20*time.Millisecond)); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)

	// The fire failed on the platform, so the record stays active.
	if _, err := store.ActiveAction(-10, 5, storage.KindBan); err != nil {
		t.Fatalf("record should stay active after failed reversal: %v", err)
	}

	enforcer.SetError("unban", nil)
	n, err := eng.ExpireOverdue(ctx)
	if err != nil {
		t.Fatalf("ExpireOverdue: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 overdue expiry, got %d", n)
	}
	if _, err := store.ActiveAction(-10, 5, storage.KindBan); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("record should be closed after the retry, got %v", err)
	}
	history, _ := store.ActionHistory(-10, 5, storage.KindBan)
	if history[0].Status != storage.StatusExpired {
		t.Errorf("status = %s, want expired", history[0].Status)
	}
}
