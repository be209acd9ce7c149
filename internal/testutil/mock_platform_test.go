package testutil

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMockEnforcerRecordsCalls(t *testing.T) {
	m := NewMockEnforcer()
	ctx := context.Background()

	if err := m.Ban(ctx, -10, 5, time.Time{}, true); err != nil {
		t.Fatal(err)
	}
	if err := m.Unban(ctx, -10, 5); err != nil {
		t.Fatal(err)
	}

	if m.CallCount("ban") != 1 || m.CallCount("unban") != 1 {
		t.Errorf("unexpected call counts: ban=%d unban=%d", m.CallCount("ban"), m.CallCount("unban"))
	}
	bans := m.CallsFor("ban")
	if len(bans) != 1 || bans[0].ChatID != -10 || bans[0].UserID != 5 || !bans[0].Revoke {
		t.Errorf("unexpected recorded ban: %+v", bans)
	}
}

func TestMockEnforcerErrorInjection(t *testing.T) {
	m := NewMockEnforcer()
	ctx := context.Background()
	boom := errors.New("boom")

	m.SetError("restrict", boom)
	if err := m.Restrict(ctx, -10, 5, time.Time{}); !errors.Is(err, boom) {
		t.Errorf("expected injected error, got %v", err)
	}

	m.SetChatError("ban", -20, boom)
	if err := m.Ban(ctx, -10, 5, time.Time{}, false); err != nil {
		t.Errorf("chat -10 should not error, got %v", err)
	}
	if err := m.Ban(ctx, -20, 5, time.Time{}, false); !errors.Is(err, boom) {
		t.Errorf("chat -20 should error, got %v", err)
	}
}
