package command

import (
	"errors"
	"testing"
	"time"

	"github.com/groupwarden/groupwarden/internal/platform"
	"github.com/groupwarden/groupwarden/internal/storage"
)

func cmd(name string, args ...string) platform.CommandEvent {
	return platform.CommandEvent{
		ChatID:    -10,
		UserID:    2,
		MessageID: 100,
		Command:   name,
		Args:      args,
	}
}

func reply(ev platform.CommandEvent) platform.CommandEvent {
	ev.ReplyToUserID = 5
	ev.ReplyToMessageID = 99
	return ev
}

func TestParseBanReplyForm(t *testing.T) {
	req, err := Parse(reply(cmd("ban", "posting", "scam", "links")))
	if err != nil {
		t.Fatal(err)
	}
	if req.TargetID != 5 || !req.TargetViaReply {
		t.Errorf("target should come from the reply, got %+v", req)
	}
	// Reply form: the whole arg string is the reason.
	if req.Reason != "posting scam links" {
		t.Errorf("reason = %q", req.Reason)
	}
	if req.Duration != 0 {
		t.Errorf("plain ban is permanent, got %s", req.Duration)
	}
}

func TestParseBanExplicitForm(t *testing.T) {
	req, err := Parse(cmd("ban", "12345", "posting", "scam", "links"))
	if err != nil {
		t.Fatal(err)
	}
	if req.TargetID != 12345 || req.TargetViaReply {
		t.Errorf("target should come from args[0], got %+v", req)
	}
	// Explicit form: the reason starts after the target.
	if req.Reason != "posting scam links" {
		t.Errorf("reason = %q", req.Reason)
	}
}

func TestParseTbanBothForms(t *testing.T) {
	// Reply form: duration first, rest is the reason.
	req, err := Parse(reply(cmd("tban", "2h", "cool", "off")))
	if err != nil {
		t.Fatal(err)
	}
	if req.Duration != 2*time.Hour || req.Reason != "cool off" || req.TargetID != 5 {
		t.Errorf("unexpected request: %+v", req)
	}

	// Explicit form: target, duration, reason.
	req, err = Parse(cmd("tban", "12345", "7d", "repeat", "offender"))
	if err != nil {
		t.Fatal(err)
	}
	if req.TargetID != 12345 || req.Duration != 7*24*time.Hour || req.Reason != "repeat offender" {
		t.Errorf("unexpected request: %+v", req)
	}

	// Missing duration is a usage error.
	if _, err := Parse(reply(cmd("tban"))); !errors.Is(err, ErrUsage) {
		t.Errorf("tban without duration should be a usage error, got %v", err)
	}
}

func TestParseBanVariantFlags(t *testing.T) {
	sban, err := Parse(reply(cmd("sban")))
	if err != nil {
		t.Fatal(err)
	}
	if !sban.Spec.Silent || sban.Spec.Revoke {
		t.Errorf("sban flags wrong: %+v", sban.Spec)
	}

	dban, err := Parse(reply(cmd("dban")))
	if err != nil {
		t.Fatal(err)
	}
	if dban.Spec.Silent || !dban.Spec.Revoke {
		t.Errorf("dban flags wrong: %+v", dban.Spec)
	}
	if dban.Spec.Kind != storage.KindBan {
		t.Errorf("dban kind = %s", dban.Spec.Kind)
	}
}

func TestParseTargetRequired(t *testing.T) {
	if _, err := Parse(cmd("ban")); !errors.Is(err, ErrUsage) {
		t.Errorf("ban without target should be a usage error, got %v", err)
	}
	if _, err := Parse(cmd("ban", "@someone")); !errors.Is(err, ErrUsage) {
		t.Errorf("non-numeric target should be a usage error, got %v", err)
	}
}

func TestParseSetFlood(t *testing.T) {
	req, err := Parse(cmd("setflood", "10", "30s"))
	if err != nil {
		t.Fatal(err)
	}
	if req.FloodLimit != 10 || req.FloodWindow != 30*time.Second {
		t.Errorf("unexpected flood settings: %+v", req)
	}

	// Limit 0 disables detection and is valid.
	req, err = Parse(cmd("setflood", "0"))
	if err != nil {
		t.Fatal(err)
	}
	if req.FloodLimit != 0 || req.FloodWindow != 0 {
		t.Errorf("unexpected: %+v", req)
	}

	if _, err := Parse(cmd("setflood", "lots")); !errors.Is(err, ErrUsage) {
		t.Errorf("expected usage error, got %v", err)
	}
}

func TestParseFloodMode(t *testing.T) {
	for _, mode := range []string{"ban", "mute", "kick", "delete"} {
		req, err := Parse(cmd("floodmode", mode))
		if err != nil {
			t.Fatalf("floodmode %s: %v", mode, err)
		}
		if req.FloodMode != mode {
			t.Errorf("mode = %q", req.FloodMode)
		}
	}
	if _, err := Parse(cmd("floodmode", "nuke")); !errors.Is(err, ErrUsage) {
		t.Errorf("expected usage error, got %v", err)
	}
}

func TestParseFederationCommands(t *testing.T) {
	req, err := Parse(cmd("newfed", "anti", "spam", "alliance"))
	if err != nil {
		t.Fatal(err)
	}
	if req.FedName != "anti spam alliance" {
		t.Errorf("fed name = %q", req.FedName)
	}

	req, err = Parse(cmd("joinfed", "a1b2c3d4"))
	if err != nil {
		t.Fatal(err)
	}
	if req.FedID != "a1b2c3d4" {
		t.Errorf("fed id = %q", req.FedID)
	}

	req, err = Parse(reply(cmd("fban", "serial", "spammer")))
	if err != nil {
		t.Fatal(err)
	}
	if req.TargetID != 5 || req.Reason != "serial spammer" {
		t.Errorf("unexpected fban request: %+v", req)
	}
}

func TestParseUnknownCommand(t *testing.T) {
	if _, err := Parse(cmd("selfdestruct")); !errors.Is(err, ErrUsage) {
		t.Errorf("unknown command should be a usage error, got %v", err)
	}
}
