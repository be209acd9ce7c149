package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setEnv(t *testing.T, key, val string) {
	t.Helper()
	t.Setenv(key, val)
}

func TestLoadMissingRequired(t *testing.T) {
	// Clear any env vars that might be set
	os.Unsetenv("BOT_TOKEN")
	os.Unsetenv("BOT_TOKEN_FILE")

	_, err := Load()
	if err == nil {
		t.Error("expected error when BOT_TOKEN missing")
	}
}

func TestLoadMinimalValid(t *testing.T) {
	setEnv(t, "BOT_TOKEN", "123456:test-token")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BotToken != "123456:test-token" {
		t.Errorf("BotToken: got %q", cfg.BotToken)
	}
	// Defaults should be applied
	if cfg.FloodLimit != 10 {
		t.Errorf("FloodLimit default: got %d", cfg.FloodLimit)
	}
	if cfg.FloodWindow != 30*time.Second {
		t.Errorf("FloodWindow default: got %s", cfg.FloodWindow)
	}
	if cfg.WarnLimit != 3 {
		t.Errorf("WarnLimit default: got %d", cfg.WarnLimit)
	}
	if cfg.WarnMode != "ban" {
		t.Errorf("WarnMode default: got %q", cfg.WarnMode)
	}
	if cfg.FloodMode != "mute" {
		t.Errorf("FloodMode default: got %q", cfg.FloodMode)
	}
}

func TestFileSecretInjection(t *testing.T) {
	dir := t.TempDir()
	tokenFile := filepath.Join(dir, "token.txt")
	if err := os.WriteFile(tokenFile, []byte("  123456:secret-from-file  \n"), 0600); err != nil {
		t.Fatal(err)
	}

	setEnv(t, "BOT_TOKEN_FILE", tokenFile)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load with file secret: %v", err)
	}
	if cfg.BotToken != "123456:secret-from-file" {
		t.Errorf("expected trimmed file secret, got %q", cfg.BotToken)
	}
}

func TestExemptUsersParsing(t *testing.T) {
	setEnv(t, "BOT_TOKEN", "123456:t")
	setEnv(t, "EXEMPT_USERS", "100, 200,300")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	ids, err := cfg.ExemptUserIDs()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 3 || ids[0] != 100 || ids[1] != 200 || ids[2] != 300 {
		t.Errorf("exempt ids: got %v", ids)
	}
}

func TestInvalidExemptUsersRejected(t *testing.T) {
	setEnv(t, "BOT_TOKEN", "123456:t")
	setEnv(t, "EXEMPT_USERS", "100,notanumber")

	_, err := Load()
	if err == nil {
		t.Error("expected error for non-numeric exempt user")
	}
}

func TestInvalidFloodModeRejected(t *testing.T) {
	setEnv(t, "BOT_TOKEN", "123456:t")
	setEnv(t, "FLOOD_MODE", "nuke")

	_, err := Load()
	if err == nil {
		t.Error("expected error for invalid flood mode")
	}
}

func TestInvalidWarnModeRejected(t *testing.T) {
	setEnv(t, "BOT_TOKEN", "123456:t")
	setEnv(t, "WARN_MODE", "nothing-at-all")

	_, err := Load()
	if err == nil {
		t.Error("expected error for invalid warn mode")
	}
}

func TestFloodLimitZeroDisables(t *testing.T) {
	setEnv(t, "BOT_TOKEN", "123456:t")
	setEnv(t, "FLOOD_LIMIT", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.FloodLimit != 0 {
		t.Errorf("FloodLimit: got %d", cfg.FloodLimit)
	}
}

func TestQuoteStripping(t *testing.T) {
	setEnv(t, "BOT_TOKEN", `"123456:quoted-token"`)
	setEnv(t, "DATA_DIR", `'/var/lib/groupwarden'`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BotToken != "123456:quoted-token" {
		t.Errorf("BotToken quotes not stripped: %q", cfg.BotToken)
	}
	if cfg.DataDir != "/var/lib/groupwarden" {
		t.Errorf("DataDir quotes not stripped: %q", cfg.DataDir)
	}
}

func TestDispatchWorkerBounds(t *testing.T) {
	setEnv(t, "BOT_TOKEN", "123456:t")
	setEnv(t, "DISPATCH_WORKERS", "128")

	_, err := Load()
	if err == nil {
		t.Error("expected error for out-of-range dispatch workers")
	}
}
