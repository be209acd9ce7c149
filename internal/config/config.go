package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds all application configuration.
type Config struct {
	// Telegram connection
	BotToken    string `koanf:"bot_token"`
	OwnerID     int64  `koanf:"owner_id"`
	APIEndpoint string `koanf:"api_endpoint"`
	APIDebug    bool   `koanf:"api_debug"`

	// Enforcement
	EnforceTimeout    time.Duration `koanf:"enforce_timeout"`
	MaxActionDuration time.Duration `koanf:"max_action_duration"`
	ExemptUsers       []string      `koanf:"exempt_users"`

	// Antiflood defaults (overridable per chat at runtime)
	FloodLimit  int           `koanf:"flood_limit"`
	FloodWindow time.Duration `koanf:"flood_window"`
	FloodMode   string        `koanf:"flood_mode"`

	// Warning ladder defaults
	WarnLimit int    `koanf:"warn_limit"`
	WarnMode  string `koanf:"warn_mode"`

	// Federation fan-out
	FedFanoutTimeout time.Duration `koanf:"fed_fanout_timeout"`

	// Admin cache
	AdminCacheTTL  time.Duration `koanf:"admin_cache_ttl"`
	AdminCacheSize int           `koanf:"admin_cache_size"`

	// Event dispatch
	DispatchWorkers    int `koanf:"dispatch_workers"`
	DispatchQueueDepth int `koanf:"dispatch_queue_depth"`

	// Storage
	DataDir string `koanf:"data_dir"`

	// Operational
	OperatorChatID  int64         `koanf:"operator_chat_id"`
	LogLevel        string        `koanf:"log_level"`
	LogFormat       string        `koanf:"log_format"`
	MetricsEnabled  bool          `koanf:"metrics_enabled"`
	MetricsAddr     string        `koanf:"metrics_addr"`
	HealthAddr      string        `koanf:"health_addr"`
	JanitorInterval time.Duration `koanf:"janitor_interval"`
}

// ExemptUserIDs parses the exempt user list into int64 IDs.
func (c *Config) ExemptUserIDs() ([]int64, error) {
	ids := make([]int64, 0, len(c.ExemptUsers))
	for _, s := range c.ExemptUsers {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid exempt user id %q: %w", s, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// sanitise removes a single layer of matching surrounding quotes from all string
// fields and string slice elements. This normalises values from Docker --env-file
// which does not strip shell quoting.
func (c *Config) sanitise() {
	c.BotToken = stripEnvQuotes(c.BotToken)
	c.APIEndpoint = stripEnvQuotes(c.APIEndpoint)
	c.FloodMode = stripEnvQuotes(c.FloodMode)
	c.WarnMode = stripEnvQuotes(c.WarnMode)
	c.DataDir = stripEnvQuotes(c.DataDir)
	c.LogLevel = stripEnvQuotes(c.LogLevel)
	c.LogFormat = stripEnvQuotes(c.LogFormat)
	c.MetricsAddr = stripEnvQuotes(c.MetricsAddr)
	c.HealthAddr = stripEnvQuotes(c.HealthAddr)

	for i, s := range c.ExemptUsers {
		c.ExemptUsers[i] = stripEnvQuotes(s)
	}
}

// defaults sets sensible default values.
func defaults() map[string]interface{} {
	return map[string]interface{}{
		"api_endpoint":         "",
		"api_debug":            false,
		"enforce_timeout":      "10s",
		"max_action_duration":  "8784h", // 366 days, the Bot API ceiling
		"flood_limit":          10,
		"flood_window":         "30s",
		"flood_mode":           "mute",
		"warn_limit":           3,
		"warn_mode":            "ban",
		"fed_fanout_timeout":   "10s",
		"admin_cache_ttl":      "10m",
		"admin_cache_size":     1024,
		"dispatch_workers":     8,
		"dispatch_queue_depth": 1024,
		"data_dir":             "/data",
		"operator_chat_id":     0,
		"log_level":            "info",
		"log_format":           "json",
		"metrics_enabled":      true,
		"metrics_addr":         ":9090",
		"health_addr":          ":8081",
		"janitor_interval":     "1m",
	}
}

// stripEnvQuotes removes a single layer of matching surrounding single or double
// quotes from s. This normalises values set via Docker --env-file, which does not
// strip shell quoting. Only symmetric pairs are stripped: 'x' → x, "x" → x.
// Unpaired or mismatched quotes are left as-is.
func stripEnvQuotes(s string) string {
	if len(s) < 2 {
		return s
	}
	if (s[0] == '\'' && s[len(s)-1] == '\'') ||
		(s[0] == '"' && s[len(s)-1] == '"') {
		return s[1 : len(s)-1]
	}
	return s
}

// Load reads configuration from environment variables, applying _FILE secret injection.
func Load() (*Config, error) {
	// Use "." as delimiter so that env vars with "_" in their names are
	// treated as flat keys, not nested paths. E.g. BOT_TOKEN → "bot_token"
	// maps to struct tag koanf:"bot_token" without any nesting.
	k := koanf.New(".")

	// Apply defaults first
	defs := defaults()
	if err := k.Load(&rawProvider{data: defs}, nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	// Load from environment — use "." as delimiter so env vars aren't split
	// by "_". Our env var names don't contain ".", so they stay flat.
	if err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(s)
	}), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	// Inject _FILE secrets
	if err := injectFileSecrets(k); err != nil {
		return nil, fmt.Errorf("inject file secrets: %w", err)
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Post-process comma-separated list fields that koanf won't split automatically
	cfg.ExemptUsers = splitCSV(k.String("exempt_users"))

	// Strip Docker env-file quoting from all string values
	cfg.sanitise()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and semantic constraints.
func (c *Config) Validate() error {
	if c.BotToken == "" {
		return fmt.Errorf("BOT_TOKEN is required")
	}

	validFloodModes := map[string]bool{"ban": true, "mute": true, "kick": true, "delete": true}
	if !validFloodModes[c.FloodMode] {
		return fmt.Errorf("FLOOD_MODE must be ban, mute, kick, or delete; got %q", c.FloodMode)
	}
	if c.FloodLimit < 0 {
		return fmt.Errorf("FLOOD_LIMIT must be >= 0; got %d", c.FloodLimit)
	}
	if c.FloodLimit > 0 && c.FloodWindow <= 0 {
		return fmt.Errorf("FLOOD_WINDOW must be > 0 when FLOOD_LIMIT is set; got %s", c.FloodWindow)
	}

	validWarnModes := map[string]bool{"ban": true, "mute": true, "kick": true}
	if !validWarnModes[c.WarnMode] {
		return fmt.Errorf("WARN_MODE must be ban, mute, or kick; got %q", c.WarnMode)
	}
	if c.WarnLimit < 1 {
		return fmt.Errorf("WARN_LIMIT must be >= 1; got %d", c.WarnLimit)
	}

	if c.DispatchWorkers < 1 || c.DispatchWorkers > 64 {
		return fmt.Errorf("DISPATCH_WORKERS must be 1–64; got %d", c.DispatchWorkers)
	}
	if c.DispatchQueueDepth < 1 {
		return fmt.Errorf("DISPATCH_QUEUE_DEPTH must be >= 1; got %d", c.DispatchQueueDepth)
	}

	if c.EnforceTimeout <= 0 {
		return fmt.Errorf("ENFORCE_TIMEOUT must be > 0; got %s", c.EnforceTimeout)
	}
	if c.FedFanoutTimeout <= 0 {
		return fmt.Errorf("FED_FANOUT_TIMEOUT must be > 0; got %s", c.FedFanoutTimeout)
	}
	if c.MaxActionDuration <= 0 {
		return fmt.Errorf("MAX_ACTION_DURATION must be > 0; got %s", c.MaxActionDuration)
	}

	if c.AdminCacheTTL <= 0 {
		return fmt.Errorf("ADMIN_CACHE_TTL must be > 0; got %s", c.AdminCacheTTL)
	}
	if c.AdminCacheSize < 1 {
		return fmt.Errorf("ADMIN_CACHE_SIZE must be >= 1; got %d", c.AdminCacheSize)
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of trace,debug,info,warn,error,fatal,panic; got %q", c.LogLevel)
	}

	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("LOG_FORMAT must be json or text; got %q", c.LogFormat)
	}

	if c.JanitorInterval <= 0 {
		return fmt.Errorf("JANITOR_INTERVAL must be > 0; got %s", c.JanitorInterval)
	}

	if _, err := c.ExemptUserIDs(); err != nil {
		return fmt.Errorf("EXEMPT_USERS: %w", err)
	}

	return nil
}

// injectFileSecrets reads _FILE env vars and injects their file contents.
var fileSecretKeys = []string{
	"bot_token",
}

func injectFileSecrets(k *koanf.Koanf) error {
	for _, key := range fileSecretKeys {
		fileKey := key + "_file"
		filePath := k.String(fileKey)
		if filePath == "" {
			// Also check uppercased env var with _FILE suffix
			envKey := strings.ToUpper(key) + "_FILE"
			filePath = os.Getenv(envKey)
		}
		if filePath == "" {
			continue
		}
		// Strip quotes from file path in case it was quoted in Docker --env-file
		filePath = stripEnvQuotes(filePath)
		content, err := os.ReadFile(filePath)
		if err != nil {
			return fmt.Errorf("reading secret file for %s (%s): %w", key, filePath, err)
		}
		val := strings.TrimSpace(string(content))
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("setting %s from file: %w", key, err)
		}
	}
	return nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// rawProvider implements koanf.Provider for a map[string]interface{}.
type rawProvider struct {
	data map[string]interface{}
}

// Read returns the config map directly (no Parser needed).
func (r *rawProvider) Read() (map[string]interface{}, error) {
	return r.data, nil
}

// ReadBytes is not used by rawProvider; koanf calls Read() when no Parser is given.
func (r *rawProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("rawProvider does not support ReadBytes")
}
