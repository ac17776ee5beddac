package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default config to be valid, got: %v", err)
	}
	if cfg.Call.MaxReconnectAttempts != 3 || cfg.Call.ReconnectDelay != 2*time.Second {
		t.Fatalf("unexpected reconnect defaults: %d %v", cfg.Call.MaxReconnectAttempts, cfg.Call.ReconnectDelay)
	}
	if cfg.Call.QualityInterval != 5*time.Second {
		t.Fatalf("quality interval = %v, want 5s", cfg.Call.QualityInterval)
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "signaling url must be websocket",
			mutate: func(c *Config) { c.Signaling.URL = "http://example.com" },
		},
		{
			name:   "signaling url without host",
			mutate: func(c *Config) { c.Signaling.URL = "ws:///ws" },
		},
		{
			name:   "ice config endpoint must be http",
			mutate: func(c *Config) { c.WebRTC.ConfigEndpoint = "ftp://ice.example.com/config" },
		},
		{
			name:   "max delay below min delay",
			mutate: func(c *Config) { c.Signaling.Reconnect.MaxDelay = time.Millisecond },
		},
		{
			name:   "reconnect factor below one",
			mutate: func(c *Config) { c.Signaling.Reconnect.Factor = 0.5 },
		},
		{
			name:   "participants below two",
			mutate: func(c *Config) { c.Call.MaxParticipants = 1 },
		},
		{
			name:   "stats timeout longer than interval",
			mutate: func(c *Config) { c.Call.StatsTimeout = 10 * time.Second },
		},
		{
			name:   "base bitrate below min",
			mutate: func(c *Config) { c.Call.BaseBitrateKbps = 100 },
		},
		{
			name: "rate limit burst zero",
			mutate: func(c *Config) {
				c.ControlAPI.Enabled = true
				c.ControlAPI.RateLimit.Burst = 0
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for case %q, got nil", tc.name)
			}
		})
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("CALLCORE_USER_ID", "user-from-env")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Identity.UserID != "user-from-env" {
		t.Fatalf("user id = %q, want env override", cfg.Identity.UserID)
	}
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
signaling:
  url: wss://match.example.com/ws
call:
  max_participants: 6
  auto_reconnect: false
redis:
  enabled: true
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CALLCORE_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Signaling.URL != "wss://match.example.com/ws" {
		t.Fatalf("url = %q", cfg.Signaling.URL)
	}
	if cfg.Call.MaxParticipants != 6 || cfg.Call.AutoReconnect {
		t.Fatalf("call section not applied: %+v", cfg.Call)
	}
	if cfg.Call.ReconnectDelay != 2*time.Second {
		t.Fatalf("unset fields should keep defaults, got %v", cfg.Call.ReconnectDelay)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("log level = %q, want env override", cfg.Logging.Level)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("call: [unclosed"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid yaml")
	}
}
