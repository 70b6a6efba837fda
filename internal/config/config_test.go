package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Relay.UpstreamMaxFailures != 5 {
		t.Errorf("max failures = %d, want 5", cfg.Relay.UpstreamMaxFailures)
	}
	if cfg.Relay.KeepaliveInterval != 500*time.Millisecond {
		t.Errorf("keepalive interval = %v, want 500ms", cfg.Relay.KeepaliveInterval)
	}
	if cfg.Model.Provider != "gemini" {
		t.Errorf("provider = %q, want gemini", cfg.Model.Provider)
	}
	if cfg.Overlay.IdleTimeout != 15*time.Second {
		t.Errorf("overlay idle timeout = %v, want 15s", cfg.Overlay.IdleTimeout)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
  auth_token: hunter2
relay:
  upstream_reconnect_delay: 5s
knowledge:
  docs:
    - title: Refunds
      body: Refunds take five days.
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Server.AuthToken != "hunter2" {
		t.Errorf("auth token = %q", cfg.Server.AuthToken)
	}
	if cfg.Relay.UpstreamReconnectDelay != 5*time.Second {
		t.Errorf("reconnect delay = %v, want 5s", cfg.Relay.UpstreamReconnectDelay)
	}

	// Unset fields keep their defaults.
	if cfg.Relay.UpstreamMaxFailures != 5 {
		t.Errorf("max failures = %d, want default 5", cfg.Relay.UpstreamMaxFailures)
	}
	if cfg.Model.Name == "" {
		t.Error("model name lost its default")
	}

	if len(cfg.Knowledge.Docs) != 1 || cfg.Knowledge.Docs[0].Title != "Refunds" {
		t.Errorf("knowledge docs = %+v", cfg.Knowledge.Docs)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Load() on missing file succeeded")
	}
}

func TestLoadBadYAML(t *testing.T) {
	path := writeConfig(t, "server: [this is not a mapping")
	if _, err := Load(path); err == nil {
		t.Fatal("Load() on bad yaml succeeded")
	}
}

func TestAPIKey(t *testing.T) {
	cfg := Default()
	cfg.Model.APIKeyEnv = "GLOWPATH_TEST_KEY"

	t.Setenv("GLOWPATH_TEST_KEY", "abc123")
	if got := cfg.Model.APIKey(); got != "abc123" {
		t.Errorf("APIKey() = %q, want abc123", got)
	}

	cfg.Model.APIKeyEnv = ""
	if got := cfg.Model.APIKey(); got != "" {
		t.Errorf("APIKey() with no env = %q, want empty", got)
	}
}
