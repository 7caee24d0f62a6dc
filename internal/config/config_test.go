package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "gigmaster/pkg/logx"
)

const validYAML = `
telegram:
  token: "123:abc"
  allowed_usernames: [alice, bob]
logging:
  level: debug
storage:
  path: /tmp/gigmaster.db
  busy_timeout: 2s
  max_subscriptions: 10
sources:
  timezone: Asia/Jerusalem
  timeout: 15s
schedule:
  timezone: UTC
  music: "0 10 * * *"
  comedy: "30 10 * * *"
notifier:
  search_timeout: 20s
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	m := NewManager(writeConfig(t, "config.yaml", validYAML), logx.Nop())
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if len(cfg.Telegram.AllowedUsernames) != 2 {
		t.Fatalf("allowed = %v", cfg.Telegram.AllowedUsernames)
	}
	if cfg.Sources.Timezone != "Asia/Jerusalem" {
		t.Fatalf("timezone = %q", cfg.Sources.Timezone)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get must return the committed config")
	}
}

func TestLoadJSON(t *testing.T) {
	m := NewManager(writeConfig(t, "config.json",
		`{"telegram":{"token":"t"},"storage":{"path":"/tmp/x.db"}}`), logx.Nop())
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	m := NewManager(writeConfig(t, "config.yaml", validYAML+"\nsurprise: 1\n"), logx.Nop())
	if _, err := m.Load(); err == nil {
		t.Fatal("expected unknown-field error")
	}
}

func TestLoadRejectsMissingStoragePath(t *testing.T) {
	m := NewManager(writeConfig(t, "config.yaml", "telegram:\n  token: t\n"), logx.Nop())
	if _, err := m.Load(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	m := NewManager(writeConfig(t, "config.yaml",
		"storage:\n  path: /tmp/x.db\n  busy_timeout: soon\n"), logx.Nop())
	if _, err := m.Load(); err == nil {
		t.Fatal("expected duration error")
	}
}

func TestTokenFromEnvironment(t *testing.T) {
	t.Setenv("TELEGRAM_TOKEN", "env-token")
	m := NewManager(writeConfig(t, "config.yaml", "storage:\n  path: /tmp/x.db\n"), logx.Nop())
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "env-token" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}

	// A token in the file wins over the environment.
	m = NewManager(writeConfig(t, "config.yaml", validYAML), logx.Nop())
	cfg, err = m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("file token overridden: %q", cfg.Telegram.Token)
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	d, err := ParseDurationOrDefault("x", "", 5*time.Second)
	if err != nil || d != 5*time.Second {
		t.Fatalf("got %v, %v", d, err)
	}
	d, err = ParseDurationOrDefault("x", "250ms", 5*time.Second)
	if err != nil || d != 250*time.Millisecond {
		t.Fatalf("got %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("negative duration must be rejected")
	}
}

func TestSourceConfigEnabledDefault(t *testing.T) {
	var s SourceConfig
	if !s.IsEnabled() {
		t.Fatal("sources default to enabled")
	}
	off := false
	s.Enabled = &off
	if s.IsEnabled() {
		t.Fatal("explicit false must disable")
	}
}

func TestWatchPublishesReload(t *testing.T) {
	path := writeConfig(t, "config.yaml", validYAML)
	m := NewManager(path, logx.Nop())
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { _ = m.Watch(ctx); close(done) }()

	// Give the watcher a moment to attach before mutating the file.
	time.Sleep(200 * time.Millisecond)
	if err := os.WriteFile(path, []byte(validYAML+"  rate_per_sec: 2\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-ch:
		if cfg.Notifier.RatePerSec != 2 {
			t.Fatalf("reloaded config stale: %+v", cfg.Notifier)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reload never published")
	}

	if m.Get().Notifier.RatePerSec != 2 {
		t.Fatal("reload not committed")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not stop on cancel")
	}
}
