package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseJSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{
		"logging": {"level": "DEBUG", "console": true},
		"bus": {"buffer": 64, "retry_base": "200ms", "max_attempts": 5},
		"notifications": {
			"do_not_disturb": true,
			"min_urgency_level": 1,
			"app_filters": {"spammy": false},
			"max_active": 5,
			"default_timeout": "7s",
			"history_retention_days": 14
		},
		"history": {"driver": "file", "path": "/tmp/h.json"}
	}`)

	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Logging.Level != "DEBUG" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Bus.Buffer != 64 || cfg.Bus.MaxAttempts != 5 {
		t.Fatalf("bus = %+v", cfg.Bus)
	}
	if !cfg.Notifications.DoNotDisturb || cfg.Notifications.MinUrgencyLevel != 1 {
		t.Fatalf("notifications = %+v", cfg.Notifications)
	}
	if allowed, ok := cfg.Notifications.AppFilters["spammy"]; !ok || allowed {
		t.Fatalf("app_filters = %v", cfg.Notifications.AppFilters)
	}
	if cfg.Notifications.HistoryRetentionDays == nil || *cfg.Notifications.HistoryRetentionDays != 14 {
		t.Fatalf("retention = %v", cfg.Notifications.HistoryRetentionDays)
	}
	if !cfg.Notifications.HistoryOn() {
		t.Fatalf("history_enabled omitted should default on")
	}
	if got := m.Get(); got != cfg {
		t.Fatalf("Get() = %p, want committed %p", got, cfg)
	}
}

func TestParseYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
logging:
  level: INFO
  console: true
notifications:
  do_not_disturb: false
  min_urgency_level: 0
  history_enabled: false
  app_filters:
    mail: true
bus:
  retry_max_delay: 10s
`)
	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	if cfg.Bus.RetryMaxDelay != "10s" {
		t.Fatalf("retry_max_delay = %q", cfg.Bus.RetryMaxDelay)
	}
	if cfg.Notifications.HistoryOn() {
		t.Fatalf("explicit history_enabled false ignored")
	}
	if allowed := cfg.Notifications.AppFilters["mail"]; !allowed {
		t.Fatalf("app_filters = %v", cfg.Notifications.AppFilters)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "config.json",
		`{"logging": {"console": true}, "notificatons": {}}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatalf("misspelled section accepted")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	path := writeConfig(t, "config.json", `{"logging": {"console": true}} {"extra": 1}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatalf("trailing JSON accepted")
	}
}

func TestValidateBounds(t *testing.T) {
	bad := []Config{
		{Notifications: NotificationsConfig{MinUrgencyLevel: 3}},
		{Bus: BusConfig{Buffer: -1}},
		{Bus: BusConfig{RetryBase: "fast"}},
		{Notifications: NotificationsConfig{DefaultTimeout: "5 seconds"}},
		{Forward: &ForwardConfig{Enabled: true}},
		{Forward: &ForwardConfig{Enabled: true, Token: "t", ChatID: 1, MinUrgency: "extreme"}},
	}
	for i := range bad {
		if err := Validate(&bad[i]); err == nil {
			t.Fatalf("config %d accepted: %+v", i, bad[i])
		}
	}

	good := Config{
		Notifications: NotificationsConfig{MinUrgencyLevel: 2, DefaultTimeout: "5s"},
		Bus:           BusConfig{Buffer: 128, RetryBase: "100ms"},
		Forward:       &ForwardConfig{Enabled: true, Token: "t", ChatID: 1, MinUrgency: "critical"},
	}
	if err := Validate(&good); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestParseDurationField(t *testing.T) {
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty duration: d=%v err=%v", d, err)
	}
	if d, err := ParseDurationField("x", "1m30s"); err != nil || d != 90*time.Second {
		t.Fatalf("parse: d=%v err=%v", d, err)
	}
	if _, err := ParseDurationField("x", "soon"); err == nil {
		t.Fatalf("bad duration accepted")
	}
	if d, err := ParseDurationOrDefault("x", "", 5*time.Second); err != nil || d != 5*time.Second {
		t.Fatalf("default: d=%v err=%v", d, err)
	}
}

func TestSubscribePublishAndUnsubscribe(t *testing.T) {
	m := NewManager("unused")
	ch := m.Subscribe(1)

	cfg := &Config{}
	m.publish(cfg)
	select {
	case got := <-ch:
		if got != cfg {
			t.Fatalf("received %p, want %p", got, cfg)
		}
	default:
		t.Fatalf("nothing delivered")
	}

	// Full buffer: oldest is dropped, newest delivered.
	first, second := &Config{}, &Config{}
	m.publish(first)
	m.publish(second)
	select {
	case got := <-ch:
		if got != second {
			t.Fatalf("got stale config after overflow")
		}
	default:
		t.Fatalf("nothing delivered after overflow")
	}

	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatalf("channel open after unsubscribe")
	}
	// Publishing after unsubscribe must not panic.
	m.publish(cfg)
}
