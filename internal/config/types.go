package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Config is the daemon's full configuration surface.
//
// The file may be JSON or YAML (by extension); both are decoded
// strictly, so unknown fields are rejected instead of silently ignored.
type Config struct {
	Logging       LoggingConfig       `json:"logging"`
	Bus           BusConfig           `json:"bus"`
	Notifications NotificationsConfig `json:"notifications"`
	History       HistoryConfig       `json:"history,omitempty"`
	Forward       *ForwardConfig      `json:"forward,omitempty"`
	Maintenance   MaintenanceConfig   `json:"maintenance,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level,omitempty"`
	Console bool          `json:"console"`
	File    FileLogConfig `json:"file,omitempty"`
}

type FileLogConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// BusConfig tunes the session-bus listener.
//
// Durations are Go duration strings (e.g. "100ms", "30s").
// Defaults (when fields are omitted/zero):
//   - buffer: 128
//   - retry_base: "100ms"
//   - retry_max_delay: "30s"
//   - max_attempts: 10
type BusConfig struct {
	Buffer        int    `json:"buffer,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
	MaxAttempts   int    `json:"max_attempts,omitempty"`
}

// NotificationsConfig is the policy surface consumed by the manager.
//
// app_filters is an explicit per-application verdict: false denies,
// true allows, absence means default-allow.
type NotificationsConfig struct {
	DoNotDisturb    bool            `json:"do_not_disturb"`
	MinUrgencyLevel int             `json:"min_urgency_level"` // 0=Low 1=Normal 2=Critical
	AppFilters      map[string]bool `json:"app_filters,omitempty"`

	MaxActive int `json:"max_active,omitempty"` // default 10

	// DefaultTimeout applies when a notification carries
	// expire_timeout == 0. Go duration string, default "5s".
	DefaultTimeout string `json:"default_timeout,omitempty"`

	// HistoryEnabled is a pointer so "omitted" defaults to true while an
	// explicit false disables persistence.
	HistoryEnabled       *bool   `json:"history_enabled,omitempty"`
	MaxHistoryItems      int     `json:"max_history_items,omitempty"` // default 100
	HistoryRetentionDays *uint32 `json:"history_retention_days,omitempty"`
}

// HistoryConfig controls the persistence driver.
//
// Example:
//
//	"history": { "driver": "file", "path": "~/.config/notifyd/history.json" }
type HistoryConfig struct {
	Driver      string `json:"driver,omitempty"` // "file" (default), "sqlite", "none"
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// ForwardConfig controls the optional Telegram bridge for displayed
// notifications at or above min_urgency (default "critical").
type ForwardConfig struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token,omitempty"`
	ChatID     int64  `json:"chat_id,omitempty"`
	MinUrgency string `json:"min_urgency,omitempty"` // "low", "normal", "critical"
}

// MaintenanceConfig schedules the background housekeeping jobs.
//
// Defaults (when fields are omitted/zero):
//   - save_interval: "1m" (periodic history save)
//   - cleanup_schedule: "0 3 * * *" (cron, retention + size trim)
//   - expiry_sweep: "1s" (expired-notification sweep)
type MaintenanceConfig struct {
	SaveInterval    string `json:"save_interval,omitempty"`
	CleanupSchedule string `json:"cleanup_schedule,omitempty"`
	ExpirySweep     string `json:"expiry_sweep,omitempty"`
}

// HistoryOn reports whether history persistence is enabled
// (omitted means enabled).
func (n NotificationsConfig) HistoryOn() bool {
	return n.HistoryEnabled == nil || *n.HistoryEnabled
}

// Validate rejects configs the daemon could not run with. Durations and
// schedules are checked where they are mapped; this catches the
// structural problems worth failing fast on.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if lvl := cfg.Notifications.MinUrgencyLevel; lvl < 0 || lvl > 2 {
		return fmt.Errorf("notifications.min_urgency_level: %d out of range 0..2", lvl)
	}
	if cfg.Bus.Buffer < 0 {
		return fmt.Errorf("bus.buffer: must be >= 0")
	}
	if cfg.Bus.MaxAttempts < 0 {
		return fmt.Errorf("bus.max_attempts: must be >= 0")
	}
	for _, f := range []struct{ path, raw string }{
		{"bus.retry_base", cfg.Bus.RetryBase},
		{"bus.retry_max_delay", cfg.Bus.RetryMaxDelay},
		{"notifications.default_timeout", cfg.Notifications.DefaultTimeout},
		{"history.busy_timeout", cfg.History.BusyTimeout},
		{"maintenance.save_interval", cfg.Maintenance.SaveInterval},
		{"maintenance.expiry_sweep", cfg.Maintenance.ExpirySweep},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	if fw := cfg.Forward; fw != nil && fw.Enabled {
		if fw.Token == "" {
			return fmt.Errorf("forward.token: required when forward.enabled")
		}
		if fw.ChatID == 0 {
			return fmt.Errorf("forward.chat_id: required when forward.enabled")
		}
		switch fw.MinUrgency {
		case "", "low", "normal", "critical":
		default:
			return fmt.Errorf("forward.min_urgency: unknown level %q", fw.MinUrgency)
		}
	}
	return nil
}

// DefaultPath returns the per-user config file location.
func DefaultPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "notifyd", "config.yaml"), nil
}
