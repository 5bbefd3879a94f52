package app

import (
	"testing"
	"time"

	"notifyd/internal/config"
	"notifyd/internal/notify"
)

func TestMapListenerConfig(t *testing.T) {
	cfg := &config.Config{Bus: config.BusConfig{
		Buffer: 64, RetryBase: "250ms", RetryMaxDelay: "10s", MaxAttempts: 4,
	}}
	lc, err := mapListenerConfig(cfg)
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if lc.Buffer != 64 || lc.RetryBase != 250*time.Millisecond ||
		lc.RetryMaxDelay != 10*time.Second || lc.MaxAttempts != 4 {
		t.Fatalf("mapped = %+v", lc)
	}

	if _, err := mapListenerConfig(&config.Config{Bus: config.BusConfig{RetryBase: "later"}}); err == nil {
		t.Fatalf("bad duration accepted")
	}
}

func TestMapMaintenanceDefaults(t *testing.T) {
	m, err := mapMaintenance(&config.Config{})
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if m.saveInterval != time.Minute || m.cleanupSchedule != "0 3 * * *" || m.expirySweep != time.Second {
		t.Fatalf("defaults = %+v", m)
	}

	m, err = mapMaintenance(&config.Config{Maintenance: config.MaintenanceConfig{
		SaveInterval: "30s", CleanupSchedule: "15 4 * * *", ExpirySweep: "500ms",
	}})
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if m.saveInterval != 30*time.Second || m.cleanupSchedule != "15 4 * * *" || m.expirySweep != 500*time.Millisecond {
		t.Fatalf("mapped = %+v", m)
	}
}

func TestParseUrgency(t *testing.T) {
	cases := map[string]notify.Urgency{
		"":         notify.UrgencyCritical, // default
		"low":      notify.UrgencyLow,
		"Normal":   notify.UrgencyNormal,
		"CRITICAL": notify.UrgencyCritical,
	}
	for in, want := range cases {
		got, err := parseUrgency(in, notify.UrgencyCritical)
		if err != nil || got != want {
			t.Fatalf("parseUrgency(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := parseUrgency("extreme", notify.UrgencyCritical); err == nil {
		t.Fatalf("unknown urgency accepted")
	}
}

func TestMapForwardConfig(t *testing.T) {
	if fc, err := mapForwardConfig(&config.Config{}); err != nil || fc.Enabled {
		t.Fatalf("nil forward section: %+v, %v", fc, err)
	}
	fc, err := mapForwardConfig(&config.Config{Forward: &config.ForwardConfig{
		Enabled: true, Token: "tok", ChatID: 42, MinUrgency: "normal",
	}})
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if !fc.Enabled || fc.ChatID != 42 || fc.MinUrgency != notify.UrgencyNormal {
		t.Fatalf("mapped = %+v", fc)
	}
}

func TestPruneSeed(t *testing.T) {
	now := time.Now()
	seed := []notify.Notification{
		{ID: 1, Timestamp: now.AddDate(0, 0, -30)},
		{ID: 2, Timestamp: now},
		{ID: 3, Timestamp: now},
	}
	days := uint32(7)
	cfg := &config.Config{Notifications: config.NotificationsConfig{
		HistoryRetentionDays: &days, MaxHistoryItems: 1,
	}}
	removed := pruneSeed(&seed, cfg)
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
	if len(seed) != 1 || seed[0].ID != 3 {
		t.Fatalf("seed after prune = %+v", seed)
	}
}
