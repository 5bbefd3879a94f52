package app

import (
	"fmt"
	"strings"
	"time"

	"notifyd/internal/config"
	"notifyd/internal/dbusx"
	"notifyd/internal/forward"
	"notifyd/internal/history"
	"notifyd/internal/notify"
)

const (
	defaultSaveInterval    = time.Minute
	defaultCleanupSchedule = "0 3 * * *"
	defaultExpirySweep     = time.Second
)

func mapListenerConfig(cfg *config.Config) (dbusx.ListenerConfig, error) {
	base, err := config.ParseDurationOrDefault("bus.retry_base", cfg.Bus.RetryBase, 0)
	if err != nil {
		return dbusx.ListenerConfig{}, err
	}
	maxDelay, err := config.ParseDurationOrDefault("bus.retry_max_delay", cfg.Bus.RetryMaxDelay, 0)
	if err != nil {
		return dbusx.ListenerConfig{}, err
	}
	return dbusx.ListenerConfig{
		Buffer:        cfg.Bus.Buffer,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
		MaxAttempts:   cfg.Bus.MaxAttempts,
	}, nil
}

func mapManagerConfig(cfg *config.Config, seed []notify.Notification) (notify.ManagerConfig, error) {
	timeout, err := config.ParseDurationOrDefault(
		"notifications.default_timeout", cfg.Notifications.DefaultTimeout, 0)
	if err != nil {
		return notify.ManagerConfig{}, err
	}
	return notify.ManagerConfig{
		MaxActive:       cfg.Notifications.MaxActive,
		MaxHistoryItems: cfg.Notifications.MaxHistoryItems,
		DefaultTimeout:  timeout,
		DoNotDisturb:    cfg.Notifications.DoNotDisturb,
		MinUrgencyLevel: cfg.Notifications.MinUrgencyLevel,
		AppFilters:      cfg.Notifications.AppFilters,
		Seed:            seed,
	}, nil
}

func mapHistoryConfig(cfg *config.Config) (history.Config, error) {
	busy, err := config.ParseDurationOrDefault("history.busy_timeout", cfg.History.BusyTimeout, 0)
	if err != nil {
		return history.Config{}, err
	}
	return history.Config{
		Driver:      cfg.History.Driver,
		Path:        cfg.History.Path,
		BusyTimeout: busy,
	}, nil
}

func mapForwardConfig(cfg *config.Config) (forward.Config, error) {
	fw := cfg.Forward
	if fw == nil || !fw.Enabled {
		return forward.Config{}, nil
	}
	min, err := parseUrgency(fw.MinUrgency, notify.UrgencyCritical)
	if err != nil {
		return forward.Config{}, err
	}
	return forward.Config{
		Enabled:    true,
		Token:      fw.Token,
		ChatID:     fw.ChatID,
		MinUrgency: min,
	}, nil
}

type maintenance struct {
	saveInterval    time.Duration
	cleanupSchedule string
	expirySweep     time.Duration
}

func mapMaintenance(cfg *config.Config) (maintenance, error) {
	save, err := config.ParseDurationOrDefault(
		"maintenance.save_interval", cfg.Maintenance.SaveInterval, defaultSaveInterval)
	if err != nil {
		return maintenance{}, err
	}
	sweep, err := config.ParseDurationOrDefault(
		"maintenance.expiry_sweep", cfg.Maintenance.ExpirySweep, defaultExpirySweep)
	if err != nil {
		return maintenance{}, err
	}
	sched := strings.TrimSpace(cfg.Maintenance.CleanupSchedule)
	if sched == "" {
		sched = defaultCleanupSchedule
	}
	return maintenance{
		saveInterval:    save,
		cleanupSchedule: sched,
		expirySweep:     sweep,
	}, nil
}

func parseUrgency(s string, def notify.Urgency) (notify.Urgency, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return def, nil
	case "low":
		return notify.UrgencyLow, nil
	case "normal":
		return notify.UrgencyNormal, nil
	case "critical":
		return notify.UrgencyCritical, nil
	default:
		return def, fmt.Errorf("unknown urgency level %q", s)
	}
}
