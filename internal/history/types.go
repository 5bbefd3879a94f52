package history

import (
	"time"

	"notifyd/internal/notify"
)

// Config configures history persistence.
//
// Driver values:
//   - "file": human-inspectable JSON record list (default when empty)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is "none", persistence is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API used by the daemon.
//
// Load never fails: absence or corruption of the backing file yields an
// empty history (logged, not raised). Save failures are reported to the
// caller; the in-memory history stays authoritative either way.
type Store interface {
	Load() []notify.Notification
	Save(history []notify.Notification) error
	Path() string
	Close() error
}

// CleanupOld drops entries older than now minus retentionDays. A nil
// retention means no age-based trimming. Returns the kept slice and the
// number removed.
func CleanupOld(history []notify.Notification, retentionDays *uint32, now time.Time) ([]notify.Notification, int) {
	if retentionDays == nil {
		return history, 0
	}
	cutoff := now.AddDate(0, 0, -int(*retentionDays))
	kept := make([]notify.Notification, 0, len(history))
	for _, n := range history {
		if !n.Timestamp.Before(cutoff) {
			kept = append(kept, n)
		}
	}
	return kept, len(history) - len(kept)
}

// EnforceSizeLimit removes oldest entries until len <= maxItems.
// Returns the kept slice and the number removed.
func EnforceSizeLimit(history []notify.Notification, maxItems int) ([]notify.Notification, int) {
	if maxItems < 0 {
		maxItems = 0
	}
	if len(history) <= maxItems {
		return history, 0
	}
	removed := len(history) - maxItems
	return history[removed:], removed
}
