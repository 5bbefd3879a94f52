package notify

import (
	"time"

	logx "notifyd/pkg/logx"
)

// Defaults for the manager's bounded sets.
const (
	DefaultMaxActive     = 10
	DefaultMaxHistory    = 100
	DefaultExpireTimeout = 5 * time.Second
)

// Outcome reports what AddNotification did with a notification.
type Outcome int

const (
	// Displayed: the notification passed the filter cascade and entered
	// the active set.
	Displayed Outcome = iota
	// AddedToHistoryOnly: the notification was filtered; it was recorded
	// to history (unless transient) and never entered the active set.
	AddedToHistoryOnly
)

func (o Outcome) String() string {
	if o == Displayed {
		return "displayed"
	}
	return "history-only"
}

// AddResult carries the outcome plus the bookkeeping the event loop
// needs to emit acknowledgement signals.
type AddResult struct {
	Outcome Outcome
	// ID is the definitive notification id after manager assignment.
	ID uint32
	// ReplacedID is nonzero when an active notification was superseded.
	ReplacedID uint32
	// EvictedIDs lists active notifications dropped oldest-first to keep
	// the active set within bounds.
	EvictedIDs []uint32
	// FilterReason is set when Outcome == AddedToHistoryOnly.
	FilterReason string
}

// ManagerConfig seeds a Manager. Zero values fall back to defaults;
// Seed is a previously persisted history, oldest first.
type ManagerConfig struct {
	MaxActive       int
	MaxHistoryItems int
	DefaultTimeout  time.Duration
	DoNotDisturb    bool
	MinUrgencyLevel int
	AppFilters      map[string]bool
	Seed            []Notification
}

// Manager is the single-owner notification state machine.
//
// It is deliberately lock-free: per the daemon's concurrency model it is
// mutated exclusively by the one event-consuming goroutine, so every
// method is plain sequential code. If that invariant ever changes, all
// access must move behind a single lock or an actor boundary.
type Manager struct {
	log logx.Logger

	active  []*Notification
	history []Notification // oldest first, RawHints stripped

	nextID uint32

	doNotDisturb   bool
	minUrgency     Urgency
	appFilters     map[string]bool
	maxActive      int
	maxHistory     int
	defaultTimeout time.Duration

	// ids already warned about for an invalid negative expire timeout,
	// so a stuck notification doesn't spam the log every sweep.
	warnedTimeout map[uint32]struct{}
}

func NewManager(cfg ManagerConfig, log logx.Logger) *Manager {
	if cfg.MaxActive <= 0 {
		cfg.MaxActive = DefaultMaxActive
	}
	if cfg.MaxHistoryItems <= 0 {
		cfg.MaxHistoryItems = DefaultMaxHistory
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultExpireTimeout
	}
	m := &Manager{
		log:            log,
		nextID:         1,
		doNotDisturb:   cfg.DoNotDisturb,
		minUrgency:     clampUrgency(cfg.MinUrgencyLevel),
		appFilters:     map[string]bool{},
		maxActive:      cfg.MaxActive,
		maxHistory:     cfg.MaxHistoryItems,
		defaultTimeout: cfg.DefaultTimeout,
		warnedTimeout:  map[uint32]struct{}{},
	}
	for app, allowed := range cfg.AppFilters {
		m.appFilters[app] = allowed
	}
	if len(cfg.Seed) > 0 {
		m.history = append(m.history, cfg.Seed...)
		m.trimHistory()
	}
	return m
}

// AddNotification runs the full admission pipeline: id assignment,
// replacement, filter cascade, history admission, active-set bounding.
func (m *Manager) AddNotification(n *Notification) AddResult {
	res := AddResult{}

	// 1. Id assignment. The manager is the sole authority; the decoder
	// always submits 0 for new notifications.
	if n.ID == 0 {
		n.ID = m.allocateID()
	}
	res.ID = n.ID

	// 2. Replacement happens before filtering, regardless of whether the
	// replacement itself passes the cascade.
	if n.ReplacesID != 0 && m.removeActive(n.ReplacesID) {
		res.ReplacedID = n.ReplacesID
	}

	// 3. Filter cascade.
	if reason, filtered := m.filterReason(n); filtered {
		// 4. Filtered: history only.
		m.recordHistory(n)
		res.Outcome = AddedToHistoryOnly
		res.FilterReason = reason
		if !m.log.IsZero() {
			m.log.Debug("notification filtered",
				logx.Uint32("id", n.ID),
				logx.String("app", n.AppName),
				logx.String("reason", reason))
		}
		return res
	}

	// 5. Displayed: record once at admission, then bound the active set.
	// Evicted entries are already in history, so they are not re-added.
	m.recordHistory(n)
	m.active = append(m.active, n)
	for len(m.active) > m.maxActive {
		res.EvictedIDs = append(res.EvictedIDs, m.active[0].ID)
		m.active[0] = nil
		m.active = m.active[1:]
	}
	res.Outcome = Displayed
	return res
}

// allocateID returns the next counter id, wrapping on uint32 overflow,
// skipping 0 and any id currently in the active set.
func (m *Manager) allocateID() uint32 {
	for {
		id := m.nextID
		m.nextID++
		if m.nextID == 0 { // wrapped
			m.nextID = 1
		}
		if id == 0 {
			continue
		}
		if m.activeIndex(id) < 0 {
			return id
		}
	}
}

// filterReason evaluates the cascade in precedence order:
// urgency gate, Critical bypass (of DND only), DND, app filter.
func (m *Manager) filterReason(n *Notification) (string, bool) {
	if n.Urgency() < m.minUrgency {
		return "urgency below minimum", true
	}
	if n.Urgency() == UrgencyCritical {
		// Critical bypasses Do-Not-Disturb but not an explicit app deny.
		if allowed, ok := m.appFilters[n.AppName]; ok && !allowed {
			return "app filter", true
		}
		return "", false
	}
	if m.doNotDisturb {
		return "do not disturb", true
	}
	if allowed, ok := m.appFilters[n.AppName]; ok && !allowed {
		return "app filter", true
	}
	return "", false
}

// recordHistory appends a notification to history. Transient
// notifications are never recorded; the stored copy drops the opaque
// raw-hint side-channel, which is documented as non-persistent.
func (m *Manager) recordHistory(n *Notification) {
	if n.Transient() {
		return
	}
	cp := *n
	cp.RawHints = nil
	m.history = append(m.history, cp)
	m.trimHistory()
}

func (m *Manager) trimHistory() {
	if over := len(m.history) - m.maxHistory; over > 0 {
		m.history = append([]Notification(nil), m.history[over:]...)
	}
}

// RemoveNotification removes a matching active entry if present and
// reports whether one was found. History is untouched: the entry was
// recorded at admission time.
func (m *Manager) RemoveNotification(id uint32) bool {
	found := m.removeActive(id)
	if found {
		delete(m.warnedTimeout, id)
	}
	return found
}

func (m *Manager) removeActive(id uint32) bool {
	i := m.activeIndex(id)
	if i < 0 {
		return false
	}
	m.active = append(m.active[:i], m.active[i+1:]...)
	return true
}

func (m *Manager) activeIndex(id uint32) int {
	for i, n := range m.active {
		if n.ID == id {
			return i
		}
	}
	return -1
}

// ExpiredIDs returns the ids of active notifications whose lifetime has
// elapsed at the given instant. Read-only; the caller is responsible for
// calling RemoveNotification for each returned id.
func (m *Manager) ExpiredIDs(now time.Time) []uint32 {
	var expired []uint32
	for _, n := range m.active {
		if n.Resident() {
			continue
		}
		t := n.ExpireTimeout
		if t == -1 {
			continue
		}
		if t < 0 {
			// Any other negative value is treated as never-expire
			// rather than a crash or an instant expiry.
			if _, warned := m.warnedTimeout[n.ID]; !warned {
				m.warnedTimeout[n.ID] = struct{}{}
				if !m.log.IsZero() {
					m.log.Warn("invalid negative expire timeout, treating as never-expire",
						logx.Uint32("id", n.ID),
						logx.Int("expire_timeout_ms", int(t)))
				}
			}
			continue
		}
		effective := m.defaultTimeout
		if t > 0 {
			// Millisecond wire value truncated to whole seconds.
			effective = time.Duration(t/1000) * time.Second
		}
		if now.Sub(n.Timestamp) > effective {
			expired = append(expired, n.ID)
		}
	}
	return expired
}

// ClearAll empties the active set. Every non-transient entry is already
// in history from admission time, so nothing is re-recorded. Returns the
// ids that were active so the caller can acknowledge them.
func (m *Manager) ClearAll() []uint32 {
	ids := make([]uint32, 0, len(m.active))
	for _, n := range m.active {
		ids = append(ids, n.ID)
	}
	m.active = m.active[:0]
	m.warnedTimeout = map[uint32]struct{}{}
	return ids
}

// ClearHistory drops all persisted-history entries.
func (m *Manager) ClearHistory() {
	m.history = nil
}

// CleanupHistory applies the retention policy: entries older than
// retentionDays are dropped (nil means no age-based trimming), then the
// size limit is enforced oldest-first. Returns the number removed.
func (m *Manager) CleanupHistory(maxItems int, retentionDays *uint32, now time.Time) int {
	before := len(m.history)
	if retentionDays != nil {
		cutoff := now.AddDate(0, 0, -int(*retentionDays))
		kept := m.history[:0]
		for _, n := range m.history {
			if !n.Timestamp.Before(cutoff) {
				kept = append(kept, n)
			}
		}
		m.history = kept
	}
	if maxItems > 0 && len(m.history) > maxItems {
		m.history = append([]Notification(nil), m.history[len(m.history)-maxItems:]...)
	}
	return before - len(m.history)
}

// ---- policy setters (called from the same consumer goroutine) ----

func (m *Manager) SetDoNotDisturb(enabled bool) { m.doNotDisturb = enabled }

func (m *Manager) DoNotDisturb() bool { return m.doNotDisturb }

// SetMinUrgencyLevel clamps to the valid 0..2 range.
func (m *Manager) SetMinUrgencyLevel(level int) { m.minUrgency = clampUrgency(level) }

func (m *Manager) MinUrgencyLevel() int { return int(m.minUrgency) }

// SetAppFilter records an explicit per-application verdict:
// false denies, true allows. Absence means default-allow.
func (m *Manager) SetAppFilter(app string, allowed bool) { m.appFilters[app] = allowed }

func (m *Manager) RemoveAppFilter(app string) { delete(m.appFilters, app) }

// LoadAppFilters replaces the whole filter map, e.g. on config reload.
func (m *Manager) LoadAppFilters(filters map[string]bool) {
	m.appFilters = make(map[string]bool, len(filters))
	for app, allowed := range filters {
		m.appFilters[app] = allowed
	}
}

func (m *Manager) AppFilters() map[string]bool {
	out := make(map[string]bool, len(m.appFilters))
	for app, allowed := range m.appFilters {
		out[app] = allowed
	}
	return out
}

// SetMaxHistoryItems updates the history cap and trims immediately.
func (m *Manager) SetMaxHistoryItems(n int) {
	if n <= 0 {
		n = DefaultMaxHistory
	}
	m.maxHistory = n
	m.trimHistory()
}

func (m *Manager) SetDefaultTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultExpireTimeout
	}
	m.defaultTimeout = d
}

// ---- read accessors for the presentation layer ----

func (m *Manager) ActiveCount() int { return len(m.active) }

// Active returns the active set oldest-first. The slice is a copy; the
// notifications themselves are shared and must be treated as immutable.
func (m *Manager) Active() []*Notification {
	return append([]*Notification(nil), m.active...)
}

func (m *Manager) NotificationAt(i int) (*Notification, bool) {
	if i < 0 || i >= len(m.active) {
		return nil, false
	}
	return m.active[i], true
}

// History returns the persisted-history view, oldest first.
func (m *Manager) History() []Notification {
	return append([]Notification(nil), m.history...)
}

// ByApp groups the active set by application name.
func (m *Manager) ByApp() map[string][]*Notification {
	out := map[string][]*Notification{}
	for _, n := range m.active {
		out[n.AppName] = append(out[n.AppName], n)
	}
	return out
}

// ByUrgency returns active notifications of the given urgency.
func (m *Manager) ByUrgency(u Urgency) []*Notification {
	var out []*Notification
	for _, n := range m.active {
		if n.Urgency() == u {
			out = append(out, n)
		}
	}
	return out
}

func clampUrgency(level int) Urgency {
	switch {
	case level <= 0:
		return UrgencyLow
	case level >= 2:
		return UrgencyCritical
	default:
		return UrgencyNormal
	}
}
