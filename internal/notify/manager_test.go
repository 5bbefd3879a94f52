package notify

import (
	"testing"
	"time"

	logx "notifyd/pkg/logx"
)

func newTestManager(cfg ManagerConfig) *Manager {
	return NewManager(cfg, logx.Nop())
}

func mkNotification(app, summary string) *Notification {
	return &Notification{
		AppName:       app,
		Summary:       summary,
		ExpireTimeout: -1,
		Timestamp:     time.Now(),
	}
}

func TestAddAssignsUniqueNonZeroIDs(t *testing.T) {
	m := newTestManager(ManagerConfig{MaxActive: 100})
	seen := map[uint32]bool{}
	for i := 0; i < 50; i++ {
		res := m.AddNotification(mkNotification("app", "s"))
		if res.ID == 0 {
			t.Fatalf("got id 0")
		}
		if seen[res.ID] {
			t.Fatalf("duplicate id %d", res.ID)
		}
		seen[res.ID] = true
	}
}

func TestIDWrapSkipsZeroAndActive(t *testing.T) {
	m := newTestManager(ManagerConfig{MaxActive: 100})
	first := m.AddNotification(mkNotification("app", "held"))

	// Force the counter to the wrap point.
	m.nextID = ^uint32(0)
	res := m.AddNotification(mkNotification("app", "edge"))
	if res.ID != ^uint32(0) {
		t.Fatalf("expected max uint32 id, got %d", res.ID)
	}
	// Next allocation wraps past 0 and past the still-active first id.
	res = m.AddNotification(mkNotification("app", "wrapped"))
	if res.ID == 0 {
		t.Fatalf("allocated id 0 after wrap")
	}
	if res.ID == first.ID {
		t.Fatalf("allocated id %d colliding with active notification", res.ID)
	}
}

func TestReplacementRemovesOldActiveEntry(t *testing.T) {
	m := newTestManager(ManagerConfig{})
	orig := m.AddNotification(mkNotification("app", "v1"))

	repl := mkNotification("app", "v2")
	repl.ReplacesID = orig.ID
	res := m.AddNotification(repl)

	if res.ReplacedID != orig.ID {
		t.Fatalf("ReplacedID = %d, want %d", res.ReplacedID, orig.ID)
	}
	if m.ActiveCount() != 1 {
		t.Fatalf("active count = %d, want 1", m.ActiveCount())
	}
	if got := m.Active()[0].Summary; got != "v2" {
		t.Fatalf("active summary = %q, want v2", got)
	}
	// Both versions were admitted, so both are in history.
	if len(m.History()) != 2 {
		t.Fatalf("history len = %d, want 2", len(m.History()))
	}
}

func TestReplacementOfUnknownIDIsPlainAdd(t *testing.T) {
	m := newTestManager(ManagerConfig{})
	n := mkNotification("app", "s")
	n.ReplacesID = 424242
	res := m.AddNotification(n)
	if res.ReplacedID != 0 {
		t.Fatalf("ReplacedID = %d, want 0", res.ReplacedID)
	}
	if m.ActiveCount() != 1 {
		t.Fatalf("active count = %d, want 1", m.ActiveCount())
	}
}

func TestUrgencyGateBeatsEverything(t *testing.T) {
	// min urgency Critical: Normal filtered even though nothing else blocks it.
	m := newTestManager(ManagerConfig{MinUrgencyLevel: 2})
	res := m.AddNotification(mkNotification("app", "s"))
	if res.Outcome != AddedToHistoryOnly {
		t.Fatalf("outcome = %v, want history-only", res.Outcome)
	}
	if res.FilterReason != "urgency below minimum" {
		t.Fatalf("reason = %q", res.FilterReason)
	}
}

func TestCriticalBypassesDNDButNotAppDeny(t *testing.T) {
	m := newTestManager(ManagerConfig{
		DoNotDisturb: true,
		AppFilters:   map[string]bool{"blocked": false},
	})

	crit := mkNotification("app", "s")
	crit.Hints.Urgency = UrgencyCritical
	if res := m.AddNotification(crit); res.Outcome != Displayed {
		t.Fatalf("critical under DND: outcome = %v, want displayed", res.Outcome)
	}

	blocked := mkNotification("blocked", "s")
	blocked.Hints.Urgency = UrgencyCritical
	res := m.AddNotification(blocked)
	if res.Outcome != AddedToHistoryOnly {
		t.Fatalf("critical from denied app: outcome = %v, want history-only", res.Outcome)
	}
	if res.FilterReason != "app filter" {
		t.Fatalf("reason = %q", res.FilterReason)
	}
}

func TestDNDFiltersNormalUrgency(t *testing.T) {
	m := newTestManager(ManagerConfig{DoNotDisturb: true})
	res := m.AddNotification(mkNotification("app", "s"))
	if res.Outcome != AddedToHistoryOnly {
		t.Fatalf("outcome = %v, want history-only", res.Outcome)
	}
	if res.FilterReason != "do not disturb" {
		t.Fatalf("reason = %q", res.FilterReason)
	}
	if m.ActiveCount() != 0 {
		t.Fatalf("active count = %d, want 0", m.ActiveCount())
	}
	if len(m.History()) != 1 {
		t.Fatalf("history len = %d, want 1", len(m.History()))
	}
}

func TestAppFilterExplicitAllowAndDefaultAllow(t *testing.T) {
	m := newTestManager(ManagerConfig{AppFilters: map[string]bool{"good": true, "bad": false}})

	if res := m.AddNotification(mkNotification("good", "s")); res.Outcome != Displayed {
		t.Fatalf("explicit allow: outcome = %v", res.Outcome)
	}
	if res := m.AddNotification(mkNotification("unknown", "s")); res.Outcome != Displayed {
		t.Fatalf("default allow: outcome = %v", res.Outcome)
	}
	if res := m.AddNotification(mkNotification("bad", "s")); res.Outcome != AddedToHistoryOnly {
		t.Fatalf("explicit deny: outcome = %v", res.Outcome)
	}
}

func TestActiveSetBoundEvictsOldestFIFO(t *testing.T) {
	m := newTestManager(ManagerConfig{MaxActive: 3})
	var ids []uint32
	for i := 0; i < 5; i++ {
		res := m.AddNotification(mkNotification("app", "s"))
		if i < 3 && len(res.EvictedIDs) != 0 {
			t.Fatalf("add %d: unexpected eviction %v", i, res.EvictedIDs)
		}
		if i >= 3 {
			if len(res.EvictedIDs) != 1 || res.EvictedIDs[0] != ids[i-3] {
				t.Fatalf("add %d: evicted %v, want [%d]", i, res.EvictedIDs, ids[i-3])
			}
		}
		ids = append(ids, res.ID)
	}
	if m.ActiveCount() != 3 {
		t.Fatalf("active count = %d, want 3", m.ActiveCount())
	}
	// Eviction does not double-record: one history entry per admission.
	if len(m.History()) != 5 {
		t.Fatalf("history len = %d, want 5", len(m.History()))
	}
}

func TestHistoryBoundDropsOldest(t *testing.T) {
	m := newTestManager(ManagerConfig{MaxActive: 200, MaxHistoryItems: 10})
	for i := 0; i < 25; i++ {
		m.AddNotification(mkNotification("app", "s"))
	}
	h := m.History()
	if len(h) != 10 {
		t.Fatalf("history len = %d, want 10", len(h))
	}
	if h[0].ID != 16 || h[9].ID != 25 {
		t.Fatalf("history window [%d..%d], want [16..25]", h[0].ID, h[9].ID)
	}
}

func TestTransientNeverRecorded(t *testing.T) {
	m := newTestManager(ManagerConfig{})
	n := mkNotification("app", "s")
	n.Hints.Transient = true
	if res := m.AddNotification(n); res.Outcome != Displayed {
		t.Fatalf("outcome = %v, want displayed", res.Outcome)
	}
	if len(m.History()) != 0 {
		t.Fatalf("history len = %d, want 0", len(m.History()))
	}

	// Transient holds even when filtered.
	m.SetDoNotDisturb(true)
	n2 := mkNotification("app", "s2")
	n2.Hints.Transient = true
	if res := m.AddNotification(n2); res.Outcome != AddedToHistoryOnly {
		t.Fatalf("outcome = %v, want history-only", res.Outcome)
	}
	if len(m.History()) != 0 {
		t.Fatalf("history len = %d, want 0", len(m.History()))
	}
}

func TestExpiredIDs(t *testing.T) {
	base := time.Now()
	m := newTestManager(ManagerConfig{DefaultTimeout: 5 * time.Second})

	add := func(timeout int32, hints Hints) uint32 {
		n := &Notification{AppName: "app", ExpireTimeout: timeout, Hints: hints, Timestamp: base}
		return m.AddNotification(n).ID
	}

	explicit := add(5000, Hints{Urgency: UrgencyNormal}) // 5s
	server := add(0, Hints{Urgency: UrgencyNormal})      // default 5s
	never := add(-1, Hints{Urgency: UrgencyNormal})
	bogus := add(-7, Hints{Urgency: UrgencyNormal})
	resident := add(1000, Hints{Urgency: UrgencyNormal, Resident: true})
	sub := add(900, Hints{Urgency: UrgencyNormal}) // 900ms truncates to 0s

	// Exactly at the boundary nothing expires (strictly greater).
	if got := m.ExpiredIDs(base.Add(5 * time.Second)); len(got) != 1 || got[0] != sub {
		t.Fatalf("at boundary: expired %v, want [%d]", got, sub)
	}

	got := m.ExpiredIDs(base.Add(5*time.Second + time.Millisecond))
	want := map[uint32]bool{explicit: true, server: true, sub: true}
	if len(got) != len(want) {
		t.Fatalf("expired %v, want ids %v", got, want)
	}
	for _, id := range got {
		if !want[id] {
			t.Fatalf("unexpected expired id %d", id)
		}
		if id == never || id == bogus || id == resident {
			t.Fatalf("id %d must never expire", id)
		}
	}

	// Read-only: a second sweep sees the same set.
	again := m.ExpiredIDs(base.Add(5*time.Second + time.Millisecond))
	if len(again) != len(got) {
		t.Fatalf("second sweep %v, want same as first %v", again, got)
	}

	// Far future: still only the finite-timeout ones.
	far := m.ExpiredIDs(base.Add(24 * time.Hour))
	if len(far) != 3 {
		t.Fatalf("far future expired %v, want 3 ids", far)
	}
}

func TestMillisecondTruncation(t *testing.T) {
	base := time.Now()
	m := newTestManager(ManagerConfig{})
	n := &Notification{AppName: "app", ExpireTimeout: 10900, Timestamp: base}
	id := m.AddNotification(n).ID

	// 10900ms truncates to 10s.
	if got := m.ExpiredIDs(base.Add(10 * time.Second)); len(got) != 0 {
		t.Fatalf("expired at 10s boundary: %v", got)
	}
	if got := m.ExpiredIDs(base.Add(10*time.Second + time.Millisecond)); len(got) != 1 || got[0] != id {
		t.Fatalf("expired after truncated deadline: %v", got)
	}
}

func TestRemoveNotification(t *testing.T) {
	m := newTestManager(ManagerConfig{})
	res := m.AddNotification(mkNotification("app", "s"))
	if !m.RemoveNotification(res.ID) {
		t.Fatalf("remove existing returned false")
	}
	if m.RemoveNotification(res.ID) {
		t.Fatalf("second remove returned true")
	}
	if len(m.History()) != 1 {
		t.Fatalf("history len = %d, want 1 (recorded at admission)", len(m.History()))
	}
}

func TestClearAllKeepsHistory(t *testing.T) {
	m := newTestManager(ManagerConfig{})
	for i := 0; i < 4; i++ {
		m.AddNotification(mkNotification("app", "s"))
	}
	ids := m.ClearAll()
	if len(ids) != 4 {
		t.Fatalf("cleared %d ids, want 4", len(ids))
	}
	if m.ActiveCount() != 0 {
		t.Fatalf("active count = %d, want 0", m.ActiveCount())
	}
	if len(m.History()) != 4 {
		t.Fatalf("history len = %d, want 4", len(m.History()))
	}
}

func TestCleanupHistoryRetention(t *testing.T) {
	now := time.Now()
	m := newTestManager(ManagerConfig{})

	old := mkNotification("app", "old")
	old.Timestamp = now.AddDate(0, 0, -10)
	fresh := mkNotification("app", "fresh")
	fresh.Timestamp = now
	m.AddNotification(old)
	m.AddNotification(fresh)

	days := uint32(7)
	removed := m.CleanupHistory(100, &days, now)
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	h := m.History()
	if len(h) != 1 || h[0].Summary != "fresh" {
		t.Fatalf("history after cleanup = %+v", h)
	}

	// nil retention: age-based trimming disabled.
	m2 := newTestManager(ManagerConfig{})
	m2.AddNotification(old)
	if removed := m2.CleanupHistory(100, nil, now); removed != 0 {
		t.Fatalf("nil retention removed %d, want 0", removed)
	}
}

func TestSeedTrimmedToBounds(t *testing.T) {
	seed := make([]Notification, 30)
	for i := range seed {
		seed[i] = Notification{ID: uint32(i + 1), AppName: "app", Timestamp: time.Now()}
	}
	m := newTestManager(ManagerConfig{MaxHistoryItems: 10, Seed: seed})
	h := m.History()
	if len(h) != 10 {
		t.Fatalf("seeded history len = %d, want 10", len(h))
	}
	if h[0].ID != 21 {
		t.Fatalf("seeded history starts at %d, want 21 (newest kept)", h[0].ID)
	}
}

func TestByAppAndByUrgency(t *testing.T) {
	m := newTestManager(ManagerConfig{})
	a := mkNotification("mail", "s")
	b := mkNotification("mail", "s2")
	c := mkNotification("chat", "s3")
	c.Hints.Urgency = UrgencyCritical
	m.AddNotification(a)
	m.AddNotification(b)
	m.AddNotification(c)

	byApp := m.ByApp()
	if len(byApp["mail"]) != 2 || len(byApp["chat"]) != 1 {
		t.Fatalf("ByApp = %v", byApp)
	}
	if got := m.ByUrgency(UrgencyCritical); len(got) != 1 || got[0].Summary != "s3" {
		t.Fatalf("ByUrgency(critical) = %v", got)
	}
}
