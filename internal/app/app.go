package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"notifyd/internal/config"
	"notifyd/internal/dbusx"
	"notifyd/internal/eventbus"
	"notifyd/internal/forward"
	"notifyd/internal/history"
	"notifyd/internal/notify"
	"notifyd/internal/runtime/supervisor"
	logx "notifyd/pkg/logx"
)

var (
	ErrNotFound = errors.New("notification not found")
	ErrStopped  = errors.New("daemon stopped")
)

// App wires the daemon: config, logging, the session-bus listener, the
// notification manager, persistence, and the optional forwarder.
//
// Concurrency model: the Manager is owned exclusively by the run loop.
// Everything that touches it (decoded signals, config updates, expiry
// sweeps, maintenance jobs, external operations) goes through that one
// goroutine; cmds is the entry point for the latter two.
type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	mgr      *notify.Manager
	store    history.Store
	listener *dbusx.Listener
	sender   *dbusx.Sender
	fwd      *forward.Forwarder

	maint maintenance
	cron  *cron.Cron
	cmds  chan func()

	// historyOn mirrors notifications.history_enabled; persistence calls
	// are skipped entirely when false.
	historyOn bool
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	// History store (optional).
	var store history.Store
	historyOn := cfg.Notifications.HistoryOn()
	if historyOn {
		hc, err := mapHistoryConfig(cfg)
		if err != nil {
			return nil, err
		}
		st, err := history.Open(hc, log.With(logx.String("comp", "history")))
		if err != nil {
			return nil, err
		}
		store = st
		if store != nil {
			log.Info("history enabled",
				logx.String("driver", hc.Driver), logx.String("path", store.Path()))
		}
	}

	// Seed the manager from disk, pruned to the configured bounds.
	var seed []notify.Notification
	if store != nil {
		seed = store.Load()
		if removed := pruneSeed(&seed, cfg); removed > 0 {
			log.Info("pruned stale history entries on load", logx.Int("removed", removed))
		}
	}

	mcfg, err := mapManagerConfig(cfg, seed)
	if err != nil {
		return nil, err
	}
	mgr := notify.NewManager(mcfg, log.With(logx.String("comp", "manager")))

	lcfg, err := mapListenerConfig(cfg)
	if err != nil {
		return nil, err
	}
	listener := dbusx.NewListener(lcfg, log.With(logx.String("comp", "bus")))
	sender := dbusx.NewSender(log.With(logx.String("comp", "bus")))

	// Forwarder (optional).
	var fwd *forward.Forwarder
	if fc, err := mapForwardConfig(cfg); err != nil {
		return nil, err
	} else if fc.Enabled {
		f, err := forward.New(fc, bus, log.With(logx.String("comp", "forward")))
		if err != nil {
			return nil, err
		}
		fwd = f
		log.Info("telegram forwarding enabled")
	}

	maint, err := mapMaintenance(cfg)
	if err != nil {
		return nil, err
	}

	return &App{
		cfgPath:   cfgPath,
		cfgm:      cfgm,
		log:       log,
		logs:      logSvc,
		bus:       bus,
		mgr:       mgr,
		store:     store,
		listener:  listener,
		sender:    sender,
		fwd:       fwd,
		maint:     maint,
		cmds:      make(chan func(), 64),
		historyOn: historyOn,
	}, nil
}

func pruneSeed(seed *[]notify.Notification, cfg *config.Config) int {
	pruned, aged := history.CleanupOld(*seed, cfg.Notifications.HistoryRetentionDays, time.Now())
	max := cfg.Notifications.MaxHistoryItems
	if max <= 0 {
		max = notify.DefaultMaxHistory
	}
	pruned, trimmed := history.EnforceSizeLimit(pruned, max)
	*seed = pruned
	return aged + trimmed
}

// Done is closed when the supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx,
		supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	a.sup.Go("bus.listen", a.listener.Run)
	a.sup.Go("events", a.run)
	a.sup.Go("config.watch", a.cfgm.Watch)
	if a.fwd != nil {
		a.sup.Go("forward", a.fwd.Run)
	}
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		watchdogLoop(c, a.log)
	})

	if err := a.startCron(); err != nil {
		a.sup.Cancel()
		return err
	}

	notifyReady(a.log)
	a.log.Info("daemon started", logx.String("config", a.cfgPath))
	return nil
}

// startCron schedules maintenance jobs. Jobs only enqueue closures into
// the run loop so the Manager's single-writer invariant holds.
func (a *App) startCron() error {
	c := cron.New()

	if a.store != nil {
		if _, err := c.AddFunc(fmt.Sprintf("@every %s", a.maint.saveInterval), func() {
			a.enqueue(func() { a.saveHistory() })
		}); err != nil {
			return fmt.Errorf("maintenance.save_interval: %w", err)
		}
	}
	if _, err := c.AddFunc(a.maint.cleanupSchedule, func() {
		a.enqueue(func() { a.cleanupHistory() })
	}); err != nil {
		return fmt.Errorf("maintenance.cleanup_schedule: %w", err)
	}

	c.Start()
	a.cron = c
	return nil
}

// enqueue is best-effort: maintenance jobs may be dropped when the loop
// is saturated, they will fire again on the next schedule.
func (a *App) enqueue(fn func()) {
	select {
	case a.cmds <- fn:
	default:
		a.log.Warn("command queue full; dropping maintenance job")
	}
}

// run is the single event-consuming loop that owns the Manager.
func (a *App) run(ctx context.Context) error {
	sweep := time.NewTicker(a.maint.expirySweep)
	defer sweep.Stop()

	// Malformed signals are attacker-controllable input; cap the warn rate.
	warnLimit := rate.NewLimiter(rate.Every(time.Second), 5)

	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)

	lastApplied := a.cfgm.Get()

	for {
		select {
		case <-ctx.Done():
			a.saveHistory()
			return nil

		case sig, ok := <-a.listener.Signals():
			if !ok {
				// The intake stream never restarts once closed. If the
				// listener gave up, surface it as fatal so the supervisor
				// brings the daemon down for systemd to restart.
				a.saveHistory()
				if a.listener.State() == dbusx.StateGaveUp {
					notifyStatus(a.log, "session bus unreachable; giving up")
					return dbusx.ErrGaveUp
				}
				return nil
			}
			a.handleSignal(sig, warnLimit)

		case newCfg, ok := <-sub:
			if !ok {
				continue
			}
			// Coalesce bursts: keep only the latest config.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			a.applyConfig(lastApplied, newCfg)
			lastApplied = newCfg

		case <-sweep.C:
			a.sweepExpired(time.Now())

		case fn := <-a.cmds:
			fn()
		}
	}
}

func (a *App) handleSignal(sig *dbus.Signal, warnLimit *rate.Limiter) {
	n, err := notify.Decode(sig, time.Now(), a.log)
	if err != nil {
		if errors.Is(err, notify.ErrUnexpectedSignal) {
			a.log.Debug("ignoring unrelated signal", logx.String("member", sig.Name))
			return
		}
		if warnLimit.Allow() {
			a.log.Warn("dropping malformed notification signal", logx.Err(err))
		}
		return
	}

	res := a.mgr.AddNotification(n)

	if res.ReplacedID != 0 {
		a.log.Debug("notification replaced",
			logx.Uint32("id", res.ID), logx.Uint32("replaces", res.ReplacedID))
	}
	// Evicted notifications were closed by the daemon, not by the user or
	// a timeout, so the reason code is Undefined.
	for _, id := range res.EvictedIDs {
		a.sender.NotificationClosed(id, notify.CloseUndefined)
		a.bus.Publish(eventbus.Event{Type: eventbus.TypeClosed, Reason: notify.CloseUndefined,
			Notification: notify.Notification{ID: id}})
	}

	switch res.Outcome {
	case notify.Displayed:
		a.log.Info("notification displayed",
			logx.Uint32("id", res.ID),
			logx.String("app", n.AppName),
			logx.String("urgency", n.Urgency().String()))
		a.bus.Publish(eventbus.Event{Type: eventbus.TypeDisplayed, Notification: *n})
	case notify.AddedToHistoryOnly:
		a.log.Info("notification filtered",
			logx.Uint32("id", res.ID),
			logx.String("app", n.AppName),
			logx.String("reason", res.FilterReason))
		a.bus.Publish(eventbus.Event{Type: eventbus.TypeHistoryOnly, Notification: *n})
	}
}

func (a *App) applyConfig(old, cfg *config.Config) {
	if cfg == nil {
		return
	}

	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	a.mgr.SetDoNotDisturb(cfg.Notifications.DoNotDisturb)
	a.mgr.SetMinUrgencyLevel(cfg.Notifications.MinUrgencyLevel)
	a.mgr.LoadAppFilters(cfg.Notifications.AppFilters)
	a.mgr.SetMaxHistoryItems(cfg.Notifications.MaxHistoryItems)
	if d, err := config.ParseDurationOrDefault(
		"notifications.default_timeout", cfg.Notifications.DefaultTimeout, 0); err == nil {
		a.mgr.SetDefaultTimeout(d)
	}

	if m, err := mapMaintenance(cfg); err == nil && m != a.maint {
		a.log.Warn("maintenance schedule changed; restart required for changes to take effect")
	}

	if old != nil {
		if old.History != cfg.History || old.Notifications.HistoryOn() != cfg.Notifications.HistoryOn() {
			a.log.Warn("history config changed; restart required for changes to take effect")
		}
		if old.Bus != cfg.Bus {
			a.log.Warn("bus config changed; restart required for changes to take effect")
		}
	}

	a.log.Info("config reloaded")
}

func (a *App) sweepExpired(now time.Time) {
	for _, id := range a.mgr.ExpiredIDs(now) {
		if !a.mgr.RemoveNotification(id) {
			continue
		}
		a.log.Debug("notification expired", logx.Uint32("id", id))
		a.sender.NotificationClosed(id, notify.CloseExpired)
		a.bus.Publish(eventbus.Event{Type: eventbus.TypeClosed, Reason: notify.CloseExpired,
			Notification: notify.Notification{ID: id}})
	}
}

func (a *App) saveHistory() {
	if a.store == nil || !a.historyOn {
		return
	}
	if err := a.store.Save(a.mgr.History()); err != nil {
		a.log.Warn("history save failed",
			logx.String("path", a.store.Path()), logx.Err(err))
	}
}

func (a *App) cleanupHistory() {
	cfg := a.cfgm.Get()
	if cfg == nil {
		return
	}
	max := cfg.Notifications.MaxHistoryItems
	if max <= 0 {
		max = notify.DefaultMaxHistory
	}
	removed := a.mgr.CleanupHistory(max, cfg.Notifications.HistoryRetentionDays, time.Now())
	if removed > 0 {
		a.log.Info("history cleanup", logx.Int("removed", removed))
		a.saveHistory()
	}
}

// do runs fn on the event loop and waits for it.
func (a *App) do(ctx context.Context, fn func() error) error {
	if a.sup == nil {
		return ErrStopped
	}
	done := make(chan error, 1)
	select {
	case a.cmds <- func() { done <- fn() }:
	case <-a.sup.Context().Done():
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-a.sup.Context().Done():
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dismiss removes an active notification on behalf of the user and
// broadcasts NotificationClosed with the dismissal reason.
func (a *App) Dismiss(ctx context.Context, id uint32) error {
	return a.do(ctx, func() error {
		if !a.mgr.RemoveNotification(id) {
			return fmt.Errorf("dismiss %d: %w", id, ErrNotFound)
		}
		a.sender.NotificationClosed(id, notify.CloseDismissed)
		a.bus.Publish(eventbus.Event{Type: eventbus.TypeClosed, Reason: notify.CloseDismissed,
			Notification: notify.Notification{ID: id}})
		return nil
	})
}

// InvokeAction broadcasts ActionInvoked for an active notification. A
// non-resident notification is dismissed afterwards, matching the usual
// server behavior for activated actions.
func (a *App) InvokeAction(ctx context.Context, id uint32, actionKey string) error {
	return a.do(ctx, func() error {
		var target *notify.Notification
		for _, n := range a.mgr.Active() {
			if n.ID == id {
				target = n
				break
			}
		}
		if target == nil {
			return fmt.Errorf("invoke %d: %w", id, ErrNotFound)
		}
		found := false
		for _, act := range target.Actions {
			if act.Key == actionKey {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("invoke %d: action %q: %w", id, actionKey, ErrNotFound)
		}

		a.sender.ActionInvoked(id, actionKey)
		a.bus.Publish(eventbus.Event{Type: eventbus.TypeActionInvoked,
			Notification: *target, ActionKey: actionKey})

		if !target.Resident() {
			a.mgr.RemoveNotification(id)
			a.sender.NotificationClosed(id, notify.CloseDismissed)
			a.bus.Publish(eventbus.Event{Type: eventbus.TypeClosed, Reason: notify.CloseDismissed,
				Notification: notify.Notification{ID: id}})
		}
		return nil
	})
}

// ClearAll dismisses every active notification. History keeps whatever
// was recorded at admission.
func (a *App) ClearAll(ctx context.Context) error {
	return a.do(ctx, func() error {
		for _, id := range a.mgr.ClearAll() {
			a.sender.NotificationClosed(id, notify.CloseDismissed)
			a.bus.Publish(eventbus.Event{Type: eventbus.TypeClosed, Reason: notify.CloseDismissed,
				Notification: notify.Notification{ID: id}})
		}
		return nil
	})
}

// ClearHistory wipes the recorded history, in memory and on disk.
func (a *App) ClearHistory(ctx context.Context) error {
	return a.do(ctx, func() error {
		a.mgr.ClearHistory()
		a.saveHistory()
		a.bus.Publish(eventbus.Event{Type: eventbus.TypeHistoryClear})
		return nil
	})
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	notifyStopping(a.log)

	if a.cron != nil {
		cronCtx := a.cron.Stop()
		select {
		case <-cronCtx.Done():
		case <-ctx.Done():
		}
	}

	err := a.sup.Stop(ctx)

	a.sender.Close()
	if a.store != nil {
		_ = a.store.Close()
	}
	a.log.Info("daemon stopped")
	_ = a.logs.Close()
	return err
}
