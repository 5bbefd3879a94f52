package dbusx

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/godbus/dbus/v5"

	logx "notifyd/pkg/logx"
)

// NotificationInterface is the signal namespace the listener subscribes to.
const NotificationInterface = "org.freedesktop.Notifications"

// DefaultBuffer is the bounded delivery buffer between the bus transport
// and the decoder. Sized for worst-case bursts (~20 notifications/sec
// with 6x headroom) so a notification storm delays messages instead of
// growing memory without bound.
const DefaultBuffer = 128

const (
	defaultRetryBase     = 100 * time.Millisecond
	defaultRetryMaxDelay = 30 * time.Second
	defaultMaxAttempts   = 10
)

// ErrGaveUp is returned by Run after the per-cycle retry budget is
// exhausted. Intake has stopped permanently; the host must surface this
// as a degraded state (typically by letting the process exit and be
// restarted).
var ErrGaveUp = errors.New("session bus connection retries exhausted")

// State is the supervisor's connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateStreaming
	StateGaveUp
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateStreaming:
		return "streaming"
	case StateGaveUp:
		return "gave-up"
	default:
		return "disconnected"
	}
}

// ListenerConfig tunes the reconnect loop. Zero values fall back to the
// spec'd defaults.
type ListenerConfig struct {
	Interface     string
	Buffer        int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	MaxAttempts   int
}

// busConn is the slice of *dbus.Conn the listener needs; injectable for
// tests.
type busConn interface {
	AddMatchSignal(options ...dbus.MatchOption) error
	Signal(ch chan<- *dbus.Signal)
	RemoveSignal(ch chan<- *dbus.Signal)
	Close() error
}

// Listener maintains a live subscription to notification signals with
// automatic reconnection.
//
// State machine: Disconnected -> Connecting -> Subscribed -> Streaming,
// with Streaming -> Connecting on any stream termination, and a terminal
// GaveUp after MaxAttempts consecutive connection failures. The attempt
// counter resets whenever a subscription succeeds, so the self-healing
// loop is unbounded in time but each cycle has the same retry cap.
//
// The output channel is closed exactly once, when Run returns; consumers
// must treat end-of-stream as a terminal intake failure unless they
// initiated the shutdown themselves.
type Listener struct {
	cfg ListenerConfig
	log logx.Logger

	out   chan *dbus.Signal
	state atomic.Int32

	// Injection points for tests.
	connect func(ctx context.Context) (busConn, error)
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewListener(cfg ListenerConfig, log logx.Logger) *Listener {
	if cfg.Interface == "" {
		cfg.Interface = NotificationInterface
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultBuffer
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = defaultRetryBase
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = defaultRetryMaxDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	return &Listener{
		cfg:     cfg,
		log:     log,
		out:     make(chan *dbus.Signal, cfg.Buffer),
		connect: sessionConnect,
		sleep:   sleepCtx,
	}
}

// Signals is the raw message sequence. Lazy, not restartable: once
// closed it stays closed.
func (l *Listener) Signals() <-chan *dbus.Signal { return l.out }

func (l *Listener) State() State { return State(l.state.Load()) }

func (l *Listener) setState(s State) { l.state.Store(int32(s)) }

// Run drives the connection state machine until ctx is canceled or the
// retry budget is exhausted. It owns the output channel and closes it on
// return.
func (l *Listener) Run(ctx context.Context) error {
	defer close(l.out)

	attempts := 0
	delay := l.cfg.RetryBase

	for {
		if ctx.Err() != nil {
			l.setState(StateDisconnected)
			return ctx.Err()
		}

		l.setState(StateConnecting)
		conn, err := l.connect(ctx)
		if err == nil {
			if merr := conn.AddMatchSignal(dbus.WithMatchInterface(l.cfg.Interface)); merr != nil {
				_ = conn.Close()
				err = merr
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				l.setState(StateDisconnected)
				return ctx.Err()
			}
			attempts++
			if attempts >= l.cfg.MaxAttempts {
				l.setState(StateGaveUp)
				if !l.log.IsZero() {
					l.log.Error("giving up on session bus",
						logx.Int("attempts", attempts),
						logx.Err(err))
				}
				return ErrGaveUp
			}
			if !l.log.IsZero() {
				l.log.Warn("session bus connection failed; retrying",
					logx.Int("attempt", attempts),
					logx.Duration("backoff", delay),
					logx.Err(err))
			}
			if serr := l.sleep(ctx, delay); serr != nil {
				l.setState(StateDisconnected)
				return serr
			}
			delay *= 2
			if delay > l.cfg.RetryMaxDelay {
				delay = l.cfg.RetryMaxDelay
			}
			continue
		}

		l.setState(StateSubscribed)
		attempts = 0
		delay = l.cfg.RetryBase

		// Bounded delivery buffer between the transport and us. If it
		// fills, the transport's own flow control delays messages; we
		// never drop here since dropping silently loses alerts.
		sigs := make(chan *dbus.Signal, l.cfg.Buffer)
		conn.Signal(sigs)
		l.setState(StateStreaming)
		if !l.log.IsZero() {
			l.log.Info("subscribed to notification signals",
				logx.String("interface", l.cfg.Interface))
		}

		if done := l.stream(ctx, conn, sigs); done {
			return ctx.Err()
		}

		// The transport reported stream failure (channel closed).
		// Restart the whole handshake.
		if !l.log.IsZero() {
			l.log.Warn("signal stream terminated; reconnecting")
		}
	}
}

// stream forwards inbound signals until the stream fails or ctx ends.
// Returns true when the listener should stop for good (ctx canceled).
func (l *Listener) stream(ctx context.Context, conn busConn, sigs chan *dbus.Signal) bool {
	defer func() { _ = conn.Close() }()

	for {
		select {
		case <-ctx.Done():
			conn.RemoveSignal(sigs)
			return true
		case sig, ok := <-sigs:
			if !ok {
				return false
			}
			select {
			case l.out <- sig:
			case <-ctx.Done():
				conn.RemoveSignal(sigs)
				return true
			}
		}
	}
}

func sessionConnect(ctx context.Context) (busConn, error) {
	// A private connection: the shared session bus singleton cannot be
	// re-dialed after a bus restart.
	conn, err := dbus.ConnectSessionBus(dbus.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
