package dbusx

import (
	"sync"

	"github.com/godbus/dbus/v5"

	"notifyd/internal/notify"
	logx "notifyd/pkg/logx"
)

// NotificationPath is the object path acknowledgement signals are
// emitted on.
const NotificationPath dbus.ObjectPath = "/org/freedesktop/Notifications"

const (
	actionInvokedSignal      = NotificationInterface + ".ActionInvoked"
	notificationClosedSignal = NotificationInterface + ".NotificationClosed"
)

// emitter is the slice of *dbus.Conn the sender needs; injectable for
// tests.
type emitter interface {
	Emit(path dbus.ObjectPath, name string, values ...interface{}) error
	Close() error
}

// Sender emits the two fire-and-forget acknowledgement signals. Emission
// failures are logged and swallowed: losing an acknowledgement never
// takes down notification intake.
type Sender struct {
	log logx.Logger

	mu      sync.Mutex
	conn    emitter
	connect func() (emitter, error)
}

func NewSender(log logx.Logger) *Sender {
	return &Sender{log: log, connect: senderConnect}
}

func senderConnect() (emitter, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// ActionInvoked broadcasts that the user activated an action button.
func (s *Sender) ActionInvoked(id uint32, actionKey string) {
	if err := s.emit(actionInvokedSignal, id, actionKey); err != nil {
		if !s.log.IsZero() {
			s.log.Warn("failed to emit ActionInvoked",
				logx.Uint32("id", id),
				logx.String("action", actionKey),
				logx.Err(err))
		}
		return
	}
	if !s.log.IsZero() {
		s.log.Debug("ActionInvoked emitted",
			logx.Uint32("id", id),
			logx.String("action", actionKey))
	}
}

// NotificationClosed broadcasts that a notification left the active set.
func (s *Sender) NotificationClosed(id uint32, reason notify.CloseReason) {
	if err := s.emit(notificationClosedSignal, id, uint32(reason)); err != nil {
		if !s.log.IsZero() {
			s.log.Warn("failed to emit NotificationClosed",
				logx.Uint32("id", id),
				logx.String("reason", reason.String()),
				logx.Err(err))
		}
		return
	}
	if !s.log.IsZero() {
		s.log.Debug("NotificationClosed emitted",
			logx.Uint32("id", id),
			logx.String("reason", reason.String()))
	}
}

func (s *Sender) emit(name string, values ...interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		conn, err := s.connect()
		if err != nil {
			return err
		}
		s.conn = conn
	}
	if err := s.conn.Emit(NotificationPath, name, values...); err != nil {
		// The connection may be stale after a bus restart; drop it so
		// the next emit redials.
		_ = s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}

func (s *Sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
