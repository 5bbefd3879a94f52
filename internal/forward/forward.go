package forward

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"notifyd/internal/eventbus"
	"notifyd/internal/notify"
	logx "notifyd/pkg/logx"
)

// Config controls the Telegram bridge. Displayed notifications at or
// above MinUrgency are relayed to ChatID.
type Config struct {
	Enabled    bool
	Token      string
	ChatID     int64
	MinUrgency notify.Urgency
}

// sender is the slice of *tele.Bot the forwarder needs; injectable for tests.
type sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Forwarder relays displayed notifications to a Telegram chat.
//
// Delivery is best-effort: the event subscription and the internal queue
// both drop on overflow so the notification pipeline never blocks on
// network I/O.
type Forwarder struct {
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	send    sender
	limiter *rate.Limiter
	queue   chan eventbus.Event

	// dropped counts events discarded because the queue was full.
	dropped uint64
}

func New(cfg Config, bus eventbus.Bus, log logx.Logger) (*Forwarder, error) {
	if !cfg.Enabled {
		return nil, errors.New("forwarder disabled")
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is empty")
	}
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}
	return newWithSender(cfg, bus, log, b), nil
}

func newWithSender(cfg Config, bus eventbus.Bus, log logx.Logger, s sender) *Forwarder {
	return &Forwarder{
		cfg:  cfg,
		log:  log,
		bus:  bus,
		send: s,
		// Telegram flood control allows roughly one message per second per chat.
		limiter: rate.NewLimiter(rate.Every(time.Second), 3),
		queue:   make(chan eventbus.Event, 32),
	}
}

// Run consumes displayed-notification events until ctx ends.
func (f *Forwarder) Run(ctx context.Context) error {
	events, unsub := f.bus.Subscribe(32)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if !f.wants(ev) {
				continue
			}
			select {
			case f.queue <- ev:
			default:
				if n := atomic.AddUint64(&f.dropped, 1); n%16 == 1 {
					f.log.Warn("forward queue full; dropping notifications",
						logx.Uint64("dropped", n))
				}
				continue
			}
			if err := f.drain(ctx); err != nil {
				return err
			}
		}
	}
}

func (f *Forwarder) wants(ev eventbus.Event) bool {
	if ev.Type != eventbus.TypeDisplayed {
		return false
	}
	return ev.Notification.Urgency() >= f.cfg.MinUrgency
}

func (f *Forwarder) drain(ctx context.Context) error {
	for {
		select {
		case ev := <-f.queue:
			if err := f.limiter.Wait(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}
			f.deliver(ev.Notification)
		default:
			return nil
		}
	}
}

func (f *Forwarder) deliver(n notify.Notification) {
	chat := tele.ChatID(f.cfg.ChatID)
	if _, err := f.send.Send(chat, formatMessage(n), tele.ModeHTML); err != nil {
		f.log.Warn("forward send failed",
			logx.String("app", n.AppName),
			logx.Uint32("id", n.ID),
			logx.Err(err))
		return
	}
	f.log.Debug("notification forwarded",
		logx.String("app", n.AppName), logx.Uint32("id", n.ID))
}

func formatMessage(n notify.Notification) string {
	var b strings.Builder
	if n.Urgency() == notify.UrgencyCritical {
		b.WriteString("❗ ")
	}
	fmt.Fprintf(&b, "<b>%s</b>", html.EscapeString(n.Summary))
	if n.AppName != "" {
		fmt.Fprintf(&b, " <i>(%s)</i>", html.EscapeString(n.AppName))
	}
	if n.Body != "" {
		b.WriteString("\n")
		b.WriteString(html.EscapeString(n.Body))
	}
	return b.String()
}
