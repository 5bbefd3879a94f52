package notify

import (
	"time"

	"github.com/godbus/dbus/v5"
)

// Urgency is the freedesktop.org notification priority tier.
type Urgency byte

const (
	UrgencyLow      Urgency = 0
	UrgencyNormal   Urgency = 1
	UrgencyCritical Urgency = 2
)

// UrgencyFromByte maps a raw hint byte to an Urgency.
// Values outside 0..2 are rejected so the caller can apply the Normal fallback.
func UrgencyFromByte(v byte) (Urgency, bool) {
	switch v {
	case 0, 1, 2:
		return Urgency(v), true
	default:
		return UrgencyNormal, false
	}
}

func (u Urgency) String() string {
	switch u {
	case UrgencyLow:
		return "low"
	case UrgencyCritical:
		return "critical"
	default:
		return "normal"
	}
}

// Action is one notification action button: the key is sent back on the
// bus when the user invokes it, the label is what the UI renders.
type Action struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

// Hints are the recognized freedesktop.org notification hints.
// Anything the decoder does not recognize lands in Notification.RawHints.
type Hints struct {
	Urgency      Urgency `json:"urgency"`
	Category     string  `json:"category,omitempty"`
	DesktopEntry string  `json:"desktop_entry,omitempty"`
	Transient    bool    `json:"transient,omitempty"`
	Resident     bool    `json:"resident,omitempty"`

	// Presentation-only hints. Carried for the UI layer, never filtered on.
	X             *int32 `json:"x,omitempty"`
	Y             *int32 `json:"y,omitempty"`
	SoundFile     string `json:"sound_file,omitempty"`
	SoundName     string `json:"sound_name,omitempty"`
	SuppressSound bool   `json:"suppress_sound,omitempty"`
	ActionIcons   bool   `json:"action_icons,omitempty"`
	ImagePath     string `json:"image_path,omitempty"`
}

// Notification is one received desktop alert.
//
// It is immutable after decoding except for the manager-assigned ID.
// RawHints is an opaque side-channel of unrecognized hint values; it is
// excluded from persistence and from any derived equality.
type Notification struct {
	// ID is assigned by the Manager when the sender supplied 0.
	// Unique among currently-active notifications, not across history.
	ID uint32 `json:"id"`

	AppName string `json:"app_name"`
	AppIcon string `json:"app_icon"`
	Summary string `json:"summary"`
	Body    string `json:"body"`

	// ReplacesID is 0 for a new notification; nonzero means "supersede
	// the active notification with this id".
	ReplacesID uint32 `json:"replaces_id"`

	Actions []Action `json:"actions,omitempty"`
	Hints   Hints    `json:"hints"`

	RawHints map[string]dbus.Variant `json:"-"`

	// ExpireTimeout in milliseconds: -1 never expire, 0 use the manager
	// default, >0 explicit timeout.
	ExpireTimeout int32 `json:"expire_timeout"`

	// Timestamp is the receipt time, immutable once set.
	Timestamp time.Time `json:"timestamp"`
}

func (n *Notification) Urgency() Urgency { return n.Hints.Urgency }

// Transient notifications are never written to history.
func (n *Notification) Transient() bool { return n.Hints.Transient }

// Resident notifications never auto-expire.
func (n *Notification) Resident() bool { return n.Hints.Resident }

func (n *Notification) Category() string { return n.Hints.Category }

func (n *Notification) HasActions() bool { return len(n.Actions) > 0 }

// CloseReason is the NotificationClosed signal reason code.
type CloseReason uint32

const (
	CloseExpired         CloseReason = 1
	CloseDismissed       CloseReason = 2
	CloseClosedByRequest CloseReason = 3
	CloseUndefined       CloseReason = 4
)

func (r CloseReason) String() string {
	switch r {
	case CloseExpired:
		return "expired"
	case CloseDismissed:
		return "dismissed"
	case CloseClosedByRequest:
		return "closed-by-request"
	default:
		return "undefined"
	}
}
