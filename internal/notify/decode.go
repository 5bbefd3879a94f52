package notify

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"

	logx "notifyd/pkg/logx"
)

// Decode errors. ErrUnexpectedSignal marks signals on the notification
// interface that are not Notify (the caller drops them quietly);
// ErrDeserialize marks a Notify signal whose body doesn't match the
// 8-field wire layout.
var (
	ErrUnexpectedSignal = errors.New("unexpected signal")
	ErrDeserialize      = errors.New("deserialize notification body")
)

// notifyMember is the signal member carrying a notification.
const notifyMember = "Notify"

// Decode turns one raw bus signal into a Notification.
//
// Pure transform, no state. The wire layout is the fixed 8-field Notify
// order: app_name, replaces_id, app_icon, summary, body, actions, hints,
// expire_timeout. The returned notification always has ID == 0; id
// assignment is the Manager's job.
func Decode(sig *dbus.Signal, now time.Time, log logx.Logger) (*Notification, error) {
	if sig == nil {
		return nil, fmt.Errorf("%w: nil signal", ErrDeserialize)
	}
	if member := signalMember(sig.Name); member != notifyMember {
		return nil, fmt.Errorf("%w: %q, expected %q", ErrUnexpectedSignal, member, notifyMember)
	}
	if len(sig.Body) != 8 {
		return nil, fmt.Errorf("%w: got %d fields, want 8", ErrDeserialize, len(sig.Body))
	}

	appName, ok0 := sig.Body[0].(string)
	replacesID, ok1 := sig.Body[1].(uint32)
	appIcon, ok2 := sig.Body[2].(string)
	summary, ok3 := sig.Body[3].(string)
	body, ok4 := sig.Body[4].(string)
	actionsRaw, ok5 := sig.Body[5].([]string)
	hintsRaw, ok6 := sig.Body[6].(map[string]dbus.Variant)
	expireTimeout, ok7 := sig.Body[7].(int32)
	if !(ok0 && ok1 && ok2 && ok3 && ok4 && ok5 && ok6 && ok7) {
		return nil, fmt.Errorf("%w: field type mismatch", ErrDeserialize)
	}

	hints, raw := parseHints(hintsRaw)

	return &Notification{
		ID:            0,
		AppName:       appName,
		AppIcon:       appIcon,
		Summary:       summary,
		Body:          body,
		ReplacesID:    replacesID,
		Actions:       parseActions(actionsRaw, log),
		Hints:         hints,
		RawHints:      raw,
		ExpireTimeout: expireTimeout,
		Timestamp:     now,
	}, nil
}

// signalMember extracts the member name from a fully-qualified signal
// name such as "org.freedesktop.Notifications.Notify".
func signalMember(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return name
}

// parseActions chunks the flat [key1, label1, key2, label2, ...] array
// into pairs. A trailing unpaired element is dropped, not an error.
func parseActions(raw []string, log logx.Logger) []Action {
	if len(raw) == 0 {
		return nil
	}
	if len(raw)%2 != 0 && !log.IsZero() {
		log.Warn("malformed action pair in notification, dropping trailing element",
			logx.Int("len", len(raw)))
	}
	actions := make([]Action, 0, len(raw)/2)
	for i := 0; i+1 < len(raw); i += 2 {
		actions = append(actions, Action{Key: raw[i], Label: raw[i+1]})
	}
	return actions
}

// Recognized hint keys, per the freedesktop.org spec.
// image-data/icon_data (raw pixel structs) stay in the raw side-channel;
// the presentation layer decides whether to decode them.
var knownHintKeys = map[string]struct{}{
	"urgency":        {},
	"category":       {},
	"desktop-entry":  {},
	"transient":      {},
	"resident":       {},
	"x":              {},
	"y":              {},
	"sound-file":     {},
	"sound-name":     {},
	"suppress-sound": {},
	"action-icons":   {},
	"image-path":     {},
	"image_path":     {},
}

// parseHints extracts the recognized hints with typed fallbacks and
// collects everything else into the opaque raw map.
func parseHints(raw map[string]dbus.Variant) (Hints, map[string]dbus.Variant) {
	h := Hints{Urgency: UrgencyNormal}
	if len(raw) == 0 {
		return h, nil
	}

	if v, ok := raw["urgency"]; ok {
		if b, ok := v.Value().(byte); ok {
			if u, valid := UrgencyFromByte(b); valid {
				h.Urgency = u
			}
		}
	}
	h.Category = hintString(raw, "category")
	h.DesktopEntry = hintString(raw, "desktop-entry")
	h.Transient = hintBool(raw, "transient")
	h.Resident = hintBool(raw, "resident")
	h.X = hintInt32(raw, "x")
	h.Y = hintInt32(raw, "y")
	h.SoundFile = hintString(raw, "sound-file")
	h.SoundName = hintString(raw, "sound-name")
	h.SuppressSound = hintBool(raw, "suppress-sound")
	h.ActionIcons = hintBool(raw, "action-icons")
	h.ImagePath = hintString(raw, "image-path")
	if h.ImagePath == "" {
		h.ImagePath = hintString(raw, "image_path")
	}

	var side map[string]dbus.Variant
	for k, v := range raw {
		if _, known := knownHintKeys[k]; known {
			continue
		}
		if side == nil {
			side = make(map[string]dbus.Variant)
		}
		side[k] = v
	}
	return h, side
}

func hintString(raw map[string]dbus.Variant, key string) string {
	if v, ok := raw[key]; ok {
		if s, ok := v.Value().(string); ok {
			return s
		}
	}
	return ""
}

func hintBool(raw map[string]dbus.Variant, key string) bool {
	if v, ok := raw[key]; ok {
		if b, ok := v.Value().(bool); ok {
			return b
		}
	}
	return false
}

func hintInt32(raw map[string]dbus.Variant, key string) *int32 {
	if v, ok := raw[key]; ok {
		if i, ok := v.Value().(int32); ok {
			return &i
		}
	}
	return nil
}
