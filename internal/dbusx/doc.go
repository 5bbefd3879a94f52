// Package dbusx owns the session-bus side of the daemon: a reconnecting
// signal listener for the org.freedesktop.Notifications interface and a
// fire-and-forget sender for the two acknowledgement signals.
package dbusx
