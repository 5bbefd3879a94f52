// Package history persists the notification history across restarts.
//
// Loading is fail-open: a missing or corrupt file yields an empty
// history, never a startup failure. Two drivers exist behind Open:
//   - "file": a human-inspectable JSON record list (default)
//   - "sqlite": SQLite database file (optional build tag)
package history
