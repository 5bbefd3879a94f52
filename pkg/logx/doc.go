// Package logx is a thin structured-logging layer over zerolog.
//
// Components depend on a small, stable API (Logger + Field helpers)
// while the sinks (console, file) can be swapped at runtime through
// Service.Apply when the daemon's config is reloaded.
package logx
