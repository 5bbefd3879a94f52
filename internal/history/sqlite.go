//go:build sqlite
// +build sqlite

package history

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"notifyd/internal/notify"
	logx "notifyd/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db   *sql.DB
	log  logx.Logger
	path string
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("history.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, path: path}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	// Notification bodies are private; match the file driver's perms.
	_ = os.Chmod(path, 0o600)
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Path() string { return s.path }

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Load() []notify.Notification {
	rows, err := s.db.Query(
		`SELECT id, app_name, app_icon, summary, body, replaces_id, actions, hints, expire_timeout, received_at
		 FROM history ORDER BY seq`)
	if err != nil {
		s.log.Warn("failed to read history table; starting empty",
			logx.String("path", s.path), logx.Err(err))
		return nil
	}
	defer rows.Close()

	var out []notify.Notification
	for rows.Next() {
		var (
			n          notify.Notification
			actions    sql.NullString
			hints      sql.NullString
			receivedAt string
		)
		if err := rows.Scan(&n.ID, &n.AppName, &n.AppIcon, &n.Summary, &n.Body,
			&n.ReplacesID, &actions, &hints, &n.ExpireTimeout, &receivedAt); err != nil {
			s.log.Warn("skipping unreadable history row", logx.Err(err))
			continue
		}
		if actions.Valid && actions.String != "" {
			if err := json.Unmarshal([]byte(actions.String), &n.Actions); err != nil {
				s.log.Warn("skipping malformed actions in history row", logx.Err(err))
			}
		}
		n.Hints.Urgency = notify.UrgencyNormal
		if hints.Valid && hints.String != "" {
			if err := json.Unmarshal([]byte(hints.String), &n.Hints); err != nil {
				s.log.Warn("skipping malformed hints in history row", logx.Err(err))
			}
		}
		if ts, err := time.Parse(time.RFC3339Nano, receivedAt); err == nil {
			n.Timestamp = ts
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		s.log.Warn("history read aborted; keeping partial result", logx.Err(err))
	}
	s.log.Info("loaded notification history",
		logx.Int("count", len(out)), logx.String("path", s.path))
	return out
}

// Save replaces the whole record list in one transaction, mirroring the
// file driver's snapshot semantics.
func (s *sqliteStore) Save(history []notify.Notification) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM history`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(
		`INSERT INTO history(id, app_name, app_icon, summary, body, replaces_id, actions, hints, expire_timeout, received_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, n := range history {
		actions, err := json.Marshal(n.Actions)
		if err != nil {
			return err
		}
		hints, err := json.Marshal(n.Hints)
		if err != nil {
			return err
		}
		if _, err := stmt.Exec(n.ID, n.AppName, n.AppIcon, n.Summary, n.Body,
			n.ReplacesID, string(actions), string(hints), n.ExpireTimeout,
			n.Timestamp.Format(time.RFC3339Nano)); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.log.Debug("saved notification history",
		logx.Int("count", len(history)), logx.String("path", s.path))
	return nil
}
