package history

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"notifyd/internal/notify"
	logx "notifyd/pkg/logx"
)

// fileStore persists the history as one pretty-printed JSON array so
// users can inspect (and, in a pinch, edit) it. Writes go through a temp
// file + rename so a crash mid-save never corrupts the previous history.
// The file is chmod 0600: notification bodies are private.
type fileStore struct {
	log  logx.Logger
	path string
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("history.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	return &fileStore{log: log, path: path}, nil
}

func (s *fileStore) Path() string { return s.path }

func (s *fileStore) Close() error { return nil }

// Load reads the persisted record list. Fail-open on every path:
// missing file is normal first-run state, anything else degrades to an
// empty history with a log line.
func (s *fileStore) Load() []notify.Notification {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.log.Info("no history file; starting empty", logx.String("path", s.path))
			return nil
		}
		s.log.Error("failed to read history file; starting empty",
			logx.String("path", s.path), logx.Err(err))
		return nil
	}

	var out []notify.Notification
	if err := json.Unmarshal(b, &out); err != nil {
		s.log.Warn("failed to parse history file; starting empty",
			logx.String("path", s.path), logx.Err(err))
		return nil
	}
	s.log.Info("loaded notification history",
		logx.Int("count", len(out)), logx.String("path", s.path))
	return out
}

// Save serializes the full current history. The raw-hint side-channel
// is not part of the JSON shape, so it is dropped here by construction.
func (s *fileStore) Save(history []notify.Notification) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	if history == nil {
		history = []notify.Notification{}
	}
	b, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	s.log.Debug("saved notification history",
		logx.Int("count", len(history)), logx.String("path", s.path))
	return nil
}
