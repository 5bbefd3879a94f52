package history

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	logx "notifyd/pkg/logx"
)

// Open initializes the configured store.
// It returns (nil, nil) if persistence is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Path) == "" {
		path, err := defaultPath(driver)
		if err != nil {
			return nil, err
		}
		cfg.Path = path
	}

	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown history driver: " + driver)
	}
}

// defaultPath places the history under the per-user config directory,
// next to where the config loader keeps its files.
func defaultPath(driver string) (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	name := "history.json"
	if driver == "sqlite" || driver == "sqlite3" {
		name = "history.db"
	}
	return filepath.Join(base, "notifyd", name), nil
}
