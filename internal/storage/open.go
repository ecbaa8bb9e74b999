package storage

import (
	"fmt"
	"strings"

	logx "ytnotify/pkg/logx"
)

type opener func(cfg Config, log logx.Logger) (Store, error)

// drivers maps storage.driver values (and their aliases) to constructors.
var drivers = map[string]opener{
	"sqlite":  openSQLite,
	"sqlite3": openSQLite,
	"file":    openFile,
	"memory":  func(Config, logx.Logger) (Store, error) { return NewMemory(), nil },
	"mem":     func(Config, logx.Logger) (Store, error) { return NewMemory(), nil },
}

func normalizeDriver(driver string) string {
	d := strings.ToLower(strings.TrimSpace(driver))
	if d == "" {
		return "sqlite"
	}
	return d
}

// Open returns the store selected by cfg.Driver. An empty driver means sqlite.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := normalizeDriver(cfg.Driver)
	open, ok := drivers[driver]
	if !ok {
		return nil, fmt.Errorf("unknown storage driver %q (want sqlite, file or memory)", cfg.Driver)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return open(cfg, log.With(logx.String("comp", "storage"), logx.String("driver", driver)))
}

// ValidDriver reports whether Open understands driver.
func ValidDriver(driver string) bool {
	_, ok := drivers[normalizeDriver(driver)]
	return ok
}
