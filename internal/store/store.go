// Package store provides the pluggable key-value state store used to survive
// process restarts with queue and rate-window state intact.
//
// Drivers:
//   - "file":   dependency-free JSON snapshot on disk
//   - "sqlite": single-file SQLite database
//   - "redis":  shared Redis instance (hash-free, prefixed keys)
//
// An empty or "none" driver disables persistence; the engine then runs purely
// in memory.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "postpilot/pkg/logx"
)

var ErrDisabled = errors.New("store disabled")

// Store is the minimal durable KV API consumed by the scheduler.
type Store interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Delete(ctx context.Context, key string) error
	Close() error
}

// Config selects and configures a driver.
type Config struct {
	Driver      string
	Path        string        // file, sqlite
	BusyTimeout time.Duration // sqlite only; 0 means default
	Redis       RedisConfig
}

// RedisConfig configures the redis driver.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Open initializes the configured store. It returns (nil, nil) when storage
// is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "redis":
		return openRedis(cfg, log)
	default:
		return nil, errors.New("unknown store driver: " + driver)
	}
}
