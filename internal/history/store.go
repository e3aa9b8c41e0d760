package history

import (
	"context"
	"fmt"
)

// Backend names accepted by Open
const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Store persists conversation history per user id.
//
// Load returns an empty slice for unknown users. Save replaces the stored
// history with the most recent MaxTurns turns of the given slice, so a Load
// after a Save returns exactly the truncated sequence. Append adds turns to
// the stored history and truncates it in one atomic step, so concurrent
// appends for the same user from separate processes are all kept.
type Store interface {
	Load(ctx context.Context, userID string) ([]Turn, error)
	Save(ctx context.Context, userID string, turns []Turn) error
	Append(ctx context.Context, userID string, turns ...Turn) error
	Ping(ctx context.Context) error
	Close() error
}

// StoreConfig selects and configures a Store backend
type StoreConfig struct {
	Backend  string
	Path     string // file backend document path
	DSN      string // sqlite path or postgres DSN
	MaxTurns int
	Redis    RedisConfig
}

// Open creates the Store named by cfg.Backend
func Open(cfg StoreConfig) (Store, error) {
	switch cfg.Backend {
	case BackendFile, "":
		return NewFileStore(cfg.Path, cfg.MaxTurns)
	case BackendSQLite:
		return NewSQLiteStore(cfg.DSN, cfg.MaxTurns)
	case BackendPostgres:
		return NewPostgresStore(cfg.DSN, cfg.MaxTurns)
	case BackendRedis:
		return NewRedisStore(cfg.Redis, cfg.MaxTurns)
	default:
		return nil, fmt.Errorf("unsupported history backend: %s", cfg.Backend)
	}
}
