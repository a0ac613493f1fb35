package tracestore

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Store is the persistence capability shared by every backend.
// Getters return (nil, nil) when the key is absent.
type Store interface {
	// SaveTrace upserts by trace id. When the trace carries a response it is
	// also made visible to GetIdempotency under its idempotency key.
	SaveTrace(ctx context.Context, t *Trace) error
	GetTrace(ctx context.Context, traceID string) (*Trace, error)
	GetIdempotency(ctx context.Context, messageID string) (*IdempotencyRecord, error)
	SaveIdempotency(ctx context.Context, rec IdempotencyRecord) error
	GetConversationState(ctx context.Context, senderKey string) (*ConversationState, error)
	SaveConversationState(ctx context.Context, senderKey string, state ConversationState) error
	Close() error
}

// Claimer is implemented by backends that can atomically reserve a message
// id across processes.
type Claimer interface {
	// Claim reports true when the caller now owns messageID for ttl.
	Claim(ctx context.Context, messageID string, ttl time.Duration) (bool, error)
	// Release drops a claim early.
	Release(ctx context.Context, messageID string) error
}

// Modes accepted by Open.
const (
	ModeMemory   = "memory"
	ModeFile     = "file"
	ModeSQL      = "sql"
	ModePostgres = "postgres"
	ModeRedis    = "redis"
	ModeBolt     = "bolt"
)

// Options selects and configures a backend.
type Options struct {
	Mode string
	// Path is the NDJSON log for file mode and the database file for bolt mode.
	Path string
	// Driver is the database/sql driver for sql mode: sqlite, sqlite3 or pgx.
	Driver      string
	DSN         string
	AutoMigrate bool
	RedisURL    string
	KeyPrefix   string
	TTL         time.Duration
}

// Open builds the configured backend. The choice is made once at startup.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Mode)) {
	case ModeMemory:
		return NewMemoryStore(), nil
	case "", ModeFile:
		return OpenFile(opts.Path)
	case ModeSQL, ModePostgres:
		driver := opts.Driver
		if strings.EqualFold(opts.Mode, ModePostgres) {
			driver = DriverPgx
		}
		s, err := OpenSQL(ctx, driver, opts.DSN)
		if err != nil {
			return nil, err
		}
		if opts.AutoMigrate {
			if _, err := s.Migrate(ctx); err != nil {
				_ = s.Close()
				return nil, err
			}
		}
		return s, nil
	case ModeRedis:
		return OpenRedis(ctx, opts.RedisURL, opts.KeyPrefix, opts.TTL)
	case ModeBolt:
		return OpenBolt(opts.Path)
	default:
		return nil, fmt.Errorf("unknown trace store mode %q", opts.Mode)
	}
}
