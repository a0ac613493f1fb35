package tracestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/scalytics/skytext/internal/weather"
)

// database/sql driver names accepted by OpenSQL.
const (
	DriverSQLite  = "sqlite"  // modernc.org/sqlite, pure Go
	DriverSQLite3 = "sqlite3" // github.com/mattn/go-sqlite3, cgo
	DriverPgx     = "pgx"     // github.com/jackc/pgx/v5/stdlib
)

const timeLayout = time.RFC3339Nano

// SQLStore is the relational backend. Every write is a single-row upsert.
type SQLStore struct {
	db     *sql.DB
	driver string
}

type tracePayload struct {
	Input  Input   `json:"input"`
	Output *Output `json:"output,omitempty"`
	Events []Event `json:"events"`
}

// OpenSQL connects with the given driver. For the sqlite drivers dsn may be a
// plain file path.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	if driver == "" {
		driver = DriverSQLite
	}
	if driver == "postgres" || driver == "postgresql" {
		driver = DriverPgx
	}
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sql store: dsn is required")
	}

	source := dsn
	switch driver {
	case DriverSQLite:
		if !strings.HasPrefix(dsn, "file:") {
			if err := ensureDir(dsn); err != nil {
				return nil, err
			}
			source = "file:" + dsn + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
		}
	case DriverSQLite3:
		if !strings.HasPrefix(dsn, "file:") && !strings.Contains(dsn, "?") {
			if err := ensureDir(dsn); err != nil {
				return nil, err
			}
			source = dsn + "?_journal_mode=WAL&_busy_timeout=5000"
		}
	case DriverPgx:
	default:
		return nil, fmt.Errorf("sql store: unsupported driver %q", driver)
	}

	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace db: %w", err)
	}
	if driver != DriverPgx {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to trace db: %w", err)
	}
	return &SQLStore{db: db, driver: driver}, nil
}

func ensureDir(path string) error {
	if path == ":memory:" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create db dir: %w", err)
	}
	return nil
}

// DB exposes the connection for migrations and tests.
func (s *SQLStore) DB() *sql.DB { return s.db }

func (s *SQLStore) Close() error { return s.db.Close() }

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPgx {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) SaveTrace(ctx context.Context, t *Trace) error {
	payload, err := json.Marshal(tracePayload{Input: t.Input, Output: t.Output, Events: t.Events})
	if err != nil {
		return fmt.Errorf("encode trace: %w", err)
	}
	var weatherJSON any
	if t.Output != nil && t.Output.WeatherSnapshot != nil {
		raw, err := json.Marshal(t.Output.WeatherSnapshot)
		if err != nil {
			return fmt.Errorf("encode weather: %w", err)
		}
		weatherJSON = string(raw)
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`
	INSERT INTO traces (trace_id, sender_hash, events_json, recorded_weather_json, created_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT (trace_id) DO UPDATE SET
		sender_hash = EXCLUDED.sender_hash,
		events_json = EXCLUDED.events_json,
		recorded_weather_json = EXCLUDED.recorded_weather_json,
		created_at = EXCLUDED.created_at`),
		t.TraceID, nullString(t.Input.FromHash), string(payload), weatherJSON, t.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("save trace: %w", err)
	}
	if rec, ok := t.Idempotency(); ok {
		return s.SaveIdempotency(ctx, rec)
	}
	return nil
}

func (s *SQLStore) GetTrace(ctx context.Context, traceID string) (*Trace, error) {
	var payload, createdAt string
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT events_json, created_at FROM traces WHERE trace_id = ?`), traceID).Scan(&payload, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get trace: %w", err)
	}
	var p tracePayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, fmt.Errorf("decode trace %s: %w", traceID, err)
	}
	created, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse trace created_at: %w", err)
	}
	return &Trace{
		TraceID:        traceID,
		CreatedAt:      created,
		Input:          p.Input,
		Events:         p.Events,
		Output:         p.Output,
		IdempotencyKey: p.Input.MessageID,
	}, nil
}

func (s *SQLStore) GetIdempotency(ctx context.Context, messageID string) (*IdempotencyRecord, error) {
	var rec IdempotencyRecord
	var sender sql.NullString
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT message_id, sender_hash, trace_id, response_text FROM messages WHERE message_id = ?`), messageID).
		Scan(&rec.MessageID, &sender, &rec.TraceID, &rec.ResponseText)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get idempotency record: %w", err)
	}
	rec.SenderHash = sender.String
	return &rec, nil
}

func (s *SQLStore) SaveIdempotency(ctx context.Context, rec IdempotencyRecord) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
	INSERT INTO messages (message_id, sender_hash, trace_id, response_text)
	VALUES (?, ?, ?, ?)
	ON CONFLICT (message_id) DO UPDATE SET
		sender_hash = EXCLUDED.sender_hash,
		trace_id = EXCLUDED.trace_id,
		response_text = EXCLUDED.response_text`),
		rec.MessageID, nullString(rec.SenderHash), rec.TraceID, rec.ResponseText)
	if err != nil {
		return fmt.Errorf("save idempotency record: %w", err)
	}
	return nil
}

func (s *SQLStore) GetConversationState(ctx context.Context, senderKey string) (*ConversationState, error) {
	var name sql.NullString
	var lat, lon sql.NullFloat64
	var updatedAt string
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT last_location_name, last_lat, last_lon, updated_at FROM conversations WHERE sender_hash = ?`), senderKey).
		Scan(&name, &lat, &lon, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation state: %w", err)
	}
	updated, err := time.Parse(timeLayout, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse conversation updated_at: %w", err)
	}
	st := &ConversationState{UpdatedAt: updated}
	if name.Valid {
		st.LastLocation = &weather.Location{Name: name.String, Latitude: lat.Float64, Longitude: lon.Float64}
	}
	return st, nil
}

func (s *SQLStore) SaveConversationState(ctx context.Context, senderKey string, state ConversationState) error {
	var name, lat, lon any
	if loc := state.LastLocation; loc != nil {
		name, lat, lon = loc.Name, loc.Latitude, loc.Longitude
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
	INSERT INTO conversations (sender_hash, last_location_name, last_lat, last_lon, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT (sender_hash) DO UPDATE SET
		last_location_name = EXCLUDED.last_location_name,
		last_lat = EXCLUDED.last_lat,
		last_lon = EXCLUDED.last_lon,
		updated_at = EXCLUDED.updated_at`),
		senderKey, name, lat, lon, state.UpdatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("save conversation state: %w", err)
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
