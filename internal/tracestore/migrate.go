package tracestore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"time"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate applies embedded migrations that are not yet recorded in
// schema_migrations, in file name order. It returns the applied file names.
func (s *SQLStore) Migrate(ctx context.Context) ([]string, error) {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	files, err := fs.Glob(migrationFS, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(files)

	var applied []string
	for _, path := range files {
		name := path[len("migrations/"):]
		var existing string
		err := s.db.QueryRowContext(ctx, s.rebind(
			`SELECT filename FROM schema_migrations WHERE filename = ?`), name).Scan(&existing)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return applied, fmt.Errorf("check migration %s: %w", name, err)
		}

		script, err := migrationFS.ReadFile(path)
		if err != nil {
			return applied, fmt.Errorf("read migration %s: %w", name, err)
		}
		if err := s.applyMigration(ctx, name, string(script)); err != nil {
			return applied, err
		}
		slog.Info("Applied migration", "file", name)
		applied = append(applied, name)
	}
	return applied, nil
}

func (s *SQLStore) applyMigration(ctx context.Context, name, script string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", name, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("apply migration %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(
		`INSERT INTO schema_migrations (filename, applied_at) VALUES (?, ?)`),
		name, time.Now().UTC().Format(timeLayout)); err != nil {
		return fmt.Errorf("record migration %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", name, err)
	}
	return nil
}
