// Package sqlite provides a SQLite-backed exclusion store.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/chabad360/plugins/v2/internal/sqlitemigrate"
	"github.com/chabad360/plugins/v2/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store persists the exclusion set in SQLite, one row per module path.
type Store struct {
	db *sql.DB
}

// Open opens the database at path and applies the embedded migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.Apply(ctx, db, migrations.FS, ""); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// LoadExclusion returns the excluded paths, sorted.
func (s *Store) LoadExclusion(ctx context.Context) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT path FROM excluded_modules ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("query exclusion: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan exclusion: %w", err)
		}
		paths = append(paths, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exclusion: %w", err)
	}
	return paths, nil
}

// SaveExclusion replaces the stored set with paths in one transaction.
// Paths already stored keep their original exclusion time.
func (s *Store) SaveExclusion(ctx context.Context, paths []string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}

	keep := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		if p = strings.TrimSpace(p); p != "" {
			keep[p] = struct{}{}
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin exclusion update: %w", err)
	}
	defer tx.Rollback()

	current, err := queryPaths(ctx, tx)
	if err != nil {
		return err
	}
	for _, p := range current {
		if _, ok := keep[p]; ok {
			delete(keep, p)
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM excluded_modules WHERE path = ?`, p); err != nil {
			return fmt.Errorf("delete exclusion %s: %w", p, err)
		}
	}

	added := make([]string, 0, len(keep))
	for p := range keep {
		added = append(added, p)
	}
	sort.Strings(added)

	now := time.Now().UTC().UnixMilli()
	for _, p := range added {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO excluded_modules (path, excluded_at) VALUES (?, ?)`, p, now,
		); err != nil {
			return fmt.Errorf("insert exclusion %s: %w", p, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit exclusion update: %w", err)
	}
	return nil
}

// ExcludedAt returns when path was added to the set.
func (s *Store) ExcludedAt(ctx context.Context, path string) (time.Time, bool, error) {
	var millis int64
	err := s.db.QueryRowContext(ctx, `SELECT excluded_at FROM excluded_modules WHERE path = ?`, path).Scan(&millis)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query exclusion %s: %w", path, err)
	}
	return time.UnixMilli(millis).UTC(), true, nil
}

func queryPaths(ctx context.Context, tx *sql.Tx) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT path FROM excluded_modules`)
	if err != nil {
		return nil, fmt.Errorf("query exclusion: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan exclusion: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}
