// Package pgstore is the PostgreSQL call history backend, for deployments
// where several nodes share one history.
package pgstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/peerline/peerline/internal/call"
	"github.com/peerline/peerline/internal/calllog"
	"github.com/peerline/peerline/internal/signal"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements calllog.Store using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New opens a PostgreSQL connection and runs pending migrations.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgresql: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgresql: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	slog.Info("postgresql call history opened")
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert appends one finished call attempt.
func (s *Store) Insert(ctx context.Context, rec call.HistoryRecord) error {
	var connectedAt sql.NullTime
	if !rec.ConnectedAt.IsZero() {
		connectedAt = sql.NullTime{Time: rec.ConnectedAt, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO calls (session_id, partition_owner, caller_id, callee_id,
		 kind, disposition, started_at, connected_at, ended_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.SessionID, rec.PartitionOwner, rec.CallerID, rec.CalleeID,
		string(rec.Kind), string(rec.Disposition),
		rec.StartedAt.UTC(), connectedAt, rec.EndedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting call record: %w", err)
	}
	return nil
}

// List returns history records matching the filter, newest first, along
// with the total count of matching rows.
func (s *Store) List(ctx context.Context, filter calllog.Filter) ([]call.HistoryRecord, int, error) {
	where := "TRUE"
	args := []any{}

	if filter.Participant != "" {
		args = append(args, filter.Participant)
		where += fmt.Sprintf(" AND (caller_id = $%d OR callee_id = $%d)", len(args), len(args))
	}
	if filter.Disposition != "" {
		args = append(args, string(filter.Disposition))
		where += fmt.Sprintf(" AND disposition = $%d", len(args))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since.UTC())
		where += fmt.Sprintf(" AND started_at >= $%d", len(args))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM calls WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting call records: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)
	query := fmt.Sprintf(`SELECT session_id, partition_owner, caller_id, callee_id,
		 kind, disposition, started_at, connected_at, ended_at
		 FROM calls WHERE %s ORDER BY started_at DESC LIMIT $%d OFFSET $%d`,
		where, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing call records: %w", err)
	}
	defer rows.Close()

	var recs []call.HistoryRecord
	for rows.Next() {
		var rec call.HistoryRecord
		var kind, disposition string
		var connectedAt sql.NullTime
		if err := rows.Scan(&rec.SessionID, &rec.PartitionOwner, &rec.CallerID, &rec.CalleeID,
			&kind, &disposition, &rec.StartedAt, &connectedAt, &rec.EndedAt); err != nil {
			return nil, 0, fmt.Errorf("scanning call record: %w", err)
		}
		rec.Kind = signal.MediaKind(kind)
		rec.Disposition = call.Disposition(disposition)
		if connectedAt.Valid {
			rec.ConnectedAt = connectedAt.Time
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating call record rows: %w", err)
	}
	return recs, total, nil
}

// CountByDisposition returns total call counts grouped by disposition.
func (s *Store) CountByDisposition(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT disposition, COUNT(*) FROM calls GROUP BY disposition")
	if err != nil {
		return nil, fmt.Errorf("counting calls by disposition: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var disposition string
		var n int64
		if err := rows.Scan(&disposition, &n); err != nil {
			return nil, fmt.Errorf("scanning disposition count: %w", err)
		}
		counts[disposition] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating disposition counts: %w", err)
	}
	return counts, nil
}

// migrate runs all pending SQL migration files in order.
func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version := strings.TrimSuffix(entry.Name(), ".sql")

		var count int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = $1", version).Scan(&count); err != nil {
			return fmt.Errorf("checking migration %s: %w", version, err)
		}
		if count > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", version, err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %s: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", version, err)
		}

		slog.Info("applied migration", "version", version)
	}
	return nil
}
