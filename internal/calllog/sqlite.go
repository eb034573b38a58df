package calllog

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/peerline/peerline/internal/call"
	"github.com/peerline/peerline/internal/signal"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore persists call history in a single-file SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates or opens the history database under dataDir with WAL mode
// enabled and runs any pending migrations.
func Open(dataDir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "peerline.db")
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)", dbPath)

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// SQLite performs best with a single writer connection.
	sqlDB.SetMaxOpenConns(1)

	s := &SQLiteStore{db: sqlDB}
	if err := s.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	slog.Info("call history database opened", "path", dbPath)
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Insert appends one finished call attempt.
func (s *SQLiteStore) Insert(ctx context.Context, rec call.HistoryRecord) error {
	var connectedAt sql.NullTime
	if !rec.ConnectedAt.IsZero() {
		connectedAt = sql.NullTime{Time: rec.ConnectedAt, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO calls (session_id, partition_owner, caller_id, callee_id,
		 kind, disposition, started_at, connected_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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
func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]call.HistoryRecord, int, error) {
	where := "1=1"
	args := []any{}

	if filter.Participant != "" {
		where += " AND (caller_id = ? OR callee_id = ?)"
		args = append(args, filter.Participant, filter.Participant)
	}
	if filter.Disposition != "" {
		where += " AND disposition = ?"
		args = append(args, string(filter.Disposition))
	}
	if !filter.Since.IsZero() {
		where += " AND started_at >= ?"
		args = append(args, filter.Since.UTC())
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM calls WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting call records: %w", err)
	}

	query := `SELECT session_id, partition_owner, caller_id, callee_id,
		 kind, disposition, started_at, connected_at, ended_at
		 FROM calls WHERE ` + where + ` ORDER BY started_at DESC LIMIT ? OFFSET ?`
	args = append(args, filter.limit(), filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing call records: %w", err)
	}
	defer rows.Close()

	var recs []call.HistoryRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating call record rows: %w", err)
	}
	return recs, total, nil
}

// CountByDisposition returns total call counts grouped by disposition.
func (s *SQLiteStore) CountByDisposition(ctx context.Context) (map[string]int64, error) {
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

// Prune deletes records whose call ended before the cutoff and reports
// how many were removed.
func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM calls WHERE ended_at < ?", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("pruning call records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned records: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at DATETIME DEFAULT (datetime('now'))
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
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", version).Scan(&count); err != nil {
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
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (call.HistoryRecord, error) {
	var rec call.HistoryRecord
	var kind, disposition string
	var connectedAt sql.NullTime
	err := row.Scan(&rec.SessionID, &rec.PartitionOwner, &rec.CallerID, &rec.CalleeID,
		&kind, &disposition, &rec.StartedAt, &connectedAt, &rec.EndedAt)
	if err != nil {
		return rec, fmt.Errorf("scanning call record: %w", err)
	}
	rec.Kind = signal.MediaKind(kind)
	rec.Disposition = call.Disposition(disposition)
	if connectedAt.Valid {
		rec.ConnectedAt = connectedAt.Time
	}
	return rec, nil
}
