// Package calllog persists finished call attempts so the history survives
// restarts. SQLite is the default backend; a PostgreSQL backend lives in
// the pgstore subpackage for multi-node deployments.
package calllog

import (
	"context"
	"log/slog"
	"time"

	"github.com/peerline/peerline/internal/call"
)

// Store is the persistence surface for call history.
type Store interface {
	Insert(ctx context.Context, rec call.HistoryRecord) error
	List(ctx context.Context, filter Filter) ([]call.HistoryRecord, int, error)
	CountByDisposition(ctx context.Context) (map[string]int64, error)
	Close() error
}

// Filter narrows a history listing. Zero values mean "no constraint";
// Limit defaults to 50.
type Filter struct {
	Participant string // matches caller or callee
	Disposition call.Disposition
	Since       time.Time
	Limit       int
	Offset      int
}

func (f Filter) limit() int {
	if f.Limit <= 0 {
		return 50
	}
	return f.Limit
}

// Recorder adapts a Store to the call manager's fire-and-forget history
// sink. Inserts run on the caller's goroutine with a short timeout;
// failures are logged, never propagated. History is best effort.
type Recorder struct {
	store  Store
	logger *slog.Logger
}

// NewRecorder wraps a store for use as a history sink.
func NewRecorder(store Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, logger: logger.With("subsystem", "calllog")}
}

func (r *Recorder) RecordCall(rec call.HistoryRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.store.Insert(ctx, rec); err != nil {
		r.logger.Error("recording call", "session_id", rec.SessionID, "error", err)
	}
}
