package signal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Adapter layers call-level policy on top of a raw Mailbox: partition
// resolution via the Directory, and delayed cleanup of terminal records.
type Adapter struct {
	Mailbox
	dir    Directory
	logger *slog.Logger

	mu       sync.Mutex
	cleanups map[Ref]*time.Timer
}

// NewAdapter creates a signaling adapter over the given mailbox and directory.
func NewAdapter(mb Mailbox, dir Directory, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		Mailbox:  mb,
		dir:      dir,
		logger:   logger.With("subsystem", "signal"),
		cleanups: make(map[Ref]*time.Timer),
	}
}

// Directory returns the directory the adapter resolves partitions against.
func (a *Adapter) Directory() Directory { return a.dir }

// ResolvePartition decides which mailbox partition a call between callerID
// and calleeID lives under: the caller's own partition when the caller is a
// directory-registered owner, otherwise the callee's. If neither party owns
// a partition the call cannot be stored and ErrPartitionNotFound is returned.
func (a *Adapter) ResolvePartition(ctx context.Context, callerID, calleeID string) (string, error) {
	owner, ok, err := a.dir.FindPartitionOwner(ctx, callerID)
	if err != nil {
		return "", fmt.Errorf("looking up caller %q: %w", callerID, err)
	}
	if ok {
		return owner, nil
	}

	owner, ok, err = a.dir.FindPartitionOwner(ctx, calleeID)
	if err != nil {
		return "", fmt.Errorf("looking up callee %q: %w", calleeID, err)
	}
	if ok {
		return owner, nil
	}

	return "", fmt.Errorf("%w: caller=%q callee=%q", ErrPartitionNotFound, callerID, calleeID)
}

// ScheduleCleanup deletes the session record after the given delay. The
// grace period tolerates slow or duplicate reads of the terminal record.
// Deletion failures (record already gone) are swallowed. Scheduling cleanup
// twice for the same session resets the timer rather than stacking two.
func (a *Adapter) ScheduleCleanup(ref Ref, after time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if t, ok := a.cleanups[ref]; ok {
		t.Stop()
	}
	a.cleanups[ref] = time.AfterFunc(after, func() {
		a.mu.Lock()
		delete(a.cleanups, ref)
		a.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.DeleteSession(ctx, ref); err != nil {
			a.logger.Debug("session cleanup delete failed",
				"session_id", ref.SessionID,
				"partition", ref.PartitionOwner,
				"error", err,
			)
			return
		}
		a.logger.Debug("session record cleaned up",
			"session_id", ref.SessionID,
			"partition", ref.PartitionOwner,
		)
	})
}

// Close cancels all pending cleanup timers. Records left behind are expired
// by the staleness sweep on a later run.
func (a *Adapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for ref, t := range a.cleanups {
		t.Stop()
		delete(a.cleanups, ref)
	}
}
