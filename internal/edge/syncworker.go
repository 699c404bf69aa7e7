package edge

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Connectivity reports whether the origin is worth trying.
type Connectivity interface {
	Online(ctx context.Context) bool
}

// SyncWorker drains every sync tag's queue while the device is online.
type SyncWorker struct {
	in     *Intermediary
	conn   Connectivity
	poll   time.Duration
	logger *slog.Logger
}

// NewSyncWorker creates a SyncWorker. A nil conn counts as always online.
// If pollInterval is <= 0, it defaults to 2s.
func NewSyncWorker(in *Intermediary, conn Connectivity, pollInterval time.Duration) *SyncWorker {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &SyncWorker{
		in:     in,
		conn:   conn,
		poll:   pollInterval,
		logger: slog.Default(),
	}
}

// Run polls for sync items until ctx is cancelled.
func (w *SyncWorker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("sync worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and replays a single sync item.
// Returns true if an item was processed (regardless of success/failure).
func (w *SyncWorker) RunOnce(ctx context.Context) (bool, error) {
	if w.in.jobs == nil {
		return false, nil
	}
	if w.conn != nil && !w.conn.Online(ctx) {
		return false, nil
	}

	tags := w.in.syncTags()
	types := make([]string, len(tags))
	for i, tag := range tags {
		types[i] = JobType(tag)
	}
	job, err := w.in.jobs.ClaimNextJob(ctx, types)
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if _, err := w.in.runJob(ctx, job); err != nil {
		return true, err
	}
	return true, nil
}
