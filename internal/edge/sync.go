package edge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/agrisense/agrisensed/internal/storage"
)

const (
	jobTypePrefix   = "sync:"
	syncMaxAttempts = 5
)

var (
	// ErrSyncDisabled is returned when no job store was configured.
	ErrSyncDisabled = errors.New("background sync not configured")

	ErrInvalidSyncItem = errors.New("invalid sync item")
)

// JobType is the job-queue type for items queued under tag.
func JobType(tag string) string { return jobTypePrefix + tag }

type syncPayload struct {
	ItemID string          `json:"item_id"`
	Tag    string          `json:"tag"`
	Route  string          `json:"route"`
	Body   json.RawMessage `json:"body"`
}

// SyncReport counts the items one Sync call handled.
type SyncReport struct {
	Replayed int `json:"replayed"`
	Retrying int `json:"retrying"`
}

func (in *Intermediary) syncTags() []string {
	tags := make([]string, 0, len(in.manifest.Sync))
	for tag := range in.manifest.Sync {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Enqueue queues body for replay under tag. id is the client's stable item
// ID; queueing the same ID again is a no-op and reports false.
func (in *Intermediary) Enqueue(ctx context.Context, tag, id string, body json.RawMessage) (bool, error) {
	if in.jobs == nil {
		return false, ErrSyncDisabled
	}
	route, ok := in.manifest.Sync[tag]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownTag, tag)
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return false, fmt.Errorf("%w: id is required", ErrInvalidSyncItem)
	}
	if !json.Valid(body) {
		return false, fmt.Errorf("%w: body must be valid JSON", ErrInvalidSyncItem)
	}

	payload, err := json.Marshal(syncPayload{ItemID: id, Tag: tag, Route: route, Body: body})
	if err != nil {
		return false, fmt.Errorf("encoding sync payload: %w", err)
	}
	return in.jobs.EnqueueJob(ctx, storage.Job{
		ID:          tag + "/" + id,
		Type:        JobType(tag),
		PayloadJSON: string(payload),
		MaxAttempts: syncMaxAttempts,
	})
}

// Sync replays every runnable item queued under tag. Items that fail are
// rescheduled by the job queue's backoff and are not retried in this call.
func (in *Intermediary) Sync(ctx context.Context, tag string) (SyncReport, error) {
	var rep SyncReport
	if in.jobs == nil {
		return rep, ErrSyncDisabled
	}
	if _, ok := in.manifest.Sync[tag]; !ok {
		return rep, fmt.Errorf("%w: %s", ErrUnknownTag, tag)
	}
	for {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		job, err := in.jobs.ClaimNextJob(ctx, []string{JobType(tag)})
		if err != nil {
			return rep, fmt.Errorf("claiming sync item: %w", err)
		}
		if job == nil {
			return rep, nil
		}
		done, err := in.runJob(ctx, job)
		if err != nil {
			return rep, err
		}
		if done {
			rep.Replayed++
		} else {
			rep.Retrying++
		}
	}
}

// runJob replays one claimed job and settles it in the queue. It reports
// whether the replay succeeded; the error is for queue failures only.
func (in *Intermediary) runJob(ctx context.Context, job *storage.Job) (bool, error) {
	tag := strings.TrimPrefix(job.Type, jobTypePrefix)
	if rerr := in.replay(ctx, job); rerr != nil {
		in.logger.Warn("sync replay failed", "job_id", job.ID, "attempt", job.Attempts+1, "error", rerr)
		in.syncObserved(tag, "retry")
		if err := in.jobs.FailJob(ctx, job.ID, rerr.Error()); err != nil {
			return false, fmt.Errorf("failing sync item %s: %w", job.ID, err)
		}
		return false, nil
	}
	in.syncObserved(tag, "done")
	if err := in.jobs.CompleteJob(ctx, job.ID); err != nil {
		return true, fmt.Errorf("completing sync item %s: %w", job.ID, err)
	}
	return true, nil
}

func (in *Intermediary) replay(ctx context.Context, job *storage.Job) error {
	var p syncPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Idempotency-Key", p.ItemID)

	e, err := in.fetch(ctx, http.MethodPost, p.Route, header, bytes.NewReader(p.Body))
	if err != nil {
		return err
	}
	// 409 means the origin already holds this item.
	if (e.Status >= 200 && e.Status < 300) || e.Status == http.StatusConflict {
		return nil
	}
	return fmt.Errorf("origin answered HTTP %d for %s", e.Status, p.Route)
}

func (in *Intermediary) syncObserved(tag, result string) {
	if in.observer != nil {
		in.observer.SyncReplayed(tag, result)
	}
}
