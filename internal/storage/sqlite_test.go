package storage

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(versions) == 0 {
		t.Fatal("expected at least one applied migration")
	}
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

func TestSchemaObjectsExist(t *testing.T) {
	s := openTestStore(t)

	objects := map[string]string{
		"kv":                        "table",
		"cache_entries":             "table",
		"jobs":                      "table",
		"idx_jobs_status_run_after": "index",
	}
	for name, typ := range objects {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type=? AND name=?", typ, name).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", name, err)
		}
		if count != 1 {
			t.Errorf("%s %q not found in sqlite_master", typ, name)
		}
	}
}

// --- KV ---

func TestKVRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.GetKV(ctx, KeyNotifications); err != nil || ok {
		t.Fatalf("GetKV on empty store = ok %v, err %v; want missing", ok, err)
	}

	if err := s.SetKV(ctx, KeyNotifications, `[]`); err != nil {
		t.Fatalf("SetKV: %v", err)
	}
	if err := s.SetKV(ctx, KeyNotifications, `[{"id":"a"}]`); err != nil {
		t.Fatalf("SetKV overwrite: %v", err)
	}
	got, ok, err := s.GetKV(ctx, KeyNotifications)
	if err != nil || !ok {
		t.Fatalf("GetKV = ok %v, err %v", ok, err)
	}
	if got != `[{"id":"a"}]` {
		t.Errorf("value = %q, want overwritten value", got)
	}

	if err := s.RemoveKV(ctx, KeyNotifications); err != nil {
		t.Fatalf("RemoveKV: %v", err)
	}
	if _, ok, _ := s.GetKV(ctx, KeyNotifications); ok {
		t.Error("key still present after RemoveKV")
	}
	if err := s.RemoveKV(ctx, "never-set"); err != nil {
		t.Errorf("RemoveKV on missing key: %v", err)
	}
}

func TestApplyKV_Atomic(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SetKV(ctx, KeyNotificationsCleared, "true"); err != nil {
		t.Fatalf("SetKV: %v", err)
	}
	err := s.ApplyKV(ctx,
		KVOp{Key: KeyNotifications, Value: `[{"id":"x"}]`},
		KVOp{Key: KeyNotificationsCleared, Remove: true},
	)
	if err != nil {
		t.Fatalf("ApplyKV: %v", err)
	}
	if _, ok, _ := s.GetKV(ctx, KeyNotificationsCleared); ok {
		t.Error("cleared flag should be removed")
	}
	if v, _, _ := s.GetKV(ctx, KeyNotifications); v != `[{"id":"x"}]` {
		t.Errorf("log = %q", v)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := s.ApplyKV(cancelled, KVOp{Key: KeyNotifications, Value: "lost"}); err == nil {
		t.Error("ApplyKV with cancelled context should fail")
	}
	if v, _, _ := s.GetKV(ctx, KeyNotifications); v != `[{"id":"x"}]` {
		t.Errorf("log changed by failed batch: %q", v)
	}
}

// --- Cache ---

func TestCacheEntryRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.GetCacheEntry(ctx, "v1", "GET /prices"); err != ErrNotFound {
		t.Fatalf("GetCacheEntry on empty = %v, want ErrNotFound", err)
	}

	stored := time.Date(2025, 3, 1, 8, 30, 0, 123, time.UTC)
	e := CacheEntry{
		Key:      "GET /prices",
		Status:   http.StatusOK,
		Header:   http.Header{"Content-Type": {"text/html; charset=utf-8"}},
		Body:     []byte("<h1>prices</h1>"),
		StoredAt: stored,
	}
	if err := s.PutCacheEntry(ctx, "v1", e); err != nil {
		t.Fatalf("PutCacheEntry: %v", err)
	}

	got, err := s.GetCacheEntry(ctx, "v1", "GET /prices")
	if err != nil {
		t.Fatalf("GetCacheEntry: %v", err)
	}
	if got.Status != 200 || string(got.Body) != "<h1>prices</h1>" {
		t.Errorf("got status %d body %q", got.Status, got.Body)
	}
	if got.Header.Get("Content-Type") != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q", got.Header.Get("Content-Type"))
	}
	if !got.StoredAt.Equal(stored) {
		t.Errorf("StoredAt = %v, want %v", got.StoredAt, stored)
	}

	if _, err := s.GetCacheEntry(ctx, "v2", "GET /prices"); err != ErrNotFound {
		t.Errorf("entry leaked across buckets: %v", err)
	}
}

func TestCacheEntryOverwriteAndPrune(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i, body := range []string{"old", "new"} {
		if err := s.PutCacheEntry(ctx, "v1", CacheEntry{Key: "GET /", Status: 200 + i, Body: []byte(body)}); err != nil {
			t.Fatalf("PutCacheEntry: %v", err)
		}
	}
	if err := s.PutCacheEntry(ctx, "v0", CacheEntry{Key: "GET /", Status: 200, Body: []byte("stale")}); err != nil {
		t.Fatalf("PutCacheEntry v0: %v", err)
	}

	got, err := s.GetCacheEntry(ctx, "v1", "GET /")
	if err != nil {
		t.Fatalf("GetCacheEntry: %v", err)
	}
	if string(got.Body) != "new" || got.Status != 201 {
		t.Errorf("got %d %q, want 201 new", got.Status, got.Body)
	}

	n, err := s.CountCacheEntries(ctx, "v1")
	if err != nil || n != 1 {
		t.Errorf("CountCacheEntries = %d, %v; want 1", n, err)
	}

	removed, err := s.DeleteCacheBucketsExcept(ctx, "v1")
	if err != nil {
		t.Fatalf("DeleteCacheBucketsExcept: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
}

func TestCacheConcurrentWriters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			body := []byte(fmt.Sprintf("body-%02d", i))
			if err := s.PutCacheEntry(ctx, "v1", CacheEntry{Key: "GET /journal", Status: 200, Body: body}); err != nil {
				t.Errorf("PutCacheEntry: %v", err)
			}
			if _, err := s.GetCacheEntry(ctx, "v1", "GET /journal"); err != nil {
				t.Errorf("GetCacheEntry: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := s.GetCacheEntry(ctx, "v1", "GET /journal")
	if err != nil {
		t.Fatalf("GetCacheEntry: %v", err)
	}
	if len(got.Body) != len("body-00") {
		t.Errorf("torn body %q", got.Body)
	}
}

// --- Jobs ---

func TestEnqueueAndClaimJob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	job := Job{
		ID:          "j-claim-1",
		Type:        "sync:sync-journal-entries",
		PayloadJSON: `{"entry":"e1"}`,
	}
	inserted, err := s.EnqueueJob(ctx, job)
	if err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if !inserted {
		t.Fatal("first EnqueueJob should insert")
	}

	got, err := s.ClaimNextJob(ctx, []string{"sync:sync-journal-entries"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got == nil {
		t.Fatal("ClaimNextJob returned nil")
	}
	if got.ID != "j-claim-1" {
		t.Errorf("ID = %q, want %q", got.ID, "j-claim-1")
	}
	if got.PayloadJSON != `{"entry":"e1"}` {
		t.Errorf("PayloadJSON = %q", got.PayloadJSON)
	}
	if got.Status != "running" {
		t.Errorf("Status = %q, want %q", got.Status, "running")
	}
	if got.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", got.MaxAttempts)
	}
}

func TestEnqueueJob_DuplicateIDIsNoop(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.EnqueueJob(ctx, Job{ID: "dup", Type: "x", PayloadJSON: `{"v":1}`}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	inserted, err := s.EnqueueJob(ctx, Job{ID: "dup", Type: "x", PayloadJSON: `{"v":2}`})
	if err != nil {
		t.Fatalf("second EnqueueJob: %v", err)
	}
	if inserted {
		t.Error("duplicate ID should not insert")
	}

	got, err := s.ClaimNextJob(ctx, []string{"x"})
	if err != nil || got == nil {
		t.Fatalf("ClaimNextJob = %v, %v", got, err)
	}
	if got.PayloadJSON != `{"v":1}` {
		t.Errorf("payload replaced by duplicate: %q", got.PayloadJSON)
	}
	if again, _ := s.ClaimNextJob(ctx, []string{"x"}); again != nil {
		t.Errorf("second claim returned %+v", again)
	}
}

func TestClaimNextJob_Empty(t *testing.T) {
	s := openTestStore(t)

	got, err := s.ClaimNextJob(context.Background(), []string{"x"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
	if got, _ := s.ClaimNextJob(context.Background(), nil); got != nil {
		t.Errorf("no types should claim nothing, got %+v", got)
	}
}

func TestClaimNextJob_RespectRunAfter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	job := Job{ID: "j-future", Type: "x", PayloadJSON: `{}`, RunAfter: time.Now().UTC().Add(time.Hour)}
	if _, err := s.EnqueueJob(ctx, job); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	got, err := s.ClaimNextJob(ctx, []string{"x"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for future run_after, got %+v", got)
	}
}

func TestClaimNextJob_TypeFilter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, j := range []Job{{ID: "j-a", Type: "a", PayloadJSON: `{}`}, {ID: "j-b", Type: "b", PayloadJSON: `{}`}} {
		if _, err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatalf("EnqueueJob %s: %v", j.ID, err)
		}
	}

	got, err := s.ClaimNextJob(ctx, []string{"b"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got == nil || got.Type != "b" {
		t.Fatalf("got %+v, want job of type b", got)
	}
}

func TestCompleteJob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.EnqueueJob(ctx, Job{ID: "j-complete", Type: "x", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := s.ClaimNextJob(ctx, []string{"x"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if err := s.CompleteJob(ctx, "j-complete"); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	if n, _ := s.CountJobs(ctx, "x", "completed"); n != 1 {
		t.Errorf("completed count = %d, want 1", n)
	}
	if err := s.CompleteJob(ctx, "missing"); err != ErrNotFound {
		t.Errorf("CompleteJob(missing) = %v, want ErrNotFound", err)
	}
}

func TestFailJob_Backoff(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.EnqueueJob(ctx, Job{ID: "j-backoff", Type: "x", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := s.ClaimNextJob(ctx, []string{"x"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}

	before := time.Now().UTC()
	if err := s.FailJob(ctx, "j-backoff", "origin unreachable"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	var status, lastError, runAfterStr string
	var attempts int
	if err := s.db.QueryRow(`SELECT status, attempts, last_error, run_after FROM jobs WHERE id = 'j-backoff'`).
		Scan(&status, &attempts, &lastError, &runAfterStr); err != nil {
		t.Fatalf("SELECT: %v", err)
	}
	if status != "pending" || attempts != 1 || lastError != "origin unreachable" {
		t.Errorf("got status=%q attempts=%d last_error=%q", status, attempts, lastError)
	}
	runAfter, err := time.Parse(time.RFC3339, runAfterStr)
	if err != nil {
		t.Fatalf("parsing run_after: %v", err)
	}
	if !runAfter.After(before) {
		t.Errorf("run_after %v should be after %v", runAfter, before)
	}

	// Backed-off job is not claimable yet.
	if got, _ := s.ClaimNextJob(ctx, []string{"x"}); got != nil {
		t.Errorf("claimed backed-off job %+v", got)
	}
}

func TestFailJob_MaxAttemptsReached(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.EnqueueJob(ctx, Job{ID: "j-fail-max", Type: "x", PayloadJSON: `{}`, MaxAttempts: 1}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := s.ClaimNextJob(ctx, []string{"x"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if err := s.FailJob(ctx, "j-fail-max", "fatal"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	if n, _ := s.CountJobs(ctx, "x", "failed"); n != 1 {
		t.Errorf("failed count = %d, want 1", n)
	}
	if err := s.FailJob(ctx, "missing", "x"); err != ErrNotFound {
		t.Errorf("FailJob(missing) = %v, want ErrNotFound", err)
	}
}

func TestRequeueRunningJobs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.EnqueueJob(ctx, Job{ID: "j-crash", Type: "x", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := s.ClaimNextJob(ctx, []string{"x"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}

	n, err := s.RequeueRunningJobs(ctx)
	if err != nil {
		t.Fatalf("RequeueRunningJobs: %v", err)
	}
	if n != 1 {
		t.Errorf("requeued %d, want 1", n)
	}
	got, err := s.ClaimNextJob(ctx, []string{"x"})
	if err != nil || got == nil || got.ID != "j-crash" {
		t.Errorf("ClaimNextJob after requeue = %+v, %v", got, err)
	}
}
