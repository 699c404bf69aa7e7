package edge

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/agrisense/agrisensed/internal/storage"
)

// CacheName is the bucket the current build writes to. Activate prunes
// every other bucket.
const CacheName = "offline-cache-v1"

// ErrCacheMiss is returned by Cache.Get when no entry exists for a key.
var ErrCacheMiss = errors.New("edge cache miss")

// Entry is one stored response.
type Entry struct {
	Key      string
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// Cache stores responses by key. Implementations must be safe for
// concurrent use and must never expose a partially written entry.
type Cache interface {
	Get(ctx context.Context, key string) (Entry, error)
	Put(ctx context.Context, e Entry) error
	Len(ctx context.Context) (int, error)
}

// pruner is implemented by caches that can drop stale buckets.
type pruner interface {
	Prune(ctx context.Context) (int64, error)
}

// CacheStore is the persistence SQLCache needs. Implemented by storage.Store.
type CacheStore interface {
	GetCacheEntry(ctx context.Context, bucket, key string) (storage.CacheEntry, error)
	PutCacheEntry(ctx context.Context, bucket string, e storage.CacheEntry) error
	CountCacheEntries(ctx context.Context, bucket string) (int, error)
	DeleteCacheBucketsExcept(ctx context.Context, keep string) (int64, error)
}

// SQLCache keeps entries in the SQLite cache table under one bucket.
type SQLCache struct {
	store  CacheStore
	bucket string
}

func NewSQLCache(store CacheStore, bucket string) *SQLCache {
	if bucket == "" {
		bucket = CacheName
	}
	return &SQLCache{store: store, bucket: bucket}
}

func (c *SQLCache) Get(ctx context.Context, key string) (Entry, error) {
	e, err := c.store.GetCacheEntry(ctx, c.bucket, key)
	if errors.Is(err, storage.ErrNotFound) {
		return Entry{}, ErrCacheMiss
	}
	if err != nil {
		return Entry{}, err
	}
	return Entry(e), nil
}

func (c *SQLCache) Put(ctx context.Context, e Entry) error {
	return c.store.PutCacheEntry(ctx, c.bucket, storage.CacheEntry(e))
}

func (c *SQLCache) Len(ctx context.Context) (int, error) {
	return c.store.CountCacheEntries(ctx, c.bucket)
}

// Prune deletes every bucket other than this cache's.
func (c *SQLCache) Prune(ctx context.Context) (int64, error) {
	return c.store.DeleteCacheBucketsExcept(ctx, c.bucket)
}

// MemoryCache is an in-process Cache, used when no data directory is
// configured and in tests.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]Entry)}
}

func (c *MemoryCache) Get(_ context.Context, key string) (Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok {
		return Entry{}, ErrCacheMiss
	}
	return cloneEntry(e), nil
}

func (c *MemoryCache) Put(_ context.Context, e Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[e.Key] = cloneEntry(e)
	return nil
}

func (c *MemoryCache) Len(context.Context) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries), nil
}

func cloneEntry(e Entry) Entry {
	e.Header = e.Header.Clone()
	e.Body = append([]byte(nil), e.Body...)
	return e
}
