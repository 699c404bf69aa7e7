package storage

import (
	"errors"
	"net/http"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Well-known keys of the key-value table.
const (
	KeyNotifications        = "agrisense_notifications"
	KeyNotificationsCleared = "agrisense_notifications_cleared"
	KeyPermission           = "agrisense_notification_permission"
	KeyCacheManifest        = "agrisense_cache_manifest"
)

// KVOp is one write in an ApplyKV batch. Remove deletes Key and ignores Value.
type KVOp struct {
	Key    string
	Value  string
	Remove bool
}

// CacheEntry is a stored edge response.
type CacheEntry struct {
	Key      string
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
