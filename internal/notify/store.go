// Package notify keeps the bounded, persisted notification log and relays
// new records to the platform alert surface.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agrisense/agrisensed/internal/storage"
)

// KV is the persistence the Store needs. Implemented by storage.Store.
type KV interface {
	GetKV(ctx context.Context, key string) (string, bool, error)
	ApplyKV(ctx context.Context, ops ...storage.KVOp) error
}

var demoDrafts = []Draft{
	{Title: "💧 Moisture Alert", Body: "Soil moisture at 62%, below optimal. Consider irrigation.", Icon: "💧", URL: "/"},
	{Title: "📈 Price Update", Body: "Wheat prices up 4.2% in your region today.", Icon: "📈", URL: "/prices"},
	{Title: "🌧️ Rain Forecast", Body: "Rain expected Thursday, skip irrigation on Wednesday.", Icon: "🌧️", URL: "/weather"},
	{Title: "🤖 AI Advisor", Body: "New recommendations ready based on your sensor data.", Icon: "🤖", URL: "/advisor"},
}

// Store is the notification log. All mutations are serialized and each one
// is persisted in a single KV batch.
type Store struct {
	kv      KV
	alerter Alerter
	clock   Clock
	logger  *slog.Logger
	newID   func() string

	mu         sync.Mutex
	loaded     bool
	records    []Record
	permission Permission
}

// New creates a Store. permission is the platform state at startup; it is
// refined by a previously cached decision on Load.
func New(kv KV, alerter Alerter, permission Permission) *Store {
	return NewWithClock(kv, alerter, permission, realClock{})
}

// NewWithClock creates a Store with a custom clock (for testing).
func NewWithClock(kv KV, alerter Alerter, permission Permission, clock Clock) *Store {
	if permission == "" {
		permission = PermissionDefault
	}
	return &Store{
		kv:         kv,
		alerter:    alerter,
		clock:      clock,
		logger:     slog.Default(),
		newID:      func() string { return uuid.New().String() },
		permission: permission,
	}
}

// Load reads the persisted log. A missing log with no cleared flag is seeded
// with the demo records; a corrupt log is logged and treated as empty.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx)
}

func (s *Store) ensureLoaded(ctx context.Context) error {
	if s.loaded {
		return nil
	}
	return s.loadLocked(ctx)
}

func (s *Store) loadLocked(ctx context.Context) error {
	if err := s.loadPermissionLocked(ctx); err != nil {
		return err
	}

	raw, ok, err := s.kv.GetKV(ctx, storage.KeyNotifications)
	if err != nil {
		return fmt.Errorf("loading notifications: %w", err)
	}
	if ok {
		records, err := decodeRecords(raw)
		if err != nil {
			s.logger.Warn("notification log unreadable, starting empty", "error", err)
			records = nil
		}
		s.records = records
		s.loaded = true
		return nil
	}

	_, cleared, err := s.kv.GetKV(ctx, storage.KeyNotificationsCleared)
	if err != nil {
		return fmt.Errorf("loading cleared flag: %w", err)
	}
	if cleared {
		s.records = nil
		s.loaded = true
		return nil
	}

	now := s.clock.Now()
	seeded := make([]Record, len(demoDrafts))
	for i, d := range demoDrafts {
		seeded[i] = Record{
			ID:        fmt.Sprintf("demo-%d", i),
			Title:     d.Title,
			Body:      d.Body,
			Icon:      d.Icon,
			URL:       d.URL,
			Timestamp: now.Add(-time.Duration(i) * time.Hour),
		}
	}
	if err := s.persistLocked(ctx, seeded, storage.KVOp{Key: storage.KeyNotificationsCleared, Remove: true}); err != nil {
		return err
	}
	s.loaded = true
	return nil
}

func (s *Store) loadPermissionLocked(ctx context.Context) error {
	if s.permission == PermissionUnsupported {
		return nil
	}
	raw, ok, err := s.kv.GetKV(ctx, storage.KeyPermission)
	if err != nil {
		return fmt.Errorf("loading permission: %w", err)
	}
	if !ok || s.permission != PermissionDefault {
		return nil
	}
	p, err := ParsePermission(raw)
	if err != nil {
		s.logger.Warn("ignoring cached notification permission", "error", err)
		return nil
	}
	s.permission = p
	return nil
}

func decodeRecords(raw string) ([]Record, error) {
	var records []Record
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if len(records) > MaxRecords {
		records = records[:MaxRecords]
	}
	return records, nil
}

// persistLocked writes records plus any extra ops in one batch and, on
// success, makes records the in-memory log.
func (s *Store) persistLocked(ctx context.Context, records []Record, extra ...storage.KVOp) error {
	if records == nil {
		records = []Record{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encoding notifications: %w", err)
	}
	ops := append([]storage.KVOp{{Key: storage.KeyNotifications, Value: string(data)}}, extra...)
	if err := s.kv.ApplyKV(ctx, ops...); err != nil {
		return fmt.Errorf("saving notifications: %w", err)
	}
	s.records = records
	return nil
}

// Append records d without surfacing a platform alert.
func (s *Store) Append(ctx context.Context, d Draft) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(ctx); err != nil {
		return Record{}, err
	}

	rec := Record{
		ID:        s.newID(),
		Title:     d.Title,
		Body:      d.Body,
		Icon:      d.Icon,
		URL:       d.URL,
		Timestamp: s.clock.Now(),
	}
	next := make([]Record, 0, MaxRecords)
	next = append(next, rec)
	next = append(next, s.records...)
	if len(next) > MaxRecords {
		next = next[:MaxRecords]
	}
	if err := s.persistLocked(ctx, next, storage.KVOp{Key: storage.KeyNotificationsCleared, Remove: true}); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Add records d and, when permission is granted, shows it as a platform
// alert. A failed alert is logged and does not fail Add.
func (s *Store) Add(ctx context.Context, d Draft) (Record, error) {
	rec, err := s.Append(ctx, d)
	if err != nil {
		return Record{}, err
	}
	if s.Permission() == PermissionGranted && s.alerter != nil {
		if err := s.alerter.Show(ctx, alertFromDraft(d)); err != nil {
			s.logger.Warn("platform alert failed", "title", d.Title, "error", err)
		}
	}
	return rec, nil
}

func (s *Store) MarkAllRead(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}
	next := make([]Record, len(s.records))
	for i, r := range s.records {
		r.Read = true
		next[i] = r
	}
	return s.persistLocked(ctx, next)
}

// ClearAll empties the log and sets the cleared flag so that a later Load
// does not reseed the demo records.
func (s *Store) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.persistLocked(ctx, nil, storage.KVOp{Key: storage.KeyNotificationsCleared, Value: "true"}); err != nil {
		return err
	}
	s.loaded = true
	return nil
}

// List returns a copy of the log, newest first.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out, nil
}

func (s *Store) UnreadCount(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(ctx); err != nil {
		return 0, err
	}
	n := 0
	for _, r := range s.records {
		if !r.Read {
			n++
		}
	}
	return n, nil
}

func (s *Store) Permission() Permission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.permission
}

// RequestPermission asks the platform for permission, caches the answer and,
// when granted, records a confirmation notification.
func (s *Store) RequestPermission(ctx context.Context) (Permission, error) {
	current := s.Permission()
	if current == PermissionUnsupported || s.alerter == nil {
		return PermissionUnsupported, nil
	}

	p, err := s.alerter.RequestPermission(ctx)
	if err != nil {
		return current, fmt.Errorf("requesting notification permission: %w", err)
	}

	s.mu.Lock()
	s.permission = p
	err = s.kv.ApplyKV(ctx, storage.KVOp{Key: storage.KeyPermission, Value: string(p)})
	s.mu.Unlock()
	if err != nil {
		return p, fmt.Errorf("saving notification permission: %w", err)
	}

	if p == PermissionGranted {
		if _, err := s.Add(ctx, Draft{
			Title: "🔔 Notifications Enabled",
			Body:  "You will now receive farm alerts and price updates.",
			Icon:  "🔔",
		}); err != nil {
			return p, err
		}
	}
	return p, nil
}
