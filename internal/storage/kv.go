package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// GetKV returns the value stored under key. A missing key is reported with
// ok == false and a nil error.
func (s *Store) GetKV(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading key %s: %w", key, err)
	}
	return value, true, nil
}

func (s *Store) SetKV(ctx context.Context, key, value string) error {
	return s.ApplyKV(ctx, KVOp{Key: key, Value: value})
}

func (s *Store) RemoveKV(ctx context.Context, key string) error {
	return s.ApplyKV(ctx, KVOp{Key: key, Remove: true})
}

// ApplyKV writes all ops in one transaction.
func (s *Store) ApplyKV(ctx context.Context, ops ...KVOp) error {
	if len(ops) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning kv transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, op := range ops {
		if op.Remove {
			if _, err := tx.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", op.Key); err != nil {
				return fmt.Errorf("removing key %s: %w", op.Key, err)
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			op.Key, op.Value, now,
		); err != nil {
			return fmt.Errorf("writing key %s: %w", op.Key, err)
		}
	}
	return tx.Commit()
}
