package out

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"sosguard/internal/modules/session/domain"
	sessionout "sosguard/internal/modules/session/port/out"
	apperrors "sosguard/internal/platform/errors"

	_ "modernc.org/sqlite"
)

// Durable key space shared by every record store.
const (
	keyActiveSessionID = "activeSessionId"
	keySessionStatus   = "sessionStatus"
	keyPickupTimestamp = "pickupTimestamp"
)

type SQLiteRecordStore struct {
	db *sql.DB
}

func NewSQLiteRecordStore(dbPath string) (sessionout.RecordStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	store := &SQLiteRecordStore{db: db}
	if err := store.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteRecordStore) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS session_state (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL,
  updated_at TEXT NOT NULL
);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create session_state table: %w", err)
	}
	return nil
}

func (s *SQLiteRecordStore) LoadRecord(ctx context.Context) (domain.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM session_state`)
	if err != nil {
		return domain.Record{}, fmt.Errorf("query session state: %w", err)
	}
	defer rows.Close()
	values := map[string]string{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return domain.Record{}, fmt.Errorf("scan session state: %w", err)
		}
		values[key] = value
	}
	if err := rows.Err(); err != nil {
		return domain.Record{}, fmt.Errorf("iterate session state: %w", err)
	}
	return recordFromValues(values)
}

func (s *SQLiteRecordStore) SaveStatus(ctx context.Context, sessionID string, status domain.Status) error {
	if err := status.Validate(); err != nil {
		return err
	}
	return s.within(ctx, func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRowContext(ctx, `SELECT value FROM session_state WHERE key = ?`, keyActiveSessionID).Scan(&current)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("read active session id: %w", err)
		}
		if current != sessionID {
			if _, err := tx.ExecContext(ctx, `DELETE FROM session_state WHERE key = ?`, keyPickupTimestamp); err != nil {
				return fmt.Errorf("drop stale pickup: %w", err)
			}
		}
		if err := upsert(ctx, tx, keyActiveSessionID, sessionID); err != nil {
			return err
		}
		return upsert(ctx, tx, keySessionStatus, string(status))
	})
}

func (s *SQLiteRecordStore) SavePickup(ctx context.Context, sessionID string, at time.Time) error {
	return s.within(ctx, func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRowContext(ctx, `SELECT value FROM session_state WHERE key = ?`, keyActiveSessionID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.ErrNoActiveSession
		}
		if err != nil {
			return fmt.Errorf("read active session id: %w", err)
		}
		if current != sessionID {
			return fmt.Errorf("%w: durable record tracks %s, not %s", apperrors.ErrNotFound, current, sessionID)
		}
		return upsert(ctx, tx, keyPickupTimestamp, at.UTC().Format(time.RFC3339Nano))
	})
}

func (s *SQLiteRecordStore) ClearRecord(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM session_state WHERE key IN (?, ?, ?)`, keyActiveSessionID, keySessionStatus, keyPickupTimestamp)
	if err != nil {
		return fmt.Errorf("clear session state: %w", err)
	}
	return nil
}

func (s *SQLiteRecordStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteRecordStore) within(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session state: %w", err)
	}
	return nil
}

func upsert(ctx context.Context, tx *sql.Tx, key, value string) error {
	const stmt = `
INSERT INTO session_state (key, value, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
  value=excluded.value,
  updated_at=excluded.updated_at;
`
	if _, err := tx.ExecContext(ctx, stmt, key, value, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("upsert %s: %w", key, err)
	}
	return nil
}

// recordFromValues rebuilds a record from the raw key space. A missing
// session id means there is no record at all.
func recordFromValues(values map[string]string) (domain.Record, error) {
	id := values[keyActiveSessionID]
	if id == "" {
		return domain.Record{}, apperrors.ErrNoActiveSession
	}
	rec := domain.Record{SessionID: id}
	if raw := values[keySessionStatus]; raw != "" {
		status, err := domain.ParseStatus(raw)
		if err != nil {
			return domain.Record{}, err
		}
		rec.Status = status
	}
	if raw := values[keyPickupTimestamp]; raw != "" {
		at, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return domain.Record{}, fmt.Errorf("decode pickup timestamp: %w", err)
		}
		rec.PickupAt = at
	}
	return rec, nil
}
