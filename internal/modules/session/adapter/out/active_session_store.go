package out

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"sosguard/internal/modules/session/domain"
	sessionout "sosguard/internal/modules/session/port/out"
	apperrors "sosguard/internal/platform/errors"
)

type fileRecord struct {
	SchemaVersion int `json:"schema_version"`
	domain.Record
}

// FileRecordStore keeps the durable record as a single JSON document,
// replaced atomically on every write.
type FileRecordStore struct {
	path string
	mu   sync.Mutex
}

func NewFileRecordStore(path string) sessionout.RecordStore {
	return &FileRecordStore{path: path}
}

func (s *FileRecordStore) LoadRecord(_ context.Context) (domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *FileRecordStore) SaveStatus(_ context.Context, sessionID string, status domain.Status) error {
	if err := status.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, err := s.load()
	if err != nil && err != apperrors.ErrNoActiveSession {
		return err
	}
	next := domain.Record{SessionID: sessionID, Status: status}
	if current.SessionID == sessionID {
		next.PickupAt = current.PickupAt
	}
	return s.write(next)
}

func (s *FileRecordStore) SavePickup(_ context.Context, sessionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, err := s.load()
	if err != nil {
		return err
	}
	if current.SessionID != sessionID {
		return fmt.Errorf("%w: durable record tracks %s, not %s", apperrors.ErrNotFound, current.SessionID, sessionID)
	}
	current.PickupAt = at.UTC()
	return s.write(current)
}

func (s *FileRecordStore) ClearRecord(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("clear active session: %w", err)
	}
	return nil
}

func (s *FileRecordStore) Close() error {
	return nil
}

func (s *FileRecordStore) load() (domain.Record, error) {
	payload, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.Record{}, apperrors.ErrNoActiveSession
		}
		return domain.Record{}, fmt.Errorf("read active session: %w", err)
	}
	stored := fileRecord{}
	if err := json.Unmarshal(payload, &stored); err != nil {
		return domain.Record{}, fmt.Errorf("decode active session: %w", err)
	}
	if stored.SessionID == "" {
		return domain.Record{}, apperrors.ErrNoActiveSession
	}
	return stored.Record, nil
}

func (s *FileRecordStore) write(rec domain.Record) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create active session dir: %w", err)
	}
	payload, err := json.MarshalIndent(fileRecord{SchemaVersion: domain.SchemaVersion, Record: rec}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal active session: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return fmt.Errorf("write active session: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace active session: %w", err)
	}
	return nil
}
