package out

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"sosguard/internal/modules/session/domain"
	sessionout "sosguard/internal/modules/session/port/out"
	apperrors "sosguard/internal/platform/errors"
)

var bucketSessionState = []byte("session_state")

type BoltRecordStore struct {
	db *bolt.DB
}

func NewBoltRecordStore(path string) (sessionout.RecordStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("record store db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSessionState)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltRecordStore{db: db}, nil
}

func (s *BoltRecordStore) LoadRecord(_ context.Context) (domain.Record, error) {
	values := map[string]string{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessionState).ForEach(func(k, v []byte) error {
			values[string(k)] = string(v)
			return nil
		})
	})
	if err != nil {
		return domain.Record{}, fmt.Errorf("read session state: %w", err)
	}
	return recordFromValues(values)
}

func (s *BoltRecordStore) SaveStatus(_ context.Context, sessionID string, status domain.Status) error {
	if err := status.Validate(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketSessionState)
		if string(bucket.Get([]byte(keyActiveSessionID))) != sessionID {
			if err := bucket.Delete([]byte(keyPickupTimestamp)); err != nil {
				return err
			}
		}
		if err := bucket.Put([]byte(keyActiveSessionID), []byte(sessionID)); err != nil {
			return err
		}
		return bucket.Put([]byte(keySessionStatus), []byte(status))
	})
}

func (s *BoltRecordStore) SavePickup(_ context.Context, sessionID string, at time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketSessionState)
		current := string(bucket.Get([]byte(keyActiveSessionID)))
		if current == "" {
			return apperrors.ErrNoActiveSession
		}
		if current != sessionID {
			return fmt.Errorf("%w: durable record tracks %s, not %s", apperrors.ErrNotFound, current, sessionID)
		}
		return bucket.Put([]byte(keyPickupTimestamp), []byte(at.UTC().Format(time.RFC3339Nano)))
	})
}

func (s *BoltRecordStore) ClearRecord(_ context.Context) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketSessionState)
		for _, key := range []string{keyActiveSessionID, keySessionStatus, keyPickupTimestamp} {
			if err := bucket.Delete([]byte(key)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltRecordStore) Close() error {
	return s.db.Close()
}
