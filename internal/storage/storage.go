package storage

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	bolt "github.com/boltdb/bolt"
)

const (
	bucketState   = "state"   // key: syncCompletedKey | pinned:<dest>, value: decimal string
	bucketSession = "session" // key: sessionKey, value: (optionally encrypted) MTProto session
	bucketOutbox  = "outbox"  // key: <dest>:<id>, value: JSON outboxRecord

	syncCompletedKey = "sync_completed"
	sessionKey       = "mtproto"
)

// Store is the bolt backed durable state of the relay.
type Store struct {
	db *bolt.DB
}

// Open opens the database file and creates buckets if needed.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketState, bucketSession, bucketOutbox} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the database file lock.
func (s *Store) Close() error {
	return s.db.Close()
}

func pinnedKey(dest int64) []byte {
	return []byte(fmt.Sprintf("pinned:%d", dest))
}

// PinnedID returns the tracked disclaimer id for dest. Missing or
// non-numeric values are reported as absent.
func (s *Store) PinnedID(dest int64) (int, bool, error) {
	var id int
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketState)).Get(pinnedKey(dest))
		if v == nil {
			return nil
		}
		i, err := strconv.Atoi(string(v))
		if err != nil || i <= 0 {
			return nil
		}
		id, ok = i, true
		return nil
	})
	return id, ok, err
}

// SetPinnedID stores the tracked disclaimer id for dest.
func (s *Store) SetPinnedID(dest int64, id int) error {
	if id <= 0 {
		return errors.New("pinned id must be positive")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketState)).Put(pinnedKey(dest), []byte(strconv.Itoa(id)))
	})
}

// ClearPinnedID forgets the tracked disclaimer for dest.
func (s *Store) ClearPinnedID(dest int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketState)).Delete(pinnedKey(dest))
	})
}

// SyncCompleted reports whether the history replay has finished.
func (s *Store) SyncCompleted() (bool, error) {
	var done bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketState)).Get([]byte(syncCompletedKey))
		if v == nil {
			return nil
		}
		b, err := strconv.ParseBool(string(v))
		if err != nil {
			return nil
		}
		done = b
		return nil
	})
	return done, err
}

// MarkSyncCompleted records that the history replay finished.
func (s *Store) MarkSyncCompleted() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketState)).Put([]byte(syncCompletedKey), []byte("true"))
	})
}

// ResetSync removes the replay marker so the next start replays history.
func (s *Store) ResetSync() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketState)).Delete([]byte(syncCompletedKey))
	})
}

// SeedPinnedID stores id for dest unless a reference is already present.
// It reports whether the seed was applied.
func (s *Store) SeedPinnedID(dest int64, id int) (bool, error) {
	if _, ok, err := s.PinnedID(dest); err != nil || ok {
		return false, err
	}
	if err := s.SetPinnedID(dest, id); err != nil {
		return false, err
	}
	return true, nil
}

// StateEntry is one key of the state bucket.
type StateEntry struct {
	Key   string
	Value string
}

// ListState returns all state entries in key order.
func (s *Store) ListState() ([]StateEntry, error) {
	var items []StateEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketState)).ForEach(func(k, v []byte) error {
			items = append(items, StateEntry{Key: string(k), Value: string(v)})
			return nil
		})
	})
	return items, err
}
