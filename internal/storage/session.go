package storage

import (
	"context"
	"fmt"

	bolt "github.com/boltdb/bolt"
	"github.com/gotd/td/session"

	"tsignals-relay/internal/crypt"
)

// SessionStorage keeps the MTProto session in the state database. When a
// cipher is set the blob is encrypted at rest.
type SessionStorage struct {
	store  *Store
	cipher *crypt.Cipher
}

var _ session.Storage = (*SessionStorage)(nil)

// Session returns the session storage backed by s. c may be nil.
func (s *Store) Session(c *crypt.Cipher) *SessionStorage {
	return &SessionStorage{store: s, cipher: c}
}

// LoadSession implements session.Storage.
func (ss *SessionStorage) LoadSession(_ context.Context) ([]byte, error) {
	var data []byte
	err := ss.store.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketSession)).Get([]byte(sessionKey))
		if v == nil {
			return session.ErrNotFound
		}
		data = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if ss.cipher == nil {
		return data, nil
	}
	plain, err := ss.cipher.Decrypt(data)
	if err != nil {
		return nil, fmt.Errorf("decrypt session: %w", err)
	}
	return plain, nil
}

// StoreSession implements session.Storage.
func (ss *SessionStorage) StoreSession(_ context.Context, data []byte) error {
	if ss.cipher != nil {
		enc, err := ss.cipher.Encrypt(data)
		if err != nil {
			return fmt.Errorf("encrypt session: %w", err)
		}
		data = enc
	}
	return ss.store.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketSession)).Put([]byte(sessionKey), data)
	})
}
