package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	bolt "github.com/boltdb/bolt"
)

// ErrNotRecorded is returned for messages this process never wrote.
var ErrNotRecorded = errors.New("message not recorded in outbox")

// OutboxRecord is the last known content of a message we sent or edited.
// Transports that cannot read messages back use it to answer fetches.
type OutboxRecord struct {
	Text     string `json:"text"`
	HasMedia bool   `json:"has_media"`
	When     int64  `json:"when"`
}

func outboxKey(dest int64, id int) []byte {
	return []byte(fmt.Sprintf("%d:%d", dest, id))
}

// PutOutbox records the content of message id in dest.
func (s *Store) PutOutbox(dest int64, id int, rec OutboxRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketOutbox)).Put(outboxKey(dest, id), data)
	})
}

// Outbox returns the recorded content of message id in dest.
func (s *Store) Outbox(dest int64, id int) (OutboxRecord, error) {
	var rec OutboxRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketOutbox)).Get(outboxKey(dest, id))
		if v == nil {
			return ErrNotRecorded
		}
		return json.Unmarshal(v, &rec)
	})
	return rec, err
}

// DeleteOutbox drops the record of message id in dest.
func (s *Store) DeleteOutbox(dest int64, id int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketOutbox)).Delete(outboxKey(dest, id))
	})
}
