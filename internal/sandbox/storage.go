// Package sandbox captures outbound broadcasts locally when no provider API
// key is configured, so composing and sending can be exercised end to end
// without mailing anyone.
package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketSandbox = []byte("sandbox")

// Message is one provider call captured in sandbox mode. It stands in for
// the provider's accepted message, id included, so webhook correlation can
// be exercised against captured sends.
type Message struct {
	ID         string    `json:"id"`
	From       string    `json:"from"`
	To         []string  `json:"to"`
	Subject    string    `json:"subject"`
	HTML       string    `json:"html"`
	CapturedAt time.Time `json:"captured_at"`
}

// Storage persists captured messages in BoltDB.
type Storage struct {
	db *bolt.DB
}

// NewStorage creates sandbox storage on the provided BoltDB instance.
func NewStorage(db *bolt.DB) (*Storage, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSandbox)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox bucket: %w", err)
	}
	return &Storage{db: db}, nil
}

// Save stores a captured message.
func (s *Storage) Save(ctx context.Context, msg *Message) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketSandbox)

		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		return bucket.Put(makeIndexKey(msg.CapturedAt, msg.ID), data)
	})
}

// Get retrieves a captured message by id, or nil when absent.
func (s *Storage) Get(ctx context.Context, id string) (*Message, error) {
	var msg *Message

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSandbox).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var m Message
			if err := json.Unmarshal(v, &m); err != nil {
				continue
			}
			if m.ID == id {
				msg = &m
				return nil
			}
		}
		return nil
	})

	return msg, err
}

// List returns captured messages, newest first, up to limit (0 = all).
func (s *Storage) List(ctx context.Context, limit int) ([]*Message, error) {
	messages := []*Message{}

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSandbox).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var m Message
			if err := json.Unmarshal(v, &m); err != nil {
				continue
			}
			messages = append(messages, &m)
			if limit > 0 && len(messages) >= limit {
				return nil
			}
		}
		return nil
	})

	return messages, err
}

// Count returns the number of captured messages.
func (s *Storage) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketSandbox).Stats().KeyN
		return nil
	})
	return n, err
}

// makeIndexKey builds a key that sorts by capture time.
func makeIndexKey(ts time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%020d_%s", ts.UnixNano(), id))
}
