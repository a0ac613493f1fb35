package tracestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketTraces        = []byte("traces")
	bucketMessages      = []byte("messages")
	bucketConversations = []byte("conversations")
)

// BoltStore keeps JSON values in an embedded bbolt file, one bucket per
// record kind.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens or creates the database at path.
func OpenBolt(path string) (*BoltStore, error) {
	if path == "" {
		return nil, errors.New("bolt store: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create bolt dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketTraces, bucketMessages, bucketConversations} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create bolt buckets: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) put(bucket []byte, key string, v any) func(tx *bolt.Tx) error {
	return func(tx *bolt.Tx) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return tx.Bucket(bucket).Put([]byte(key), data)
	}
}

func (s *BoltStore) get(bucket []byte, key string, out any) (bool, error) {
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucket).Get([]byte(key))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, out)
	})
	return found, err
}

func (s *BoltStore) SaveTrace(_ context.Context, t *Trace) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := s.put(bucketTraces, t.TraceID, t)(tx); err != nil {
			return err
		}
		if rec, ok := t.Idempotency(); ok {
			return s.put(bucketMessages, rec.MessageID, rec)(tx)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save trace: %w", err)
	}
	return nil
}

func (s *BoltStore) GetTrace(_ context.Context, traceID string) (*Trace, error) {
	var t Trace
	ok, err := s.get(bucketTraces, traceID, &t)
	if err != nil {
		return nil, fmt.Errorf("get trace: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (s *BoltStore) GetIdempotency(_ context.Context, messageID string) (*IdempotencyRecord, error) {
	var rec IdempotencyRecord
	ok, err := s.get(bucketMessages, messageID, &rec)
	if err != nil {
		return nil, fmt.Errorf("get idempotency record: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *BoltStore) SaveIdempotency(_ context.Context, rec IdempotencyRecord) error {
	if err := s.db.Update(s.put(bucketMessages, rec.MessageID, rec)); err != nil {
		return fmt.Errorf("save idempotency record: %w", err)
	}
	return nil
}

func (s *BoltStore) GetConversationState(_ context.Context, senderKey string) (*ConversationState, error) {
	var st ConversationState
	ok, err := s.get(bucketConversations, senderKey, &st)
	if err != nil {
		return nil, fmt.Errorf("get conversation state: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (s *BoltStore) SaveConversationState(_ context.Context, senderKey string, state ConversationState) error {
	if err := s.db.Update(s.put(bucketConversations, senderKey, state)); err != nil {
		return fmt.Errorf("save conversation state: %w", err)
	}
	return nil
}

func (s *BoltStore) Close() error { return s.db.Close() }
