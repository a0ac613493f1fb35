package tracestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces redis keys.
const DefaultKeyPrefix = "skytext:"

// RedisStore keeps JSON values under prefixed keys:
// trace:<id>, msg:<message_id>, conv:<sender>, claim:<message_id>.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// OpenRedis connects to redisURL (a redis:// URL or a bare host:port) and
// verifies the connection. A ttl of zero keeps keys forever.
func OpenRedis(ctx context.Context, redisURL, prefix string, ttl time.Duration) (*RedisStore, error) {
	if redisURL == "" {
		return nil, errors.New("redis store: url is required")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		opts = &redis.Options{Addr: redisURL}
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisStore(client, prefix, ttl), nil
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(kind, id string) string {
	return s.prefix + kind + ":" + id
}

func (s *RedisStore) SaveTrace(ctx context.Context, t *Trace) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode trace: %w", err)
	}
	rec, hasRec := t.Idempotency()
	var recData []byte
	if hasRec {
		if recData, err = json.Marshal(rec); err != nil {
			return fmt.Errorf("encode idempotency record: %w", err)
		}
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key("trace", t.TraceID), data, s.ttl)
		if hasRec {
			pipe.Set(ctx, s.key("msg", rec.MessageID), recData, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save trace: %w", err)
	}
	return nil
}

func (s *RedisStore) getJSON(ctx context.Context, key string, out any) (bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *RedisStore) GetTrace(ctx context.Context, traceID string) (*Trace, error) {
	var t Trace
	ok, err := s.getJSON(ctx, s.key("trace", traceID), &t)
	if err != nil {
		return nil, fmt.Errorf("get trace: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (s *RedisStore) GetIdempotency(ctx context.Context, messageID string) (*IdempotencyRecord, error) {
	var rec IdempotencyRecord
	ok, err := s.getJSON(ctx, s.key("msg", messageID), &rec)
	if err != nil {
		return nil, fmt.Errorf("get idempotency record: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *RedisStore) SaveIdempotency(ctx context.Context, rec IdempotencyRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode idempotency record: %w", err)
	}
	if err := s.client.Set(ctx, s.key("msg", rec.MessageID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save idempotency record: %w", err)
	}
	return nil
}

func (s *RedisStore) GetConversationState(ctx context.Context, senderKey string) (*ConversationState, error) {
	var st ConversationState
	ok, err := s.getJSON(ctx, s.key("conv", senderKey), &st)
	if err != nil {
		return nil, fmt.Errorf("get conversation state: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (s *RedisStore) SaveConversationState(ctx context.Context, senderKey string, state ConversationState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode conversation state: %w", err)
	}
	if err := s.client.Set(ctx, s.key("conv", senderKey), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save conversation state: %w", err)
	}
	return nil
}

// Claim reserves messageID with SET NX.
func (s *RedisStore) Claim(ctx context.Context, messageID string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.key("claim", messageID), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim message: %w", err)
	}
	return ok, nil
}

// Release deletes a claim.
func (s *RedisStore) Release(ctx context.Context, messageID string) error {
	if err := s.client.Del(ctx, s.key("claim", messageID)).Err(); err != nil {
		return fmt.Errorf("release message claim: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error { return s.client.Close() }
