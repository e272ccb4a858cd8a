package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bull/pdfchat/internal/domain"
)

const (
	// DefaultRedisPrefix namespaces session keys.
	DefaultRedisPrefix = "pdfchat:session:"
	// DefaultSessionTTL expires idle sessions.
	DefaultSessionTTL = 7 * 24 * time.Hour

	maxTxAttempts = 100
)

// ErrMemoryUnavailable indicates the Redis backend could not be reached.
var ErrMemoryUnavailable = errors.New("conversation memory unavailable")

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Prefix string
	TTL    time.Duration
}

// RedisStore keeps each session as a Redis list of JSON-encoded turns under
// prefix + namespace + ":" + session, so history is shared between server replicas and
// survives restarts.
type RedisStore struct {
	client *redis.Client
	budget Budget
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a store over client. The connection is checked with PING.
func NewRedisStore(ctx context.Context, client *redis.Client, budget Budget, opts RedisOptions) (*RedisStore, error) {
	if err := budget.Validate(); err != nil {
		return nil, err
	}
	if opts.Prefix == "" {
		opts.Prefix = DefaultRedisPrefix
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultSessionTTL
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMemoryUnavailable, err)
	}
	return &RedisStore{client: client, budget: budget, prefix: opts.Prefix, ttl: opts.TTL}, nil
}

// Append implements Store. The read-evict-write cycle runs in a WATCH transaction and is
// retried when another writer touched the session.
func (s *RedisStore) Append(ctx context.Context, namespace, sessionID string, turns ...domain.Turn) error {
	key, err := sessionKey(namespace, sessionID)
	if err != nil {
		return err
	}
	if len(turns) == 0 {
		return nil
	}
	key = s.prefix + key

	txf := func(tx *redis.Tx) error {
		history, err := s.load(ctx, tx, key)
		if err != nil {
			return err
		}
		kept := s.budget.fit(history, turns)

		values := make([]any, len(kept))
		for i, t := range kept {
			b, err := json.Marshal(t)
			if err != nil {
				return fmt.Errorf("encode turn: %w", err)
			}
			values[i] = b
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.RPush(ctx, key, values...)
			pipe.Expire(ctx, key, s.ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return s.wrap(err)
		}
		return nil
	}
	return fmt.Errorf("%w: session %s: too much contention", ErrMemoryUnavailable, key)
}

// History implements Store.
func (s *RedisStore) History(ctx context.Context, namespace, sessionID string) ([]domain.Turn, error) {
	key, err := sessionKey(namespace, sessionID)
	if err != nil {
		return nil, err
	}
	turns, err := s.load(ctx, s.client, s.prefix+key)
	if err != nil {
		return nil, s.wrap(err)
	}
	return turns, nil
}

// Health pings Redis.
func (s *RedisStore) Health(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrMemoryUnavailable, err)
	}
	return nil
}

func (s *RedisStore) load(ctx context.Context, c redis.Cmdable, key string) ([]domain.Turn, error) {
	raw, err := c.LRange(ctx, key, 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	turns := make([]domain.Turn, 0, len(raw))
	for _, r := range raw {
		var t domain.Turn
		if err := json.Unmarshal([]byte(r), &t); err != nil {
			return nil, fmt.Errorf("decode turn in %s: %w", key, err)
		}
		turns = append(turns, t)
	}
	return turns, nil
}

func (s *RedisStore) wrap(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrMemoryUnavailable, err)
}
