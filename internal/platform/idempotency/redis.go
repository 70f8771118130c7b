package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix = "submission:"
	maxClaimAttempts   = 3
)

// RedisStore keeps keys in Redis so every API replica shares them.
// Expiry is delegated to Redis key TTLs.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// RedisOption customises the RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix overrides the Redis key namespace.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("idempotency: redis client is required")
	}
	store := &RedisStore{client: client, prefix: defaultRedisPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

// Claim takes the key with SET NX. A lost race reads the holder and judges it;
// a holder that expired in between is retried a bounded number of times.
func (s *RedisStore) Claim(ctx context.Context, claim Claim) (Outcome, Entry, error) {
	claim = claim.normalized()
	fresh := pendingEntry(claim)
	payload, err := json.Marshal(fresh)
	if err != nil {
		return 0, Entry{}, err
	}
	key := s.key(claim.Key)

	for attempt := 0; attempt < maxClaimAttempts; attempt++ {
		won, err := s.client.SetNX(ctx, key, payload, claim.TTL).Result()
		if err != nil {
			return 0, Entry{}, fmt.Errorf("idempotency: redis claim: %w", err)
		}
		if won {
			return OutcomeFresh, fresh, nil
		}
		current, err := s.load(ctx, s.client, key)
		if err != nil {
			return 0, Entry{}, err
		}
		if current == nil {
			continue
		}
		return judge(current, claim)
	}
	return 0, Entry{}, errors.New("idempotency: redis claim kept racing with expiry")
}

// Complete replaces the in-flight entry under WATCH so a concurrent writer
// with another fingerprint cannot be overwritten.
func (s *RedisStore) Complete(ctx context.Context, claim Claim, snap Snapshot) error {
	claim = claim.normalized()
	key := s.key(claim.Key)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := s.load(ctx, tx, key)
		if err != nil {
			return err
		}
		entry, err := completedEntry(current, claim, snap)
		if err != nil {
			return err
		}
		payload, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, claim.TTL)
			return nil
		})
		return err
	}, key)
	if err != nil && !errors.Is(err, ErrFingerprintMismatch) {
		return fmt.Errorf("idempotency: redis complete: %w", err)
	}
	return err
}

func (s *RedisStore) Abandon(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("idempotency: redis abandon: %w", err)
	}
	return nil
}

// Purge is a no-op; Redis evicts keys when their TTL elapses.
func (s *RedisStore) Purge(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

// Ping reports whether Redis is reachable, for readiness probes.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) load(ctx context.Context, c getter, key string) (*Entry, error) {
	raw, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency: redis get: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("idempotency: decode redis entry: %w", err)
	}
	return &entry, nil
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) key(key string) string {
	return s.prefix + documentID(key)
}
