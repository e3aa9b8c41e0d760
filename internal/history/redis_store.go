package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lexiqai/trades-chat/internal/observability"
)

// KeyPrefix namespaces history keys in Redis
const KeyPrefix = "trades-chat:history:"

const maxAppendAttempts = 10

// RedisConfig holds configuration for Redis connection
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisStore keeps each user's history as one JSON value
type RedisStore struct {
	rdb      *redis.Client
	maxTurns int
}

// NewRedisStore creates a Redis-backed store with connection validation
func NewRedisStore(cfg RedisConfig, maxTurns int) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewRedisStoreWithClient(rdb, maxTurns), nil
}

// NewRedisStoreWithClient wraps an existing client
func NewRedisStoreWithClient(rdb *redis.Client, maxTurns int) *RedisStore {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &RedisStore{rdb: rdb, maxTurns: maxTurns}
}

func key(userID string) string {
	return KeyPrefix + userID
}

// Load returns the stored turns for userID; a corrupt value reads as empty
func (s *RedisStore) Load(ctx context.Context, userID string) ([]Turn, error) {
	return s.get(ctx, s.rdb, userID)
}

func (s *RedisStore) get(ctx context.Context, c redis.Cmdable, userID string) ([]Turn, error) {
	data, err := c.Get(ctx, key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []Turn{}, nil
		}
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var turns []Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		observability.FromContext(ctx).Warn().Err(err).Str("user_id", userID).Msg("Stored history is corrupt, starting empty")
		return []Turn{}, nil
	}
	return Window(turns, s.maxTurns), nil
}

// Save replaces the stored turns for userID
func (s *RedisStore) Save(ctx context.Context, userID string, turns []Turn) error {
	data, err := json.Marshal(Window(turns, s.maxTurns))
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}
	if err := s.rdb.Set(ctx, key(userID), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Append adds turns after the stored history for userID. The read and the
// write run under WATCH, so a concurrent writer forces a retry instead of
// being overwritten.
func (s *RedisStore) Append(ctx context.Context, userID string, turns ...Turn) error {
	if len(turns) == 0 {
		return nil
	}
	k := key(userID)

	txf := func(tx *redis.Tx) error {
		current, err := s.get(ctx, tx, userID)
		if err != nil {
			return err
		}
		data, err := json.Marshal(Window(append(current, turns...), s.maxTurns))
		if err != nil {
			return fmt.Errorf("failed to encode history: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, data, 0)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		err := s.rdb.Watch(ctx, txf, k)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return fmt.Errorf("redis append failed: %w", err)
	}
	return fmt.Errorf("redis append failed: %s kept changing after %d attempts", k, maxAppendAttempts)
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
