package chatlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// maxStoredTurns bounds the Redis list so an always-on companion does not
// grow the key without limit.
const maxStoredTurns = 2000

// RedisLog implements Log on a Redis list. It suits setups where the
// companion core and its UI shell run on different hosts.
type RedisLog struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	mu     sync.RWMutex
	closed bool
}

// RedisConfig holds Redis connection configuration for the chat log.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string
	// Password is the Redis password (optional).
	Password string
	// DB is the Redis database number.
	DB int
	// Key is the list key (default: "aria:chatlog").
	Key string
	// TTL is the log expiry duration (0 = never expire).
	TTL time.Duration
}

// NewRedisLog creates a Redis-backed chat log and verifies connectivity.
func NewRedisLog(cfg RedisConfig) (*RedisLog, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return newRedisLog(client, cfg.Key, cfg.TTL), nil
}

// NewRedisLogFromClient creates a Redis log from an existing client.
// This is useful for testing with miniredis.
func NewRedisLogFromClient(client *redis.Client, key string, ttl time.Duration) *RedisLog {
	return newRedisLog(client, key, ttl)
}

func newRedisLog(client *redis.Client, key string, ttl time.Duration) *RedisLog {
	if key == "" {
		key = "aria:chatlog"
	}
	return &RedisLog{client: client, key: key, ttl: ttl}
}

// Append persists one finalized turn.
func (l *RedisLog) Append(ctx context.Context, turn Turn) error {
	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return ErrLogClosed
	}
	l.mu.RUnlock()

	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("marshal turn: %w", err)
	}

	pipe := l.client.Pipeline()
	pipe.RPush(ctx, l.key, data)
	pipe.LTrim(ctx, l.key, -maxStoredTurns, -1)
	if l.ttl > 0 {
		pipe.Expire(ctx, l.key, l.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append turn: %w", err)
	}

	return nil
}

// Recent returns up to n of the most recent turns, oldest first.
func (l *RedisLog) Recent(ctx context.Context, n int) ([]Turn, error) {
	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return nil, ErrLogClosed
	}
	l.mu.RUnlock()

	start := int64(0)
	if n > 0 {
		start = int64(-n)
	}
	data, err := l.client.LRange(ctx, l.key, start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load turns: %w", err)
	}

	turns := make([]Turn, 0, len(data))
	for _, d := range data {
		var turn Turn
		if err := json.Unmarshal([]byte(d), &turn); err != nil {
			return nil, fmt.Errorf("unmarshal turn: %w", err)
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

// Close releases the Redis client.
func (l *RedisLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	return l.client.Close()
}
