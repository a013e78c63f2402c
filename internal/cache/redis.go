package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisTimeout = 5 * time.Second
	redisKeyPrefix      = "marketlive:"
)

// RedisConfig captures the connection parameters for the shared Redis state store.
type RedisConfig struct {
	URL      string
	Address  string
	Username string
	Password string
	DB       int
	Timeout  time.Duration
}

type redisCmdable interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
	PExpire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	PTTL(ctx context.Context, key string) *redis.DurationCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisStore implements Store using go-redis. Every key is namespaced with "marketlive:".
type RedisStore struct {
	cmd redisCmdable
	raw *redis.Client
}

// NewRedisStore opens a client and verifies connectivity so misconfiguration surfaces at start-up.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	opts, err := redisOptions(cfg)
	if err != nil {
		return nil, err
	}

	raw := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := raw.Ping(pingCtx).Err(); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("cache: ping redis: %w", err)
	}

	return &RedisStore{cmd: raw, raw: raw}, nil
}

func redisOptions(cfg RedisConfig) (*redis.Options, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRedisTimeout
	}

	var opts *redis.Options
	switch {
	case strings.TrimSpace(cfg.URL) != "":
		parsed, err := redis.ParseURL(strings.TrimSpace(cfg.URL))
		if err != nil {
			return nil, fmt.Errorf("cache: parse redis url: %w", err)
		}
		opts = parsed
	case strings.TrimSpace(cfg.Address) != "":
		opts = &redis.Options{
			Addr:     strings.TrimSpace(cfg.Address),
			Username: cfg.Username,
			Password: cfg.Password,
			DB:       cfg.DB,
		}
	default:
		return nil, errors.New("cache: redis url or address is required")
	}

	if opts.DialTimeout == 0 {
		opts.DialTimeout = timeout
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = timeout
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = timeout
	}
	return opts, nil
}

// Close shuts down the underlying client.
func (s *RedisStore) Close() error {
	if s == nil || s.raw == nil {
		return nil
	}
	return s.raw.Close()
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.cmd.Ping(ctx).Err()
}

// IncrementWithTTL increments the key and starts the window on the first hit.
func (s *RedisStore) IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if s == nil || s.cmd == nil {
		return 0, 0, ErrNotInitialised
	}
	if window <= 0 {
		window = time.Minute
	}

	prefixed := s.prefixed(key)
	count, err := s.cmd.Incr(ctx, prefixed).Result()
	if err != nil {
		return 0, 0, err
	}
	if count == 1 {
		if err := s.cmd.PExpire(ctx, prefixed, window).Err(); err != nil {
			return count, 0, err
		}
		return count, window, nil
	}

	ttl, err := s.cmd.PTTL(ctx, prefixed).Result()
	if err != nil {
		return count, 0, err
	}
	if ttl < 0 {
		// Key lost its expiry; restart the window.
		if err := s.cmd.PExpire(ctx, prefixed, window).Err(); err != nil {
			return count, 0, err
		}
		ttl = window
	}
	return count, ttl, nil
}

// Set stores the value, applying ttl when positive.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s == nil || s.cmd == nil {
		return ErrNotInitialised
	}
	if ttl < 0 {
		ttl = 0
	}
	return s.cmd.Set(ctx, s.prefixed(key), value, ttl).Err()
}

// Get fetches the value, mapping redis.Nil to a miss.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s == nil || s.cmd == nil {
		return nil, false, ErrNotInitialised
	}
	value, err := s.cmd.Get(ctx, s.prefixed(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Delete removes the supplied keys.
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if s == nil || s.cmd == nil {
		return ErrNotInitialised
	}
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, 0, len(keys))
	for _, key := range keys {
		prefixed = append(prefixed, s.prefixed(key))
	}
	return s.cmd.Del(ctx, prefixed...).Err()
}

func (s *RedisStore) prefixed(key string) string {
	if strings.HasPrefix(key, redisKeyPrefix) {
		return key
	}
	return redisKeyPrefix + key
}
