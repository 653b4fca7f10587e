package lookupcache

import (
	"context"
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/andreiashu/geocascade/internal/logger"
)

// ErrMiss is returned by a Remote for absent keys.
var ErrMiss = errors.New("lookupcache: miss")

// Remote is the shared cache tier.
type Remote interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisRemote stores entries in Redis.
type RedisRemote struct {
	rdb *redis.Client
}

// NewRedisRemote wraps rdb.
func NewRedisRemote(rdb *redis.Client) *RedisRemote { return &RedisRemote{rdb: rdb} }

// WithRedis adds rdb as the shared tier. A nil client leaves the cache local only.
func WithRedis(rdb *redis.Client) Option {
	return func(c *Client) {
		if rdb != nil {
			c.remote = NewRedisRemote(rdb)
		}
	}
}

func (r *RedisRemote) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	return b, err
}

func (r *RedisRemote) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.rdb.Set(ctx, key, value, ttl).Err()
}

// OpenRedisFromEnv opens a client from REDIS_HOST, REDIS_PORT, REDIS_PASS and REDIS_DB.
// It returns nil when REDIS_HOST is unset.
func OpenRedisFromEnv() *redis.Client {
	host := os.Getenv("REDIS_HOST")
	if host == "" {
		return nil
	}
	port := os.Getenv("REDIS_PORT")
	if port == "" {
		port = "6379"
	}
	addr := host + ":" + port
	db := 0
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, _ := strconv.Atoi(v); n >= 0 {
			db = n
		}
	}
	logger.L().Debug("redis_env", "addr", addr, "db", db)
	return redis.NewClient(&redis.Options{Addr: addr, Password: os.Getenv("REDIS_PASS"), DB: db})
}
