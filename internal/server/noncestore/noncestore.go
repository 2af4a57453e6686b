// Package noncestore provides persistent cryptox.Reserver implementations
// backing counter nonces: a PostgreSQL row per counter, or a Redis key.
package noncestore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/dmitrijs2005/spots/internal/cryptox"
	"github.com/dmitrijs2005/spots/internal/server/repositories/noncecounters"
	"github.com/redis/go-redis/v9"
)

var (
	ErrFailedToParseURL = errors.New("failed to parse redis connection string")
	ErrRedisNotReady    = errors.New("redis did not become ready within the given time period")
	ErrInvalidBlock     = errors.New("invalid nonce block size")
	ErrStoreSwitched    = errors.New("nonce counter is kept in another store")
)

const (
	keyPrefix = "spots:nonce:"

	// redisMarkerPrefix names the Postgres row that records a counter as
	// living in Redis.
	redisMarkerPrefix = "redis:"
)

var (
	_ cryptox.Reserver = (*PostgresReserver)(nil)
	_ cryptox.Reserver = (*RedisReserver)(nil)
)

// PostgresReserver reserves counter blocks in the nonce_counters table.
type PostgresReserver struct {
	repo noncecounters.Repository
	name string
}

func NewPostgresReserver(repo noncecounters.Repository, name string) *PostgresReserver {
	return &PostgresReserver{repo: repo, name: name}
}

func (r *PostgresReserver) Reserve(ctx context.Context, n uint64) (uint64, error) {
	return r.repo.Reserve(ctx, r.name, n)
}

// Incrementer is the part of a go-redis client the reserver needs.
type Incrementer interface {
	IncrBy(ctx context.Context, key string, value int64) *redis.IntCmd
}

// RedisReserver reserves counter blocks with INCRBY, which is atomic across
// every process sharing the key. Redis must run with persistence enabled for
// the counter to survive a Redis restart.
type RedisReserver struct {
	client Incrementer
	key    string
}

func NewRedisReserver(client Incrementer, name string) *RedisReserver {
	return &RedisReserver{client: client, key: keyPrefix + name}
}

func (r *RedisReserver) Reserve(ctx context.Context, n uint64) (uint64, error) {
	if n == 0 || n > math.MaxInt64 {
		return 0, ErrInvalidBlock
	}

	end, err := r.client.IncrBy(ctx, r.key, int64(n)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incrby %s: %w", r.key, err)
	}
	if end < int64(n) {
		return 0, fmt.Errorf("redis counter %s went backwards", r.key)
	}

	return uint64(end) - n, nil
}

// ClaimPostgres fails when any of names was ever kept in Redis. Counters do
// not move between stores, so switching would restart them at zero under the
// same key.
func ClaimPostgres(ctx context.Context, repo noncecounters.Repository, names ...string) error {
	for _, name := range names {
		inRedis, err := repo.Exists(ctx, redisMarkerPrefix+name)
		if err != nil {
			return err
		}
		if inRedis {
			return fmt.Errorf("%w: %s is in redis", ErrStoreSwitched, name)
		}
	}
	return nil
}

// ClaimRedis fails when any of names already has a Postgres counter, and
// otherwise records in Postgres that the counters now live in Redis.
func ClaimRedis(ctx context.Context, repo noncecounters.Repository, names ...string) error {
	for _, name := range names {
		inPostgres, err := repo.Exists(ctx, name)
		if err != nil {
			return err
		}
		if inPostgres {
			return fmt.Errorf("%w: %s is in postgres", ErrStoreSwitched, name)
		}
	}
	for _, name := range names {
		if err := repo.Mark(ctx, redisMarkerPrefix+name); err != nil {
			return err
		}
	}
	return nil
}

// ConnectRedis dials url and pings it up to attempts times, interval apart.
func ConnectRedis(ctx context.Context, url string, attempts int, interval time.Duration) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Join(ErrFailedToParseURL, err)
	}

	for range attempts {
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err == nil {
			return client, nil
		}
		_ = client.Close()

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrRedisNotReady, ctx.Err())
		case <-time.After(interval):
		}
	}

	return nil, ErrRedisNotReady
}
