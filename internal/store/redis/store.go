package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alphabot-ai/slashnews/internal/store"
	goredis "github.com/redis/go-redis/v9"
)

// Store implements store.Store on a Redis server.
type Store struct {
	rdb     *goredis.Client
	breaker *BreakerHook
}

var _ store.Store = (*Store)(nil)

// Open connects to redisURL and verifies the server answers.
func Open(ctx context.Context, redisURL string) (*Store, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	s := New(goredis.NewClient(opts), DefaultBreakerSettings())
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		_ = s.rdb.Close()
		return nil, fmt.Errorf("%w: ping: %v", store.ErrUnavailable, err)
	}
	return s, nil
}

// New wraps an existing client and installs the metrics and breaker hooks.
func New(rdb *goredis.Client, settings BreakerSettings) *Store {
	breaker := NewBreakerHook(settings)
	rdb.AddHook(&MetricsHook{})
	rdb.AddHook(breaker)
	return &Store{rdb: rdb, breaker: breaker}
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

// Breaker exposes the circuit breaker hook for health reporting.
func (s *Store) Breaker() *BreakerHook {
	return s.breaker
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, goredis.Nil) {
		return store.ErrNotFound
	}
	if isConnError(err) || isOpen(err) {
		return fmt.Errorf("%w: %s: %w", store.ErrUnavailable, op, err)
	}
	return fmt.Errorf("redis %s: %w", op, err)
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	return v, wrap("get", err)
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	return wrap("set", s.rdb.Set(ctx, key, value, 0).Err())
}

func (s *Store) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	return wrap("setex", s.rdb.Set(ctx, key, value, ttl).Err())
}

func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, value, ttl).Result()
	return ok, wrap("setnx", err)
}

func (s *Store) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return wrap("del", s.rdb.Del(ctx, keys...).Err())
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	return n > 0, wrap("exists", err)
}

func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	n, err := s.rdb.Incr(ctx, key).Result()
	return n, wrap("incr", err)
}

func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.rdb.TTL(ctx, key).Result()
	if err != nil {
		return 0, wrap("ttl", err)
	}
	// -1 and -2 come back as negative durations for persistent and missing keys.
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, wrap("hgetall", err)
	}
	return m, nil
}

func (s *Store) HGet(ctx context.Context, key, field string) (string, error) {
	v, err := s.rdb.HGet(ctx, key, field).Result()
	return v, wrap("hget", err)
}

func (s *Store) HSet(ctx context.Context, key string, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	return wrap("hset", s.rdb.HSet(ctx, key, hashArgs(values)...).Err())
}

func (s *Store) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	n, err := s.rdb.HIncrBy(ctx, key, field, delta).Result()
	return n, wrap("hincrby", err)
}

func (s *Store) ZAdd(ctx context.Context, key string, score float64, member string) (bool, error) {
	n, err := s.rdb.ZAdd(ctx, key, goredis.Z{Score: score, Member: member}).Result()
	return n > 0, wrap("zadd", err)
}

func (s *Store) ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	members, err := s.rdb.ZRevRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, wrap("zrevrange", err)
	}
	return members, nil
}

func (s *Store) ZScore(ctx context.Context, key, member string) (float64, bool, error) {
	score, err := s.rdb.ZScore(ctx, key, member).Result()
	if errors.Is(err, goredis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, wrap("zscore", err)
	}
	return score, true, nil
}

func (s *Store) ZRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return wrap("zrem", s.rdb.ZRem(ctx, key, args...).Err())
}

func (s *Store) ZCard(ctx context.Context, key string) (int64, error) {
	n, err := s.rdb.ZCard(ctx, key).Result()
	return n, wrap("zcard", err)
}

// Batch sends ops in one pipeline. A transport failure fails the whole batch
// with store.ErrUnavailable; any other failure is reported on its own Result.
func (s *Store) Batch(ctx context.Context, ops []store.Op) ([]store.Result, error) {
	if len(ops) == 0 {
		return nil, nil
	}
	pipe := s.rdb.Pipeline()
	cmds := make([]goredis.Cmder, len(ops))
	for i, op := range ops {
		switch op.Kind {
		case store.OpGet:
			cmds[i] = pipe.Get(ctx, op.Key)
		case store.OpHGetAll:
			cmds[i] = pipe.HGetAll(ctx, op.Key)
		case store.OpHGet:
			cmds[i] = pipe.HGet(ctx, op.Key, op.Field)
		case store.OpHSet:
			cmds[i] = pipe.HSet(ctx, op.Key, hashArgs(op.Values)...)
		case store.OpZAdd:
			cmds[i] = pipe.ZAdd(ctx, op.Key, goredis.Z{Score: op.Score, Member: op.Member})
		case store.OpZScore:
			cmds[i] = pipe.ZScore(ctx, op.Key, op.Member)
		case store.OpZCard:
			cmds[i] = pipe.ZCard(ctx, op.Key)
		default:
			return nil, fmt.Errorf("redis batch: unknown op kind %d", op.Kind)
		}
	}
	// Exec reports the first failing command; per-command errors are read below.
	_, _ = pipe.Exec(ctx)

	results := make([]store.Result, len(ops))
	for i, cmd := range cmds {
		err := cmd.Err()
		if isConnError(err) || isOpen(err) {
			return nil, wrap("pipeline", err)
		}
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			results[i].Err = wrap("pipeline", err)
			continue
		}
		results[i].Found = true
		switch c := cmd.(type) {
		case *goredis.StringCmd:
			results[i].Value = c.Val()
		case *goredis.MapStringStringCmd:
			results[i].Hash = c.Val()
			results[i].Found = len(c.Val()) > 0
		case *goredis.FloatCmd:
			results[i].Score = c.Val()
		case *goredis.IntCmd:
			results[i].Int = c.Val()
		}
	}
	return results, nil
}

func hashArgs(values map[string]string) []interface{} {
	args := make([]interface{}, 0, len(values)*2)
	for k, v := range values {
		args = append(args, k, v)
	}
	return args
}
