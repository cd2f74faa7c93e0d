package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned for a missing scalar key or hash field.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable is returned when the backing store cannot be reached.
	// It is the only fatal store error; callers never retry it.
	ErrUnavailable = errors.New("store unavailable")
)

// Store is the key/value, hash and sorted-set surface the engine persists through.
// Single operations are atomic. Batch is one round trip but not a transaction.
type Store interface {
	KVStore
	HashStore
	SortedSetStore
	Batch(ctx context.Context, ops []Op) ([]Result, error)
	Close() error
}

type KVStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX sets key only when it does not exist and reports whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	Incr(ctx context.Context, key string) (int64, error)
	// TTL returns the remaining lifetime of key, zero when missing or persistent.
	TTL(ctx context.Context, key string) (time.Duration, error)
}

type HashStore interface {
	// HGetAll returns an empty map when key does not exist.
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HGet(ctx context.Context, key, field string) (string, error)
	HSet(ctx context.Context, key string, values map[string]string) error
	HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error)
}

type SortedSetStore interface {
	// ZAdd reports whether member was newly added.
	ZAdd(ctx context.Context, key string, score float64, member string) (bool, error)
	// ZRevRange returns members by descending score, stop is inclusive and -1 means the end.
	ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	ZScore(ctx context.Context, key, member string) (float64, bool, error)
	ZRem(ctx context.Context, key string, members ...string) error
	ZCard(ctx context.Context, key string) (int64, error)
}

type OpKind int

const (
	OpGet OpKind = iota
	OpHGetAll
	OpHGet
	OpHSet
	OpZAdd
	OpZScore
	OpZCard
)

// Op is one command of a Batch.
type Op struct {
	Kind   OpKind
	Key    string
	Field  string
	Member string
	Score  float64
	Values map[string]string
}

func GetOp(key string) Op { return Op{Kind: OpGet, Key: key} }
func HGetAllOp(key string) Op { return Op{Kind: OpHGetAll, Key: key} }
func HGetOp(key, field string) Op { return Op{Kind: OpHGet, Key: key, Field: field} }
func ZScoreOp(key, member string) Op { return Op{Kind: OpZScore, Key: key, Member: member} }
func ZCardOp(key string) Op { return Op{Kind: OpZCard, Key: key} }
func HSetOp(key string, values map[string]string) Op {
	return Op{Kind: OpHSet, Key: key, Values: values}
}
func ZAddOp(key string, score float64, member string) Op {
	return Op{Kind: OpZAdd, Key: key, Score: score, Member: member}
}

// Result holds the outcome of one batched Op, in submission order.
// Found is false for missing keys, fields and members. Err reports a failure
// of this op only; list-style readers treat such entries as absent.
type Result struct {
	Value string
	Hash  map[string]string
	Score float64
	Int   int64
	Found bool
	Err   error
}
