package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/alphabot-ai/slashnews/internal/metrics"
	"github.com/alphabot-ai/slashnews/internal/store"
	"github.com/jonboulle/clockwork"

	_ "modernc.org/sqlite"
)

const backend = "sqlite"

// Store implements store.Store on an embedded SQLite database, for single
// process deployments without a Redis server.
type Store struct {
	db    *sql.DB
	clock clockwork.Clock
}

var _ store.Store = (*Store)(nil)

type Option func(*Store)

// WithClock sets the clock used to expire keys.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Store) { s.clock = clock }
}

func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer keeps INCR and HINCRBY atomic without busy retries.
	db.SetMaxOpenConns(1)
	if err := applySchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &Store{db: db, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// migrations is an ordered list of SQL migrations.
// Each migration runs exactly once, tracked by schema_version table.
var migrations = []string{
	// Migration 1: key/value, hash and sorted set tables
	`
CREATE TABLE IF NOT EXISTS kv (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	expires_at INTEGER
);

CREATE TABLE IF NOT EXISTS hashes (
	key TEXT NOT NULL,
	field TEXT NOT NULL,
	value TEXT NOT NULL,
	PRIMARY KEY (key, field)
);

CREATE TABLE IF NOT EXISTS zsets (
	key TEXT NOT NULL,
	member TEXT NOT NULL,
	score REAL NOT NULL,
	PRIMARY KEY (key, member)
);
CREATE INDEX IF NOT EXISTS idx_zsets_score ON zsets(key, score DESC, member DESC);
`,
	// Future migrations go here:
	// Migration 2: `ALTER TABLE ...`,
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY
		)
	`); err != nil {
		return err
	}

	var currentVersion int
	row := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err := row.Scan(&currentVersion); err != nil {
		return err
	}

	for i := currentVersion; i < len(migrations); i++ {
		if _, err := db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
		if _, err := db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, i+1); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", i+1, err)
		}
	}

	return nil
}

func (s *Store) now() int64 {
	return s.clock.Now().UnixMilli()
}

func (s *Store) observe(op string, start time.Time, err error) error {
	status := "success"
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		status = "error"
		err = fmt.Errorf("%w: sqlite %s: %w", store.ErrUnavailable, op, err)
	}
	metrics.StoreOpsTotal.WithLabelValues(backend, op, status).Inc()
	metrics.StoreOpDuration.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
	return err
}

// live filters out expired kv rows.
const live = `(expires_at IS NULL OR expires_at > ?)`

func (s *Store) Get(ctx context.Context, key string) (v string, err error) {
	defer func(start time.Time) { err = s.observe("get", start, err) }(time.Now())
	err = s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ? AND `+live, key, s.now()).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	return v, err
}

func (s *Store) Set(ctx context.Context, key, value string) (err error) {
	defer func(start time.Time) { err = s.observe("set", start, err) }(time.Now())
	_, err = s.db.ExecContext(ctx, `
INSERT INTO kv (key, value, expires_at) VALUES (?, ?, NULL)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = NULL
`, key, value)
	return err
}

func (s *Store) SetEx(ctx context.Context, key, value string, ttl time.Duration) (err error) {
	defer func(start time.Time) { err = s.observe("setex", start, err) }(time.Now())
	_, err = s.db.ExecContext(ctx, `
INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
`, key, value, s.now()+ttl.Milliseconds())
	return err
}

func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (ok bool, err error) {
	defer func(start time.Time) { err = s.observe("setnx", start, err) }(time.Now())
	var expires any
	if ttl > 0 {
		expires = s.now() + ttl.Milliseconds()
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
WHERE kv.expires_at IS NOT NULL AND kv.expires_at <= ?
`, key, value, expires, s.now())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) Del(ctx context.Context, keys ...string) (err error) {
	defer func(start time.Time) { err = s.observe("del", start, err) }(time.Now())
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, key := range keys {
		for _, table := range []string{"kv", "hashes", "zsets"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE key = ?`, key); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

func (s *Store) Exists(ctx context.Context, key string) (ok bool, err error) {
	defer func(start time.Time) { err = s.observe("exists", start, err) }(time.Now())
	err = s.db.QueryRowContext(ctx, `
SELECT EXISTS(SELECT 1 FROM kv WHERE key = ? AND `+live+`)
	OR EXISTS(SELECT 1 FROM hashes WHERE key = ?)
	OR EXISTS(SELECT 1 FROM zsets WHERE key = ?)
`, key, s.now(), key, key).Scan(&ok)
	return ok, err
}

func (s *Store) Incr(ctx context.Context, key string) (n int64, err error) {
	defer func(start time.Time) { err = s.observe("incr", start, err) }(time.Now())
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM kv WHERE key = ? AND NOT `+live, key, s.now()); err != nil {
		return 0, err
	}
	var v string
	err = tx.QueryRowContext(ctx, `
INSERT INTO kv (key, value, expires_at) VALUES (?, '1', NULL)
ON CONFLICT(key) DO UPDATE SET value = CAST(CAST(kv.value AS INTEGER) + 1 AS TEXT)
RETURNING value
`, key).Scan(&v)
	if err != nil {
		return 0, err
	}
	if n, err = strconv.ParseInt(v, 10, 64); err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

func (s *Store) TTL(ctx context.Context, key string) (ttl time.Duration, err error) {
	defer func(start time.Time) { err = s.observe("ttl", start, err) }(time.Now())
	var expires sql.NullInt64
	err = s.db.QueryRowContext(ctx, `SELECT expires_at FROM kv WHERE key = ? AND `+live, key, s.now()).Scan(&expires)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil || !expires.Valid {
		return 0, err
	}
	return time.Duration(expires.Int64-s.now()) * time.Millisecond, nil
}

func (s *Store) HGetAll(ctx context.Context, key string) (h map[string]string, err error) {
	defer func(start time.Time) { err = s.observe("hgetall", start, err) }(time.Now())
	return s.hgetall(ctx, key)
}

func (s *Store) hgetall(ctx context.Context, key string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT field, value FROM hashes WHERE key = ?`, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	h := make(map[string]string)
	for rows.Next() {
		var field, value string
		if err := rows.Scan(&field, &value); err != nil {
			return nil, err
		}
		h[field] = value
	}
	return h, rows.Err()
}

func (s *Store) HGet(ctx context.Context, key, field string) (v string, err error) {
	defer func(start time.Time) { err = s.observe("hget", start, err) }(time.Now())
	return s.hget(ctx, key, field)
}

func (s *Store) hget(ctx context.Context, key, field string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM hashes WHERE key = ? AND field = ?`, key, field).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	return v, err
}

func (s *Store) HSet(ctx context.Context, key string, values map[string]string) (err error) {
	defer func(start time.Time) { err = s.observe("hset", start, err) }(time.Now())
	return s.hset(ctx, key, values)
}

func (s *Store) hset(ctx context.Context, key string, values map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for field, value := range values {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO hashes (key, field, value) VALUES (?, ?, ?)
ON CONFLICT(key, field) DO UPDATE SET value = excluded.value
`, key, field, value); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) HIncrBy(ctx context.Context, key, field string, delta int64) (n int64, err error) {
	defer func(start time.Time) { err = s.observe("hincrby", start, err) }(time.Now())
	var v string
	err = s.db.QueryRowContext(ctx, `
INSERT INTO hashes (key, field, value) VALUES (?, ?, CAST(? AS TEXT))
ON CONFLICT(key, field) DO UPDATE SET value = CAST(CAST(hashes.value AS INTEGER) + ? AS TEXT)
RETURNING value
`, key, field, delta, delta).Scan(&v)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}

func (s *Store) ZAdd(ctx context.Context, key string, score float64, member string) (added bool, err error) {
	defer func(start time.Time) { err = s.observe("zadd", start, err) }(time.Now())
	return s.zadd(ctx, key, score, member)
}

func (s *Store) zadd(ctx context.Context, key string, score float64, member string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()
	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM zsets WHERE key = ? AND member = ?)`, key, member).Scan(&exists); err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO zsets (key, member, score) VALUES (?, ?, ?)
ON CONFLICT(key, member) DO UPDATE SET score = excluded.score
`, key, member, score); err != nil {
		return false, err
	}
	return !exists, tx.Commit()
}

func (s *Store) ZRevRange(ctx context.Context, key string, start, stop int64) (members []string, err error) {
	defer func(begin time.Time) { err = s.observe("zrevrange", begin, err) }(time.Now())
	if start < 0 {
		start = 0
	}
	limit := int64(-1)
	if stop >= 0 {
		if stop < start {
			return nil, nil
		}
		limit = stop - start + 1
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT member FROM zsets WHERE key = ?
ORDER BY score DESC, member DESC
LIMIT ? OFFSET ?
`, key, limit, start)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (s *Store) ZScore(ctx context.Context, key, member string) (score float64, ok bool, err error) {
	defer func(start time.Time) { err = s.observe("zscore", start, err) }(time.Now())
	return s.zscore(ctx, key, member)
}

func (s *Store) zscore(ctx context.Context, key, member string) (float64, bool, error) {
	var score float64
	err := s.db.QueryRowContext(ctx, `SELECT score FROM zsets WHERE key = ? AND member = ?`, key, member).Scan(&score)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return score, true, nil
}

func (s *Store) ZRem(ctx context.Context, key string, members ...string) (err error) {
	defer func(start time.Time) { err = s.observe("zrem", start, err) }(time.Now())
	for _, m := range members {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM zsets WHERE key = ? AND member = ?`, key, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ZCard(ctx context.Context, key string) (n int64, err error) {
	defer func(start time.Time) { err = s.observe("zcard", start, err) }(time.Now())
	return s.zcard(ctx, key)
}

func (s *Store) zcard(ctx context.Context, key string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM zsets WHERE key = ?`, key).Scan(&n)
	return n, err
}

// Batch runs ops one after another on the same connection. Like a Redis
// pipeline it is not atomic. Missing entries are reported per op; any other
// failure means the database is gone and fails the whole batch.
func (s *Store) Batch(ctx context.Context, ops []store.Op) (results []store.Result, err error) {
	defer func(start time.Time) { err = s.observe("batch", start, err) }(time.Now())
	results = make([]store.Result, len(ops))
	for i, op := range ops {
		r := &results[i]
		switch op.Kind {
		case store.OpGet:
			r.Err = s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ? AND `+live, op.Key, s.now()).Scan(&r.Value)
			if errors.Is(r.Err, sql.ErrNoRows) {
				r.Err = nil
				continue
			}
			r.Found = r.Err == nil
		case store.OpHGetAll:
			r.Hash, r.Err = s.hgetall(ctx, op.Key)
			r.Found = len(r.Hash) > 0
		case store.OpHGet:
			r.Value, r.Err = s.hget(ctx, op.Key, op.Field)
			if errors.Is(r.Err, store.ErrNotFound) {
				r.Err = nil
				continue
			}
			r.Found = r.Err == nil
		case store.OpHSet:
			r.Err = s.hset(ctx, op.Key, op.Values)
			r.Found = r.Err == nil
		case store.OpZAdd:
			var added bool
			added, r.Err = s.zadd(ctx, op.Key, op.Score, op.Member)
			if added {
				r.Int = 1
			}
			r.Found = r.Err == nil
		case store.OpZScore:
			r.Score, r.Found, r.Err = s.zscore(ctx, op.Key, op.Member)
		case store.OpZCard:
			r.Int, r.Err = s.zcard(ctx, op.Key)
			r.Found = r.Err == nil
		default:
			return nil, fmt.Errorf("sqlite batch: unknown op kind %d", op.Kind)
		}
		if r.Err != nil {
			return nil, r.Err
		}
	}
	return results, nil
}
