// Package redisstore keeps cache entries in Redis.
//
// Every key shares the hash tag {prefix}, so a cluster places the whole
// keyspace of one store on a single slot and multi-key transactions work:
//
//	{prefix}:entry:<key>  hash {value, expires_at}
//	{prefix}:order        zset, score = insertion sequence
//	{prefix}:expiry       zset, score = expires_at (epoch ms)
//	{prefix}:seq          insertion counter
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"ttlkv/internal/cache"
	"ttlkv/internal/config"
)

var _ cache.Persistence = (*Store)(nil)

const (
	fieldValue     = "value"
	fieldExpiresAt = "expires_at"
)

// updateScript refreshes an entry only if it already exists.
var updateScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[1], 'value', ARGV[1], 'expires_at', ARGV[2])
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[3])
return 1
`)

// deleteAllScript drops every entry hash listed in either zset, then the
// zsets themselves, in one step so no concurrent Insert lands in between.
var deleteAllScript = redis.NewScript(`
local n = 0
for _, zset in ipairs({KEYS[1], KEYS[2]}) do
	for _, member in ipairs(redis.call('ZRANGE', zset, 0, -1)) do
		n = n + redis.call('DEL', ARGV[1] .. member)
	end
end
redis.call('DEL', KEYS[1], KEYS[2])
return n
`)

type Store struct {
	rdb    redis.UniversalClient
	prefix string
}

func New(rdb redis.UniversalClient, prefix string) *Store {
	return &Store{rdb: rdb, prefix: "{" + prefix + "}"}
}

// Open builds a client from cfg and checks that the server answers.
func Open(ctx context.Context, cfg config.RedisConfig) (*Store, error) {
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        cfg.Addrs,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  time.Duration(cfg.DialTimeoutMs) * time.Millisecond,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutMs) * time.Millisecond,
		WriteTimeout: time.Duration(cfg.WriteTimeoutMs) * time.Millisecond,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return New(rdb, cfg.Prefix), nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

func (s *Store) entryKey(key string) string { return s.prefix + ":entry:" + key }
func (s *Store) orderKey() string           { return s.prefix + ":order" }
func (s *Store) expiryKey() string          { return s.prefix + ":expiry" }
func (s *Store) seqKey() string             { return s.prefix + ":seq" }

func parseEntry(key string, fields map[string]string) (*cache.Entry, error) {
	ms, err := strconv.ParseInt(fields[fieldExpiresAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("entry %q: bad expires_at %q: %w", key, fields[fieldExpiresAt], err)
	}
	return &cache.Entry{
		Key:       key,
		Value:     fields[fieldValue],
		ExpiresAt: time.UnixMilli(ms),
	}, nil
}

func (s *Store) FindByKey(ctx context.Context, key string) (*cache.Entry, error) {
	fields, err := s.rdb.HGetAll(ctx, s.entryKey(key)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return parseEntry(key, fields)
}

func (s *Store) FindAll(ctx context.Context) ([]cache.Entry, error) {
	keys, err := s.rdb.ZRange(ctx, s.orderKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return []cache.Entry{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(keys))
	_, err = s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = pipe.HGetAll(ctx, s.entryKey(k))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]cache.Entry, 0, len(keys))
	for i, k := range keys {
		fields := cmds[i].Val()
		if len(fields) == 0 {
			// removed between the two round trips
			continue
		}
		e, err := parseEntry(k, fields)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	return s.rdb.ZCard(ctx, s.orderKey()).Result()
}

func (s *Store) Insert(ctx context.Context, e cache.Entry) error {
	seq, err := s.rdb.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return err
	}
	ms := e.ExpiresAt.UnixMilli()
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.entryKey(e.Key), fieldValue, e.Value, fieldExpiresAt, ms)
		pipe.ZAdd(ctx, s.orderKey(), redis.Z{Score: float64(seq), Member: e.Key})
		pipe.ZAdd(ctx, s.expiryKey(), redis.Z{Score: float64(ms), Member: e.Key})
		return nil
	})
	return err
}

func (s *Store) UpdateByKey(ctx context.Context, key, value string, expiresAt time.Time) error {
	keys := []string{s.entryKey(key), s.expiryKey()}
	err := updateScript.Run(ctx, s.rdb, keys, value, expiresAt.UnixMilli(), key).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

func (s *Store) DeleteByKey(ctx context.Context, key string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.entryKey(key))
		pipe.ZRem(ctx, s.orderKey(), key)
		pipe.ZRem(ctx, s.expiryKey(), key)
		return nil
	})
	return err
}

func (s *Store) DeleteAll(ctx context.Context) error {
	keys := []string{s.orderKey(), s.expiryKey()}
	return deleteAllScript.Run(ctx, s.rdb, keys, s.entryKey("")).Err()
}

func (s *Store) FindMaxExpiry(ctx context.Context) (*cache.Entry, error) {
	top, err := s.rdb.ZRevRange(ctx, s.expiryKey(), 0, 0).Result()
	if err != nil {
		return nil, err
	}
	if len(top) == 0 {
		return nil, nil
	}
	return s.FindByKey(ctx, top[0])
}
