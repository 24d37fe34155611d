// Package cache implements a TTL key/value store with a bounded entry count
// on top of a pluggable Persistence.
//
// Expired entries are removed lazily, when a read finds them. A read that
// misses always creates the entry with a generated value, so GetOrCreate
// never reports absence. When a miss would push the entry count past the
// configured capacity, the entry with the furthest expiry is evicted first.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type Config struct {
	TTL      time.Duration
	Capacity int
}

func (c Config) Validate() error {
	if c.TTL <= 0 {
		return fmt.Errorf("cache ttl must be positive, got %v", c.TTL)
	}
	if c.Capacity <= 0 {
		return fmt.Errorf("cache capacity must be positive, got %d", c.Capacity)
	}
	return nil
}

type Store struct {
	p       Persistence
	cfg     Config
	gen     Generator
	now     func() time.Time
	metrics Metrics
	log     *zap.Logger
	group   *singleflight.Group
}

type Option func(*Store)

func WithGenerator(g Generator) Option {
	return func(s *Store) { s.gen = g }
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithMetrics(m Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithSingleflight coalesces concurrent GetOrCreate calls for the same key,
// so that simultaneous misses generate and store a single value.
func WithSingleflight() Option {
	return func(s *Store) { s.group = &singleflight.Group{} }
}

func New(p Persistence, cfg Config, opts ...Option) (*Store, error) {
	if p == nil {
		return nil, errors.New("cache: nil persistence")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Store{
		p:       p,
		cfg:     cfg,
		gen:     UUIDGenerator{},
		now:     time.Now,
		metrics: NoopMetrics{},
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ListKeys returns every persisted key in storage order. Entries whose TTL
// has lapsed are included until a read removes them.
func (s *Store) ListKeys(ctx context.Context) ([]string, error) {
	entries, err := s.p.FindAll(ctx)
	if err != nil {
		return nil, storageErr("list entries", err)
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.Key)
	}
	return keys, nil
}

// GetOrCreate returns the value stored under key and pushes its expiry
// forward. Missing or expired entries are replaced by a freshly generated
// value.
func (s *Store) GetOrCreate(ctx context.Context, key string) (string, error) {
	if s.group == nil {
		return s.getOrCreate(ctx, key)
	}
	// The shared call must not die with whichever caller happened to start it.
	shared := context.WithoutCancel(ctx)
	v, err, _ := s.group.Do(key, func() (any, error) {
		return s.getOrCreate(shared, key)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *Store) getOrCreate(ctx context.Context, key string) (string, error) {
	e, err := s.p.FindByKey(ctx, key)
	if err != nil {
		return "", storageErr("find entry", err)
	}

	now := s.now()
	if e != nil && e.Expired(now) {
		s.log.Debug("cache entry expired, removing",
			zap.String("key", key),
			zap.Time("expires_at", e.ExpiresAt))
		if err := s.p.DeleteByKey(ctx, key); err != nil {
			return "", storageErr("delete expired entry", err)
		}
		s.metrics.Expire()
		e = nil
	}

	if e != nil {
		if err := s.p.UpdateByKey(ctx, key, e.Value, s.expiry(now)); err != nil {
			return "", storageErr("refresh entry", err)
		}
		s.metrics.Hit()
		s.metrics.Refresh()
		return e.Value, nil
	}

	s.metrics.Miss()
	value, err := s.gen.Generate()
	if err != nil {
		return "", generationErr(err)
	}
	if err := s.insert(ctx, key, value); err != nil {
		return "", err
	}
	return value, nil
}

// insert creates a new entry, evicting the entry with the furthest expiry
// first when the store is full. Eviction and insertion are not atomic.
func (s *Store) insert(ctx context.Context, key, value string) error {
	count, err := s.p.Count(ctx)
	if err != nil {
		return storageErr("count entries", err)
	}
	if count >= int64(s.cfg.Capacity) {
		victim, err := s.p.FindMaxExpiry(ctx)
		if err != nil {
			return storageErr("find eviction candidate", err)
		}
		if victim != nil {
			s.log.Info("cache capacity reached, evicting entry",
				zap.Int64("count", count),
				zap.Int("capacity", s.cfg.Capacity),
				zap.String("evicted_key", victim.Key),
				zap.Time("expires_at", victim.ExpiresAt))
			if err := s.p.DeleteByKey(ctx, victim.Key); err != nil {
				return storageErr("evict entry", err)
			}
			s.metrics.Evict()
		}
	}

	e := Entry{Key: key, Value: value, ExpiresAt: s.expiry(s.now())}
	if err := s.p.Insert(ctx, e); err != nil {
		return storageErr("insert entry", err)
	}
	return nil
}

// Update sets a new value and expiry on an existing entry. It does not
// create missing entries and reports success for them.
func (s *Store) Update(ctx context.Context, key, value string) error {
	if err := s.p.UpdateByKey(ctx, key, value, s.expiry(s.now())); err != nil {
		return storageErr("update entry", err)
	}
	return nil
}

// Remove deletes key if present.
func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.p.DeleteByKey(ctx, key); err != nil {
		return storageErr("remove entry", err)
	}
	return nil
}

func (s *Store) RemoveAll(ctx context.Context) error {
	if err := s.p.DeleteAll(ctx); err != nil {
		return storageErr("remove all entries", err)
	}
	return nil
}

type Stats struct {
	Count    int64         `json:"count"`
	Capacity int           `json:"capacity"`
	TTL      time.Duration `json:"ttl"`
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	n, err := s.p.Count(ctx)
	if err != nil {
		return Stats{}, storageErr("count entries", err)
	}
	return Stats{Count: n, Capacity: s.cfg.Capacity, TTL: s.cfg.TTL}, nil
}

func (s *Store) expiry(now time.Time) time.Time {
	return now.Add(s.cfg.TTL)
}
