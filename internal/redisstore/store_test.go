package redisstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"ttlkv/internal/cache"
	"ttlkv/internal/config"
)

func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, "test"), mr
}

func seed(t *testing.T, s *Store, entries ...cache.Entry) {
	t.Helper()
	for _, e := range entries {
		if err := s.Insert(context.Background(), e); err != nil {
			t.Fatalf("insert %s: %v", e.Key, err)
		}
	}
}

func TestStore_InsertAndFind(t *testing.T) {
	s, mr := setupTestStore(t)
	ctx := context.Background()
	seed(t, s, cache.Entry{Key: "one", Value: "value one", ExpiresAt: time.UnixMilli(1500000000000)})

	e, err := s.FindByKey(ctx, "one")
	if err != nil {
		t.Fatalf("FindByKey: %v", err)
	}
	if e == nil || e.Value != "value one" || e.ExpiresAt.UnixMilli() != 1500000000000 {
		t.Fatalf("entry = %+v", e)
	}
	if got := mr.HGet("{test}:entry:one", "value"); got != "value one" {
		t.Errorf("raw hash value = %q", got)
	}

	missing, err := s.FindByKey(ctx, "two")
	if err != nil || missing != nil {
		t.Errorf("FindByKey missing = %+v, %v", missing, err)
	}
}

func TestStore_FindAllKeepsInsertionOrder(t *testing.T) {
	s, _ := setupTestStore(t)
	now := time.Now()
	seed(t, s,
		cache.Entry{Key: "one", Value: "1", ExpiresAt: now.Add(120 * time.Second)},
		cache.Entry{Key: "two", Value: "2", ExpiresAt: now.Add(60 * time.Second)},
		cache.Entry{Key: "three", Value: "3", ExpiresAt: now.Add(90 * time.Second)},
	)

	all, err := s.FindAll(context.Background())
	if err != nil {
		t.Fatalf("FindAll: %v", err)
	}
	want := []string{"one", "two", "three"}
	if len(all) != len(want) {
		t.Fatalf("got %d entries", len(all))
	}
	for i, k := range want {
		if all[i].Key != k {
			t.Errorf("all[%d] = %q, want %q", i, all[i].Key, k)
		}
	}
}

func TestStore_UpdateByKey(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()
	seed(t, s,
		cache.Entry{Key: "a", Value: "old", ExpiresAt: time.UnixMilli(1000)},
		cache.Entry{Key: "b", Value: "b", ExpiresAt: time.UnixMilli(5000)},
	)

	if err := s.UpdateByKey(ctx, "a", "new", time.UnixMilli(9000)); err != nil {
		t.Fatalf("UpdateByKey: %v", err)
	}
	e, _ := s.FindByKey(ctx, "a")
	if e.Value != "new" || e.ExpiresAt.UnixMilli() != 9000 {
		t.Errorf("entry = %+v", e)
	}
	// the expiry index follows the update
	top, _ := s.FindMaxExpiry(ctx)
	if top == nil || top.Key != "a" {
		t.Errorf("FindMaxExpiry = %+v, want a", top)
	}

	if err := s.UpdateByKey(ctx, "ghost", "v", time.UnixMilli(1)); err != nil {
		t.Fatalf("UpdateByKey missing: %v", err)
	}
	if e, _ := s.FindByKey(ctx, "ghost"); e != nil {
		t.Errorf("update created %+v", e)
	}
	if n, _ := s.Count(ctx); n != 2 {
		t.Errorf("count = %d, want 2", n)
	}
}

func TestStore_DeleteAndCount(t *testing.T) {
	s, mr := setupTestStore(t)
	ctx := context.Background()
	now := time.Now()
	seed(t, s,
		cache.Entry{Key: "a", Value: "1", ExpiresAt: now},
		cache.Entry{Key: "b", Value: "2", ExpiresAt: now},
		cache.Entry{Key: "c", Value: "3", ExpiresAt: now},
	)

	if n, err := s.Count(ctx); err != nil || n != 3 {
		t.Fatalf("Count = %d, %v", n, err)
	}
	if err := s.DeleteByKey(ctx, "b"); err != nil {
		t.Fatalf("DeleteByKey: %v", err)
	}
	if err := s.DeleteByKey(ctx, "b"); err != nil {
		t.Fatalf("DeleteByKey absent: %v", err)
	}
	if n, _ := s.Count(ctx); n != 2 {
		t.Errorf("Count = %d, want 2", n)
	}
	if mr.Exists("{test}:entry:b") {
		t.Error("hash for b still exists")
	}

	if err := s.DeleteAll(ctx); err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}
	if n, _ := s.Count(ctx); n != 0 {
		t.Errorf("Count after DeleteAll = %d", n)
	}
	for _, k := range []string{"{test}:entry:a", "{test}:entry:c", "{test}:order", "{test}:expiry"} {
		if mr.Exists(k) {
			t.Errorf("%s survived DeleteAll", k)
		}
	}
}

func TestStore_DeleteAllClearsEntriesMissingFromOrder(t *testing.T) {
	s, mr := setupTestStore(t)
	ctx := context.Background()
	exp := time.Now().Add(time.Minute)
	seed(t, s, cache.Entry{Key: "listed", Value: "1", ExpiresAt: exp})

	// an entry tracked only by the expiry zset
	mr.HSet("{test}:entry:stray", "value", "2", "expires_at", "1")
	if _, err := mr.ZAdd("{test}:expiry", 1, "stray"); err != nil {
		t.Fatal(err)
	}
	if e, _ := s.FindByKey(ctx, "stray"); e == nil {
		t.Fatal("stray entry not readable before DeleteAll")
	}

	if err := s.DeleteAll(ctx); err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}
	for _, k := range []string{"{test}:entry:listed", "{test}:entry:stray", "{test}:order", "{test}:expiry"} {
		if mr.Exists(k) {
			t.Errorf("%s survived DeleteAll", k)
		}
	}
	if e, err := s.FindByKey(ctx, "stray"); err != nil || e != nil {
		t.Errorf("FindByKey(stray) = %v, %v; want nil, nil", e, err)
	}

	seed(t, s, cache.Entry{Key: "fresh", Value: "3", ExpiresAt: exp})
	if n, _ := s.Count(ctx); n != 1 {
		t.Errorf("Count after reinsert = %d, want 1", n)
	}
}

func TestStore_FindMaxExpiry(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	if e, err := s.FindMaxExpiry(ctx); err != nil || e != nil {
		t.Fatalf("empty: %+v, %v", e, err)
	}
	now := time.Now()
	seed(t, s,
		cache.Entry{Key: "one", Value: "1", ExpiresAt: now.Add(60 * time.Second)},
		cache.Entry{Key: "three", Value: "3", ExpiresAt: now.Add(120 * time.Second)},
		cache.Entry{Key: "two", Value: "2", ExpiresAt: now.Add(90 * time.Second)},
	)
	e, err := s.FindMaxExpiry(ctx)
	if err != nil {
		t.Fatalf("FindMaxExpiry: %v", err)
	}
	if e == nil || e.Key != "three" {
		t.Errorf("FindMaxExpiry = %+v", e)
	}
}

func TestStore_WithCacheStore(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()
	now := time.Now()
	seed(t, s,
		cache.Entry{Key: "one", Value: "value one", ExpiresAt: now.Add(60 * time.Second)},
		cache.Entry{Key: "two", Value: "value two", ExpiresAt: now.Add(90 * time.Second)},
		cache.Entry{Key: "three", Value: "value three", ExpiresAt: now.Add(120 * time.Second)},
	)
	cs, err := cache.New(s, cache.Config{TTL: 30 * time.Second, Capacity: 3},
		cache.WithGenerator(cache.GeneratorFunc(func() (string, error) { return "X", nil })))
	if err != nil {
		t.Fatal(err)
	}

	if v, err := cs.GetOrCreate(ctx, "overwrite-key"); err != nil || v != "X" {
		t.Fatalf("GetOrCreate = %q, %v", v, err)
	}
	keys, err := cs.ListKeys(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"one", "two", "overwrite-key"}
	if len(keys) != 3 {
		t.Fatalf("keys = %v", keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("keys = %v, want %v", keys, want)
		}
	}
}

func TestStore_ServerDown(t *testing.T) {
	s, mr := setupTestStore(t)
	mr.Close()

	cs, err := cache.New(s, cache.Config{TTL: time.Second, Capacity: 1})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cs.ListKeys(context.Background()); !errors.Is(err, cache.ErrStorage) {
		t.Errorf("err = %v, want ErrStorage", err)
	}
}

func TestOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := Open(context.Background(), config.RedisConfig{Addrs: []string{mr.Addr()}, Prefix: "p"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}

	addr := mr.Addr()
	mr.Close()
	if _, err := Open(context.Background(), config.RedisConfig{Addrs: []string{addr}, DialTimeoutMs: 100}); err == nil {
		t.Error("expected error when server is down")
	}
}
