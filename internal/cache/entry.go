package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Entry is a stored key/value pair with its absolute expiry.
type Entry struct {
	Key       string
	Value     string
	ExpiresAt time.Time
}

// Expired reports whether the entry is no longer valid at now.
func (e Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.After(now)
}

// Persistence is the storage the Store reads and writes through.
// Lookups return (nil, nil) when nothing matches.
type Persistence interface {
	FindByKey(ctx context.Context, key string) (*Entry, error)
	FindAll(ctx context.Context) ([]Entry, error)
	Count(ctx context.Context) (int64, error)
	Insert(ctx context.Context, e Entry) error
	// UpdateByKey is a no-op when key does not exist.
	UpdateByKey(ctx context.Context, key, value string, expiresAt time.Time) error
	DeleteByKey(ctx context.Context, key string) error
	DeleteAll(ctx context.Context) error
	FindMaxExpiry(ctx context.Context) (*Entry, error)
}

// Generator produces values for entries created on a miss.
type Generator interface {
	Generate() (string, error)
}

type GeneratorFunc func() (string, error)

func (f GeneratorFunc) Generate() (string, error) { return f() }

// UUIDGenerator returns random version 4 UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) Generate() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
