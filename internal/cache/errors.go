package cache

import (
	"errors"
	"fmt"
)

var (
	// ErrStorage marks failures of the persistence layer.
	ErrStorage = errors.New("cache storage failure")
	// ErrValueGeneration marks failures to produce a value for a new entry.
	ErrValueGeneration = errors.New("cache value generation failure")
)

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}

func generationErr(err error) error {
	return fmt.Errorf("generate value: %w: %w", ErrValueGeneration, err)
}
