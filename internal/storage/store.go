// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// =============================================================================
// INTERFACES
// =============================================================================

// Store is a durable string key/value medium.
//
// A Set or Delete is visible to the next Get on any Store opened on the same
// medium; implementations do not cache.
type Store interface {
	// Get returns the value for key. ok is false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases the medium.
	Close() error
}

// Watcher is implemented by stores that can report changes to their medium,
// including changes written by other processes.
//
// The returned channel carries the key whose value changed and is closed when
// ctx is done.
type Watcher interface {
	Watch(ctx context.Context) (<-chan string, error)
}

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrInvalidKey indicates an empty or reserved key.
	ErrInvalidKey = errors.New("invalid storage key")

	// ErrUnknownBackend indicates Options.Backend names no known backend.
	ErrUnknownBackend = errors.New("unknown storage backend")

	// ErrWatchUnsupported indicates a Watcher whose medium cannot report
	// changes, such as a wrapper over a store that does not watch.
	ErrWatchUnsupported = errors.New("store does not support watching")
)

// reservedPrefix marks keys used by the storage layer itself. Backends
// accept them; wrappers that own such keys refuse them from callers.
const reservedPrefix = "_"

func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	return nil
}

func isReserved(key string) bool {
	return strings.HasPrefix(key, reservedPrefix)
}

// =============================================================================
// OPEN
// =============================================================================

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Options selects and configures a backend.
type Options struct {
	Backend string

	// Path is the file or database path for the file and sqlite backends.
	Path string

	RedisAddr      string
	RedisKeyPrefix string

	// Encrypt wraps the backend in a SealedStore keyed from Passphrase.
	Encrypt    bool
	Passphrase string

	Logger zerolog.Logger
}

// Open opens the backend named by opts.Backend.
func Open(ctx context.Context, opts Options) (Store, error) {
	var (
		store Store
		err   error
	)

	switch strings.ToLower(opts.Backend) {
	case BackendFile, "":
		store, err = NewFileStore(opts.Path, opts.Logger)
	case BackendSQLite:
		store, err = OpenSQLite(ctx, opts.Path)
	case BackendRedis:
		store, err = OpenRedis(ctx, opts.RedisAddr, opts.RedisKeyPrefix)
	case BackendMemory:
		store = NewMemoryStore()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
	if err != nil {
		return nil, err
	}

	if opts.Encrypt {
		sealed, err := NewSealedStore(ctx, store, opts.Passphrase)
		if err != nil {
			store.Close()
			return nil, err
		}
		store = sealed
	}

	opts.Logger.Debug().
		Str("backend", opts.Backend).
		Bool("encrypted", opts.Encrypt).
		Msg("storage opened")
	return store, nil
}
