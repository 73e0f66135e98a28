// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/jeranaias/taskpad/internal/util"
)

// =============================================================================
// FILE STORE
// =============================================================================

// FileStore keeps all keys in one JSON object file.
//
// Every Get reads the file, so writes from other processes are seen
// immediately. Writes replace the file atomically with 0600 permissions.
type FileStore struct {
	path string
	log  zerolog.Logger

	// mu serialises read-modify-write cycles within this process.
	mu sync.Mutex
}

// NewFileStore returns a store backed by the JSON file at path. The file and
// its directory are created on first write.
func NewFileStore(path string, logger zerolog.Logger) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("file store: empty path")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("file store: %w", err)
	}
	return &FileStore{path: abs, log: logger}, nil
}

// Path returns the absolute path of the backing file.
func (s *FileStore) Path() string {
	return s.path
}

// Get implements Store.
func (s *FileStore) Get(ctx context.Context, key string) (string, bool, error) {
	if err := validateKey(key); err != nil {
		return "", false, err
	}
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return "", false, err
	}
	v, ok := values[key]
	return v, ok, nil
}

// Set implements Store.
func (s *FileStore) Set(ctx context.Context, key, value string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	return s.update(ctx, func(values map[string]string) bool {
		if old, ok := values[key]; ok && old == value {
			return false
		}
		values[key] = value
		return true
	})
}

// Delete implements Store.
func (s *FileStore) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	return s.update(ctx, func(values map[string]string) bool {
		if _, ok := values[key]; !ok {
			return false
		}
		delete(values, key)
		return true
	})
}

// Close implements Store.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) update(ctx context.Context, mutate func(map[string]string) bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return err
	}
	if !mutate(values) {
		return nil
	}

	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("file store: encode: %w", err)
	}
	if err := util.WriteFileAtomic(s.path, data, 0600, 0700); err != nil {
		return fmt.Errorf("file store: %w", err)
	}
	return nil
}

// load reads the file. A missing or empty file is an empty map.
func (s *FileStore) load() (map[string]string, error) {
	values := make(map[string]string)

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return values, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file store: read: %w", err)
	}
	if len(data) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("file store: decode %s: %w", s.path, err)
	}
	return values, nil
}

// =============================================================================
// WATCH
// =============================================================================

// Watch implements Watcher using fsnotify on the parent directory. The file
// is replaced by rename on every write, so watching the file itself would
// lose the watch after the first write.
//
// Events are coalesced by diffing against the last snapshot, so a key is
// reported only when its value actually changed.
func (s *FileStore) Watch(ctx context.Context) (<-chan string, error) {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("file store: watch: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("file store: watch: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("file store: watch %s: %w", dir, err)
	}

	s.mu.Lock()
	snapshot, err := s.load()
	s.mu.Unlock()
	if err != nil {
		snapshot = make(map[string]string)
	}

	out := make(chan string, 16)
	go func() {
		defer close(out)
		defer w.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != s.path {
					continue
				}
				s.mu.Lock()
				current, err := s.load()
				s.mu.Unlock()
				if err != nil {
					// Mid-replace reads can fail; the next event will retry.
					s.log.Debug().Err(err).Msg("file store reload failed")
					continue
				}
				for _, key := range changedKeys(snapshot, current) {
					select {
					case out <- key:
					case <-ctx.Done():
						return
					}
				}
				snapshot = current
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.log.Warn().Err(err).Str("path", s.path).Msg("file store watch error")
			}
		}
	}()

	return out, nil
}

func changedKeys(before, after map[string]string) []string {
	var keys []string
	for k, v := range after {
		if old, ok := before[k]; !ok || old != v {
			keys = append(keys, k)
		}
	}
	for k := range before {
		if _, ok := after[k]; !ok {
			keys = append(keys, k)
		}
	}
	return keys
}
