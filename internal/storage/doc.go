// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides the durable key/value media that hold taskpad's
// client-local state: the session token and the theme preference.
//
// # Backends
//
//   - FileStore: a JSON object file replaced atomically, watchable with fsnotify
//   - SQLiteStore: a single kv table in a pure-Go SQLite database
//   - RedisStore: plain string keys under a prefix
//   - MemoryStore: process-local, for tests and ephemeral runs
//
// Any backend can be wrapped in a SealedStore, which encrypts values with
// AES-256-GCM under a PBKDF2-derived key.
//
// # Usage
//
//	store, err := storage.Open(ctx, storage.Options{Backend: storage.BackendFile, Path: path})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//	err = store.Set(ctx, "theme", "dark")
package storage
