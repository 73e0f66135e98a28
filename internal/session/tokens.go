// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/jeranaias/taskpad/internal/storage"
)

// TokenKey is the storage key holding the session token.
const TokenKey = "token"

// ErrEmptyToken indicates an attempt to store an empty token.
var ErrEmptyToken = errors.New("empty session token")

// TokenStore is the durable slot for the session token.
//
// It does not cache: each Get reads the medium, so a Set or Clear made by
// any store on the same medium is visible to the next Get.
type TokenStore struct {
	store storage.Store
	key   string
}

// NewTokenStore binds a TokenStore to TokenKey in store.
func NewTokenStore(store storage.Store) *TokenStore {
	return &TokenStore{store: store, key: TokenKey}
}

// Get returns the stored token. ok is false when none is stored.
func (t *TokenStore) Get(ctx context.Context) (string, bool, error) {
	v, ok, err := t.store.Get(ctx, t.key)
	if err != nil {
		return "", false, fmt.Errorf("failed to read session token: %w", err)
	}
	if !ok || v == "" {
		return "", false, nil
	}
	return v, true, nil
}

// Set stores token, replacing any previous one.
func (t *TokenStore) Set(ctx context.Context, token string) error {
	if token == "" {
		return ErrEmptyToken
	}
	if err := t.store.Set(ctx, t.key, token); err != nil {
		return fmt.Errorf("failed to store session token: %w", err)
	}
	return nil
}

// Clear removes the token.
func (t *TokenStore) Clear(ctx context.Context) error {
	if err := t.store.Delete(ctx, t.key); err != nil {
		return fmt.Errorf("failed to clear session token: %w", err)
	}
	return nil
}

// watcher returns the medium's change feed, if it has one.
func (t *TokenStore) watcher() (storage.Watcher, bool) {
	w, ok := t.store.(storage.Watcher)
	return w, ok
}
