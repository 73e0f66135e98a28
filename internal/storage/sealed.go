// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// SealedPrefix marks a sealed value (format: ENC:base64(nonce|ciphertext|tag)).
const SealedPrefix = "ENC:"

const (
	sealedNonceSize = 12
	sealedKeySize   = 32
	sealedSaltSize  = 32

	// PBKDF2Iterations follows the OWASP 2023 guidance for PBKDF2-SHA-256.
	PBKDF2Iterations = 600000

	saltKey = reservedPrefix + "salt"
)

var (
	// ErrNoPassphrase indicates encryption was requested without a passphrase.
	ErrNoPassphrase = errors.New("storage encryption requires a passphrase")

	// ErrInvalidCiphertext indicates a stored value is not in sealed format.
	ErrInvalidCiphertext = errors.New("invalid ciphertext format")

	// ErrDecryptionFailed indicates a wrong passphrase or tampered data.
	ErrDecryptionFailed = errors.New("decryption failed: authentication tag mismatch")
)

// =============================================================================
// SEALED STORE
// =============================================================================

// SealedStore encrypts values with AES-256-GCM before they reach the inner
// store. The key is derived from a passphrase with PBKDF2-SHA-256; the salt
// is kept in the inner store under a reserved key, so any process opening
// the same medium with the same passphrase derives the same key.
//
// Keys are stored in the clear.
type SealedStore struct {
	inner Store
	aead  cipher.AEAD
}

// NewSealedStore wraps inner, creating the salt on first use.
func NewSealedStore(ctx context.Context, inner Store, passphrase string) (*SealedStore, error) {
	return newSealedStore(ctx, inner, passphrase, PBKDF2Iterations)
}

func newSealedStore(ctx context.Context, inner Store, passphrase string, iterations int) (*SealedStore, error) {
	if passphrase == "" {
		return nil, ErrNoPassphrase
	}

	salt, err := loadOrCreateSalt(ctx, inner)
	if err != nil {
		return nil, err
	}

	key := pbkdf2.Key([]byte(passphrase), salt, iterations, sealedKeySize, sha256.New)
	defer zeroBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &SealedStore{inner: inner, aead: aead}, nil
}

func loadOrCreateSalt(ctx context.Context, inner Store) ([]byte, error) {
	encoded, ok, err := inner.Get(ctx, saltKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read salt: %w", err)
	}
	if ok {
		salt, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil || len(salt) != sealedSaltSize {
			return nil, fmt.Errorf("%w: corrupt salt", ErrInvalidCiphertext)
		}
		return salt, nil
	}

	salt := make([]byte, sealedSaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	if err := inner.Set(ctx, saltKey, base64.StdEncoding.EncodeToString(salt)); err != nil {
		return nil, fmt.Errorf("failed to store salt: %w", err)
	}
	return salt, nil
}

// Get implements Store.
func (s *SealedStore) Get(ctx context.Context, key string) (string, bool, error) {
	if err := s.checkKey(key); err != nil {
		return "", false, err
	}
	sealed, ok, err := s.inner.Get(ctx, key)
	if err != nil || !ok {
		return "", ok, err
	}
	plain, err := s.open(sealed)
	if err != nil {
		return "", false, fmt.Errorf("key %q: %w", key, err)
	}
	return plain, true, nil
}

// Set implements Store.
func (s *SealedStore) Set(ctx context.Context, key, value string) error {
	if err := s.checkKey(key); err != nil {
		return err
	}
	sealed, err := s.seal(value)
	if err != nil {
		return err
	}
	return s.inner.Set(ctx, key, sealed)
}

// Delete implements Store.
func (s *SealedStore) Delete(ctx context.Context, key string) error {
	if err := s.checkKey(key); err != nil {
		return err
	}
	return s.inner.Delete(ctx, key)
}

// Close implements Store.
func (s *SealedStore) Close() error {
	return s.inner.Close()
}

// Watch implements Watcher when the inner store does. Salt changes are not
// reported.
func (s *SealedStore) Watch(ctx context.Context) (<-chan string, error) {
	w, ok := s.inner.(Watcher)
	if !ok {
		return nil, ErrWatchUnsupported
	}
	src, err := w.Watch(ctx)
	if err != nil {
		return nil, err
	}
	out := make(chan string, cap(src))
	go func() {
		defer close(out)
		for key := range src {
			if isReserved(key) {
				continue
			}
			select {
			case out <- key:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *SealedStore) checkKey(key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if isReserved(key) {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidKey, key)
	}
	return nil
}

func (s *SealedStore) seal(plain string) (string, error) {
	nonce := make([]byte, sealedNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	ct := s.aead.Seal(nil, nonce, []byte(plain), nil)
	return SealedPrefix + base64.StdEncoding.EncodeToString(append(nonce, ct...)), nil
}

func (s *SealedStore) open(sealed string) (string, error) {
	if !strings.HasPrefix(sealed, SealedPrefix) {
		return "", ErrInvalidCiphertext
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, SealedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	if len(raw) < sealedNonceSize+s.aead.Overhead() {
		return "", ErrInvalidCiphertext
	}
	plain, err := s.aead.Open(nil, raw[:sealedNonceSize], raw[sealedNonceSize:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plain), nil
}

// zeroBytes clears key material once the cipher holds its own copy.
func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
