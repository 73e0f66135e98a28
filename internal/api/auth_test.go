// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// fakeSession is a Session holding a single token.
type fakeSession struct {
	mu       sync.Mutex
	token    string
	rejected []string
}

func (f *fakeSession) Token() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token, f.token != ""
}

func (f *fakeSession) Reject(_ context.Context, token string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejected = append(f.rejected, token)
	if token != f.token {
		return false
	}
	f.token = ""
	return true
}

func (f *fakeSession) set(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = token
}

func TestAuthenticatorApply(t *testing.T) {
	paths := []struct {
		path   string
		exempt bool
	}{
		{"/auth/login", true},
		{"/auth/signup", true},
		{"/auth/", true},
		{"/todos", false},
		{"/todos/3", false},
		{"/ai/chat", false},
		{"/ai/chat/stream", false},
		{"/authx", false},
		{"/auth", false},
		{"/api/auth/login", false},
	}

	for _, p := range paths {
		for _, token := range []string{"", "tok-123"} {
			name := p.path + " anonymous"
			if token != "" {
				name = p.path + " authenticated"
			}
			t.Run(name, func(t *testing.T) {
				a := NewAuthenticator(&fakeSession{token: token})
				h := http.Header{}
				// A stale header from an earlier attempt must not survive.
				h.Set("Authorization", "Bearer stale")

				got := a.Apply(p.path, h)

				if p.exempt || token == "" {
					assert.Empty(t, h.Get("Authorization"))
					assert.Empty(t, got)
					return
				}
				assert.Equal(t, "Bearer "+token, h.Get("Authorization"))
				assert.Equal(t, token, got)
			})
		}
	}
}

func TestAuthenticatorIdempotent(t *testing.T) {
	a := NewAuthenticator(&fakeSession{token: "abc"})
	h := http.Header{}

	a.Apply("/todos", h)
	a.Apply("/todos", h)

	assert.Equal(t, []string{"Bearer abc"}, h.Values("Authorization"))
}

func TestAuthenticatorReadsEachTime(t *testing.T) {
	s := &fakeSession{token: "first"}
	a := NewAuthenticator(s)

	h1 := http.Header{}
	a.Apply("/todos", h1)

	s.set("")
	h2 := http.Header{}
	a.Apply("/todos", h2)

	s.set("second")
	h3 := http.Header{}
	a.Apply("/todos", h3)

	assert.Equal(t, "Bearer first", h1.Get("Authorization"), "an earlier request keeps its header")
	assert.Empty(t, h2.Get("Authorization"))
	assert.Equal(t, "Bearer second", h3.Get("Authorization"))
}

func TestAuthenticatorNilSource(t *testing.T) {
	h := http.Header{}
	assert.Empty(t, NewAuthenticator(nil).Apply("/todos", h))
	assert.Empty(t, h.Get("Authorization"))

	var a *Authenticator
	assert.Empty(t, a.Apply("/todos", h))
}
