// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"net/http"
	"strings"
)

// ExemptPrefix is the path prefix of the authentication endpoints. Requests
// under it never carry credentials.
const ExemptPrefix = "/auth/"

// TokenSource exposes the current session token.
type TokenSource interface {
	// Token returns the current token; ok is false when anonymous.
	Token() (token string, ok bool)
}

// Session is a TokenSource that can be told its token was refused.
type Session interface {
	TokenSource

	// Reject de-authenticates the session if token is still the current
	// one, reporting whether it did.
	Reject(ctx context.Context, token string) bool
}

// Authenticator attaches the bearer token to outgoing requests.
type Authenticator struct {
	tokens TokenSource
}

// NewAuthenticator creates an authenticator reading from tokens. A nil
// source never attaches anything.
func NewAuthenticator(tokens TokenSource) *Authenticator {
	return &Authenticator{tokens: tokens}
}

// Apply sets "Authorization: Bearer <token>" on header when a token is held
// and path is outside ExemptPrefix; otherwise it removes the header. path is
// service-relative. It returns the token attached, or "".
//
// The token is read once per call, so a request keeps the header it was
// dispatched with even if the session changes afterwards.
func (a *Authenticator) Apply(path string, header http.Header) string {
	if a == nil || a.tokens == nil || strings.HasPrefix(path, ExemptPrefix) {
		header.Del("Authorization")
		return ""
	}
	token, ok := a.tokens.Token()
	if !ok || token == "" {
		header.Del("Authorization")
		return ""
	}
	header.Set("Authorization", "Bearer "+token)
	return token
}
