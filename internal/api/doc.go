// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api is the HTTP client for the task service.
//
// Every request goes through an Authenticator, which attaches the current
// session's bearer token unless the path is under /auth/. When an
// authenticated request is answered with 401 the client rejects the token it
// sent, which logs the session out if that token is still current.
//
// # Key Types
//
//   - Client: request dispatch, rate limiting, request IDs, error mapping
//   - Authenticator: the bearer-token predicate
//   - Session: what the client needs from the session owner
//
// # Errors
//
//   - ErrAuthRejected: 401 on an authenticated call
//   - *CredentialError: login or signup refused, with the service's reason
//   - *TransportError (matches ErrTransport): network or malformed response
//   - *StatusError: any other non-2xx
//
// # Usage
//
//	client := api.NewClient(cfg.Server.BaseURL).WithLogger(logger)
//	lc, err := session.NewLifecycle(ctx, tokens, client)
//	client.WithSession(lc)
//
//	var todos []todos.Todo
//	err = client.Do(ctx, http.MethodGet, "/todos", nil, &todos)
package api
