// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session owns the process's authentication state.
//
// A Lifecycle holds at most one session token, persisted through a
// TokenStore so it survives restarts. It moves between two states:
//
//	Anonymous --login/signup--> Authenticated
//	Authenticated --logout/rejection--> Anonymous
//
// Failed logins and signups change nothing. Any authenticated request that
// is answered with 401 rejects the token it carried; if that token is still
// current the session ends with ReasonRejected, which subscribers treat as
// "protected content may no longer be shown".
//
// # Key Types
//
//   - TokenStore: the durable token slot over a storage.Store
//   - Lifecycle: transitions, current token, event subscription
//   - Event: state change notification
//
// # Usage
//
//	tokens := session.NewTokenStore(store)
//	client := api.NewClient(baseURL)
//	lc, err := session.NewLifecycle(ctx, tokens, client, session.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	client.WithSession(lc)
//
//	events, cancel := lc.Subscribe()
//	defer cancel()
//	err = lc.Login(ctx, email, password)
package session
