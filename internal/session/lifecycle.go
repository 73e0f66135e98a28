// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/taskpad/internal/api"
	"github.com/jeranaias/taskpad/internal/storage"
)

// =============================================================================
// STATE
// =============================================================================

// State is the authentication state of the process.
type State int

const (
	// StateAnonymous means no token is held.
	StateAnonymous State = iota
	// StateAuthenticated means a token is held.
	StateAuthenticated
)

// String returns a human-readable state.
func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Reason says what caused a transition.
type Reason string

const (
	ReasonLogin    Reason = "login"
	ReasonSignup   Reason = "signup"
	ReasonLogout   Reason = "logout"
	ReasonRejected Reason = "rejected"
	// ReasonExternal is a change made to the token store by another process.
	ReasonExternal Reason = "external"
)

// Event is published on every change of the session.
type Event struct {
	State  State
	Reason Reason
	At     time.Time
}

// Backend performs the account calls.
type Backend interface {
	Login(ctx context.Context, email, password string) (token string, err error)
	Signup(ctx context.Context, email, password string) error
}

// ErrWatchUnsupported indicates the token store's medium cannot report
// changes.
var ErrWatchUnsupported = storage.ErrWatchUnsupported

// defaultEventBuffer is the per-subscriber channel capacity.
const defaultEventBuffer = 8

// clearAttempts is how many times a logout tries to delete the stored token.
const clearAttempts = 3

// =============================================================================
// LIFECYCLE
// =============================================================================

// Lifecycle owns the process's single session.
//
// The token write and the in-memory swap happen under one lock, so a request
// dispatched after Login returns always sees the new token and one
// dispatched after Logout returns sees none.
type Lifecycle struct {
	tokens  *TokenStore
	backend Backend
	log     zerolog.Logger

	mu    sync.RWMutex
	token string

	subMu     sync.Mutex
	subs      map[int]chan Event
	nextSub   int
	subBuffer int
}

// LifecycleOption configures a Lifecycle.
type LifecycleOption func(*Lifecycle)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) LifecycleOption {
	return func(lc *Lifecycle) {
		lc.log = l
	}
}

// WithEventBuffer sets each subscriber's channel capacity.
func WithEventBuffer(n int) LifecycleOption {
	return func(lc *Lifecycle) {
		if n > 0 {
			lc.subBuffer = n
		}
	}
}

// NewLifecycle creates the lifecycle and resumes any session left in tokens.
func NewLifecycle(ctx context.Context, tokens *TokenStore, backend Backend, opts ...LifecycleOption) (*Lifecycle, error) {
	lc := &Lifecycle{
		tokens:    tokens,
		backend:   backend,
		log:       zerolog.Nop(),
		subs:      make(map[int]chan Event),
		subBuffer: defaultEventBuffer,
	}
	for _, opt := range opts {
		opt(lc)
	}

	token, _, err := tokens.Get(ctx)
	if err != nil {
		return nil, err
	}
	lc.token = token
	lc.log.Debug().
		Stringer("state", lc.State()).
		Str("token", api.Fingerprint(token)).
		Msg("session resumed")
	return lc, nil
}

// Token returns the current token. It implements api.TokenSource.
func (l *Lifecycle) Token() (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.token, l.token != ""
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return stateOf(l.token)
}

// Authenticated reports whether a token is held.
func (l *Lifecycle) Authenticated() bool {
	return l.State() == StateAuthenticated
}

func stateOf(token string) State {
	if token == "" {
		return StateAnonymous
	}
	return StateAuthenticated
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// Login exchanges credentials for a token and stores it. On any failure the
// session and the store are unchanged.
func (l *Lifecycle) Login(ctx context.Context, email, password string) error {
	token, err := l.backend.Login(ctx, email, password)
	if err != nil {
		l.log.Info().Err(err).Msg("login failed")
		return err
	}
	return l.authenticate(ctx, token, ReasonLogin)
}

// Signup creates an account and logs into it. A signup failure is returned
// as is; if the account is created but the login fails, the login error is
// returned.
func (l *Lifecycle) Signup(ctx context.Context, email, password string) error {
	if err := l.backend.Signup(ctx, email, password); err != nil {
		l.log.Info().Err(err).Msg("signup failed")
		return err
	}
	token, err := l.backend.Login(ctx, email, password)
	if err != nil {
		l.log.Warn().Err(err).Msg("login after signup failed")
		return err
	}
	return l.authenticate(ctx, token, ReasonSignup)
}

// Logout clears the token. It never fails; a store error is logged and the
// in-memory session is cleared regardless.
func (l *Lifecycle) Logout(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clearLocked(ctx, ReasonLogout)
}

// Reject handles a 401 for a request that carried token. If token is still
// current the session is logged out with ReasonRejected and Reject returns
// true. A rejection of a token that has since been replaced is ignored.
func (l *Lifecycle) Reject(ctx context.Context, token string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if token == "" || token != l.token {
		l.log.Debug().Str("token", api.Fingerprint(token)).Msg("ignoring rejection of stale token")
		return false
	}
	l.clearLocked(ctx, ReasonRejected)
	return true
}

func (l *Lifecycle) authenticate(ctx context.Context, token string, reason Reason) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.tokens.Set(ctx, token); err != nil {
		l.log.Error().Err(err).Msg("session token not stored")
		return err
	}
	l.token = token
	l.log.Info().Str("reason", string(reason)).Str("token", api.Fingerprint(token)).Msg("session authenticated")
	l.publishLocked(StateAuthenticated, reason)
	return nil
}

// clearLocked ends the session in memory even when the stored token cannot
// be deleted. A token left in the store is resumed by the next process.
func (l *Lifecycle) clearLocked(ctx context.Context, reason Reason) {
	var err error
	for attempt := 1; attempt <= clearAttempts; attempt++ {
		if err = l.tokens.Clear(ctx); err == nil || ctx.Err() != nil {
			break
		}
		l.log.Warn().Err(err).Int("attempt", attempt).Msg("session token not cleared from store")
	}
	if err != nil {
		l.log.Error().Err(err).Str("reason", string(reason)).
			Msg("session token still stored; the next start will resume it")
	}
	was := l.token
	l.token = ""
	if was == "" {
		return
	}
	l.log.Info().Str("reason", string(reason)).Msg("session ended")
	l.publishLocked(StateAnonymous, reason)
}

// =============================================================================
// OBSERVATION
// =============================================================================

// Subscribe returns a channel of session events and a function that ends
// the subscription. A subscriber that falls behind loses events rather than
// blocking transitions; State always reports the current value.
func (l *Lifecycle) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, l.subBuffer)

	l.subMu.Lock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = ch
	l.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.subMu.Lock()
			delete(l.subs, id)
			close(ch)
			l.subMu.Unlock()
		})
	}
}

// publishLocked is called with mu held so events are ordered like the
// transitions that caused them.
func (l *Lifecycle) publishLocked(state State, reason Reason) {
	ev := Event{State: state, Reason: reason, At: time.Now()}

	l.subMu.Lock()
	defer l.subMu.Unlock()
	for id, ch := range l.subs {
		select {
		case ch <- ev:
		default:
			l.log.Warn().Int("subscriber", id).Str("reason", string(reason)).Msg("session event dropped")
		}
	}
}

// Watch reconciles the session with changes other processes make to the
// token store until ctx is done. It returns ErrWatchUnsupported when the
// store cannot report changes.
func (l *Lifecycle) Watch(ctx context.Context) error {
	w, ok := l.tokens.watcher()
	if !ok {
		return ErrWatchUnsupported
	}
	changes, err := w.Watch(ctx)
	if errors.Is(err, storage.ErrWatchUnsupported) {
		return ErrWatchUnsupported
	}
	if err != nil {
		return fmt.Errorf("failed to watch token store: %w", err)
	}

	for key := range changes {
		if key != l.tokens.key {
			continue
		}
		if err := l.reconcile(ctx); err != nil {
			l.log.Warn().Err(err).Msg("session reconcile failed")
		}
	}
	return nil
}

// reconcile adopts whatever token the store currently holds.
func (l *Lifecycle) reconcile(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	stored, _, err := l.tokens.Get(ctx)
	if err != nil {
		return err
	}
	if stored == l.token {
		return nil
	}
	l.token = stored
	l.log.Info().
		Stringer("state", stateOf(stored)).
		Str("token", api.Fingerprint(stored)).
		Msg("session changed externally")
	l.publishLocked(stateOf(stored), ReasonExternal)
	return nil
}
