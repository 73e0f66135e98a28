// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jeranaias/taskpad/internal/util"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrAuthRejected indicates the service refused the session token on an
	// authenticated call (missing, invalid, or expired). The session has been
	// de-authenticated by the time the caller sees it.
	ErrAuthRejected = errors.New("authentication rejected")

	// ErrTransport indicates a network failure or a malformed response.
	ErrTransport = errors.New("transport error")
)

// TransportError carries the operation that failed at the transport level.
type TransportError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is reports ErrTransport so callers can match without errors.As.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// CredentialError is a login or signup rejection. Reason is the service's
// message verbatim when it sent one.
type CredentialError struct {
	Status int
	Reason string
}

// Error implements the error interface.
func (e *CredentialError) Error() string {
	return e.Reason
}

// maxReasonRunes bounds the service message quoted in an error string. HTML
// error pages from proxies can run to kilobytes.
const maxReasonRunes = 200

// StatusError is any other non-2xx response.
type StatusError struct {
	Status int
	// Reason is the service's message, empty when the body carried none.
	Reason string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("service returned %d: %s", e.Status, util.TruncateRunes(e.Reason, maxReasonRunes))
	}
	return fmt.Sprintf("service returned %d %s", e.Status, http.StatusText(e.Status))
}

// errorBody covers the error shapes the service produces:
// {"detail": "reason"}, {"detail": [{"msg": "..."}]} and {"message": "reason"}.
type errorBody struct {
	Detail  json.RawMessage `json:"detail"`
	Message string          `json:"message"`
}

// parseReason extracts a human-readable reason from an error body, or "".
func parseReason(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return ""
	}

	if len(eb.Detail) > 0 {
		var s string
		if err := json.Unmarshal(eb.Detail, &s); err == nil && s != "" {
			return s
		}
		var items []struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(eb.Detail, &items); err == nil {
			msgs := make([]string, 0, len(items))
			for _, it := range items {
				if it.Msg != "" {
					msgs = append(msgs, it.Msg)
				}
			}
			if len(msgs) > 0 {
				return strings.Join(msgs, "; ")
			}
		}
	}

	return eb.Message
}

// credentialError converts a StatusError from an auth endpoint into a
// CredentialError. Other errors pass through.
func credentialError(err error, fallback string) error {
	var se *StatusError
	if !errors.As(err, &se) {
		return err
	}
	reason := se.Reason
	if reason == "" {
		reason = fallback
	}
	return &CredentialError{Status: se.Status, Reason: reason}
}
