// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// errors.go - Error reporting and exit codes for taskpad commands.
//
// Commands always return errors; Run prints them once, with a hint when the
// user can do something about it, and maps them to an exit code.

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/jeranaias/taskpad/internal/api"
	"github.com/jeranaias/taskpad/internal/assistant"
	"github.com/jeranaias/taskpad/internal/config"
	"github.com/jeranaias/taskpad/internal/todos"
)

// =============================================================================
// EXIT CODES - Specific codes for different error categories
// =============================================================================

const (
	// ExitSuccess indicates successful execution
	ExitSuccess = 0
	// ExitGeneralError indicates a general/unknown error
	ExitGeneralError = 1
	// ExitUsageError indicates invalid command usage or arguments
	ExitUsageError = 2
	// ExitConfigError indicates configuration file or settings error
	ExitConfigError = 3
	// ExitAuthError indicates authentication or authorization failure
	ExitAuthError = 4
	// ExitNetworkError indicates network or connectivity error
	ExitNetworkError = 5
	// ExitNotFoundError indicates a resource was not found
	ExitNotFoundError = 7
	// ExitInterrupted indicates the command was cancelled
	ExitInterrupted = 130
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// errNotSignedIn is returned by commands that need a session when none is
// held, before any request is made.
var errNotSignedIn = errors.New("not signed in")

// errSessionEnded is returned when the session ends while a command runs,
// e.g. another process logged out.
var errSessionEnded = errors.New("session ended")

// UsageError represents invalid arguments.
type UsageError struct {
	Reason  string
	Example string
}

func (e *UsageError) Error() string {
	if e.Example != "" {
		return fmt.Sprintf("%s\nExample: %s", e.Reason, e.Example)
	}
	return e.Reason
}

// =============================================================================
// REPORTING
// =============================================================================

// exitCode maps err to a process exit code.
func exitCode(err error) int {
	var (
		credErr   *api.CredentialError
		statusErr *api.StatusError
		usageErr  *UsageError
		cfgErrs   config.ValidateErrors
	)
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	case errors.Is(err, api.ErrAuthRejected), errors.Is(err, errNotSignedIn),
		errors.Is(err, errSessionEnded), errors.As(err, &credErr):
		return ExitAuthError
	case errors.Is(err, api.ErrTransport), errors.Is(err, context.DeadlineExceeded):
		return ExitNetworkError
	case errors.As(err, &statusErr) && statusErr.Status == http.StatusNotFound:
		return ExitNotFoundError
	case errors.As(err, &cfgErrs):
		return ExitConfigError
	case errors.As(err, &usageErr), errors.Is(err, todos.ErrEmptyTitle):
		return ExitUsageError
	default:
		return ExitGeneralError
	}
}

// hint suggests a next step for err, or returns "".
func hint(err error) string {
	var streamErr *assistant.StreamError
	switch {
	case errors.Is(err, api.ErrAuthRejected), errors.Is(err, errSessionEnded):
		return "Your session has ended. Run 'taskpad login' to sign in again."
	case errors.Is(err, errNotSignedIn):
		return "Run 'taskpad login' or 'taskpad signup' first."
	case errors.As(err, &streamErr):
		return "The reply was cut off. Try asking again."
	case errors.Is(err, api.ErrTransport):
		return "Check that the service is running and --base-url is correct."
	}
	return ""
}

// reportError prints err and returns its exit code.
func reportError(w io.Writer, err error) int {
	code := exitCode(err)
	if code == ExitInterrupted {
		fmt.Fprintln(w, DimStyle.Render("Interrupted."))
		return code
	}
	fmt.Fprintf(w, "%s %v\n", ErrorStyle.Render("Error:"), err)
	if h := hint(err); h != "" {
		fmt.Fprintln(w, DimStyle.Render(h))
	}
	return code
}
