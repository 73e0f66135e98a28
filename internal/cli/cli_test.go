// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/taskpad/internal/api"
	"github.com/jeranaias/taskpad/internal/apitest"
	"github.com/jeranaias/taskpad/internal/assistant"
	"github.com/jeranaias/taskpad/internal/config"
	"github.com/jeranaias/taskpad/internal/session"
	"github.com/jeranaias/taskpad/internal/storage"
	"github.com/jeranaias/taskpad/internal/todos"
)

const (
	testEmail    = "a@b.com"
	testPassword = "Passw0rdOK"
)

func TestMain(m *testing.M) {
	lipgloss.SetColorProfile(termenv.Ascii)
	os.Exit(m.Run())
}

type harness struct {
	srv     *apitest.Server
	store   *storage.MemoryStore
	cfgPath string

	// inject is the store handed to the command line; store by default.
	inject storage.Store
}

type result struct {
	out  string
	err  string
	code int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, k := range []string{
		"TASKPAD_BASE_URL", "TASKPAD_STORE", "TASKPAD_STORE_PATH", "TASKPAD_REDIS_ADDR",
		"TASKPAD_LOG_LEVEL", "TASKPAD_THEME", "TASKPAD_STORE_PASSPHRASE",
	} {
		t.Setenv(k, "")
	}

	srv := apitest.NewServer(t)
	srv.AddUser(testEmail, testPassword)
	store := storage.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	return &harness{srv: srv, store: store, inject: store, cfgPath: filepath.Join(home, "config.toml")}
}

// bare runs the command line against the harness config file only.
func (h *harness) bare(stdin string, args ...string) result {
	var out, errOut bytes.Buffer
	streams := IOStreams{In: strings.NewReader(stdin), Out: &out, Err: &errOut}
	full := append([]string{"--config", h.cfgPath}, args...)
	code := Run(context.Background(), full, streams, WithStore(h.inject))
	return result{out: out.String(), err: errOut.String(), code: code}
}

// run points the command line at the fake service.
func (h *harness) run(stdin string, args ...string) result {
	return h.bare(stdin, append([]string{"--base-url", h.srv.URL()}, args...)...)
}

func (h *harness) login(t *testing.T) {
	t.Helper()
	r := h.run(testPassword+"\n", "login", "-e", testEmail, "--password-stdin")
	require.Equal(t, ExitSuccess, r.code, r.err)
}

// =============================================================================
// ACCOUNT
// =============================================================================

func TestLoginStatusLogout(t *testing.T) {
	h := newHarness(t)

	r := h.run(testPassword+"\n", "login", "-e", testEmail, "--password-stdin")
	require.Equal(t, ExitSuccess, r.code, r.err)
	assert.Contains(t, r.out, "Signed in as a@b.com")

	r = h.run("", "status", "-o", "json")
	require.Equal(t, ExitSuccess, r.code, r.err)
	var st statusReport
	require.NoError(t, json.Unmarshal([]byte(r.out), &st))
	assert.Equal(t, "authenticated", st.State)
	assert.Equal(t, h.srv.URL(), st.Server)
	assert.NotEqual(t, "none", st.Token)
	assert.Equal(t, "dark", st.Theme)

	r = h.run("", "logout")
	require.Equal(t, ExitSuccess, r.code, r.err)
	assert.Contains(t, r.out, "Signed out.")

	r = h.run("", "logout")
	require.Equal(t, ExitSuccess, r.code, r.err)
	assert.Contains(t, r.out, "Not signed in.")

	r = h.run("", "status")
	require.Equal(t, ExitSuccess, r.code, r.err)
	assert.Contains(t, r.out, "anonymous")
}

func TestLoginWrongPassword(t *testing.T) {
	h := newHarness(t)

	r := h.run("nope\n", "login", "-e", testEmail, "--password-stdin")
	assert.Equal(t, ExitAuthError, r.code)
	assert.Contains(t, r.err, "Error:")
}

func TestLoginPasswordStdinNeedsEmail(t *testing.T) {
	h := newHarness(t)

	r := h.run(testPassword+"\n", "login", "--password-stdin")
	assert.Equal(t, ExitUsageError, r.code)
	assert.Contains(t, r.err, "--password-stdin requires --email")
}

func TestSignupPromptsForEmail(t *testing.T) {
	h := newHarness(t)

	r := h.run("new@b.com\nS3curePass\n", "signup")
	require.Equal(t, ExitSuccess, r.code, r.err)
	assert.Contains(t, r.out, "signed in as new@b.com")
	assert.Contains(t, r.err, "Email: ")
}

// =============================================================================
// TASKS
// =============================================================================

func TestTodoLifecycle(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	r := h.run("", "todo", "add", "Buy", "milk")
	require.Equal(t, ExitSuccess, r.code, r.err)
	assert.Contains(t, r.out, "Added #1 Buy milk")
	r = h.run("", "todo", "add", "Call", "mom")
	require.Equal(t, ExitSuccess, r.code, r.err)

	r = h.run("", "todo", "done", "1")
	require.Equal(t, ExitSuccess, r.code, r.err)

	r = h.run("", "todo", "list")
	require.Equal(t, ExitSuccess, r.code, r.err)
	assert.Contains(t, r.out, "Buy milk")
	assert.Contains(t, r.out, "Call mom")
	assert.Contains(t, r.out, "2 total, 1 done, 1 remaining")

	r = h.run("", "todo", "list", "--filter", "active", "-o", "json")
	require.Equal(t, ExitSuccess, r.code, r.err)
	var listing todoListing
	require.NoError(t, json.Unmarshal([]byte(r.out), &listing))
	assert.Equal(t, "active", listing.Filter)
	assert.Equal(t, []todos.Todo{{ID: 2, Title: "Call mom"}}, listing.Items)
	assert.Equal(t, todos.Stats{Total: 2, Done: 1, Remaining: 1}, listing.Stats)

	r = h.run("", "todo", "rename", "2", "Call", "dad")
	require.Equal(t, ExitSuccess, r.code, r.err)
	assert.Contains(t, r.out, "Renamed #2 to Call dad")

	r = h.run("", "todo", "clear")
	require.Equal(t, ExitSuccess, r.code, r.err)
	assert.Contains(t, r.out, "Cleared 1 completed task(s).")

	r = h.run("", "todo", "undo", "2")
	require.Equal(t, ExitSuccess, r.code, r.err)

	r = h.run("", "todo", "rm", "2")
	require.Equal(t, ExitSuccess, r.code, r.err)
	assert.Empty(t, h.srv.Todos(testEmail))

	r = h.run("", "todo", "list", "-o", "yaml")
	require.Equal(t, ExitSuccess, r.code, r.err)
	assert.Contains(t, r.out, "items: []")
}

func TestTodoRequiresSession(t *testing.T) {
	h := newHarness(t)

	r := h.run("", "todo", "list")
	assert.Equal(t, ExitAuthError, r.code)
	assert.Contains(t, r.err, "taskpad login")
	assert.Empty(t, h.srv.Requests(), "no request is made without a session")
}

func TestTodoArgumentErrors(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	r := h.run("", "todo", "done", "abc")
	assert.Equal(t, ExitUsageError, r.code)
	assert.Contains(t, r.err, `invalid task id "abc"`)

	r = h.run("", "todo", "add", "   ")
	assert.Equal(t, ExitUsageError, r.code)

	r = h.run("", "todo", "list", "--filter", "someday")
	assert.Equal(t, ExitUsageError, r.code)

	r = h.run("", "todo", "list", "-o", "xml")
	assert.Equal(t, ExitUsageError, r.code)
}

func TestTodoNotFound(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	r := h.run("", "todo", "done", "99")
	assert.Equal(t, ExitNotFoundError, r.code)
	assert.Contains(t, r.err, apitest.DetailTodoNotFound)
}

func TestTodoRejectedTokenSignsOut(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	h.srv.RevokeTokens()

	r := h.run("", "todo", "list")
	assert.Equal(t, ExitAuthError, r.code)
	assert.Contains(t, r.err, "Your session has ended")

	r = h.run("", "status", "-o", "json")
	require.Equal(t, ExitSuccess, r.code, r.err)
	assert.Contains(t, r.out, `"state": "anonymous"`)
}

// =============================================================================
// ASSISTANT
// =============================================================================

func TestAskStreamsReply(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	r := h.run("", "ask", "Suggest", "3", "tasks")
	require.Equal(t, ExitSuccess, r.code, r.err)
	assert.Equal(t, "hello world\n", r.out)

	msgs := h.srv.LastMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Suggest 3 tasks", msgs[1].Content)
}

func TestAskReadsPromptFromStdin(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	r := h.run("Plan my day\n", "ask")
	require.Equal(t, ExitSuccess, r.code, r.err)

	msgs := h.srv.LastMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Plan my day", msgs[1].Content)
}

func TestAskNoStream(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	r := h.run("", "ask", "--no-stream", "hi")
	require.Equal(t, ExitSuccess, r.code, r.err)
	assert.Equal(t, "hello world\n", r.out)
}

func TestAskRender(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	h.srv.SetReply("**Plan**", "ahead")

	r := h.run("", "ask", "--render", "hi")
	require.Equal(t, ExitSuccess, r.code, r.err)
	assert.Contains(t, r.out, "Plan")
	assert.Contains(t, r.out, "ahead")
	assert.NotContains(t, r.out, "**")
}

func TestAskRejectedToken(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	h.srv.RevokeTokens()

	r := h.run("", "ask", "hi")
	assert.Equal(t, ExitAuthError, r.code)
	assert.Empty(t, strings.TrimSpace(r.out))

	_, ok, err := h.store.Get(context.Background(), session.TokenKey)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAskCutOff(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	h.srv.FailAfter(20)

	r := h.run("", "ask", "hi")
	assert.Equal(t, ExitNetworkError, r.code)
	assert.Contains(t, r.out, "hello")
	assert.Contains(t, r.err, "cut off")
}

func TestAskOverSealedSQLiteStore(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, filepath.Join(t.TempDir(), "taskpad.db"))
	require.NoError(t, err)
	sealed, err := storage.NewSealedStore(ctx, db, "correct horse")
	require.NoError(t, err)
	t.Cleanup(func() { sealed.Close() })
	h.inject = sealed

	h.login(t)
	r := h.run("", "ask", "hi")
	require.Equal(t, ExitSuccess, r.code, r.err)
	assert.Equal(t, "hello world\n", r.out)

	r = h.run("one\n/exit\n", "chat")
	require.Equal(t, ExitSuccess, r.code, r.err)
	assert.Contains(t, r.out, "ai> hello world")
}

func TestAskWithoutPrompt(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	r := h.run("", "ask")
	assert.Equal(t, ExitUsageError, r.code)
	assert.Contains(t, r.err, "no prompt given")
}

func TestChatPiped(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	r := h.run("first\n\nsecond\n/exit\nnever sent\n", "chat")
	require.Equal(t, ExitSuccess, r.code, r.err)
	assert.Equal(t, 2, strings.Count(r.out, "ai> hello world"))

	var streams int
	for _, req := range h.srv.Requests() {
		if req.Path == assistant.StreamPath {
			streams++
		}
	}
	assert.Equal(t, 2, streams)
}

func TestChatContinuesAfterCutOff(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	h.srv.FailAfter(20)

	r := h.run("one\ntwo\n", "chat")
	require.Equal(t, ExitSuccess, r.code, r.err)
	assert.Equal(t, 2, strings.Count(r.err, "(reply cut off)"))
}

func TestChatEndsOnRejection(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	h.srv.RevokeTokens()

	r := h.run("one\ntwo\n", "chat")
	assert.Equal(t, ExitAuthError, r.code)
}

// =============================================================================
// SETTINGS
// =============================================================================

func TestTheme(t *testing.T) {
	h := newHarness(t)

	r := h.bare("", "theme")
	require.Equal(t, ExitSuccess, r.code, r.err)
	assert.Equal(t, "dark\n", r.out)

	r = h.bare("", "theme", "toggle")
	require.Equal(t, ExitSuccess, r.code, r.err)
	assert.Equal(t, "light\n", r.out)

	r = h.bare("", "theme")
	assert.Equal(t, "light\n", r.out)

	r = h.bare("", "theme", "DARK")
	require.Equal(t, ExitSuccess, r.code, r.err)
	assert.Equal(t, "dark\n", r.out)

	r = h.bare("", "theme", "blue")
	assert.Equal(t, ExitUsageError, r.code)
}

func TestThemeSurvivesLogout(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	require.Equal(t, ExitSuccess, h.bare("", "theme", "light").code)
	require.Equal(t, ExitSuccess, h.run("", "logout").code)
	assert.Equal(t, "light\n", h.bare("", "theme").out)
}

func TestConfigSetGet(t *testing.T) {
	h := newHarness(t)

	r := h.bare("", "config", "set", "server.base_url", "http://tasks.test:9000")
	require.Equal(t, ExitSuccess, r.code, r.err)

	r = h.bare("", "config", "get", "server.base_url")
	require.Equal(t, ExitSuccess, r.code, r.err)
	assert.Equal(t, "http://tasks.test:9000\n", r.out)

	info, err := os.Stat(h.cfgPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestConfigSetDoesNotPersistEnvironment(t *testing.T) {
	h := newHarness(t)
	t.Setenv("TASKPAD_BASE_URL", "http://env.test:1")

	r := h.bare("", "config", "set", "ui.theme", "light")
	require.Equal(t, ExitSuccess, r.code, r.err)

	data, err := os.ReadFile(h.cfgPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `theme = "light"`)
	assert.NotContains(t, string(data), "env.test")

	r = h.bare("", "config", "get", "server.base_url")
	assert.Equal(t, "http://env.test:1\n", r.out)
}

func TestConfigSetErrors(t *testing.T) {
	h := newHarness(t)

	r := h.bare("", "config", "set", "server.nope", "x")
	assert.Equal(t, ExitUsageError, r.code)

	r = h.bare("", "config", "set", "server.burst", "many")
	assert.Equal(t, ExitUsageError, r.code)

	r = h.bare("", "config", "set", "storage.backend", "floppy")
	assert.Equal(t, ExitConfigError, r.code)
	assert.Contains(t, r.err, "refusing to save")
	assert.NoFileExists(t, h.cfgPath)
}

func TestConfigShow(t *testing.T) {
	h := newHarness(t)

	r := h.bare("", "config")
	require.Equal(t, ExitSuccess, r.code, r.err)
	assert.Contains(t, r.out, "[server]")
	assert.Contains(t, r.out, "base_url")

	r = h.bare("", "config", "show", "-o", "json")
	require.Equal(t, ExitSuccess, r.code, r.err)
	var settings map[string]any
	require.NoError(t, json.Unmarshal([]byte(r.out), &settings))
	assert.Equal(t, "file", settings["storage.backend"])
	assert.Len(t, settings, len(config.Keys()))
}

func TestConfigKeysAndPath(t *testing.T) {
	h := newHarness(t)

	r := h.bare("", "config", "keys")
	require.Equal(t, ExitSuccess, r.code, r.err)
	assert.Equal(t, strings.Join(config.Keys(), "\n")+"\n", r.out)

	r = h.bare("", "config", "path")
	assert.Equal(t, h.cfgPath+"\n", r.out)
}

func TestInvalidConfigFile(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, os.WriteFile(h.cfgPath, []byte("[storage]\nbackend = \"floppy\"\n"), 0600))

	r := h.bare("", "theme")
	assert.Equal(t, ExitConfigError, r.code)
}

func TestVersion(t *testing.T) {
	h := newHarness(t)

	r := h.bare("", "version")
	require.Equal(t, ExitSuccess, r.code)
	assert.Equal(t, fmt.Sprintf("taskpad %s (commit %s, built %s)\n", Version, GitCommit, BuildDate), r.out)
}

// =============================================================================
// HELPERS
// =============================================================================

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"cancelled", context.Canceled, ExitInterrupted},
		{"rejected", errors.Wrap(api.ErrAuthRejected, "GET /todos"), ExitAuthError},
		{"not signed in", errNotSignedIn, ExitAuthError},
		{"session ended", errors.Wrap(errSessionEnded, "signed out"), ExitAuthError},
		{"transport", &api.TransportError{Op: "GET /todos", Err: errors.New("refused")}, ExitNetworkError},
		{"stream", &assistant.StreamError{Partial: "he", Err: &api.TransportError{Op: "POST", Err: errors.New("eof")}}, ExitNetworkError},
		{"not found", &api.StatusError{Status: 404}, ExitNotFoundError},
		{"server", &api.StatusError{Status: 500}, ExitGeneralError},
		{"usage", &UsageError{Reason: "bad"}, ExitUsageError},
		{"empty title", todos.ErrEmptyTitle, ExitUsageError},
		{"config", errors.Wrap(config.ValidateErrors{{Field: "x", Message: "y"}}, "invalid"), ExitConfigError},
		{"other", errors.New("boom"), ExitGeneralError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestFragmentWriter(t *testing.T) {
	var buf bytes.Buffer
	fw := newFragmentWriter(&buf)
	for _, f := range []string{"Buy", "milk", "today."} {
		fw.write(f)
	}
	assert.Equal(t, "Buy milk today.", buf.String())
}

func TestReadPrompt(t *testing.T) {
	p, err := readPrompt(strings.NewReader("ignored"), []string{" a ", "b"})
	require.NoError(t, err)
	assert.Equal(t, "a  b", p)

	p, err = readPrompt(strings.NewReader("  from stdin \n"), nil)
	require.NoError(t, err)
	assert.Equal(t, "from stdin", p)

	_, err = readPrompt(strings.NewReader(""), nil)
	var usage *UsageError
	assert.ErrorAs(t, err, &usage)
}
