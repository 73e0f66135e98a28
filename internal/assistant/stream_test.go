// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/taskpad/internal/api"
	"github.com/jeranaias/taskpad/internal/apitest"
	"github.com/jeranaias/taskpad/internal/session"
	"github.com/jeranaias/taskpad/internal/storage"
)

const (
	testEmail    = "a@b.com"
	testPassword = "Passw0rdOK"
)

type harness struct {
	srv *apitest.Server
	lc  *session.Lifecycle
	ai  *Client
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	srv := apitest.NewServer(t)
	srv.AddUser(testEmail, testPassword)

	client := api.NewClient(srv.URL())
	lc, err := session.NewLifecycle(context.Background(), session.NewTokenStore(storage.NewMemoryStore()), client)
	require.NoError(t, err)
	client.WithSession(lc)
	require.NoError(t, lc.Login(context.Background(), testEmail, testPassword))

	return &harness{srv: srv, lc: lc, ai: New(client)}
}

func (h *harness) collect(t *testing.T, prompt string) ([]string, *StreamStats, error) {
	t.Helper()
	var got []string
	stats, err := h.ai.Stream(context.Background(), prompt, func(frag string) {
		got = append(got, frag)
	})
	return got, stats, err
}

// =============================================================================
// STREAM
// =============================================================================

func TestStreamDeliversFragmentsInOrder(t *testing.T) {
	h := newHarness(t)

	got, stats, err := h.collect(t, "Suggest 3 tasks for today")
	require.NoError(t, err)
	assert.Equal(t, []string{"hello", "world"}, got)
	assert.Equal(t, 2, stats.Fragments)
	assert.Positive(t, stats.Total)

	msgs := h.srv.LastMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, apitest.Message{Role: "system", Content: DefaultSystemPrompt}, msgs[0])
	assert.Equal(t, apitest.Message{Role: "user", Content: "Suggest 3 tasks for today"}, msgs[1])
}

func TestStreamCustomSystemPrompt(t *testing.T) {
	h := newHarness(t)
	h.ai.WithSystemPrompt("Be brief.")

	_, _, err := h.collect(t, "hi")
	require.NoError(t, err)
	assert.Equal(t, "Be brief.", h.srv.LastMessages()[0].Content)
}

func TestStreamIndependentOfWriteSize(t *testing.T) {
	h := newHarness(t)
	h.srv.SetReply("one", "two words", "three")

	for size := 1; size <= 7; size++ {
		t.Run(fmt.Sprintf("size_%d", size), func(t *testing.T) {
			h.srv.SetWriteSize(size)
			got, _, err := h.collect(t, "count")
			require.NoError(t, err)
			assert.Equal(t, []string{"one", "two words", "three"}, got)
		})
	}
}

func TestStreamUnicodeByteAtATime(t *testing.T) {
	h := newHarness(t)
	h.srv.SetReply("héllo", "日本語", "🙂")
	h.srv.SetWriteSize(1)

	got, _, err := h.collect(t, "unicode")
	require.NoError(t, err)
	assert.Equal(t, []string{"héllo", "日本語", "🙂"}, got)
}

func TestStreamWithoutEndMarker(t *testing.T) {
	h := newHarness(t)
	h.srv.OmitDone(true)

	got, _, err := h.collect(t, "hi")
	require.NoError(t, err)
	assert.Equal(t, []string{"hello", "world"}, got)
}

func TestStreamEmptyReply(t *testing.T) {
	h := newHarness(t)
	h.srv.SetReply()

	got, stats, err := h.collect(t, "hi")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, stats.Fragments)
}

func TestStreamTransportFailureKeepsPartial(t *testing.T) {
	h := newHarness(t)
	// "data: hello\n\n" is 13 bytes; the connection drops inside the next record.
	h.srv.FailAfter(20)

	got, _, err := h.collect(t, "hi")
	require.Error(t, err)
	assert.Equal(t, []string{"hello"}, got)

	var se *StreamError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "hello", se.Partial)
	assert.ErrorIs(t, err, api.ErrTransport)
	assert.Contains(t, err.Error(), "partial content received: 5 chars")
	assert.True(t, h.lc.Authenticated())
}

func TestStreamCancelStopsDelivery(t *testing.T) {
	h := newHarness(t)
	release := h.srv.HoldAfterFirst()
	t.Cleanup(release)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	_, err := h.ai.Stream(ctx, "hi", func(string) {
		calls++
		cancel()
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestStreamCancelledBeforeStart(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := h.ai.Stream(ctx, "hi", func(string) { calls++ })
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestStreamRejectedTokenEndsSession(t *testing.T) {
	h := newHarness(t)
	h.srv.RevokeTokens()

	got, _, err := h.collect(t, "hi")
	require.ErrorIs(t, err, api.ErrAuthRejected)
	assert.Empty(t, got)
	assert.Equal(t, session.StateAnonymous, h.lc.State())
}

func TestStreamUnterminatedOversizedRecord(t *testing.T) {
	h := newHarness(t)
	h.ai.WithMaxRecordSize(16)
	h.srv.SetReply("ok", strings.Repeat("x", 64))
	// "data: ok\n\n" is 10 bytes; the second record is cut off unterminated.
	h.srv.FailAfter(50)

	got, _, err := h.collect(t, "hi")
	require.Error(t, err)
	assert.Equal(t, []string{"ok"}, got)
	assert.ErrorIs(t, err, api.ErrTransport)
}

func TestStreamNilSink(t *testing.T) {
	h := newHarness(t)
	stats, err := h.ai.Stream(context.Background(), "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Fragments)
}

// =============================================================================
// ASK
// =============================================================================

func TestAsk(t *testing.T) {
	h := newHarness(t)

	reply, err := h.ai.Ask(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "hello world", reply)
	assert.Equal(t, "hi", h.srv.LastMessages()[1].Content)
}

func TestAskAnonymous(t *testing.T) {
	h := newHarness(t)
	h.lc.Logout(context.Background())

	_, err := h.ai.Ask(context.Background(), "hi")
	require.ErrorIs(t, err, api.ErrAuthRejected)
	assert.Empty(t, h.srv.Requests()[len(h.srv.Requests())-1].Authorization)
}

func TestStreamErrorMessage(t *testing.T) {
	err := &StreamError{Err: errors.New("boom")}
	assert.Equal(t, "stream error: boom", err.Error())
}
