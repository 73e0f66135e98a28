// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package todos

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
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
	srv  *apitest.Server
	lc   *session.Lifecycle
	list *List
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

	return &harness{srv: srv, lc: lc, list: NewList(NewService(client), zerolog.Nop())}
}

func titles(items []Todo) []string {
	out := make([]string, 0, len(items))
	for _, t := range items {
		out = append(out, t.Title)
	}
	return out
}

// =============================================================================
// CRUD
// =============================================================================

func TestAddAndRefresh(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a, err := h.list.Add(ctx, "  buy milk ")
	require.NoError(t, err)
	assert.Equal(t, "buy milk", a.Title)
	assert.False(t, a.Done)

	_, err = h.list.Add(ctx, "walk dog")
	require.NoError(t, err)
	assert.Equal(t, []string{"buy milk", "walk dog"}, titles(h.list.Items(FilterAll)))

	fresh := NewList(h.list.svc, zerolog.Nop())
	require.NoError(t, fresh.Refresh(ctx))
	assert.Equal(t, h.list.Items(FilterAll), fresh.Items(FilterAll))
	assert.Len(t, h.srv.Todos(testEmail), 2)
}

func TestAddEmptyTitle(t *testing.T) {
	h := newHarness(t)
	before := len(h.srv.Requests())

	_, err := h.list.Add(context.Background(), "   ")
	require.ErrorIs(t, err, ErrEmptyTitle)
	assert.Len(t, h.srv.Requests(), before)
	assert.Empty(t, h.list.Items(FilterAll))
}

func TestToggleRenameRemove(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a, err := h.list.Add(ctx, "one")
	require.NoError(t, err)

	got, err := h.list.Toggle(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.Done)
	assert.True(t, h.srv.Todos(testEmail)[0].Done)

	got, err = h.list.Rename(ctx, a.ID, "uno")
	require.NoError(t, err)
	assert.Equal(t, "uno", got.Title)
	assert.True(t, got.Done)

	require.NoError(t, h.list.Remove(ctx, a.ID))
	assert.Empty(t, h.list.Items(FilterAll))
	assert.Empty(t, h.srv.Todos(testEmail))
}

func TestToggleUnknown(t *testing.T) {
	h := newHarness(t)
	_, err := h.list.Toggle(context.Background(), 42)
	require.Error(t, err)
}

func TestUpdateNotFound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.list.Add(ctx, "one")
	require.NoError(t, err)

	_, err = h.list.SetDone(ctx, 99, true)
	var se *api.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 404, se.Status)
	assert.Equal(t, apitest.DetailTodoNotFound, se.Reason)

	err = h.list.Remove(ctx, 99)
	require.True(t, errors.As(err, &se))
	assert.Equal(t, []string{"one"}, titles(h.list.Items(FilterAll)))
}

// =============================================================================
// FILTERS & STATS
// =============================================================================

func TestFiltersAndStats(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, title := range []string{"a", "b", "c"} {
		_, err := h.list.Add(ctx, title)
		require.NoError(t, err)
	}
	b := h.list.Items(FilterAll)[1]
	_, err := h.list.SetDone(ctx, b.ID, true)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, titles(h.list.Items(FilterAll)))
	assert.Equal(t, []string{"a", "c"}, titles(h.list.Items(FilterActive)))
	assert.Equal(t, []string{"b"}, titles(h.list.Items(FilterDone)))
	assert.Equal(t, Stats{Total: 3, Done: 1, Remaining: 2}, h.list.Stats())
}

func TestParseFilter(t *testing.T) {
	tests := []struct {
		in      string
		want    Filter
		wantErr bool
	}{
		{"", FilterAll, false},
		{"all", FilterAll, false},
		{"Active", FilterActive, false},
		{"done", FilterDone, false},
		{"pending", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFilter(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClearCompleted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		td, err := h.list.Add(ctx, fmt.Sprintf("t%d", i))
		require.NoError(t, err)
		if i%2 == 0 {
			_, err = h.list.SetDone(ctx, td.ID, true)
			require.NoError(t, err)
		}
	}

	removed, err := h.list.ClearCompleted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, []string{"t1", "t3"}, titles(h.list.Items(FilterAll)))
	assert.Len(t, h.srv.Todos(testEmail), 2)
}

// =============================================================================
// SESSION & OBSERVATION
// =============================================================================

func TestRejectedTokenEndsSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.list.Add(ctx, "one")
	require.NoError(t, err)

	h.srv.RevokeTokens()
	err = h.list.Refresh(ctx)
	require.ErrorIs(t, err, api.ErrAuthRejected)
	assert.False(t, h.lc.Authenticated())
	assert.Equal(t, []string{"one"}, titles(h.list.Items(FilterAll)))

	h.list.Reset()
	assert.Empty(t, h.list.Items(FilterAll))
}

func TestSubscribeReceivesSnapshots(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ch, cancel := h.list.Subscribe()
	defer cancel()

	_, err := h.list.Add(ctx, "one")
	require.NoError(t, err)

	select {
	case snap := <-ch:
		assert.Equal(t, []string{"one"}, titles(snap))
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
}

func TestSlowSubscriberGetsNewestSnapshot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ch, cancel := h.list.Subscribe()
	defer cancel()

	for _, title := range []string{"a", "b", "c"} {
		_, err := h.list.Add(ctx, title)
		require.NoError(t, err)
	}

	snap := <-ch
	assert.Equal(t, []string{"a", "b", "c"}, titles(snap))
	select {
	case extra := <-ch:
		t.Fatalf("unexpected snapshot %v", extra)
	default:
	}

	cancel()
	_, ok := <-ch
	assert.False(t, ok)
}

func TestConcurrentAdds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.list.Add(ctx, fmt.Sprintf("t%d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, h.list.Stats().Total)
	assert.Len(t, h.srv.Todos(testEmail), 10)
}
