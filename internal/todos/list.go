// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package todos

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// =============================================================================
// FILTER & STATS
// =============================================================================

// Filter selects which tasks a view shows.
type Filter string

const (
	FilterAll    Filter = "all"
	FilterActive Filter = "active"
	FilterDone   Filter = "done"
)

// ParseFilter validates s case-insensitively. Empty means FilterAll.
func ParseFilter(s string) (Filter, error) {
	switch f := Filter(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FilterAll, nil
	case FilterAll, FilterActive, FilterDone:
		return f, nil
	default:
		return "", fmt.Errorf("invalid filter %q (valid: all, active, done)", s)
	}
}

// Match reports whether t passes the filter.
func (f Filter) Match(t Todo) bool {
	switch f {
	case FilterActive:
		return !t.Done
	case FilterDone:
		return t.Done
	default:
		return true
	}
}

// Stats counts tasks.
type Stats struct {
	Total     int `json:"total" yaml:"total"`
	Done      int `json:"done" yaml:"done"`
	Remaining int `json:"remaining" yaml:"remaining"`
}

// =============================================================================
// LIST
// =============================================================================

// List is the locally observed task list. Each successful call applies its
// own response as soon as it arrives, so concurrent calls may complete in
// any order. A failed call leaves the list unchanged.
type List struct {
	svc *Service
	log zerolog.Logger

	mu    sync.RWMutex
	items []Todo

	subMu   sync.Mutex
	subs    map[int]chan []Todo
	nextSub int
}

// NewList creates an empty list backed by svc.
func NewList(svc *Service, log zerolog.Logger) *List {
	return &List{
		svc:  svc,
		log:  log,
		subs: make(map[int]chan []Todo),
	}
}

// Items returns a copy of the tasks passing f, in service order.
func (l *List) Items(f Filter) []Todo {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Todo, 0, len(l.items))
	for _, t := range l.items {
		if f.Match(t) {
			out = append(out, t)
		}
	}
	return out
}

// Stats returns the current counts.
func (l *List) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var s Stats
	for _, t := range l.items {
		s.Total++
		if t.Done {
			s.Done++
		}
	}
	s.Remaining = s.Total - s.Done
	return s
}

// Refresh replaces the list with the service's.
func (l *List) Refresh(ctx context.Context) error {
	items, err := l.svc.List(ctx)
	if err != nil {
		return err
	}
	l.apply(func([]Todo) []Todo { return items })
	return nil
}

// Add creates a task and appends it.
func (l *List) Add(ctx context.Context, title string) (Todo, error) {
	t, err := l.svc.Add(ctx, title)
	if err != nil {
		return Todo{}, err
	}
	l.apply(func(items []Todo) []Todo { return append(items, t) })
	return t, nil
}

// Rename changes a task's title.
func (l *List) Rename(ctx context.Context, id int, title string) (Todo, error) {
	return l.update(ctx, id, Patch{Title: &title})
}

// SetDone marks a task done or not done.
func (l *List) SetDone(ctx context.Context, id int, done bool) (Todo, error) {
	return l.update(ctx, id, Patch{Done: &done})
}

// Toggle flips a task's done flag as currently known.
func (l *List) Toggle(ctx context.Context, id int) (Todo, error) {
	t, ok := l.find(id)
	if !ok {
		return Todo{}, fmt.Errorf("task %d is not in the list", id)
	}
	return l.SetDone(ctx, id, !t.Done)
}

// Remove deletes a task.
func (l *List) Remove(ctx context.Context, id int) error {
	if err := l.svc.Delete(ctx, id); err != nil {
		return err
	}
	l.apply(func(items []Todo) []Todo { return without(items, id) })
	return nil
}

// ClearCompleted deletes every done task. Each deletion is applied as it
// succeeds; failures are joined into the returned error.
func (l *List) ClearCompleted(ctx context.Context) (int, error) {
	var (
		errs    []error
		removed int
	)
	for _, t := range l.Items(FilterDone) {
		if err := l.Remove(ctx, t.ID); err != nil {
			errs = append(errs, fmt.Errorf("task %d: %w", t.ID, err))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// Reset empties the list without calling the service, e.g. after the
// session ended.
func (l *List) Reset() {
	l.apply(func([]Todo) []Todo { return nil })
}

func (l *List) update(ctx context.Context, id int, p Patch) (Todo, error) {
	t, err := l.svc.Update(ctx, id, p)
	if err != nil {
		return Todo{}, err
	}
	l.apply(func(items []Todo) []Todo {
		for i := range items {
			if items[i].ID == t.ID {
				items[i] = t
				return items
			}
		}
		return append(items, t)
	})
	return t, nil
}

func (l *List) find(id int) (Todo, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, t := range l.items {
		if t.ID == id {
			return t, true
		}
	}
	return Todo{}, false
}

func without(items []Todo, id int) []Todo {
	out := items[:0]
	for _, t := range items {
		if t.ID != id {
			out = append(out, t)
		}
	}
	return out
}

// apply changes the items under the lock and publishes the result.
func (l *List) apply(fn func([]Todo) []Todo) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = fn(l.items)
	l.publishLocked(append([]Todo(nil), l.items...))
}

// =============================================================================
// OBSERVATION
// =============================================================================

// Subscribe returns a channel receiving a snapshot after every change, and a
// function ending the subscription. Only the newest snapshot is kept for a
// subscriber that falls behind.
func (l *List) Subscribe() (<-chan []Todo, func()) {
	ch := make(chan []Todo, 1)

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

func (l *List) publishLocked(snapshot []Todo) {
	l.subMu.Lock()
	defer l.subMu.Unlock()
	for id, ch := range l.subs {
		// Replace a stale snapshot rather than block.
		select {
		case <-ch:
			l.log.Debug().Int("subscriber", id).Msg("stale task snapshot replaced")
		default:
		}
		ch <- snapshot
	}
}
