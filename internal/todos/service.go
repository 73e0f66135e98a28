// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package todos

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jeranaias/taskpad/internal/api"
)

// Path is the collection endpoint.
const Path = "/todos"

// ErrEmptyTitle indicates a task without a title.
var ErrEmptyTitle = errors.New("task title is empty")

// Todo is one task as stored by the service.
type Todo struct {
	ID    int    `json:"id" yaml:"id"`
	Title string `json:"title" yaml:"title"`
	Done  bool   `json:"done" yaml:"done"`
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	Title *string `json:"title,omitempty"`
	Done  *bool   `json:"done,omitempty"`
}

// Service performs the task calls. It holds no state.
type Service struct {
	api *api.Client
}

// NewService creates a service that sends requests through c.
func NewService(c *api.Client) *Service {
	return &Service{api: c}
}

func itemPath(id int) string {
	return fmt.Sprintf("%s/%d", Path, id)
}

// List returns all tasks of the signed-in account.
func (s *Service) List(ctx context.Context) ([]Todo, error) {
	var out []Todo
	if err := s.api.Do(ctx, http.MethodGet, Path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Add creates a task. Surrounding whitespace is trimmed from title.
func (s *Service) Add(ctx context.Context, title string) (Todo, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Todo{}, ErrEmptyTitle
	}
	var out Todo
	in := struct {
		Title string `json:"title"`
	}{title}
	if err := s.api.Do(ctx, http.MethodPost, Path, in, &out); err != nil {
		return Todo{}, err
	}
	return out, nil
}

// Update applies p to task id and returns the stored result.
func (s *Service) Update(ctx context.Context, id int, p Patch) (Todo, error) {
	if p.Title != nil {
		title := strings.TrimSpace(*p.Title)
		if title == "" {
			return Todo{}, ErrEmptyTitle
		}
		p.Title = &title
	}
	var out Todo
	if err := s.api.Do(ctx, http.MethodPatch, itemPath(id), p, &out); err != nil {
		return Todo{}, err
	}
	return out, nil
}

// Delete removes task id.
func (s *Service) Delete(ctx context.Context, id int) error {
	return s.api.Do(ctx, http.MethodDelete, itemPath(id), nil, nil)
}
