// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package prefs persists user interface preferences next to the session
// token, each under its own key.
package prefs

import (
	"context"
	"fmt"
	"strings"

	"github.com/jeranaias/taskpad/internal/storage"
)

// ThemeKey is the storage key holding the theme.
const ThemeKey = "theme"

// Theme is a colour scheme.
type Theme string

const (
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"
)

// ParseTheme validates s case-insensitively.
func ParseTheme(s string) (Theme, error) {
	switch t := Theme(strings.ToLower(strings.TrimSpace(s))); t {
	case ThemeDark, ThemeLight:
		return t, nil
	default:
		return "", fmt.Errorf("invalid theme %q (valid: dark, light)", s)
	}
}

// Toggle returns the other theme.
func (t Theme) Toggle() Theme {
	if t == ThemeDark {
		return ThemeLight
	}
	return ThemeDark
}

// Themes stores the theme preference.
type Themes struct {
	store    storage.Store
	fallback Theme
}

// NewThemes binds to ThemeKey in store. fallback is returned while nothing
// valid is stored; an invalid fallback becomes ThemeDark.
func NewThemes(store storage.Store, fallback Theme) *Themes {
	if _, err := ParseTheme(string(fallback)); err != nil {
		fallback = ThemeDark
	}
	return &Themes{store: store, fallback: fallback}
}

// Get returns the stored theme. A missing or unrecognised value yields the
// fallback.
func (p *Themes) Get(ctx context.Context) (Theme, error) {
	v, ok, err := p.store.Get(ctx, ThemeKey)
	if err != nil {
		return p.fallback, fmt.Errorf("failed to read theme: %w", err)
	}
	if !ok {
		return p.fallback, nil
	}
	t, err := ParseTheme(v)
	if err != nil {
		return p.fallback, nil
	}
	return t, nil
}

// Set stores t.
func (p *Themes) Set(ctx context.Context, t Theme) error {
	if _, err := ParseTheme(string(t)); err != nil {
		return err
	}
	if err := p.store.Set(ctx, ThemeKey, string(t)); err != nil {
		return fmt.Errorf("failed to store theme: %w", err)
	}
	return nil
}

// Toggle flips the stored theme and returns the new value.
func (p *Themes) Toggle(ctx context.Context) (Theme, error) {
	cur, err := p.Get(ctx)
	if err != nil {
		return cur, err
	}
	next := cur.Toggle()
	return next, p.Set(ctx, next)
}
