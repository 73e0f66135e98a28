// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeranaias/taskpad/internal/prefs"
)

func newThemeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "theme [dark|light|toggle]",
		Short: "Show or change the color theme",
		Long: `Show or change the color theme used for rendered replies.

The theme is stored next to the session and kept across logins.`,
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"dark", "light", "toggle"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.openStore(ctx); err != nil {
				return err
			}

			var (
				theme prefs.Theme
				err   error
			)
			switch {
			case len(args) == 0:
				theme, err = a.themes.Get(ctx)
			case args[0] == "toggle":
				theme, err = a.themes.Toggle(ctx)
			default:
				theme, err = prefs.ParseTheme(args[0])
				if err != nil {
					return &UsageError{Reason: err.Error(), Example: "taskpad theme light"}
				}
				err = a.themes.Set(ctx, theme)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(a.io.Out, theme)
			return nil
		},
	}
}
