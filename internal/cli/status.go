// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// status.go - Session and configuration overview.

package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jeranaias/taskpad/internal/api"
)

// statusReport is the machine-readable form of "taskpad status".
type statusReport struct {
	Server    string `json:"server" yaml:"server"`
	State     string `json:"state" yaml:"state"`
	Token     string `json:"token" yaml:"token"`
	Store     string `json:"store" yaml:"store"`
	Encrypted bool   `json:"encrypted" yaml:"encrypted"`
	Theme     string `json:"theme" yaml:"theme"`
	Version   string `json:"version" yaml:"version"`
}

func newStatusCommand(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the session, server and store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := a.connect(ctx); err != nil {
				return err
			}
			theme, err := a.themes.Get(ctx)
			if err != nil {
				return err
			}
			token, _ := a.session.Token()
			r := statusReport{
				Server:    a.client.BaseURL(),
				State:     a.session.State().String(),
				Token:     api.Fingerprint(token),
				Store:     a.cfg.Storage.Backend,
				Encrypted: a.cfg.Storage.Encrypt,
				Theme:     string(theme),
				Version:   Version,
			}
			return writeOutput(a.io.Out, output, r, func(w io.Writer) error {
				return printStatus(w, r, a.session.Authenticated())
			})
		},
	}
	outputFlag(cmd, &output)
	return cmd
}

func printStatus(w io.Writer, r statusReport, authenticated bool) error {
	state := WarningStyle.Render(r.State)
	if authenticated {
		state = SuccessStyle.Render(r.State)
	}
	store := r.Store
	if r.Encrypted {
		store += " (encrypted)"
	}

	fmt.Fprintln(w, TitleStyle.Render("taskpad "+r.Version))
	fmt.Fprintln(w, RenderSeparator(40))
	fmt.Fprintln(w, RenderField("Server", r.Server))
	fmt.Fprintln(w, LabelStyle.Render("Session")+state)
	fmt.Fprintln(w, RenderField("Token", r.Token))
	fmt.Fprintln(w, RenderField("Store", store))
	_, err := fmt.Fprintln(w, RenderField("Theme", r.Theme))
	return err
}
