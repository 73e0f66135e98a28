// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// auth_cmd.go - Account commands: login, signup, logout.

package cli

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jeranaias/taskpad/internal/api"
)

// credentialFlags are shared by login and signup.
type credentialFlags struct {
	email         string
	passwordStdin bool
}

func (f *credentialFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.email, "email", "e", "", "account email (prompted when omitted)")
	cmd.Flags().BoolVar(&f.passwordStdin, "password-stdin", false, "read the password from stdin")
}

// read collects the email and password, prompting for what is missing.
func (f *credentialFlags) read(a *app) (email, password string, err error) {
	p := newPrompter(a.io.In, a.io.Err)

	email = f.email
	if email == "" {
		if f.passwordStdin {
			return "", "", &UsageError{
				Reason:  "--password-stdin requires --email",
				Example: "echo $PASSWORD | taskpad login -e you@example.com --password-stdin",
			}
		}
		if email, err = p.Line("Email: "); err != nil {
			return "", "", errors.Wrap(err, "read email")
		}
	}
	if password, err = p.Secret("Password: "); err != nil {
		return "", "", errors.Wrap(err, "read password")
	}
	return email, password, nil
}

func newLoginCommand(a *app) *cobra.Command {
	var flags credentialFlags
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session",
		Example: `  taskpad login
  taskpad login -e you@example.com`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := a.connect(ctx); err != nil {
				return err
			}
			email, password, err := flags.read(a)
			if err != nil {
				return err
			}
			if err := a.session.Login(ctx, email, password); err != nil {
				return err
			}
			fmt.Fprintf(a.io.Out, "%s Signed in as %s\n", SuccessStyle.Render("✓"), email)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newSignupCommand(a *app) *cobra.Command {
	var flags credentialFlags
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account and sign in",
		Long: `Create an account and sign in to it.

Passwords need at least 8 characters with an uppercase letter, a lowercase
letter and a digit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := a.connect(ctx); err != nil {
				return err
			}
			email, password, err := flags.read(a)
			if err != nil {
				return err
			}
			if err := a.session.Signup(ctx, email, password); err != nil {
				return err
			}
			fmt.Fprintf(a.io.Out, "%s Account created, signed in as %s\n", SuccessStyle.Render("✓"), email)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newLogoutCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := a.connect(ctx); err != nil {
				return err
			}
			was := a.session.Authenticated()
			a.session.Logout(ctx)
			if was {
				fmt.Fprintln(a.io.Out, "Signed out.")
			} else {
				fmt.Fprintln(a.io.Out, DimStyle.Render("Not signed in."))
			}
			return nil
		},
	}
}

// requireSession fails fast when no session is held.
func requireSession(ctx context.Context, a *app) error {
	if err := a.connect(ctx); err != nil {
		return err
	}
	if !a.session.Authenticated() {
		return errNotSignedIn
	}
	return nil
}

// resetOnRejection clears session-scoped state after the service rejected
// the token.
func resetOnRejection(a *app, err error) error {
	if errors.Is(err, api.ErrAuthRejected) {
		a.todos.Reset()
	}
	return err
}
