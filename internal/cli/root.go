// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jeranaias/taskpad/internal/api"
	"github.com/jeranaias/taskpad/internal/assistant"
	"github.com/jeranaias/taskpad/internal/config"
	"github.com/jeranaias/taskpad/internal/logging"
	"github.com/jeranaias/taskpad/internal/prefs"
	"github.com/jeranaias/taskpad/internal/session"
	"github.com/jeranaias/taskpad/internal/storage"
	"github.com/jeranaias/taskpad/internal/todos"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// IOStreams are the command's standard streams.
type IOStreams struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// StdIO returns the process's streams.
func StdIO() IOStreams {
	return IOStreams{In: os.Stdin, Out: os.Stdout, Err: os.Stderr}
}

// Option configures the command tree.
type Option func(*app)

// WithStore uses store instead of the configured backend. The caller keeps
// ownership of it.
func WithStore(store storage.Store) Option {
	return func(a *app) {
		a.store = store
		a.ownsStore = false
	}
}

// =============================================================================
// APP
// =============================================================================

// app holds what the commands share. Components are built on first use so
// commands that need no network or store never open one.
type app struct {
	io IOStreams

	cfgPath  string
	baseURL  string
	logLevel string

	cfg *config.Config
	log *logging.Logger

	store     storage.Store
	ownsStore bool

	client  *api.Client
	session *session.Lifecycle
	ai      *assistant.Client
	todos   *todos.List
	themes  *prefs.Themes
}

// loadConfig loads configuration and the logger.
func (a *app) loadConfig() error {
	if a.cfg != nil {
		return nil
	}
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}
	if a.baseURL != "" {
		cfg.Server.BaseURL = a.baseURL
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid flags")
	}

	logger, err := logging.New(cfg.Log, a.io.Err)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = logger
	return nil
}

var nopLogger = zerolog.Nop()

// logger returns the configured logger, or a no-op one before loadConfig.
func (a *app) logger() *zerolog.Logger {
	if a.log == nil {
		return &nopLogger
	}
	return &a.log.Logger
}

// openStore opens the configured store unless one was injected.
func (a *app) openStore(ctx context.Context) error {
	if err := a.loadConfig(); err != nil {
		return err
	}
	if a.store == nil {
		store, err := storage.Open(ctx, storage.Options{
			Backend:        a.cfg.Storage.Backend,
			Path:           a.cfg.Storage.Path,
			RedisAddr:      a.cfg.Storage.RedisAddr,
			RedisKeyPrefix: a.cfg.Storage.RedisKeyPrefix,
			Encrypt:        a.cfg.Storage.Encrypt,
			Passphrase:     a.cfg.Storage.Passphrase,
			Logger:         *a.logger(),
		})
		if err != nil {
			return errors.Wrap(err, "open store")
		}
		a.store = store
		a.ownsStore = true
	}
	if a.themes == nil {
		a.themes = prefs.NewThemes(a.store, prefs.Theme(a.cfg.UI.Theme))
	}
	return nil
}

// connect builds the client, the session and the services on top of them.
func (a *app) connect(ctx context.Context) error {
	if a.session != nil {
		return nil
	}
	if err := a.openStore(ctx); err != nil {
		return err
	}
	log := *a.logger()

	client := api.NewClient(a.cfg.Server.BaseURL).
		WithTimeout(a.cfg.RequestTimeout()).
		WithRateLimit(a.cfg.Server.RequestsPerSecond, a.cfg.Server.Burst).
		WithLogger(log)

	lc, err := session.NewLifecycle(ctx, session.NewTokenStore(a.store), client, session.WithLogger(log))
	if err != nil {
		return errors.Wrap(err, "resume session")
	}
	client.WithSession(lc)

	a.client = client
	a.session = lc
	a.ai = assistant.New(client).
		WithSystemPrompt(a.cfg.Assistant.SystemPrompt).
		WithMaxRecordSize(a.cfg.Assistant.MaxRecordBytes).
		WithLogger(log)
	a.todos = todos.NewList(todos.NewService(client), log)
	return nil
}

// close releases the store and the log file.
func (a *app) close() {
	if a.store != nil && a.ownsStore {
		if err := a.store.Close(); err != nil {
			a.logger().Warn().Err(err).Msg("store close failed")
		}
	}
	if a.log != nil {
		a.log.Close()
	}
}

// =============================================================================
// COMMAND TREE
// =============================================================================

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "taskpad",
		Short: "Task list and assistant client",
		Long: `taskpad signs in to a task-list service, manages your tasks, and streams
answers from its assistant.

The session token is kept in the configured store (~/.taskpad/session.json by
default) so it survives between invocations.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(a.io.In)
	root.SetOut(a.io.Out)
	root.SetErr(a.io.Err)

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgPath, "config", "", "config file (default ~/.taskpad/config.toml)")
	flags.StringVar(&a.baseURL, "base-url", "", "service URL, overrides the config file")
	flags.StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(
		newLoginCommand(a),
		newSignupCommand(a),
		newLogoutCommand(a),
		newStatusCommand(a),
		newAskCommand(a),
		newChatCommand(a),
		newTodoCommand(a),
		newThemeCommand(a),
		newConfigCommand(a),
		newVersionCommand(a),
	)
	return root
}

func newVersionCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "taskpad %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
		},
	}
}

// Run executes the command line in args and returns the process exit code.
func Run(ctx context.Context, args []string, streams IOStreams, opts ...Option) int {
	a := &app{io: streams}
	for _, opt := range opts {
		opt(a)
	}
	defer a.close()

	root := newRootCommand(a)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		return reportError(streams.Err, err)
	}
	return ExitSuccess
}
