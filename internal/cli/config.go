// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config.go - Config command implementation for taskpad.
//
// Command: config [subcommand]
// Short:   View and modify configuration
//
// Subcommands:
//   show (default)      Display the effective configuration
//   get <key>           Print one value
//   set <key> <value>   Change a value in the config file
//   keys                List every key
//   path                Show configuration file path
//
// Examples:
//   taskpad config
//   taskpad config show -o json
//   taskpad config set server.base_url http://localhost:8000
//   taskpad config set storage.backend sqlite
//   taskpad config get log.level
package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jeranaias/taskpad/internal/config"
)

func newConfigCommand(a *app) *cobra.Command {
	show := newConfigShowCommand(a)
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long: `View and modify configuration.

Values are read from the config file, then from TASKPAD_* environment
variables. "config set" only writes the file; environment overrides are
never saved.`,
		Args: cobra.NoArgs,
		RunE: show.RunE,
	}
	cmd.Flags().AddFlagSet(show.Flags())
	cmd.AddCommand(
		show,
		newConfigGetCommand(a),
		newConfigSetCommand(a),
		newConfigKeysCommand(),
		newConfigPathCommand(a),
	)
	return cmd
}

// configPath returns the file the config commands read and write.
func (a *app) configPath() (string, error) {
	if a.cfgPath != "" {
		return a.cfgPath, nil
	}
	return config.DefaultPath()
}

func newConfigShowCommand(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.loadConfig(); err != nil {
				return err
			}
			settings := make(map[string]any, len(config.Keys()))
			for _, key := range config.Keys() {
				v, err := a.cfg.Get(key)
				if err != nil {
					return err
				}
				settings[key] = v
			}
			return writeOutput(a.io.Out, output, settings, func(w io.Writer) error {
				return printConfig(w, a.cfg)
			})
		},
	}
	outputFlag(cmd, &output)
	return cmd
}

func printConfig(w io.Writer, cfg *config.Config) error {
	section := ""
	for _, key := range config.Keys() {
		name, field, _ := strings.Cut(key, ".")
		if name != section {
			if section != "" {
				fmt.Fprintln(w)
			}
			fmt.Fprintln(w, TitleStyle.Render("["+name+"]"))
			section = name
		}
		v, err := cfg.Get(key)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, LabelStyle.Width(24).Render(field)+ValueStyle.Render(fmt.Sprint(v)))
	}
	if cfg.Storage.Passphrase != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, DimStyle.Render("storage passphrase set from TASKPAD_STORE_PASSPHRASE"))
	}
	return nil
}

func newConfigGetCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "get <key>",
		Short:   "Print one configuration value",
		Example: `  taskpad config get server.base_url`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.loadConfig(); err != nil {
				return err
			}
			v, err := a.cfg.Get(args[0])
			if err != nil {
				return &UsageError{Reason: err.Error(), Example: "taskpad config keys"}
			}
			fmt.Fprintln(a.io.Out, v)
			return nil
		},
	}
}

func newConfigSetCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change a value in the config file",
		Example: `  taskpad config set server.base_url https://tasks.example.com
  taskpad config set ui.theme light`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := a.configPath()
			if err != nil {
				return err
			}
			cfg, err := config.LoadFile(path)
			if err != nil {
				return err
			}
			if err := cfg.Set(args[0], args[1]); err != nil {
				return &UsageError{Reason: err.Error(), Example: "taskpad config keys"}
			}

			// The passphrase only exists in the environment, so validate a
			// copy that has the overrides applied.
			check := *cfg
			if err := check.ApplyEnvOverrides(); err != nil {
				return err
			}
			if err := check.Validate(); err != nil {
				return errors.Wrap(err, "refusing to save")
			}

			if err := config.Save(cfg, path); err != nil {
				return err
			}
			fmt.Fprintf(a.io.Out, "%s %s = %s\n", SuccessStyle.Render("✓"), args[0], args[1])
			return nil
		},
	}
}

func newConfigKeysCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "List every configuration key",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			for _, k := range config.Keys() {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
		},
	}
}

func newConfigPathCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := a.configPath()
			if err != nil {
				return err
			}
			fmt.Fprintln(a.io.Out, path)
			return nil
		},
	}
}
