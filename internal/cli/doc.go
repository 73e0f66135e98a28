// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides the taskpad command tree.
//
// Commands share one lazily built app: configuration is loaded on first
// use, the store is opened only by commands that need it, and the API
// client, session and services are built only by commands that talk to the
// service.
//
// # Key Types
//
//   - IOStreams: the standard streams commands read from and write to
//   - Option: overrides for the command tree, such as an injected store
//   - UsageError: invalid arguments, reported with an example
//
// # Usage
//
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer stop()
//	os.Exit(cli.Run(ctx, os.Args[1:], cli.StdIO()))
//
// # Commands Overview
//
// Account:
//   - login, signup, logout: manage the stored session
//   - status: session, server and store overview
//
// Work:
//   - todo: list, add, done, undo, rename, rm, clear
//   - ask: one question, streamed
//   - chat: interactive assistant session
//
// Settings:
//   - theme: dark or light
//   - config: show, get, set, keys, path
//
// Commands that print data accept -o json or -o yaml.
package cli
