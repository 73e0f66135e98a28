// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for taskpad.
//
// Configuration is a TOML file with sensible defaults, environment variable
// overrides, and validation.
//
// # Key Types
//
//   - Config: main configuration structure
//   - ServerConfig: service URL, timeouts, client-side rate limit
//   - StorageConfig: where the session token and preferences are kept
//   - ValidateErrors: every invalid field at once
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (TASKPAD_*)
//   - ~/.taskpad/config.toml
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    return err
//	}
//	client := api.NewClient(cfg.Server.BaseURL).WithTimeout(cfg.RequestTimeout())
package config
