// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by the taskpad packages.
//
// # Key Functions
//
//   - WriteFileAtomic: crash-safe replacement of a file (temp + fsync + rename)
//   - TruncateRunes: UTF-8 safe truncation of service messages in errors
//
// # Usage
//
//	// Persist the session file without ever leaving it half written
//	err := util.WriteFileAtomic(path, data, 0600, 0700)
package util
