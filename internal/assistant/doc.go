// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package assistant sends prompts to the service's assistant endpoints.
//
// Stream opens one event-stream request per call, prefixed with a fixed
// system instruction, and hands each reply fragment to a sink as soon as its
// record is complete. Ask is the single-shot variant.
//
// # Usage
//
//	ai := assistant.New(client)
//	stats, err := ai.Stream(ctx, "Suggest 3 tasks for today", func(frag string) {
//	    fmt.Print(frag)
//	})
package assistant
