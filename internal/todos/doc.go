// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package todos manages the signed-in account's task list.
//
// Service is a thin wrapper over the /todos endpoints. List keeps the tasks
// the process has seen, applies each call's response to it, and notifies
// subscribers with a fresh snapshot after every change.
//
// A 401 on any call ends the session through the api client; callers
// observing the session should Reset the list when that happens.
//
// # Key Types
//
//   - Todo: one task
//   - Service: stateless CRUD calls
//   - List: observable task list with filters and stats
//
// # Usage
//
//	list := todos.NewList(todos.NewService(client), logger)
//	if err := list.Refresh(ctx); err != nil {
//	    return err
//	}
//	for _, t := range list.Items(todos.FilterActive) {
//	    fmt.Println(t.ID, t.Title)
//	}
package todos
