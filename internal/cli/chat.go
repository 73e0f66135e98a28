// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive assistant session.
//
// Each line is sent as its own prompt; the reply streams back before the
// next prompt is shown. Line editing and history are available when stdin
// is a terminal.

package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jeranaias/taskpad/internal/api"
	"github.com/jeranaias/taskpad/internal/assistant"
	"github.com/jeranaias/taskpad/internal/config"
)

const (
	chatPrompt      = "you> "
	historyFileName = "chat_history"
)

// lineReader yields one user line at a time. io.EOF ends the chat.
type lineReader interface {
	ReadLine() (string, error)
	Remember(line string)
	Close() error
}

// =============================================================================
// LINER (TERMINAL)
// =============================================================================

type linerReader struct {
	state       *liner.State
	historyPath string
}

func newLinerReader() *linerReader {
	state := liner.NewLiner()
	state.SetCtrlCAborts(true)

	r := &linerReader{state: state}
	if dir, err := config.ConfigDir(); err == nil {
		r.historyPath = filepath.Join(dir, historyFileName)
		if f, err := os.Open(r.historyPath); err == nil {
			state.ReadHistory(f)
			f.Close()
		}
	}
	return r
}

func (r *linerReader) ReadLine() (string, error) {
	line, err := r.state.Prompt(chatPrompt)
	if errors.Is(err, liner.ErrPromptAborted) {
		return "", io.EOF
	}
	return line, err
}

func (r *linerReader) Remember(line string) {
	r.state.AppendHistory(line)
}

func (r *linerReader) Close() error {
	if r.historyPath != "" {
		if err := os.MkdirAll(filepath.Dir(r.historyPath), 0700); err == nil {
			if f, err := os.OpenFile(r.historyPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600); err == nil {
				r.state.WriteHistory(f)
				f.Close()
			}
		}
	}
	return r.state.Close()
}

// =============================================================================
// SCANNER (PIPED INPUT)
// =============================================================================

type scannerReader struct {
	scanner *bufio.Scanner
}

func (r *scannerReader) ReadLine() (string, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return r.scanner.Text(), nil
}

func (r *scannerReader) Remember(string) {}
func (r *scannerReader) Close() error   { return nil }

// =============================================================================
// COMMAND
// =============================================================================

func newChatCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat with the assistant",
		Long: `Start an interactive chat. Each line is a new prompt.

Type /exit or press Ctrl-D to leave. Ctrl-C stops a streaming reply and
ends the chat.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := requireSession(ctx, a); err != nil {
				return err
			}

			var lines lineReader
			if isTerminal(a.io.In) {
				lines = newLinerReader()
			} else {
				lines = &scannerReader{scanner: bufio.NewScanner(a.io.In)}
			}
			defer lines.Close()

			fmt.Fprintln(a.io.Out, DimStyle.Render("Type /exit to leave."))
			return runChat(ctx, a, lines)
		},
	}
}

// runChat reads prompts until EOF or /exit. A failed reply is reported and
// the chat continues, unless the session ended.
func runChat(ctx context.Context, a *app, lines lineReader) error {
	for turn := 0; ; turn++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line, err := lines.ReadLine()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "read prompt")
		}

		prompt := strings.TrimSpace(line)
		switch prompt {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		}
		lines.Remember(prompt)

		fw := newFragmentWriter(a.io.Out)
		io.WriteString(a.io.Out, TitleStyle.Render("ai> "))
		err = streamGuarded(ctx, a, prompt, fw.write)
		fmt.Fprintln(a.io.Out)

		switch {
		case err == nil:
		case errors.Is(err, api.ErrAuthRejected), errors.Is(err, errSessionEnded):
			return err
		case errors.Is(err, context.Canceled) && ctx.Err() != nil:
			return err
		default:
			var streamErr *assistant.StreamError
			if errors.As(err, &streamErr) {
				fmt.Fprintln(a.io.Err, WarningStyle.Render("(reply cut off)"))
			}
			fmt.Fprintf(a.io.Err, "%s %v\n", ErrorStyle.Render("Error:"), err)
			a.logger().Debug().Int("turn", turn).Err(err).Msg("chat turn failed")
		}
	}
}
