// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// ask.go - One-shot questions to the assistant.

package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/taskpad/internal/assistant"
	"github.com/jeranaias/taskpad/internal/prefs"
	"github.com/jeranaias/taskpad/internal/session"
)

func newAskCommand(a *app) *cobra.Command {
	var (
		render   bool
		noStream bool
	)
	cmd := &cobra.Command{
		Use:   "ask [prompt...]",
		Short: "Ask the assistant a question",
		Long: `Ask the assistant a question and print the reply as it arrives.

With no arguments the prompt is read from stdin.`,
		Example: `  taskpad ask "Suggest 3 tasks for today"
  echo "Summarise my week" | taskpad ask
  taskpad ask --render "Plan a small garden as a markdown list"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			prompt, err := readPrompt(a.io.In, args)
			if err != nil {
				return err
			}
			if err := requireSession(ctx, a); err != nil {
				return err
			}

			if noStream {
				reply, err := a.ai.Ask(ctx, prompt)
				if err != nil {
					return err
				}
				return a.printReply(ctx, reply, render)
			}

			if render {
				var buf strings.Builder
				if err := streamGuarded(ctx, a, prompt, newFragmentWriter(&buf).write); err != nil {
					return err
				}
				return a.printReply(ctx, buf.String(), true)
			}

			err = streamGuarded(ctx, a, prompt, newFragmentWriter(a.io.Out).write)
			fmt.Fprintln(a.io.Out)
			return err
		},
	}
	cmd.Flags().BoolVarP(&render, "render", "r", false, "render the finished reply as markdown")
	cmd.Flags().BoolVar(&noStream, "no-stream", false, "wait for the whole reply instead of streaming")
	return cmd
}

// readPrompt joins args, or reads all of in when there are none.
func readPrompt(in io.Reader, args []string) (string, error) {
	prompt := strings.TrimSpace(strings.Join(args, " "))
	if prompt == "" && !isTerminal(in) {
		b, err := io.ReadAll(in)
		if err != nil {
			return "", errors.Wrap(err, "read prompt")
		}
		prompt = strings.TrimSpace(string(b))
	}
	if prompt == "" {
		return "", &UsageError{Reason: "no prompt given", Example: `taskpad ask "What should I do first?"`}
	}
	return prompt, nil
}

// fragmentWriter prints fragments separated by single spaces.
type fragmentWriter struct {
	w     io.Writer
	wrote bool
}

func newFragmentWriter(w io.Writer) *fragmentWriter {
	return &fragmentWriter{w: w}
}

func (f *fragmentWriter) write(frag string) {
	if f.wrote {
		io.WriteString(f.w, " ")
	}
	io.WriteString(f.w, frag)
	f.wrote = true
}

// printReply prints reply, rendered with the stored theme when render is set.
func (a *app) printReply(ctx context.Context, reply string, render bool) error {
	if !render {
		_, err := fmt.Fprintln(a.io.Out, reply)
		return err
	}
	theme, err := a.themes.Get(ctx)
	if err != nil {
		a.logger().Warn().Err(err).Msg("theme unavailable, using default")
	}
	style := "dark"
	if theme == prefs.ThemeLight {
		style = "light"
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithColorProfile(GetColorProfile()),
		glamour.WithWordWrap(terminalWidth(a.io.Out)-4),
	)
	if err != nil {
		return errors.Wrap(err, "create markdown renderer")
	}
	out, err := r.Render(reply)
	if err != nil {
		return errors.Wrap(err, "render reply")
	}
	_, err = io.WriteString(a.io.Out, out)
	return err
}

// streamGuarded streams a reply while watching the session. If the session
// ends before the reply does, whether from a 401 or from another process
// clearing the stored token, the stream is cancelled and no further
// fragment reaches sink.
func streamGuarded(ctx context.Context, a *app, prompt string, sink assistant.Sink) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, unsubscribe := a.session.Subscribe()
	defer unsubscribe()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := a.session.Watch(gctx)
		if errors.Is(err, session.ErrWatchUnsupported) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		for {
			select {
			case ev := <-events:
				if ev.State == session.StateAnonymous && ev.Reason != session.ReasonRejected {
					return errors.Wrapf(errSessionEnded, "signed out (%s)", ev.Reason)
				}
			case <-gctx.Done():
				return nil
			}
		}
	})
	g.Go(func() error {
		defer cancel()
		stats, err := a.ai.Stream(gctx, prompt, sink)
		if stats != nil {
			a.logger().Debug().
				Int("fragments", stats.Fragments).
				Dur("first_fragment", stats.FirstFragment).
				Dur("total", stats.Total).
				Msg("reply streamed")
		}
		return err
	})
	return g.Wait()
}
