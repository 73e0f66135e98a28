// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package assistant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/taskpad/internal/api"
	"github.com/jeranaias/taskpad/internal/sse"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultSystemPrompt is the fixed instruction sent ahead of every prompt.
	DefaultSystemPrompt = "You are a helpful assistant."

	// ChatPath is the single-shot endpoint.
	ChatPath = "/ai/chat"

	// StreamPath is the event-stream endpoint.
	StreamPath = "/ai/chat/stream"

	// readBufferSize is the size of each body read.
	readBufferSize = 4096
)

// =============================================================================
// TYPES
// =============================================================================

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages []Message `json:"messages"`
}

type chatResponse struct {
	Message string `json:"message"`
}

// StreamStats holds statistics collected during streaming.
type StreamStats struct {
	FirstFragment time.Duration
	Total         time.Duration
	Fragments     int
}

// StreamError represents a transport failure during streaming, preserving
// the text delivered before it.
type StreamError struct {
	Partial string // Fragments delivered before the error, concatenated
	Err     error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Partial != "" {
		return fmt.Sprintf("stream error (partial content received: %d chars): %v", len(e.Partial), e.Err)
	}
	return fmt.Sprintf("stream error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *StreamError) Unwrap() error {
	return e.Err
}

// Sink receives fragments in order, synchronously.
type Sink func(fragment string)

// =============================================================================
// CLIENT
// =============================================================================

// Client sends prompts to the assistant endpoints.
type Client struct {
	api          *api.Client
	systemPrompt string
	maxRecord    int
	log          zerolog.Logger
}

// New creates a client that sends requests through c.
func New(c *api.Client) *Client {
	return &Client{
		api:          c,
		systemPrompt: DefaultSystemPrompt,
		maxRecord:    sse.DefaultMaxRecordSize,
		log:          zerolog.Nop(),
	}
}

// WithSystemPrompt replaces the fixed instruction. Empty keeps the default.
func (c *Client) WithSystemPrompt(prompt string) *Client {
	if prompt != "" {
		c.systemPrompt = prompt
	}
	return c
}

// WithMaxRecordSize bounds a single stream record.
func (c *Client) WithMaxRecordSize(n int) *Client {
	if n > 0 {
		c.maxRecord = n
	}
	return c
}

// WithLogger sets the logger.
func (c *Client) WithLogger(l zerolog.Logger) *Client {
	c.log = l
	return c
}

func (c *Client) request(prompt string) chatRequest {
	return chatRequest{Messages: []Message{
		{Role: "system", Content: c.systemPrompt},
		{Role: "user", Content: prompt},
	}}
}

// Ask performs a single-shot request and returns the whole reply.
func (c *Client) Ask(ctx context.Context, prompt string) (string, error) {
	var out chatResponse
	if err := c.api.Do(ctx, http.MethodPost, ChatPath, c.request(prompt), &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

// Stream opens one streaming request for prompt and passes each fragment to
// sink in arrival order. It returns when the stream ends, fails, or ctx is
// cancelled; no fragment is delivered after cancellation. There are no
// retries. A transport failure after the stream opened is a *StreamError
// matching api.ErrTransport.
func (c *Client) Stream(ctx context.Context, prompt string, sink Sink) (*StreamStats, error) {
	if sink == nil {
		sink = func(string) {}
	}

	start := time.Now()
	stats := &StreamStats{}
	defer func() { stats.Total = time.Since(start) }()

	body, err := c.api.OpenStream(ctx, StreamPath, c.request(prompt))
	if err != nil {
		return stats, err
	}
	defer body.Close()

	dec := sse.NewDecoder().WithMaxRecordSize(c.maxRecord)
	var partial strings.Builder

	// deliver passes data frames to sink and reports whether the end frame
	// was reached.
	deliver := func(frames []sse.Frame) (bool, error) {
		for _, f := range frames {
			if f.Kind == sse.FrameEnd {
				return true, nil
			}
			if err := ctx.Err(); err != nil {
				return false, err
			}
			if stats.Fragments == 0 {
				stats.FirstFragment = time.Since(start)
			}
			stats.Fragments++
			partial.WriteString(f.Data)
			sink(f.Data)
		}
		return false, nil
	}

	buf := make([]byte, readBufferSize)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			frames, feedErr := dec.Feed(buf[:n])
			done, err := deliver(frames)
			if err != nil {
				return stats, err
			}
			if done {
				c.log.Debug().Int("fragments", stats.Fragments).Msg("stream complete")
				return stats, nil
			}
			if feedErr != nil {
				return stats, &StreamError{
					Partial: partial.String(),
					Err:     &api.TransportError{Op: "POST " + StreamPath, Err: feedErr},
				}
			}
		}

		if errors.Is(readErr, io.EOF) {
			if _, err := deliver(dec.Close()); err != nil {
				return stats, err
			}
			if residual := dec.Residual(); residual != "" {
				c.log.Warn().Int("bytes", len(residual)).Msg("stream ended inside a record; tail discarded")
			} else {
				c.log.Debug().Int("fragments", stats.Fragments).Msg("stream closed without end marker")
			}
			return stats, nil
		}
		if readErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return stats, ctxErr
			}
			return stats, &StreamError{
				Partial: partial.String(),
				Err:     &api.TransportError{Op: "POST " + StreamPath, Err: readErr},
			}
		}
	}
}
