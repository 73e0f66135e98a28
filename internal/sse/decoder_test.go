// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sse

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// feedAll feeds chunks in order, then closes, returning data payloads and
// whether exactly one FrameEnd was seen as the last frame.
func feedAll(t *testing.T, d *Decoder, chunks ...[]byte) []string {
	t.Helper()
	var frames []Frame
	for _, c := range chunks {
		got, err := d.Feed(c)
		require.NoError(t, err)
		frames = append(frames, got...)
	}
	frames = append(frames, d.Close()...)

	var data []string
	ends := 0
	for i, f := range frames {
		switch f.Kind {
		case FrameData:
			require.Zero(t, ends, "data frame after end")
			data = append(data, f.Data)
		case FrameEnd:
			ends++
			require.Equal(t, len(frames)-1, i, "end must be the last frame")
		}
	}
	require.Equal(t, 1, ends, "exactly one end frame")
	return data
}

func split(s string, at ...int) [][]byte {
	var out [][]byte
	prev := 0
	for _, i := range at {
		out = append(out, []byte(s[prev:i]))
		prev = i
	}
	return append(out, []byte(s[prev:]))
}

func TestDecoderScenario(t *testing.T) {
	const stream = "data: hello\n\ndata: world\n\ndata: [DONE]\n\n"

	d := NewDecoder()
	got := feedAll(t, d, split(stream, 9, 20)...)
	assert.Equal(t, []string{"hello", "world"}, got)
	assert.True(t, d.Done())
	assert.Empty(t, d.Residual())
}

func TestDecoderEverySplitPoint(t *testing.T) {
	const stream = "data: hello\n\n: keep-alive\n\ndata:  spaced  out  \n\ndata: héllo wörld ✓\n\ndata: [DONE]\n\n"

	whole := feedAll(t, NewDecoder(), []byte(stream))
	require.Equal(t, []string{"hello", "spaced  out", "héllo wörld ✓"}, whole)

	// Byte-level splits cover mid-delimiter, mid-marker, mid-payload and
	// mid-rune boundaries.
	for i := 0; i <= len(stream); i++ {
		assert.Equal(t, whole, feedAll(t, NewDecoder(), split(stream, i)...), "split at %d", i)
	}
	for i := 0; i <= len(stream); i++ {
		for j := i; j <= len(stream); j++ {
			got := feedAll(t, NewDecoder(), split(stream, i, j)...)
			if !assert.Equal(t, whole, got, "split at %d,%d", i, j) {
				return
			}
		}
	}
}

func TestDecoderByteAtATime(t *testing.T) {
	const stream = "data: ünïcödé 日本語\n\ndata: two\n\ndata: [DONE]\n\n"

	var chunks [][]byte
	for i := 0; i < len(stream); i++ {
		chunks = append(chunks, []byte{stream[i]})
	}
	assert.Equal(t, []string{"ünïcödé 日本語", "two"}, feedAll(t, NewDecoder(), chunks...))
}

func TestDecoderKeepsUnterminatedTail(t *testing.T) {
	d := NewDecoder()

	frames, err := d.Feed([]byte("data: first\n\ndata: sec"))
	require.NoError(t, err)
	assert.Equal(t, []Frame{{Kind: FrameData, Data: "first"}}, frames)

	frames, err = d.Feed([]byte("ond\n"))
	require.NoError(t, err)
	assert.Empty(t, frames, "a single newline does not terminate a record")

	frames, err = d.Feed([]byte("\n"))
	require.NoError(t, err)
	assert.Equal(t, []Frame{{Kind: FrameData, Data: "second"}}, frames)
}

func TestDecoderSentinelStopsProcessing(t *testing.T) {
	d := NewDecoder()

	frames, err := d.Feed([]byte("data: a\n\ndata: [DONE]\n\ndata: after\n\n"))
	require.NoError(t, err)
	assert.Equal(t, []Frame{{Kind: FrameData, Data: "a"}, {Kind: FrameEnd}}, frames)
	assert.True(t, d.Done())

	frames, err = d.Feed([]byte("data: later\n\n"))
	require.NoError(t, err)
	assert.Empty(t, frames)
	assert.Empty(t, d.Close(), "close after the sentinel adds nothing")
}

func TestDecoderSentinelMustMatchExactly(t *testing.T) {
	got := feedAll(t, NewDecoder(), []byte("data: [DONE] now\n\ndata:[DONE]x\n\n"))
	assert.Equal(t, []string{"[DONE] now", "[DONE]x"}, got)
}

func TestDecoderImplicitEndAndResidual(t *testing.T) {
	d := NewDecoder()

	frames, err := d.Feed([]byte("data: complete\n\ndata: trunc"))
	require.NoError(t, err)
	assert.Equal(t, []Frame{{Kind: FrameData, Data: "complete"}}, frames)

	assert.Equal(t, []Frame{{Kind: FrameEnd}}, d.Close())
	assert.Equal(t, "data: trunc", d.Residual())
	assert.Nil(t, d.Close())
}

func TestDecoderResidualIncompleteRune(t *testing.T) {
	d := NewDecoder()
	euro := []byte("€")

	frames, err := d.Feed(append([]byte("data: x"), euro[:2]...))
	require.NoError(t, err)
	assert.Empty(t, frames)

	d.Close()
	assert.True(t, strings.HasPrefix(d.Residual(), "data: x"))
	assert.Contains(t, d.Residual(), "\uFFFD", "a truncated sequence is replaced, not dropped")
}

func TestDecoderCRLF(t *testing.T) {
	const stream = "data: one\r\n\r\ndata: two\r\n\r\ndata: [DONE]\r\n\r\n"

	for i := 0; i <= len(stream); i++ {
		assert.Equal(t, []string{"one", "two"}, feedAll(t, NewDecoder(), split(stream, i)...), "split at %d", i)
	}
}

func TestDecoderIgnoresNonDataRecords(t *testing.T) {
	stream := "event: ping\n\n: comment\n\nid: 7\n\n\n\ndata: kept\n\n"
	assert.Equal(t, []string{"kept"}, feedAll(t, NewDecoder(), []byte(stream)))
}

func TestDecoderTrimsOnlySurroundingWhitespace(t *testing.T) {
	got := feedAll(t, NewDecoder(), []byte("data: \t  a  b\tc \t\n\ndata:\n\n"))
	assert.Equal(t, []string{"a  b\tc", ""}, got)
}

func TestDecoderMultiLinePayload(t *testing.T) {
	got := feedAll(t, NewDecoder(), []byte("data: line one\nline two\n\n"))
	assert.Equal(t, []string{"line one\nline two"}, got)
}

func TestDecoderInvalidUTF8(t *testing.T) {
	got := feedAll(t, NewDecoder(), []byte("data: a\xffb\n\n"))
	assert.Equal(t, []string{"a�b"}, got)
}

func TestDecoderRecordTooLarge(t *testing.T) {
	d := NewDecoder().WithMaxRecordSize(16)

	frames, err := d.Feed([]byte("data: ok\n\n"))
	require.NoError(t, err)
	assert.Len(t, frames, 1)

	_, err = d.Feed([]byte("data: " + strings.Repeat("x", 32)))
	assert.ErrorIs(t, err, ErrRecordTooLarge)
}

func TestDecoderEmptyStream(t *testing.T) {
	d := NewDecoder()
	assert.Empty(t, feedAll(t, d))
	assert.Empty(t, d.Residual())
}

func TestFrameKindString(t *testing.T) {
	assert.Equal(t, "data", FrameData.String())
	assert.Equal(t, "end", FrameEnd.String())
	assert.Equal(t, "FrameKind(9)", FrameKind(9).String())
}
