// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sse

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DataMarker is the field prefix of a significant record.
	DataMarker = "data:"

	// DoneSentinel is the payload that ends a stream.
	DoneSentinel = "[DONE]"

	// DefaultMaxRecordSize bounds a single unterminated record (1 MiB).
	DefaultMaxRecordSize = 1 << 20
)

var delimiter = []byte("\n\n")

// ErrRecordTooLarge indicates a record grew past the decoder's limit without
// being terminated.
var ErrRecordTooLarge = errors.New("sse record exceeds maximum size")

// =============================================================================
// FRAMES
// =============================================================================

// FrameKind distinguishes payload frames from the end of the stream.
type FrameKind int

const (
	// FrameData carries one payload.
	FrameData FrameKind = iota
	// FrameEnd marks the end of the stream. Nothing follows it.
	FrameEnd
)

// String returns a human-readable kind.
func (k FrameKind) String() string {
	switch k {
	case FrameData:
		return "data"
	case FrameEnd:
		return "end"
	default:
		return fmt.Sprintf("FrameKind(%d)", int(k))
	}
}

// Frame is one decoded unit of a stream.
type Frame struct {
	Kind FrameKind
	Data string
}

// =============================================================================
// DECODER
// =============================================================================

// Decoder turns arbitrarily split chunks of an SSE body into frames.
//
// A Decoder belongs to one stream and is not safe for concurrent use.
type Decoder struct {
	utf8 *encoding.Decoder

	// carry holds the leading bytes of a UTF-8 sequence split across chunks.
	carry []byte

	// pendingCR is set when the last decoded text ended in '\r', which may be
	// the first half of a CRLF split across chunks.
	pendingCR bool

	buf []byte

	// scanFrom is where the next delimiter search starts; everything before
	// it is known to hold no delimiter.
	scanFrom int

	maxRecord int
	done      bool
	residual  string
}

// NewDecoder creates a decoder with DefaultMaxRecordSize.
func NewDecoder() *Decoder {
	return &Decoder{
		utf8:      unicode.UTF8.NewDecoder(),
		maxRecord: DefaultMaxRecordSize,
	}
}

// WithMaxRecordSize sets the record size limit. n <= 0 keeps the default.
func (d *Decoder) WithMaxRecordSize(n int) *Decoder {
	if n > 0 {
		d.maxRecord = n
	}
	return d
}

// Done reports whether the decoder has emitted FrameEnd.
func (d *Decoder) Done() bool {
	return d.done
}

// Residual returns the text left unterminated when Close was called. It is
// never emitted as a frame.
func (d *Decoder) Residual() string {
	return d.residual
}

// Feed decodes chunk and returns the frames completed by it, in order.
//
// Trailing text without a delimiter is kept for the next call. After the
// sentinel, Feed ignores all input and returns no frames.
func (d *Decoder) Feed(chunk []byte) ([]Frame, error) {
	if d.done {
		return nil, nil
	}

	text, err := d.decode(chunk, false)
	if err != nil {
		return nil, err
	}
	d.append(text)

	frames := d.extract()
	if d.done {
		return frames, nil
	}
	if len(d.buf) > d.maxRecord {
		return frames, fmt.Errorf("%w: %d bytes without delimiter (limit %d)", ErrRecordTooLarge, len(d.buf), d.maxRecord)
	}
	return frames, nil
}

// Close ends the stream at transport EOF. It returns an implicit FrameEnd
// unless the sentinel was already seen. Unterminated text is dropped and
// exposed through Residual.
func (d *Decoder) Close() []Frame {
	if d.done {
		return nil
	}
	d.done = true

	tail, _ := d.decode(nil, true)
	d.append(tail)
	if d.pendingCR {
		d.buf = append(d.buf, '\r')
		d.pendingCR = false
	}
	d.residual = string(d.buf)
	d.buf = nil
	d.carry = nil

	return []Frame{{Kind: FrameEnd}}
}

// decode converts chunk to valid UTF-8, holding back an incomplete trailing
// sequence unless atEOF. Invalid bytes become U+FFFD.
func (d *Decoder) decode(chunk []byte, atEOF bool) ([]byte, error) {
	src := chunk
	if len(d.carry) > 0 {
		src = append(d.carry, chunk...)
		d.carry = nil
	}
	if len(src) == 0 {
		return nil, nil
	}

	out := make([]byte, 0, len(src))
	dst := make([]byte, len(src)+16)
	for {
		nDst, nSrc, err := d.utf8.Transform(dst, src, atEOF)
		out = append(out, dst[:nDst]...)
		src = src[nSrc:]

		switch {
		case err == nil:
			return out, nil
		case errors.Is(err, transform.ErrShortSrc):
			d.carry = append([]byte(nil), src...)
			return out, nil
		case errors.Is(err, transform.ErrShortDst):
			if nDst == 0 && nSrc == 0 {
				dst = make([]byte, 2*len(dst))
			}
		default:
			return nil, fmt.Errorf("failed to decode stream text: %w", err)
		}
	}
}

// append adds decoded text to the buffer with CRLF folded to LF.
func (d *Decoder) append(text []byte) {
	if len(text) == 0 {
		return
	}
	if d.pendingCR {
		text = append([]byte{'\r'}, text...)
		d.pendingCR = false
	}
	if text[len(text)-1] == '\r' {
		text = text[:len(text)-1]
		d.pendingCR = true
	}
	d.buf = append(d.buf, bytes.ReplaceAll(text, []byte("\r\n"), []byte("\n"))...)
}

// extract removes every complete record from the front of the buffer.
func (d *Decoder) extract() []Frame {
	var frames []Frame
	for {
		i := bytes.Index(d.buf[d.scanFrom:], delimiter)
		if i < 0 {
			// A delimiter may straddle the current end of the buffer.
			d.scanFrom = max(0, len(d.buf)-1)
			return frames
		}
		end := d.scanFrom + i
		record := string(d.buf[:end])
		d.buf = d.buf[end+len(delimiter):]
		d.scanFrom = 0

		payload, ok := parseRecord(record)
		if !ok {
			continue
		}
		if payload == DoneSentinel {
			d.done = true
			d.buf = nil
			d.carry = nil
			d.pendingCR = false
			return append(frames, Frame{Kind: FrameEnd})
		}
		frames = append(frames, Frame{Kind: FrameData, Data: payload})
	}
}

// parseRecord returns the payload of a data record. Records without the
// marker (comments, event or id fields, keep-alive blanks) are skipped.
func parseRecord(record string) (string, bool) {
	if !strings.HasPrefix(record, DataMarker) {
		return "", false
	}
	return strings.TrimSpace(record[len(DataMarker):]), true
}
