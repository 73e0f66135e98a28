// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sse decodes Server-Sent Event bodies that arrive in arbitrary
// chunks.
//
// Records are separated by a blank line. A record starting with "data:"
// carries the rest of the record, trimmed, as its payload; the payload
// "[DONE]" ends the stream. Chunks may split records, delimiters, and
// multi-byte characters anywhere: the decoder carries partial input across
// calls and only emits a record once its delimiter has arrived.
//
// # Usage
//
//	dec := sse.NewDecoder()
//	for {
//	    n, err := body.Read(buf)
//	    frames, ferr := dec.Feed(buf[:n])
//	    // handle frames, stop on FrameEnd
//	    if err == io.EOF {
//	        frames = dec.Close() // implicit end
//	        break
//	    }
//	}
package sse
