// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package protocol

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

// MaxFrameSize bounds a single frame. A reportback for a large run is the
// biggest message and stays well below this.
const MaxFrameSize = 256 << 20

// =============================================================================
// ENCODER
// =============================================================================

// Encoder writes Content-Length framed JSON messages.
//
// Thread Safety:
//
//	Safe for concurrent use. Each frame is written under a mutex so frames
//	from different goroutines never interleave.
type Encoder struct {
	w  io.Writer
	mu sync.Mutex
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes msg as one frame.
func (e *Encoder) Encode(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.Kind, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	header := "Content-Length: " + strconv.Itoa(len(data)) + "\r\n\r\n"
	if _, err := io.WriteString(e.w, header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := e.w.Write(data); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	return nil
}

// =============================================================================
// DECODER
// =============================================================================

// Decoder reads Content-Length framed JSON messages.
//
// Thread Safety:
//
//	Not safe for concurrent use. One goroutine owns a Decoder.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Decode reads the next frame.
//
// Returns io.EOF when the stream ends cleanly between frames.
func (d *Decoder) Decode() (*Message, error) {
	body, err := d.readFrame()
	if err != nil {
		return nil, err
	}
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (d *Decoder) readFrame() ([]byte, error) {
	contentLength := -1
	sawHeader := false

	for {
		line, err := d.r.ReadString('\n')
		if err != nil {
			if err == io.EOF && !sawHeader && line == "" {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("read header: %w", err)
		}
		sawHeader = true
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}

		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("%w: bad header line %q", ErrMalformedMessage, line)
		}
		if !strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: invalid Content-Length %q", ErrMalformedMessage, value)
		}
		contentLength = n
	}

	if contentLength <= 0 {
		return nil, fmt.Errorf("%w: missing or zero Content-Length", ErrMalformedMessage)
	}
	if contentLength > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, contentLength)
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(d.r, body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}
