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

import "errors"

var (
	// ErrConnClosed is returned when sending on a closed connection.
	ErrConnClosed = errors.New("connection closed")

	// ErrPeerClosed is reported by Err when the other side went away.
	ErrPeerClosed = errors.New("peer closed connection")

	// ErrMalformedMessage indicates a frame or envelope that cannot be decoded.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrFrameTooLarge indicates a Content-Length above MaxFrameSize.
	ErrFrameTooLarge = errors.New("frame too large")
)
