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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// Conn is one end of a point-to-point, ordered message channel.
//
// The supervisor holds one Conn per worker and each worker holds the other
// end. Two implementations exist: StreamConn frames messages over a byte
// stream such as a child process's stdio, and Pipe connects two goroutines in
// the same process. Callers cannot tell them apart.
type Conn interface {
	// Send delivers msg to the peer. Messages are received in Send order.
	Send(ctx context.Context, msg *Message) error

	// Recv returns the channel of incoming messages. It is closed once the
	// peer is gone or the connection is closed; Err then reports why.
	Recv() <-chan *Message

	// Err returns the reason Recv was closed, or nil while it is open.
	Err() error

	// Close releases the connection. The peer observes ErrPeerClosed.
	Close() error
}

// =============================================================================
// STREAM CONNECTION
// =============================================================================

// StreamConn carries framed messages over an io.Reader and io.Writer pair.
//
// Description:
//
//	A read loop goroutine decodes frames into an unbounded mailbox as fast as
//	they arrive, so the peer never blocks writing to a full pipe while this
//	side is busy. When the reader fails or reaches EOF the mailbox is closed
//	after the already decoded messages drain.
//
// Thread Safety:
//
//	Safe for concurrent use.
type StreamConn struct {
	enc    *Encoder
	dec    *Decoder
	writer io.Writer
	inbox  *Mailbox[*Message]
	closed atomic.Bool
	eof    chan struct{}

	errMu sync.Mutex
	err   error
}

// NewStreamConn starts reading from r and writes to w.
//
// If w implements io.Closer, Close closes it, which is how a supervisor
// signals EOF to a worker's stdin.
func NewStreamConn(r io.Reader, w io.Writer) *StreamConn {
	c := &StreamConn{
		enc:    NewEncoder(w),
		dec:    NewDecoder(r),
		writer: w,
		inbox:  NewMailbox[*Message](),
		eof:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *StreamConn) readLoop() {
	defer close(c.eof)
	for {
		msg, err := c.dec.Decode()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF), c.closed.Load():
				c.setErr(ErrPeerClosed)
			default:
				c.setErr(fmt.Errorf("%w: %v", ErrPeerClosed, err))
			}
			c.inbox.Close()
			return
		}
		c.inbox.Put(msg)
	}
}

// Send implements Conn.
func (c *StreamConn) Send(ctx context.Context, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.closed.Load() {
		return ErrConnClosed
	}
	if err := c.enc.Encode(msg); err != nil {
		return fmt.Errorf("send %s: %w", msg.Kind, err)
	}
	return nil
}

// ReadDone is closed once the read loop has stopped reading from r. Every
// frame the peer wrote before closing its end has been decoded by then.
func (c *StreamConn) ReadDone() <-chan struct{} {
	return c.eof
}

// Recv implements Conn.
func (c *StreamConn) Recv() <-chan *Message {
	return c.inbox.C()
}

// Err implements Conn.
func (c *StreamConn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Close implements Conn.
func (c *StreamConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if closer, ok := c.writer.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (c *StreamConn) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

// =============================================================================
// IN-PROCESS PIPE
// =============================================================================

// Pipe returns two connected in-memory Conns.
//
// Each message is round-tripped through JSON on Send, so the two ends never
// share memory and anything that would not survive a process boundary fails
// here too.
func Pipe() (Conn, Conn) {
	a := &pipeConn{inbox: NewMailbox[*Message](), done: make(chan struct{})}
	b := &pipeConn{inbox: NewMailbox[*Message](), done: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

type pipeConn struct {
	inbox *Mailbox[*Message]
	peer  *pipeConn
	once  sync.Once
	done  chan struct{}

	mu  sync.Mutex
	err error
}

func (p *pipeConn) Send(ctx context.Context, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-p.done:
		return ErrConnClosed
	default:
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("send %s: %w", msg.Kind, err)
	}
	var copied Message
	if err := json.Unmarshal(data, &copied); err != nil {
		return fmt.Errorf("send %s: %w", msg.Kind, err)
	}
	if !p.peer.inbox.Put(&copied) {
		return ErrConnClosed
	}
	return nil
}

func (p *pipeConn) Recv() <-chan *Message {
	return p.inbox.C()
}

func (p *pipeConn) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Close closes both directions. The local end reports ErrConnClosed and the
// peer reports ErrPeerClosed.
func (p *pipeConn) Close() error {
	p.once.Do(func() {
		close(p.done)
		p.setErr(ErrConnClosed)
		p.inbox.Close()
		p.peer.setErr(ErrPeerClosed)
		p.peer.inbox.Close()
	})
	return nil
}

func (p *pipeConn) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err == nil {
		p.err = err
	}
}
