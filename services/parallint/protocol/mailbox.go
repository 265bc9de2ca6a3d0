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

import "sync"

// Mailbox is an unbounded FIFO exposed as a receive channel.
//
// Description:
//
//	Put never blocks, so a producer (a pipe read loop, a completion handler)
//	is never stalled by a slow consumer. A pump goroutine hands items to C()
//	in Put order. Close lets queued items drain and then closes C(). Discard
//	drops whatever is queued and closes C() at once.
//
// Thread Safety:
//
//	Put, Close and Discard are safe for concurrent use. C() may be read by
//	any number of goroutines.
type Mailbox[T any] struct {
	mu      sync.Mutex
	queue   []T
	closed  bool
	signal  chan struct{}
	abort   chan struct{}
	abortMu sync.Once
	out     chan T
}

// NewMailbox creates a Mailbox and starts its pump goroutine.
func NewMailbox[T any]() *Mailbox[T] {
	m := &Mailbox[T]{
		signal: make(chan struct{}, 1),
		abort:  make(chan struct{}),
		out:    make(chan T),
	}
	go m.pump()
	return m
}

// C returns the channel items are delivered on.
func (m *Mailbox[T]) C() <-chan T {
	return m.out
}

// Put enqueues v. Returns false if the mailbox is closed.
func (m *Mailbox[T]) Put(v T) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.queue = append(m.queue, v)
	m.mu.Unlock()
	m.wake()
	return true
}

// Len returns the number of queued items not yet handed to C().
func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Close stops accepting items. Queued items are still delivered.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.wake()
}

// Discard closes the mailbox and drops undelivered items.
func (m *Mailbox[T]) Discard() {
	m.Close()
	m.abortMu.Do(func() { close(m.abort) })
}

func (m *Mailbox[T]) wake() {
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *Mailbox[T]) pump() {
	defer close(m.out)
	var zero T
	for {
		m.mu.Lock()
		for len(m.queue) == 0 && !m.closed {
			m.mu.Unlock()
			select {
			case <-m.signal:
			case <-m.abort:
				return
			}
			m.mu.Lock()
		}
		if len(m.queue) == 0 {
			m.mu.Unlock()
			return
		}
		v := m.queue[0]
		m.queue[0] = zero
		m.queue = m.queue[1:]
		m.mu.Unlock()

		select {
		case m.out <- v:
		case <-m.abort:
			return
		}
	}
}
