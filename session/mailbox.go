// File: session/mailbox.go
// Package session external message mailbox.
// License: Apache-2.0

package session

import (
	"sync"

	"github.com/eapache/queue"
)

// mailbox buffers externally delivered application messages until the
// session loop drains them. Senders never block; ordering is FIFO.
type mailbox struct {
	mu    sync.Mutex
	q     *queue.Queue
	ready chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{
		q:     queue.New(),
		ready: make(chan struct{}, 1),
	}
}

// put enqueues a message and nudges the loop.
func (m *mailbox) put(v any) {
	m.mu.Lock()
	m.q.Add(v)
	m.mu.Unlock()
	select {
	case m.ready <- struct{}{}:
	default:
	}
}

// take dequeues the oldest message, if any.
func (m *mailbox) take() (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.q.Length() == 0 {
		return nil, false
	}
	v := m.q.Peek()
	m.q.Remove()
	return v, true
}

// readyCh fires at least once after any put.
func (m *mailbox) readyCh() <-chan struct{} {
	return m.ready
}
