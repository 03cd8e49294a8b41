// File: api/transport.go
// Package api defines the transport abstraction sessions drive.
// License: Apache-2.0
//
// A Transport hides the byte channel (TCP, TLS, in-memory pipe, epoll-backed
// socket) behind a small capability set: send bytes, arm a one-shot read
// readiness notification, and deliver tagged events on a channel the session
// selects on.

package api

// Transport is a full-duplex byte channel owned by exactly one session.
//
// SetReadReadyOnce arms a single readability notification: the transport
// reads the next chunk of bytes and delivers exactly one event, then stays
// quiet until armed again. The session rearms before every blocking wait.
type Transport interface {
	// Name identifies the transport flavor ("tcp", "epoll", "pipe").
	Name() string

	// Send writes the whole buffer to the peer.
	Send(p []byte) error

	// SetReadReadyOnce arms a one-shot read. The resulting bytes, close or
	// error arrive on Events.
	SetReadReadyOnce() error

	// Events delivers transport events in arrival order.
	Events() <-chan Event

	// Close tears down the underlying channel. Safe to call more than once.
	Close() error
}

// EventKind tags a transport event.
type EventKind int

const (
	// EventData carries bytes read from the peer.
	EventData EventKind = iota
	// EventClosed signals an orderly close of the byte channel by the peer.
	EventClosed
	// EventError signals a transport failure; Err holds the cause.
	EventError
)

// Event is a tagged transport notification delivered to the session.
type Event struct {
	Kind EventKind
	Data []byte
	Err  error
}
