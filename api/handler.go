// File: api/handler.go
// Package api defines the handler contract invoked by sessions.
// License: Apache-2.0
//
// A Handler is the application side of a connection. The session owns the
// handler state and threads it through every callback; callbacks for one
// connection never run concurrently with each other.

package api

import (
	"net/http"
	"time"
)

// MessageKind classifies an inbound application-level event.
type MessageKind int

const (
	// MessageText is a complete text message (opcode 1), defragmented.
	MessageText MessageKind = iota
	// MessageBinary is a complete binary message (opcode 2), defragmented.
	MessageBinary
	// MessagePing is a ping control frame. The session has already written
	// the matching pong to the wire when the handler sees it.
	MessagePing
	// MessagePong is a pong control frame.
	MessagePong
)

func (k MessageKind) String() string {
	switch k {
	case MessageText:
		return "text"
	case MessageBinary:
		return "binary"
	case MessagePing:
		return "ping"
	case MessagePong:
		return "pong"
	default:
		return "unknown"
	}
}

// Message is a fully assembled inbound message delivered to OnMessage.
type Message struct {
	Kind    MessageKind
	Payload []byte
}

// Handler receives the lifecycle callbacks of one upgraded connection.
type Handler interface {
	// Init runs once before the 101 reply is sent. Returning a rejecting
	// result aborts the upgrade with a 400 response.
	Init(transportName string, req *http.Request, opts map[string]any) InitResult

	// OnMessage handles one inbound message (text, binary, ping, pong).
	OnMessage(msg Message, req *http.Request, state any) Result

	// OnInfo handles a message delivered from outside the connection
	// (broadcasts, shutdown requests) via the session mailbox.
	OnInfo(info any, req *http.Request, state any) Result

	// OnTerminate runs exactly once per upgraded session, last. Its return
	// is ignored; panics are logged and swallowed.
	OnTerminate(reason TerminateReason, req *http.Request, state any)
}

// InitResult is what Handler.Init returns.
//
// The zero value accepts the upgrade with no timeout and no hibernation.
type InitResult struct {
	// Rejected aborts the upgrade; the client receives 400 Bad Request.
	Rejected bool

	// State is the initial handler state threaded through callbacks.
	State any

	// Timeout bounds inactivity (time since the last valid inbound frame).
	// Zero means no inactivity timeout.
	Timeout time.Duration

	// Hibernate asks the session to park cheaply at its next blocking wait.
	Hibernate bool
}

// Accept builds an accepting InitResult.
func Accept(state any) InitResult {
	return InitResult{State: state}
}

// AcceptTimeout accepts with an inactivity timeout.
func AcceptTimeout(state any, timeout time.Duration) InitResult {
	return InitResult{State: state, Timeout: timeout}
}

// Reject aborts the upgrade with a 400 response.
func Reject() InitResult {
	return InitResult{Rejected: true}
}

// Action says how the session proceeds after a callback.
type Action int

const (
	// ActionContinue keeps the session running.
	ActionContinue Action = iota
	// ActionReply writes the queued frames, then continues (unless one of
	// them is a close frame, which terminates the session normally).
	ActionReply
	// ActionShutdown sends a close frame and terminates normally.
	ActionShutdown
)

// Result is what OnMessage and OnInfo return.
type Result struct {
	Action    Action
	Replies   []Frame
	State     any
	Hibernate bool
}

// Continue keeps the session running with the given state.
func Continue(state any) Result {
	return Result{Action: ActionContinue, State: state}
}

// ContinueHibernate continues and requests hibernation.
func ContinueHibernate(state any) Result {
	return Result{Action: ActionContinue, State: state, Hibernate: true}
}

// Reply queues frames for the peer and continues.
func Reply(state any, frames ...Frame) Result {
	return Result{Action: ActionReply, Replies: frames, State: state}
}

// ReplyHibernate queues frames, then hibernates.
func ReplyHibernate(state any, frames ...Frame) Result {
	return Result{Action: ActionReply, Replies: frames, State: state, Hibernate: true}
}

// Shutdown closes the connection normally.
func Shutdown(state any) Result {
	return Result{Action: ActionShutdown, State: state}
}
