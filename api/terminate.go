// File: api/terminate.go
// Package api defines session termination reasons.
// License: Apache-2.0

package api

import "fmt"

// TerminateCode enumerates why a session ended.
type TerminateCode int

const (
	// TerminateNormalClosed: the peer sent a close frame.
	TerminateNormalClosed TerminateCode = iota
	// TerminateNormalShutdown: the handler asked to shut down.
	TerminateNormalShutdown
	// TerminateNormalTimeout: the inactivity timeout elapsed.
	TerminateNormalTimeout
	// TerminateRemoteClosed: the byte channel closed without a close frame.
	TerminateRemoteClosed
	// TerminateBadFrame: the peer violated the framing protocol.
	TerminateBadFrame
	// TerminateTransportError: a socket read or write failed.
	TerminateTransportError
	// TerminateHandlerError: a handler callback panicked.
	TerminateHandlerError
)

func (c TerminateCode) String() string {
	switch c {
	case TerminateNormalClosed:
		return "normal_closed"
	case TerminateNormalShutdown:
		return "normal_shutdown"
	case TerminateNormalTimeout:
		return "normal_timeout"
	case TerminateRemoteClosed:
		return "remote_closed"
	case TerminateBadFrame:
		return "error_badframe"
	case TerminateTransportError:
		return "transport_error"
	case TerminateHandlerError:
		return "handler_error"
	default:
		return fmt.Sprintf("terminate(%d)", int(c))
	}
}

// TerminateReason is handed to Handler.OnTerminate. Err is set for
// transport and protocol failures.
type TerminateReason struct {
	Code TerminateCode
	Err  error
}

func (r TerminateReason) String() string {
	if r.Err != nil {
		return fmt.Sprintf("%s: %v", r.Code, r.Err)
	}
	return r.Code.String()
}
