// File: session/session.go
// Package session drives one upgraded WebSocket connection: the opening
// handshake reply, the receive path, handler dispatch and termination.
// License: Apache-2.0
//
// A Session is a single logical task. Its waiting set is {transport event,
// timer expiry, mailbox message}; everything inside one session is strictly
// sequential, so handler state needs no synchronization.

package session

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/corewire/websock/api"
	"github.com/corewire/websock/pool"
	"github.com/corewire/websock/protocol"
)

// ErrUpgradeRejected is returned by Upgrade when the handler's Init turns
// the connection down; the client has already received 400.
var ErrUpgradeRejected = errors.New("websock: handler rejected upgrade")

// ErrHandshake wraps any header validation failure; the client has already
// received 400.
var ErrHandshake = errors.New("websock: handshake failed")

// Options tunes a session beyond what the handler's Init controls.
type Options struct {
	// Logger receives structured lifecycle and error records. Nil means
	// no logging.
	Logger *zap.Logger

	// Pool recycles inbound read chunks once their bytes are copied into
	// the receive buffer. Use the pool the transport reads into.
	Pool *pool.BytePool

	// HandlerOptions is passed opaquely to Handler.Init.
	HandlerOptions map[string]any
}

// Session owns one upgraded connection for its whole lifetime.
type Session struct {
	id        string
	transport api.Transport
	handler   api.Handler
	req       *http.Request
	state     any

	recvBuf   []byte
	asm       protocol.Assembler
	timer     *inactivityTimer
	hibernate bool
	mailbox   *mailbox
	pool      *pool.BytePool
	log       *zap.Logger

	terminated bool
	done       chan struct{}
}

// Upgrade validates the handshake, runs the handler's Init, and flushes the
// 101 reply. On any failure the client gets 400, the transport is closed
// and no session exists. The returned session is inert until Run.
func Upgrade(t api.Transport, req *http.Request, h api.Handler, opts Options) (*Session, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	key, err := protocol.ValidateUpgrade(req)
	if err != nil {
		refuse(t)
		return nil, fmt.Errorf("%w: %w", ErrHandshake, err)
	}

	init, ok := callInit(h, t.Name(), req, opts.HandlerOptions, log)
	if !ok {
		refuse(t)
		return nil, fmt.Errorf("%w: init panicked", ErrHandshake)
	}
	if init.Rejected {
		refuse(t)
		return nil, ErrUpgradeRejected
	}

	if err := t.Send(protocol.SwitchingProtocolsResponse(key)); err != nil {
		_ = t.Close()
		return nil, fmt.Errorf("websock: handshake reply: %w", err)
	}
	// The key is consumed by the reply; nothing below needs it.

	s := &Session{
		id:        uuid.NewString(),
		transport: t,
		handler:   h,
		req:       req,
		state:     init.State,
		timer:     newInactivityTimer(init.Timeout),
		hibernate: init.Hibernate,
		mailbox:   newMailbox(),
		pool:      opts.Pool,
		log:       log,
		done:      make(chan struct{}),
	}
	s.log.Debug("session upgraded",
		zap.String("session", s.id),
		zap.String("transport", t.Name()),
		zap.String("target", req.RequestURI),
		zap.Duration("timeout", init.Timeout))
	return s, nil
}

func refuse(t api.Transport) {
	_ = t.Send(protocol.BadRequestResponse())
	_ = t.Close()
}

func callInit(h api.Handler, name string, req *http.Request, opts map[string]any, log *zap.Logger) (res api.InitResult, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("handler panic during init",
				zap.String("target", req.RequestURI),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			ok = false
		}
	}()
	return h.Init(name, req, opts), true
}

// ID returns the session's identifier used in log records.
func (s *Session) ID() string {
	return s.id
}

// Deliver hands an external message to the session; the handler sees it as
// OnInfo. Delivery to a finished session fails with ErrSessionClosed.
func (s *Session) Deliver(info any) error {
	select {
	case <-s.done:
		return api.ErrSessionClosed
	default:
	}
	s.mailbox.put(info)
	return nil
}

// Done is closed when the session has terminated.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Run executes the session loop until termination. It must be called
// exactly once, typically as `go sess.Run()`.
func (s *Session) Run() {
	defer close(s.done)

	s.timer.rearm()
	for {
		if err := s.transport.SetReadReadyOnce(); err != nil {
			s.terminate(api.TerminateTransportError, err)
			return
		}
		if s.hibernate {
			s.park()
		}

		select {
		case ev := <-s.transport.Events():
			switch ev.Kind {
			case api.EventData:
				if !s.handleData(ev.Data) {
					return
				}
			case api.EventClosed:
				s.terminate(api.TerminateRemoteClosed, nil)
				return
			case api.EventError:
				s.terminate(api.TerminateTransportError, ev.Err)
				return
			}

		case gen := <-s.timer.c():
			if s.timer.stale(gen) {
				// A replaced handle fired; only the current one counts.
				continue
			}
			s.sendClose()
			s.terminate(api.TerminateNormalTimeout, nil)
			return

		case <-s.mailbox.readyCh():
			if !s.drainMailbox() {
				return
			}
		}
	}
}

// park honors the hibernate hint: release what memory we can before the
// next blocking wait. Observable behavior is unchanged.
func (s *Session) park() {
	s.hibernate = false
	if len(s.recvBuf) == 0 {
		s.recvBuf = nil
	}
}

// handleData appends fresh bytes and drains every complete frame from the
// receive buffer. Returns false when the session has terminated.
func (s *Session) handleData(data []byte) bool {
	s.recvBuf = append(s.recvBuf, data...)
	if s.pool != nil {
		s.pool.Put(data)
	}
	s.timer.rearm()

	off := 0
	alive := true
	for alive {
		frame, consumed, err := protocol.Decode(s.recvBuf[off:])
		if err != nil {
			s.sendClose()
			s.terminate(api.TerminateBadFrame, err)
			alive = false
			break
		}
		if frame == nil {
			break
		}
		off += consumed
		s.timer.rearm()
		alive = s.handleFrame(frame)
	}

	if off > 0 {
		s.recvBuf = append(s.recvBuf[:0], s.recvBuf[off:]...)
	}
	return alive
}

// handleFrame runs one decoded frame through the assembler and dispatches
// whatever it emits.
func (s *Session) handleFrame(frame *protocol.Frame) bool {
	emit, err := s.asm.Push(frame)
	if err != nil {
		s.sendClose()
		s.terminate(api.TerminateBadFrame, err)
		return false
	}
	if emit == nil {
		return true
	}

	switch emit.Kind {
	case protocol.EmitClose:
		// Best-effort acknowledgment, then the connection is done.
		s.sendClose()
		s.terminate(api.TerminateNormalClosed, nil)
		return false

	case protocol.EmitPing:
		// The pong must be on the wire before the handler sees the ping.
		if _, err := protocol.WriteFrame(s.transport, api.Pong(emit.Payload)); err != nil {
			s.terminate(api.TerminateTransportError, err)
			return false
		}
		return s.dispatchMessage(api.Message{Kind: api.MessagePing, Payload: emit.Payload})

	case protocol.EmitPong:
		return s.dispatchMessage(api.Message{Kind: api.MessagePong, Payload: emit.Payload})

	default:
		kind := api.MessageBinary
		if emit.Opcode == protocol.OpcodeText {
			kind = api.MessageText
		}
		return s.dispatchMessage(api.Message{Kind: kind, Payload: emit.Payload})
	}
}

func (s *Session) dispatchMessage(msg api.Message) bool {
	res, ok := s.callOnMessage(msg)
	if !ok {
		s.sendClose()
		s.terminate(api.TerminateHandlerError, nil)
		return false
	}
	return s.applyResult(res)
}

func (s *Session) drainMailbox() bool {
	for {
		info, ok := s.mailbox.take()
		if !ok {
			return true
		}
		res, ok := s.callOnInfo(info)
		if !ok {
			s.sendClose()
			s.terminate(api.TerminateHandlerError, nil)
			return false
		}
		if !s.applyResult(res) {
			return false
		}
	}
}

func (s *Session) callOnMessage(msg api.Message) (res api.Result, ok bool) {
	defer s.recoverCallback("on_message", msg.Kind.String(), &ok)
	return s.handler.OnMessage(msg, s.req, s.state), true
}

func (s *Session) callOnInfo(info any) (res api.Result, ok bool) {
	defer s.recoverCallback("on_info", fmt.Sprintf("%T", info), &ok)
	return s.handler.OnInfo(info, s.req, s.state), true
}

// recoverCallback converts a handler panic into a structured log record
// and flips ok so the caller can run the handler-error policy.
func (s *Session) recoverCallback(callback, message string, ok *bool) {
	if r := recover(); r != nil {
		s.log.Error("handler panic",
			zap.String("session", s.id),
			zap.String("callback", callback),
			zap.String("message", message),
			zap.String("target", s.req.RequestURI),
			zap.Any("state", s.state),
			zap.Any("panic", r),
			zap.ByteString("stack", debug.Stack()))
		*ok = false
	}
}

// applyResult processes a handler response shape. Returns false when the
// session has terminated.
func (s *Session) applyResult(res api.Result) bool {
	s.state = res.State
	s.hibernate = res.Hibernate

	switch res.Action {
	case api.ActionReply:
		status, err := protocol.WriteFrames(s.transport, res.Replies)
		if err != nil {
			s.terminate(api.TerminateTransportError, err)
			return false
		}
		// A successful reply flush counts as activity.
		s.timer.rearm()
		if status == protocol.SendShutdown {
			s.terminate(api.TerminateNormalShutdown, nil)
			return false
		}
		return true

	case api.ActionShutdown:
		s.sendClose()
		s.terminate(api.TerminateNormalShutdown, nil)
		return false

	default:
		return true
	}
}

// sendClose writes a bare close frame, best-effort. Nothing may follow it.
func (s *Session) sendClose() {
	_, _ = protocol.WriteFrame(s.transport, api.Close())
}

// terminate runs the exactly-once termination sequence: stop the timer,
// inform the handler, close the transport.
func (s *Session) terminate(code api.TerminateCode, err error) {
	if s.terminated {
		return
	}
	s.terminated = true
	s.timer.stop()

	reason := api.TerminateReason{Code: code, Err: err}
	func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("handler panic during on_terminate",
					zap.String("session", s.id),
					zap.Any("panic", r))
			}
		}()
		s.handler.OnTerminate(reason, s.req, s.state)
	}()

	_ = s.transport.Close()
	s.log.Debug("session terminated",
		zap.String("session", s.id),
		zap.String("reason", reason.String()))
}
