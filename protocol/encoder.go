// File: protocol/encoder.go
// Package protocol outbound frame encoder.
// License: Apache-2.0

package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/corewire/websock/api"
)

// SendStatus reports what the session loop should do after a write.
type SendStatus int

const (
	// SendOK: the frame went out, keep going.
	SendOK SendStatus = iota
	// SendShutdown: a close frame went out; no further frame may follow it.
	SendShutdown
)

func opcodeFor(kind api.FrameKind) (byte, error) {
	switch kind {
	case api.FrameText:
		return OpcodeText, nil
	case api.FrameBinary:
		return OpcodeBinary, nil
	case api.FramePing:
		return OpcodePing, nil
	case api.FramePong:
		return OpcodePong, nil
	case api.FrameClose:
		return OpcodeClose, nil
	default:
		return 0, fmt.Errorf("websock: unknown frame kind %v", kind)
	}
}

// closePayload builds the close frame body: status:16 followed by reason.
func closePayload(f api.Frame) []byte {
	if !f.HasStatus {
		return nil
	}
	body := make([]byte, 2+len(f.Payload))
	binary.BigEndian.PutUint16(body, f.Status)
	copy(body[2:], f.Payload)
	return body
}

// AppendFrame appends the wire encoding of f to dst and returns the
// extended slice. Server frames are never masked. Control frames with a
// payload above 125 bytes are rejected before any byte is produced.
func AppendFrame(dst []byte, f api.Frame) ([]byte, error) {
	opcode, err := opcodeFor(f.Kind)
	if err != nil {
		return dst, err
	}

	payload := f.Payload
	if f.Kind == api.FrameClose {
		payload = closePayload(f)
	}
	if IsControl(opcode) && len(payload) > MaxControlPayload {
		return dst, ErrControlTooLarge
	}

	dst = append(dst, finBit|opcode)

	n := len(payload)
	switch {
	case n <= 125:
		dst = append(dst, byte(n))
	case n <= 0xFFFF:
		dst = append(dst, 126)
		dst = binary.BigEndian.AppendUint16(dst, uint16(n))
	default:
		dst = append(dst, 127)
		dst = binary.BigEndian.AppendUint64(dst, uint64(n))
	}

	return append(dst, payload...), nil
}

// EncodeFrame serializes f into a fresh buffer.
func EncodeFrame(f api.Frame) ([]byte, error) {
	return AppendFrame(nil, f)
}

// WriteFrame encodes f and sends it on t. A close frame reports
// SendShutdown after the write so the loop terminates without emitting
// anything further.
func WriteFrame(t api.Transport, f api.Frame) (SendStatus, error) {
	data, err := EncodeFrame(f)
	if err != nil {
		return SendOK, err
	}
	if err := t.Send(data); err != nil {
		return SendOK, err
	}
	if f.IsClose() {
		return SendShutdown, nil
	}
	return SendOK, nil
}

// WriteFrames sends frames in order, short-circuiting on the first
// non-OK result; frames after a close are dropped.
func WriteFrames(t api.Transport, frames []api.Frame) (SendStatus, error) {
	for _, f := range frames {
		status, err := WriteFrame(t, f)
		if err != nil || status == SendShutdown {
			return status, err
		}
	}
	return SendOK, nil
}
