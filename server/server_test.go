// File: server/server_test.go
// License: Apache-2.0

package server_test

import (
	"bufio"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corewire/websock/api"
	"github.com/corewire/websock/protocol"
	"github.com/corewire/websock/server"
)

// echoHandler echoes data messages and shuts down on a broadcast
// "shutdown" info message.
type echoHandler struct{}

func (echoHandler) Init(name string, req *http.Request, opts map[string]any) api.InitResult {
	return api.Accept(nil)
}

func (echoHandler) OnMessage(msg api.Message, req *http.Request, state any) api.Result {
	switch msg.Kind {
	case api.MessageText:
		return api.Reply(state, api.Text(string(msg.Payload)))
	case api.MessageBinary:
		return api.Reply(state, api.Binary(msg.Payload))
	default:
		return api.Continue(state)
	}
}

func (echoHandler) OnInfo(info any, req *http.Request, state any) api.Result {
	if info == "shutdown" {
		return api.Shutdown(state)
	}
	return api.Continue(state)
}

func (echoHandler) OnTerminate(reason api.TerminateReason, req *http.Request, state any) {}

func startServer(t *testing.T) *server.Server {
	t.Helper()
	srv, err := server.New(&server.Config{Addr: "127.0.0.1:0", Handler: echoHandler{}})
	require.NoError(t, err)
	go func() { _ = srv.Serve() }()
	t.Cleanup(func() { _ = srv.Close() })

	require.Eventually(t, func() bool { return srv.Addr() != nil }, 2*time.Second, 5*time.Millisecond)
	return srv
}

// dialAndUpgrade performs the client half of the opening handshake and
// returns the connection plus a reader positioned after the 101 response.
func dialAndUpgrade(t *testing.T, srv *server.Server) (net.Conn, *bufio.Reader) {
	t.Helper()
	nc, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = nc.Close() })
	_ = nc.SetDeadline(time.Now().Add(5 * time.Second))

	req := "GET /echo HTTP/1.1\r\n" +
		"Host: example.com\r\n" +
		"Connection: Upgrade\r\n" +
		"Upgrade: websocket\r\n" +
		"Sec-WebSocket-Version: 13\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n\r\n"
	_, err = nc.Write([]byte(req))
	require.NoError(t, err)

	br := bufio.NewReader(nc)
	status, err := br.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "HTTP/1.1 101 Switching Protocols\r\n", status)

	sawAccept := false
	for {
		line, err := br.ReadString('\n')
		require.NoError(t, err)
		if line == "\r\n" {
			break
		}
		if strings.HasPrefix(line, "Sec-WebSocket-Accept: ") {
			require.Equal(t, "Sec-WebSocket-Accept: s3pPLMBiTxaQ9kYGzzhZRbK+xOo=\r\n", line)
			sawAccept = true
		}
	}
	require.True(t, sawAccept, "101 response lacked the accept token")
	return nc, br
}

// maskedText builds a masked client text frame.
func maskedText(payload string) []byte {
	key := [4]byte{0x37, 0xfa, 0x21, 0x3d}
	raw := []byte{0x81, 0x80 | byte(len(payload))}
	raw = append(raw, key[:]...)
	body := []byte(payload)
	protocol.Unmask(body, key)
	return append(raw, body...)
}

func TestServerEchoEndToEnd(t *testing.T) {
	srv := startServer(t)
	nc, br := dialAndUpgrade(t, srv)

	_, err := nc.Write(maskedText("Hello"))
	require.NoError(t, err)

	echo := make([]byte, 7)
	_, err = io.ReadFull(br, echo)
	require.NoError(t, err)
	require.Equal(t, []byte{0x81, 0x05, 'H', 'e', 'l', 'l', 'o'}, echo)
}

func TestServerRefusesBadHandshake(t *testing.T) {
	srv := startServer(t)

	nc, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer nc.Close()
	_ = nc.SetDeadline(time.Now().Add(5 * time.Second))

	req := "GET / HTTP/1.1\r\nHost: example.com\r\nConnection: keep-alive\r\n\r\n"
	_, err = nc.Write([]byte(req))
	require.NoError(t, err)

	status, err := bufio.NewReader(nc).ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "HTTP/1.1 400 Bad Request\r\n", status)
}

func TestServerBroadcastShutdown(t *testing.T) {
	srv := startServer(t)
	nc, br := dialAndUpgrade(t, srv)

	// Prove the session is live before asking it to go away.
	_, err := nc.Write(maskedText("ping me"))
	require.NoError(t, err)
	echo := make([]byte, 2+len("ping me"))
	_, err = io.ReadFull(br, echo)
	require.NoError(t, err)

	srv.Broadcast("shutdown")

	frame := make([]byte, 2)
	_, err = io.ReadFull(br, frame)
	require.NoError(t, err)
	require.Equal(t, []byte{0x88, 0x00}, frame)

	// After the close frame the server tears the connection down.
	_, err = br.ReadByte()
	require.Error(t, err)
}

func TestServerPipelinedHandshakeBytes(t *testing.T) {
	srv := startServer(t)

	nc, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer nc.Close()
	_ = nc.SetDeadline(time.Now().Add(5 * time.Second))

	// Handshake and first frame in a single write: the frame bytes land
	// in the server's handshake reader and must not be lost.
	req := "GET /echo HTTP/1.1\r\n" +
		"Host: example.com\r\n" +
		"Connection: Upgrade\r\n" +
		"Upgrade: websocket\r\n" +
		"Sec-WebSocket-Version: 13\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n\r\n"
	payload := append([]byte(req), maskedText("queued")...)
	_, err = nc.Write(payload)
	require.NoError(t, err)

	br := bufio.NewReader(nc)
	for {
		line, err := br.ReadString('\n')
		require.NoError(t, err)
		if line == "\r\n" {
			break
		}
	}

	echo := make([]byte, 2+len("queued"))
	_, err = io.ReadFull(br, echo)
	require.NoError(t, err)
	require.Equal(t, byte(0x81), echo[0])
	require.Equal(t, "queued", string(echo[2:]))
}
