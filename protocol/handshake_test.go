// File: protocol/handshake_test.go
// License: Apache-2.0

package protocol

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func upgradeRequest(mutate func(h http.Header)) *http.Request {
	h := http.Header{}
	h.Set("Connection", "Upgrade")
	h.Set("Upgrade", "websocket")
	h.Set("Sec-WebSocket-Version", "13")
	h.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")
	if mutate != nil {
		mutate(h)
	}
	return &http.Request{Method: http.MethodGet, Header: h, RequestURI: "/"}
}

// The worked example from RFC 6455 section 1.3.
func TestAcceptToken(t *testing.T) {
	require.Equal(t, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=",
		AcceptToken("dGhlIHNhbXBsZSBub25jZQ=="))
}

func TestValidateUpgradeOK(t *testing.T) {
	key, err := ValidateUpgrade(upgradeRequest(nil))
	require.NoError(t, err)
	require.Equal(t, "dGhlIHNhbXBsZSBub25jZQ==", key)
}

func TestValidateUpgradeVersions(t *testing.T) {
	for _, v := range []string{"7", "8", "13"} {
		req := upgradeRequest(func(h http.Header) { h.Set("Sec-WebSocket-Version", v) })
		_, err := ValidateUpgrade(req)
		require.NoError(t, err, "version %s", v)
	}
	for _, v := range []string{"6", "12", "14", "0", "", "thirteen"} {
		req := upgradeRequest(func(h http.Header) { h.Set("Sec-WebSocket-Version", v) })
		_, err := ValidateUpgrade(req)
		require.ErrorIs(t, err, ErrBadVersion, "version %q", v)
	}
}

func TestValidateUpgradeFailures(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(h http.Header)
		want   error
	}{
		{
			name:   "connection without upgrade token",
			mutate: func(h http.Header) { h.Set("Connection", "keep-alive") },
			want:   ErrNotUpgrade,
		},
		{
			name:   "connection header missing",
			mutate: func(h http.Header) { h.Del("Connection") },
			want:   ErrNotUpgrade,
		},
		{
			name:   "upgrade header wrong protocol",
			mutate: func(h http.Header) { h.Set("Upgrade", "h2c") },
			want:   ErrNotWebSocket,
		},
		{
			name:   "key missing",
			mutate: func(h http.Header) { h.Del("Sec-WebSocket-Key") },
			want:   ErrMissingKey,
		},
		{
			name:   "key empty",
			mutate: func(h http.Header) { h.Set("Sec-WebSocket-Key", "") },
			want:   ErrMissingKey,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ValidateUpgrade(upgradeRequest(tc.mutate))
			require.ErrorIs(t, err, tc.want)
		})
	}
}

// Token matching is case-insensitive and tolerates value lists.
func TestValidateUpgradeTokenLists(t *testing.T) {
	req := upgradeRequest(func(h http.Header) {
		h.Set("Connection", "keep-alive, Upgrade")
		h.Set("Upgrade", "WebSocket")
	})
	_, err := ValidateUpgrade(req)
	require.NoError(t, err)
}

func TestSwitchingProtocolsResponse(t *testing.T) {
	resp := string(SwitchingProtocolsResponse("dGhlIHNhbXBsZSBub25jZQ=="))

	require.True(t, strings.HasPrefix(resp, "HTTP/1.1 101 Switching Protocols\r\n"))
	require.Contains(t, resp, "Upgrade: websocket\r\n")
	require.Contains(t, resp, "Connection: Upgrade\r\n")
	require.Contains(t, resp, "Sec-WebSocket-Accept: s3pPLMBiTxaQ9kYGzzhZRbK+xOo=\r\n")
	require.True(t, strings.HasSuffix(resp, "\r\n\r\n"))
}

func TestBadRequestResponse(t *testing.T) {
	resp := string(BadRequestResponse())
	require.True(t, strings.HasPrefix(resp, "HTTP/1.1 400 Bad Request\r\n"))
	require.True(t, strings.HasSuffix(resp, "\r\n\r\n"))
}
