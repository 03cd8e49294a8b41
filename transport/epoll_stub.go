//go:build !linux

// File: transport/epoll_stub.go
// Package transport stub poller for platforms without epoll.
// License: Apache-2.0

package transport

import (
	"net"

	"github.com/corewire/websock/api"
	"github.com/corewire/websock/pool"
)

// Poller is unavailable off Linux; use Conn instead.
type Poller struct{}

// NewPoller reports the backend as unsupported on this platform.
func NewPoller(bp *pool.BytePool) (*Poller, error) {
	_ = bp
	return nil, api.ErrNotSupported
}

// Adopt always fails on this platform.
func (p *Poller) Adopt(nc net.Conn) (api.Transport, error) {
	_ = nc
	return nil, api.ErrNotSupported
}

// Close is a no-op.
func (p *Poller) Close() error {
	return nil
}
