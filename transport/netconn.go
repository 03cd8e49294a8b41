// File: transport/netconn.go
// Package transport adapts byte channels to the api.Transport contract.
// License: Apache-2.0
//
// Conn wraps any net.Conn (TCP, TLS, net.Pipe) behind a single pump
// goroutine. The pump only reads while armed: every SetReadReadyOnce
// permits exactly one read, whose outcome is delivered as one tagged event.

package transport

import (
	"errors"
	"io"
	"net"
	"sync"

	"github.com/corewire/websock/api"
	"github.com/corewire/websock/pool"
)

// Conn is a pool-backed api.Transport over a net.Conn.
type Conn struct {
	nc   net.Conn
	pool *pool.BytePool

	events chan api.Event
	arm    chan struct{}
	done   chan struct{}

	closeOnce sync.Once
}

// NewConn wraps nc. A nil pool gets a private default-sized one.
func NewConn(nc net.Conn, bp *pool.BytePool) *Conn {
	if bp == nil {
		bp = pool.NewBytePool(pool.DefaultChunkSize)
	}
	c := &Conn{
		nc:     nc,
		pool:   bp,
		events: make(chan api.Event, 4),
		arm:    make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go c.pump()
	return c
}

// Name identifies the transport flavor.
func (c *Conn) Name() string {
	return "tcp"
}

// Send writes the whole buffer to the peer.
func (c *Conn) Send(p []byte) error {
	if _, err := c.nc.Write(p); err != nil {
		return err
	}
	return nil
}

// SetReadReadyOnce arms the pump for one read. Arming an already armed
// transport is a no-op.
func (c *Conn) SetReadReadyOnce() error {
	select {
	case <-c.done:
		return api.ErrTransportClosed
	default:
	}
	select {
	case c.arm <- struct{}{}:
	default:
	}
	return nil
}

// Events delivers the tagged read outcomes.
func (c *Conn) Events() <-chan api.Event {
	return c.events
}

// Close tears down the connection and stops the pump. A final EventClosed
// is left in the buffer so a session waiting on Events always wakes up.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.nc.Close()
		select {
		case c.events <- api.Event{Kind: api.EventClosed}:
		default:
		}
	})
	return err
}

// pump performs one read per arm token and exits on the first terminal
// condition, emitting EventClosed for EOF or an already closed connection
// and EventError for anything else.
func (c *Conn) pump() {
	for {
		select {
		case <-c.done:
			return
		case <-c.arm:
		}

		buf := c.pool.Get()
		n, err := c.nc.Read(buf)
		if n > 0 {
			select {
			case c.events <- api.Event{Kind: api.EventData, Data: buf[:n]}:
			case <-c.done:
				c.pool.Put(buf)
				return
			}
		} else {
			c.pool.Put(buf)
		}
		if err != nil {
			c.deliverTerminal(err)
			return
		}
	}
}

func (c *Conn) deliverTerminal(err error) {
	ev := api.Event{Kind: api.EventError, Err: err}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		ev = api.Event{Kind: api.EventClosed}
	}
	// Prefer delivery over exiting: the session may be blocked waiting for
	// exactly this event while another goroutine closes the transport.
	select {
	case c.events <- ev:
		return
	default:
	}
	select {
	case c.events <- ev:
	case <-c.done:
	}
}
