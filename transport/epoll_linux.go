//go:build linux

// File: transport/epoll_linux.go
// Package transport Linux epoll(7) one-shot readiness backend.
// License: Apache-2.0
//
// Poller multiplexes many connections over a single epoll instance.
// Registration uses EPOLLONESHOT, so a connection stays silent after each
// readiness event until its session rearms it — the kernel-level analogue
// of the pump in netconn.go.

package transport

import (
	"fmt"
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/corewire/websock/api"
	"github.com/corewire/websock/pool"
)

// Poller owns one epoll instance and the connections adopted into it.
type Poller struct {
	epfd int
	pool *pool.BytePool

	mu    sync.Mutex
	conns map[int32]*epollConn

	done      chan struct{}
	closeOnce sync.Once
}

// NewPoller creates the epoll instance and starts its wait loop.
func NewPoller(bp *pool.BytePool) (*Poller, error) {
	if bp == nil {
		bp = pool.NewBytePool(pool.DefaultChunkSize)
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	p := &Poller{
		epfd:  epfd,
		pool:  bp,
		conns: make(map[int32]*epollConn),
		done:  make(chan struct{}),
	}
	go p.run()
	return p, nil
}

// Adopt registers nc with the poller and returns its transport. The
// connection arrives disarmed; nothing is read until SetReadReadyOnce.
func (p *Poller) Adopt(nc net.Conn) (api.Transport, error) {
	fd, err := rawFD(nc)
	if err != nil {
		return nil, err
	}

	ec := &epollConn{
		poller: p,
		nc:     nc,
		fd:     fd,
		events: make(chan api.Event, 4),
		done:   make(chan struct{}),
	}

	// Registered with ONESHOT and no interest set: silent until armed.
	ev := unix.EpollEvent{Events: unix.EPOLLONESHOT, Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return nil, fmt.Errorf("epoll ctl add: %w", err)
	}

	p.mu.Lock()
	p.conns[int32(fd)] = ec
	p.mu.Unlock()
	return ec, nil
}

// Close shuts down the wait loop and every adopted connection.
func (p *Poller) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
		p.mu.Lock()
		conns := make([]*epollConn, 0, len(p.conns))
		for _, ec := range p.conns {
			conns = append(conns, ec)
		}
		p.mu.Unlock()
		for _, ec := range conns {
			_ = ec.Close()
		}
		_ = unix.Close(p.epfd)
	})
	return nil
}

// run is the epoll wait loop: translate readiness into per-connection
// reads and deliver tagged events.
func (p *Poller) run() {
	events := make([]unix.EpollEvent, 128)
	for {
		n, err := unix.EpollWait(p.epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}
		select {
		case <-p.done:
			return
		default:
		}
		for i := 0; i < n; i++ {
			p.mu.Lock()
			ec := p.conns[events[i].Fd]
			p.mu.Unlock()
			if ec == nil {
				continue
			}
			ec.onReady(events[i].Events)
		}
	}
}

func (p *Poller) forget(fd int) {
	p.mu.Lock()
	delete(p.conns, int32(fd))
	p.mu.Unlock()
	_ = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// epollConn is one adopted connection. Reads happen on the poller
// goroutine; writes go through the runtime's net poller via nc.
type epollConn struct {
	poller *Poller
	nc     net.Conn
	fd     int

	events chan api.Event
	done   chan struct{}

	closeOnce sync.Once
}

func (c *epollConn) Name() string {
	return "epoll"
}

func (c *epollConn) Send(p []byte) error {
	if _, err := c.nc.Write(p); err != nil {
		return err
	}
	return nil
}

// SetReadReadyOnce rearms EPOLLIN for exactly one readiness event.
func (c *epollConn) SetReadReadyOnce() error {
	select {
	case <-c.done:
		return api.ErrTransportClosed
	default:
	}
	ev := unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLRDHUP | unix.EPOLLONESHOT,
		Fd:     int32(c.fd),
	}
	if err := unix.EpollCtl(c.poller.epfd, unix.EPOLL_CTL_MOD, c.fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl mod: %w", err)
	}
	return nil
}

func (c *epollConn) Events() <-chan api.Event {
	return c.events
}

// Close removes the fd from the poller and closes the socket. A final
// EventClosed is left in the buffer so a waiting session always wakes up.
func (c *epollConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.poller.forget(c.fd)
		err = c.nc.Close()
		select {
		case c.events <- api.Event{Kind: api.EventClosed}:
		default:
		}
	})
	return err
}

// onReady services one EPOLLONESHOT firing.
func (c *epollConn) onReady(mask uint32) {
	if mask&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		c.deliver(api.Event{Kind: api.EventError, Err: api.ErrTransportClosed})
		return
	}

	buf := c.poller.pool.Get()
	n, err := unix.Read(c.fd, buf)
	switch {
	case n > 0:
		c.deliver(api.Event{Kind: api.EventData, Data: buf[:n]})
	case n == 0 && err == nil:
		// Orderly shutdown from the peer.
		c.poller.pool.Put(buf)
		c.deliver(api.Event{Kind: api.EventClosed})
	case err == unix.EAGAIN:
		// Spurious wakeup: rearm and wait again.
		c.poller.pool.Put(buf)
		_ = c.SetReadReadyOnce()
	default:
		c.poller.pool.Put(buf)
		c.deliver(api.Event{Kind: api.EventError, Err: err})
	}
}

func (c *epollConn) deliver(ev api.Event) {
	// Prefer delivery over exiting; see Conn.deliverTerminal.
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

// rawFD extracts the OS file descriptor backing nc.
func rawFD(nc net.Conn) (int, error) {
	sc, ok := nc.(syscall.Conn)
	if !ok {
		return 0, api.ErrNotSupported
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return 0, err
	}
	var fd int
	if err := rc.Control(func(f uintptr) { fd = int(f) }); err != nil {
		return 0, err
	}
	return fd, nil
}
