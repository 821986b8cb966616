// Copyright 2023 Kami
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package reactor

import (
	"crypto/tls"
	"fmt"
	"net"
	"sync"

	"github.com/govoltron/reactor/buffer"
	"github.com/govoltron/reactor/future"
	"github.com/govoltron/reactor/internal/selector"
	"github.com/govoltron/reactor/processor"
	"golang.org/x/sys/unix"
)

// Channel is one connected, bound, or accepted endpoint: a processor
// moving bytes between a socket (or TLS session) and a pair of
// application-facing message queues. Its lifecycle is created → opened →
// registered → (connected | bound) → active → shutting-down → closed.
// An accepted Channel is already active when Bind's AcceptListener
// receives it; Connect may return a Channel whose connect is still in
// progress, and ConnectFuture completes once that connect has finished.
type Channel struct {
	proc processor.Processor

	appIn  buffer.Consumer
	appOut buffer.Producer

	remote net.Addr
	local  net.Addr

	connectFut *future.Future

	mu      sync.Mutex
	onClose CloseListener
}

// GetInputBuffer returns the consumer half of the decoded-message queue:
// the application calls Next/TryNext on it to read inbound messages.
func (c *Channel) GetInputBuffer() buffer.Consumer { return c.appIn }

// GetOutputBuffer returns the producer half of the outbound-message
// queue: the application calls Next/TryNext, fills the slot, and
// Publishes to send a message.
func (c *Channel) GetOutputBuffer() buffer.Producer { return c.appOut }

// RemoteAddr returns the peer address, or nil for an unconnected UDP channel.
func (c *Channel) RemoteAddr() net.Addr { return c.remote }

// LocalAddr returns the local address.
func (c *Channel) LocalAddr() net.Addr { return c.local }

// ConnectFuture completes once an outbound Connect finishes (already
// complete for channels produced by Bind's acceptor).
func (c *Channel) ConnectFuture() *future.Future { return c.connectFut }

// CloseFuture completes once the channel has closed, successfully or
// with the cause that terminated it. Before the channel has finished
// connecting (a brief window for TLS and deferred-connect channels) it
// returns ConnectFuture's failure if connect itself failed, or blocks
// until the processor is attached.
func (c *Channel) CloseFuture() *future.Future {
	c.mu.Lock()
	proc := c.proc
	c.mu.Unlock()
	if proc == nil {
		<-c.connectFut.Done()
		c.mu.Lock()
		proc = c.proc
		c.mu.Unlock()
	}
	if proc == nil {
		f := future.New()
		f.Failure(c.connectFut.Err())
		return f
	}
	return proc.CloseFuture()
}

// OnClose registers l to run exactly once when the channel closes. Must
// be called before the channel can close to guarantee delivery.
func (c *Channel) OnClose(l CloseListener) {
	c.mu.Lock()
	c.onClose = l
	c.mu.Unlock()
	go func() {
		cause := c.CloseFuture().Err()
		c.mu.Lock()
		cb := c.onClose
		c.mu.Unlock()
		if cb != nil {
			cb(c, cause)
		}
	}()
}

// Close initiates shutdown; safe to call more than once or concurrently.
// A Channel still mid-connect is marked to close as soon as its
// processor attaches.
func (c *Channel) Close() {
	c.mu.Lock()
	proc := c.proc
	c.mu.Unlock()
	if proc != nil {
		proc.Close(nil)
		return
	}
	go func() {
		<-c.connectFut.Done()
		c.mu.Lock()
		proc := c.proc
		c.mu.Unlock()
		if proc != nil {
			proc.Close(nil)
		}
	}()
}

func newChannel(proc processor.Processor, inQ, outQ buffer.Queue, remote, local net.Addr) *Channel {
	return &Channel{
		proc:       proc,
		appIn:      inQ.Consumer(),
		appOut:     outQ.Producer(),
		remote:     remote,
		local:      local,
		connectFut: future.New(),
	}
}

func (c *Channel) setProc(p processor.Processor) {
	c.mu.Lock()
	c.proc = p
	c.mu.Unlock()
}

// Listener owns a bound, listening socket and hands each accepted
// connection to an AcceptListener as a fully active Channel.
type Listener struct {
	acc   *processor.Acceptor
	local net.Addr
}

// CloseFuture completes once the listener has stopped accepting.
func (l *Listener) CloseFuture() *future.Future { return l.acc.CloseFuture() }

// Close stops accepting new connections; already-accepted channels are unaffected.
func (l *Listener) Close() { l.acc.Close(nil) }

// Addr returns the bound local address.
func (l *Listener) Addr() net.Addr { return l.local }

// Connect dials address over network ("tcp", "tcp4", "tcp6", "udp",
// "udp4", "udp6") using b's queue/codec/rate-limit configuration. If b
// carries a TLS configuration and network is a stream network, the
// connection is promoted to TLS after the handshake completes.
func Connect(b *ChannelBuilder, network, address string) (*Channel, error) {
	switch network {
	case "tcp", "tcp4", "tcp6":
		return connectStream(b, network, address)
	case "udp", "udp4", "udp6":
		return connectDatagram(b, network, address)
	default:
		return nil, fmt.Errorf("reactor: unsupported network %q", network)
	}
}

// Bind listens on address over network ("tcp", "tcp4", "tcp6") and
// invokes onAccept once per accepted connection with a fully active
// Channel built from b's configuration.
func Bind(b *ChannelBuilder, network, address string, onAccept AcceptListener) (*Listener, error) {
	switch network {
	case "tcp", "tcp4", "tcp6":
		return bindStream(b, network, address, onAccept)
	default:
		return nil, fmt.Errorf("reactor: unsupported network %q", network)
	}
}

func connectStream(b *ChannelBuilder, network, address string) (*Channel, error) {
	addr, err := resolveTCPAddr(network, address)
	if err != nil {
		return nil, err
	}
	ip, port := addrPortOf(addr)
	sa, family, err := toSockaddr(ip, port)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	if err := setStreamSockBufs(fd, b.sendBufferSize, b.receiveBufferSize); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	inQ, outQ := b.newInputQueue(), b.newOutputQueue()
	ch := newChannel(nil, inQ, outQ, addr, nil)

	loop := b.pool.inner.Next()
	connErr := unix.Connect(fd, sa)
	if connErr != nil && connErr != unix.EINPROGRESS && connErr != unix.EAGAIN {
		_ = unix.Close(fd)
		return nil, connErr
	}

	finish := func() error {
		var activate func()
		if b.tlsConfig != nil {
			activate = func() { activateTLSClient(b, ch, fd, loop, inQ, outQ) }
		} else {
			activate = func() { activateTCP(b, ch, fd, loop, inQ, outQ) }
		}
		if connErr == nil {
			activate()
			return nil
		}
		w := &connectWatcher{fd: fd, onDone: func(cause error) {
			if cause != nil {
				_ = unix.Close(fd)
				ch.connectFut.Failure(cause)
				return
			}
			activate()
		}}
		key := &selector.Key{FD: fd, Handler: w}
		if err := loop.Register(key, selector.Connectable); err != nil {
			return err
		}
		w.key = key
		w.loop = loop
		return nil
	}
	done := make(chan error, 1)
	loop.Submit(func() { done <- finish() })
	if err := <-done; err != nil {
		return nil, err
	}
	return ch, nil
}

// connectWatcher is a transient selector.Handler used only to learn when
// a non-blocking connect() completes; once it fires, the real processor
// takes over the key.
type connectWatcher struct {
	fd       int
	key      *selector.Key
	loop     *selector.EventLoop
	onDone   func(cause error)
	fireOnce sync.Once
}

func (w *connectWatcher) OnReadable()   {}
func (w *connectWatcher) OnWritable()   {}
func (w *connectWatcher) OnAcceptable() {}

// Close satisfies selector.Handler so a panic elsewhere in dispatch (or a
// pool shutdown racing the connect) still resolves onDone exactly once.
func (w *connectWatcher) Close(cause error) {
	w.fireOnce.Do(func() { w.onDone(cause) })
}

func (w *connectWatcher) OnConnectable() {
	errno, err := unix.GetsockoptInt(w.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	_ = w.loop.Cancel(w.key)
	if err != nil {
		w.Close(err)
		return
	}
	if errno != 0 {
		w.Close(unix.Errno(errno))
		return
	}
	w.Close(nil)
}

func activateTCP(b *ChannelBuilder, ch *Channel, fd int, loop *selector.EventLoop, inQ, outQ buffer.Queue) {
	cfg := processor.Config{Codec: b.codecTemplate.Clone(), Limiter: b.limiter, Log: b.log, ReadBuffer: b.receiveBufferSize}
	ep := processor.Endpoints{Out: outQ.Consumer(), In: inQ.Producer()}
	proc := processor.NewTCPProcessor(fd, ep, cfg)
	key := &selector.Key{FD: fd, Handler: proc}
	if err := loop.Register(key, selector.Readable); err != nil {
		ch.connectFut.Failure(err)
		return
	}
	proc.Bind(key, loop)
	ch.setProc(proc)
	ch.connectFut.Success()
}

// activateTLSClient mirrors activateTCP: the fd is registered with the
// selector and driven by the event loop exactly like a plain TCP
// channel. The TLS engine sits behind a TLSBridge instead of the socket
// directly, so ordinary reads and writes never leave the loop thread —
// only the handshake and per-record encode/decode run off it.
func activateTLSClient(b *ChannelBuilder, ch *Channel, fd int, loop *selector.EventLoop, inQ, outQ buffer.Queue) {
	br := processor.NewTLSBridge()
	tlsConn := tls.Client(br, b.tlsConfig)
	cfg := processor.Config{Codec: b.codecTemplate.Clone(), Limiter: b.limiter, Log: b.log, ReadBuffer: b.receiveBufferSize}
	ep := processor.Endpoints{Out: outQ.Consumer(), In: inQ.Producer()}
	proc := processor.NewTLSProcessor(fd, tlsConn, br, ep, cfg)
	key := &selector.Key{FD: fd, Handler: proc}
	if err := loop.Register(key, selector.Readable); err != nil {
		ch.connectFut.Failure(err)
		return
	}
	proc.Bind(key, loop)
	ch.setProc(proc)
	proc.Start()
	ch.connectFut.Success()
}

func connectDatagram(b *ChannelBuilder, network, address string) (*Channel, error) {
	addr, err := resolveUDPAddr(network, address)
	if err != nil {
		return nil, err
	}
	ip := addr.IP
	if ip == nil {
		ip = net.IPv4zero
	}
	sa, family, err := toSockaddr(ip, addr.Port)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Socket(family, unix.SOCK_DGRAM, 0)
	if err != nil {
		return nil, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	if err := unix.Connect(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	inQ, outQ := b.newInputQueue(), b.newOutputQueue()
	ch := newChannel(nil, inQ, outQ, addr, nil)

	loop := b.pool.inner.Next()
	cfg := processor.Config{Codec: b.codecTemplate.Clone(), Limiter: b.limiter, Log: b.log}
	ep := processor.Endpoints{Out: outQ.Consumer(), In: inQ.Producer()}
	proc := processor.NewUDPProcessor(fd, ep, cfg)

	done := make(chan error, 1)
	loop.Submit(func() {
		key := &selector.Key{FD: fd, Handler: proc}
		err := loop.Register(key, selector.Readable)
		proc.Bind(key, loop)
		done <- err
	})
	if err := <-done; err != nil {
		return nil, err
	}
	ch.setProc(proc)
	ch.connectFut.Success()
	return ch, nil
}

func bindStream(b *ChannelBuilder, network, address string, onAccept AcceptListener) (*Listener, error) {
	addr, err := resolveTCPAddr(network, address)
	if err != nil {
		return nil, err
	}
	ip, port := addrPortOf(addr)
	sa, family, err := toSockaddr(ip, port)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	// Linux (and most BSDs) have accept() inherit SO_SNDBUF/SO_RCVBUF from
	// the listening socket; set them here too, not just per accepted fd.
	if err := setStreamSockBufs(fd, b.sendBufferSize, b.receiveBufferSize); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	if err := unix.Listen(fd, 1024); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	loop := b.pool.inner.Next()
	acc := processor.NewAcceptor(fd, b.log, func(connFD int, remoteSA unix.Sockaddr) {
		onAcceptedConn(b, loop, connFD, sockaddrToAddr(network, remoteSA), onAccept)
	})
	done := make(chan error, 1)
	loop.Submit(func() {
		key := &selector.Key{FD: fd, Handler: acc}
		err := loop.Register(key, selector.Acceptable)
		acc.Bind(key, loop)
		done <- err
	})
	if err := <-done; err != nil {
		return nil, err
	}
	return &Listener{acc: acc, local: addr}, nil
}

func onAcceptedConn(b *ChannelBuilder, loop *selector.EventLoop, connFD int, remote net.Addr, onAccept AcceptListener) {
	if err := setStreamSockBufs(connFD, b.sendBufferSize, b.receiveBufferSize); err != nil {
		_ = unix.Close(connFD)
		return
	}
	inQ, outQ := b.newInputQueue(), b.newOutputQueue()
	ch := newChannel(nil, inQ, outQ, remote, nil)
	ch.connectFut.Success()

	if b.tlsConfig != nil {
		br := processor.NewTLSBridge()
		tlsConn := tls.Server(br, b.tlsConfig)
		cfg := processor.Config{Codec: b.codecTemplate.Clone(), Limiter: b.limiter, Log: b.log, ReadBuffer: b.receiveBufferSize}
		ep := processor.Endpoints{Out: outQ.Consumer(), In: inQ.Producer()}
		proc := processor.NewTLSProcessor(connFD, tlsConn, br, ep, cfg)
		key := &selector.Key{FD: connFD, Handler: proc}
		if err := loop.Register(key, selector.Readable); err != nil {
			_ = unix.Close(connFD)
			return
		}
		proc.Bind(key, loop)
		ch.setProc(proc)
		proc.Start()
		if onAccept != nil {
			onAccept(remote, ch)
		}
		return
	}

	cfg := processor.Config{Codec: b.codecTemplate.Clone(), Limiter: b.limiter, Log: b.log, ReadBuffer: b.receiveBufferSize}
	ep := processor.Endpoints{Out: outQ.Consumer(), In: inQ.Producer()}
	proc := processor.NewTCPProcessor(connFD, ep, cfg)
	key := &selector.Key{FD: connFD, Handler: proc}
	if err := loop.Register(key, selector.Readable); err != nil {
		_ = unix.Close(connFD)
		return
	}
	proc.Bind(key, loop)
	ch.setProc(proc)
	if onAccept != nil {
		onAccept(remote, ch)
	}
}
