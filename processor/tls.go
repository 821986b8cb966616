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

package processor

import (
	"crypto/tls"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/govoltron/reactor/codec"
	"github.com/govoltron/reactor/future"
	"github.com/govoltron/reactor/internal/selector"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// closeNotifyTimeout bounds how long a graceful Close waits for the
// peer's close-notify alert before releasing the socket anyway.
const closeNotifyTimeout = 3 * time.Second

// TLSProcessor shuttles raw ciphertext between a non-blocking TCP socket
// and a *tls.Conn layered over TLSBridge, the same way TCPProcessor
// shuttles plaintext between a socket and the codec. Control flow for
// socket readiness stays on the event-loop thread: OnReadable/OnWritable
// move bytes between the fd and the bridge exactly like TCPProcessor's
// readSocket/flushOut. crypto/tls has no non-blocking wrap/unwrap engine,
// so the handshake and each Read/Write's record framing run on a pair of
// per-channel goroutines instead — the delegated-task workers the
// Selector Pool's design already calls for, narrowed here to just the
// step crypto/tls cannot do without blocking: never ordinary socket I/O.
type TLSProcessor struct {
	fd   int
	conn *tls.Conn
	br   *TLSBridge
	cfg  Config
	ep   Endpoints

	key  *selector.Key
	loop *selector.EventLoop

	readChunk []byte
	outBuf    *codec.WireBuffer

	readerDone chan struct{}

	closeOnce sync.Once
	closeFut  *future.Future
}

var _ Processor = (*TLSProcessor)(nil)

// NewTLSProcessor wraps an already-connected, non-blocking socket fd.
// conn must be a *tls.Conn constructed over br (tls.Client(br, cfg) or
// tls.Server(br, cfg)); the caller registers the returned processor with
// a selector.Pool (via Bind) before any readiness can be dispatched.
func NewTLSProcessor(fd int, conn *tls.Conn, br *TLSBridge, ep Endpoints, cfg Config) *TLSProcessor {
	cfg = cfg.withDefaults()
	p := &TLSProcessor{
		fd:         fd,
		conn:       conn,
		br:         br,
		cfg:        cfg,
		ep:         ep,
		readChunk:  make([]byte, cfg.ReadBuffer),
		outBuf:     codec.NewWireBuffer(cfg.ReadBuffer),
		readerDone: make(chan struct{}),
		closeFut:   future.New(),
	}
	br.AttachWriteWakeup(p.onBridgeWrite)
	return p
}

// Bind attaches p to key/loop once the selector has registered it. Must
// be called before readiness events can be dispatched.
func (p *TLSProcessor) Bind(key *selector.Key, loop *selector.EventLoop) {
	p.key = key
	p.loop = loop
}

func (p *TLSProcessor) CloseFuture() *future.Future { return p.closeFut }

func (p *TLSProcessor) OnAcceptable()  {}
func (p *TLSProcessor) OnConnectable() {}

// OnReadable moves ciphertext from the socket into the bridge; it never
// touches the codec or the TLS engine, both of which live on the record
// reader goroutine once Handshake has run.
func (p *TLSProcessor) OnReadable() {
	for {
		n, err := unix.Read(p.fd, p.readChunk)
		if n > 0 {
			p.br.PushIn(p.readChunk[:n])
		}
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			p.disableRead()
			p.br.shutdown(wrapIOErr("read", err))
			return
		}
		if n == 0 {
			// Peer's TCP FIN; tlsConn.Read surfaces this as io.EOF, which
			// the record reader treats as the (unclean) end of the stream.
			p.disableRead()
			p.br.shutdown(nil)
			return
		}
		if n < len(p.readChunk) {
			return
		}
	}
}

// OnWritable drains ciphertext the TLS engine has queued (handshake
// flights or encrypted application data) and writes it to the socket.
func (p *TLSProcessor) OnWritable() {
	for {
		if p.outBuf.Len() == 0 {
			chunk, ok := p.br.PullOut()
			if !ok {
				p.disableWrite()
				return
			}
			p.outBuf.Write(chunk)
		}
		drained, err := p.flushOut()
		if err != nil {
			p.disableWrite()
			p.br.shutdown(wrapIOErr("write", err))
			return
		}
		if !drained {
			return
		}
	}
}

func (p *TLSProcessor) flushOut() (drained bool, err error) {
	for p.outBuf.Len() > 0 {
		b := p.outBuf.Bytes()
		n, e := unix.Write(p.fd, b)
		if n > 0 {
			p.outBuf.Advance(n)
		}
		if e != nil {
			if e == unix.EAGAIN || e == unix.EWOULDBLOCK {
				return false, nil
			}
			return false, e
		}
		if n < len(b) {
			return false, nil
		}
	}
	p.outBuf.Compact()
	return true, nil
}

func (p *TLSProcessor) disableRead()  { p.setInterest(p.key.Interest() &^ selector.Readable) }
func (p *TLSProcessor) disableWrite() { p.setInterest(p.key.Interest() &^ selector.Writable) }

func (p *TLSProcessor) setInterest(i selector.Interest) {
	if p.loop != nil && p.key != nil {
		_ = p.loop.SetInterest(p.key, i)
	}
}

// onBridgeWrite re-arms write interest once the TLS engine has queued
// ciphertext for the socket. Runs on whatever goroutine called
// tlsConn.Write (handshake or record writer), so it must hop to the loop.
func (p *TLSProcessor) onBridgeWrite() {
	if p.loop == nil {
		return
	}
	p.loop.Submit(func() {
		p.setInterest(p.key.Interest() | selector.Writable)
	})
}

// Start performs the handshake and, on success, launches the record
// reader and writer. Safe to call once, after Bind.
func (p *TLSProcessor) Start() {
	go p.handshakeAndRun()
}

func (p *TLSProcessor) handshakeAndRun() {
	if err := p.conn.Handshake(); err != nil {
		close(p.readerDone)
		p.Close(wrapTLSErr("handshake", err))
		return
	}
	var rw sync.WaitGroup
	rw.Add(2)
	go func() { defer rw.Done(); p.recordReader() }()
	go func() { defer rw.Done(); p.recordWriter() }()
	rw.Wait()
}

// recordReader decrypts application data one TLS record at a time and
// enqueues each decoded frame. Its exit — whether clean EOF, an engine
// error, or the peer's close-notify — is exactly the event Close's
// graceful path waits on before releasing the socket.
func (p *TLSProcessor) recordReader() {
	acc := codec.NewWireBuffer(p.cfg.ReadBuffer)
	chunk := make([]byte, p.cfg.ReadBuffer)
	for {
		n, err := p.conn.Read(chunk)
		if n > 0 {
			acc.Write(chunk[:n])
			for {
				has, herr := p.cfg.Codec.HasNext(acc)
				if herr != nil {
					close(p.readerDone)
					p.Close(herr)
					return
				}
				if !has {
					break
				}
				slot, claimed := p.ep.In.Next()
				if !claimed {
					close(p.readerDone)
					p.Close(nil)
					return
				}
				msg, gerr := p.cfg.Codec.Get(acc)
				if gerr != nil {
					p.ep.In.Publish(slot)
					close(p.readerDone)
					p.Close(gerr)
					return
				}
				slot.N = copy(slot.Data, msg)
				p.ep.In.Publish(slot)
			}
			acc.Compact()
		}
		if err != nil {
			close(p.readerDone)
			if err == io.EOF {
				p.Close(nil)
			} else {
				p.Close(wrapTLSErr("read", err))
			}
			return
		}
	}
}

func (p *TLSProcessor) recordWriter() {
	out := codec.NewWireBuffer(p.cfg.ReadBuffer)
	for {
		slot, ok := p.ep.Out.Next()
		if !ok {
			return
		}
		msg := slot.Bytes()
		n := p.cfg.Codec.EncodedLength(msg)
		for {
			granted, wait := p.cfg.Limiter.Acquire(n)
			if granted {
				break
			}
			time.Sleep(wait)
		}
		out.Reset()
		if err := p.cfg.Codec.Put(msg, out); err != nil {
			p.ep.Out.Release(slot)
			p.Close(err)
			return
		}
		p.ep.Out.Release(slot)
		if _, err := p.conn.Write(out.Bytes()); err != nil {
			p.Close(wrapTLSErr("write", err))
			return
		}
	}
}

// Close tears the channel down exactly once. A clean, app-initiated close
// (cause == nil) first sends our close-notify via CloseWrite and gives
// the peer up to closeNotifyTimeout to send theirs — observed by
// recordReader's tlsConn.Read returning — before the socket is released;
// an abnormal close (cause != nil) skips straight to teardown.
func (p *TLSProcessor) Close(cause error) {
	p.closeOnce.Do(func() {
		if cause == nil {
			_ = p.conn.CloseWrite()
			select {
			case <-p.readerDone:
			case <-time.After(closeNotifyTimeout):
				p.cfg.Log.Warn("tls: timed out waiting for the peer's close-notify")
			}
		}
		p.br.shutdown(cause)
		teardown := func() {
			// Flush synchronously rather than waiting for a dispatched
			// OnWritable: our own close-notify (queued by CloseWrite above)
			// must reach the wire before the fd goes away.
			if chunk, ok := p.br.PullOut(); ok {
				p.outBuf.Write(chunk)
			}
			_, _ = p.flushOut()
			if p.key != nil && p.loop != nil {
				_ = p.loop.Cancel(p.key)
			}
			_ = unix.Close(p.fd)
		}
		if p.loop != nil {
			p.loop.Submit(teardown)
		} else {
			teardown()
		}
		p.ep.In.Close()
		p.ep.Out.Close()
		if cause != nil {
			p.cfg.Log.Warn("tls: channel closed", zap.Error(cause))
			p.closeFut.Failure(cause)
		} else {
			p.closeFut.Success()
		}
	})
}

func wrapTLSErr(op string, err error) error {
	return fmt.Errorf("processor: tls %s: %w: %v", op, ErrTLS, err)
}
