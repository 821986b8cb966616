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
	"sync"
	"time"

	"github.com/govoltron/reactor/buffer"
	"github.com/govoltron/reactor/codec"
	"github.com/govoltron/reactor/future"
	"github.com/govoltron/reactor/internal/selector"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// TCPProcessor shuttles bytes between one connected, non-blocking TCP
// socket and the codec/queue layer. It owns inBuf/outBuf, never touches
// the socket off its event-loop thread, and toggles read/write interest
// in response to queue backpressure and rate-limit denial.
type TCPProcessor struct {
	fd  int
	cfg Config
	ep  Endpoints

	key  *selector.Key
	loop *selector.EventLoop

	inBuf  *codec.WireBuffer
	outBuf *codec.WireBuffer

	pendingSlotRef *buffer.Slot
	pendingOut     []byte // claimed-but-unsent outbound payload, held across a rate-limit retry

	closeOnce sync.Once
	closeFut  *future.Future
}

var _ Processor = (*TCPProcessor)(nil)

// NewTCPProcessor wraps an already-connected, non-blocking socket fd.
// The caller registers the returned processor with a selector.Pool (via
// Bind) before any readiness can be dispatched to it.
func NewTCPProcessor(fd int, ep Endpoints, cfg Config) *TCPProcessor {
	cfg = cfg.withDefaults()
	p := &TCPProcessor{
		fd:       fd,
		cfg:      cfg,
		ep:       ep,
		inBuf:    codec.NewWireBuffer(cfg.ReadBuffer),
		outBuf:   codec.NewWireBuffer(cfg.ReadBuffer),
		closeFut: future.New(),
	}
	ep.In.AttachWakeup(p.onInputRoom)
	ep.Out.AttachWakeup(p.onOutputReady)
	return p
}

// Bind attaches p to key/loop once the selector has registered it. Must
// be called before readiness events can be dispatched.
func (p *TCPProcessor) Bind(key *selector.Key, loop *selector.EventLoop) {
	p.key = key
	p.loop = loop
}

func (p *TCPProcessor) CloseFuture() *future.Future { return p.closeFut }

func (p *TCPProcessor) OnAcceptable()  {}
func (p *TCPProcessor) OnConnectable() {}

// OnReadable implements the receive path: read from the socket into
// inBuf, decode every complete frame it holds, and enqueue each decoded
// message. A full input queue disables read interest until the consumer
// releases a slot (see onInputRoom).
func (p *TCPProcessor) OnReadable() {
	eof, err := p.readSocket()
	if err != nil {
		p.Close(wrapIOErr("read", err))
		return
	}
	for {
		ok, herr := p.cfg.Codec.HasNext(p.inBuf)
		if herr != nil {
			p.Close(herr)
			return
		}
		if !ok {
			break
		}
		slot, claimed := p.ep.In.TryNext()
		if !claimed {
			p.disableRead()
			p.inBuf.Compact()
			return
		}
		msg, gerr := p.cfg.Codec.Get(p.inBuf)
		if gerr != nil {
			p.Close(gerr)
			return
		}
		slot.N = copy(slot.Data, msg)
		p.ep.In.Publish(slot)
	}
	p.inBuf.Compact()
	if eof {
		p.Close(nil)
	}
}

// OnWritable implements the send path: flush any residual bytes first,
// then pull one message at a time, rate-limit it, encode it, and write
// it. Write interest is cleared once there is nothing left to send.
func (p *TCPProcessor) OnWritable() {
	drained, err := p.flushOut()
	if err != nil {
		p.Close(wrapIOErr("write", err))
		return
	}
	if !drained {
		return
	}

	for {
		if p.pendingOut == nil {
			slot, ok := p.ep.Out.TryNext()
			if !ok {
				p.disableWrite()
				return
			}
			p.pendingOut = slot.Bytes()
			p.pendingSlotRef = slot
		}

		granted, wait := p.cfg.Limiter.Acquire(p.cfg.Codec.EncodedLength(p.pendingOut))
		if !granted {
			p.disableWrite()
			p.scheduleRetry(wait)
			return
		}
		if err := p.cfg.Codec.Put(p.pendingOut, p.outBuf); err != nil {
			p.Close(err)
			return
		}
		p.ep.Out.Release(p.pendingSlotRef)
		p.pendingOut = nil
		p.pendingSlotRef = nil

		drained, err := p.flushOut()
		if err != nil {
			p.Close(wrapIOErr("write", err))
			return
		}
		if !drained {
			return
		}
	}
}

func (p *TCPProcessor) scheduleRetry(wait time.Duration) {
	time.AfterFunc(wait, func() {
		p.loop.Submit(func() {
			p.enableWrite()
			p.OnWritable()
		})
	})
}

func (p *TCPProcessor) readSocket() (eof bool, err error) {
	for {
		chunk := p.inBuf.Grow(p.cfg.ReadBuffer)
		n, e := unix.Read(p.fd, chunk)
		if n > 0 {
			p.inBuf.CommitWrite(n)
		}
		if e != nil {
			if e == unix.EAGAIN || e == unix.EWOULDBLOCK {
				return false, nil
			}
			return false, e
		}
		if n == 0 {
			return true, nil
		}
		if n < len(chunk) {
			return false, nil
		}
	}
}

func (p *TCPProcessor) flushOut() (drained bool, err error) {
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
	return true, nil
}

func (p *TCPProcessor) disableRead()  { p.setInterest(p.key.Interest() &^ selector.Readable) }
func (p *TCPProcessor) disableWrite() { p.setInterest(p.key.Interest() &^ selector.Writable) }
func (p *TCPProcessor) enableWrite()  { p.setInterest(p.key.Interest() | selector.Writable) }

func (p *TCPProcessor) setInterest(i selector.Interest) {
	if p.loop != nil && p.key != nil {
		_ = p.loop.SetInterest(p.key, i)
	}
}

// onInputRoom re-arms read interest once the consumer has released a
// slot into a previously full input queue. Runs on whichever goroutine
// released the slot, so it must hop back to the owning loop.
func (p *TCPProcessor) onInputRoom() {
	if p.loop == nil {
		return
	}
	p.loop.Submit(func() {
		p.setInterest(p.key.Interest() | selector.Readable)
	})
}

// onOutputReady re-arms write interest once the application has
// published a message into a previously empty output queue.
func (p *TCPProcessor) onOutputReady() {
	if p.loop == nil {
		return
	}
	p.loop.Submit(func() {
		p.setInterest(p.key.Interest() | selector.Writable)
	})
}

// Close tears the channel down exactly once: cancels the selection key,
// closes the socket, closes both queue endpoints (so the application's
// blocked Next calls return; slots still queued are not released), and
// completes CloseFuture with cause (nil for a clean close).
func (p *TCPProcessor) Close(cause error) {
	p.closeOnce.Do(func() {
		teardown := func() {
			if p.key != nil && p.loop != nil {
				_ = p.loop.Cancel(p.key)
			}
			_ = unix.Close(p.fd)
			p.ep.In.Close()
			p.ep.Out.Close()
			if cause != nil {
				p.cfg.Log.Warn("tcp: channel closed", zap.Error(cause))
				p.closeFut.Failure(cause)
			} else {
				p.closeFut.Success()
			}
		}
		if p.loop != nil {
			p.loop.Submit(teardown)
		} else {
			teardown()
		}
	})
}
