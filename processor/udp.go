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
	"sync/atomic"
	"time"

	"github.com/govoltron/reactor/buffer"
	"github.com/govoltron/reactor/codec"
	"github.com/govoltron/reactor/future"
	"github.com/govoltron/reactor/internal/selector"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// maxUDPRecv covers the largest IPv4 UDP payload a single recv can hold.
const maxUDPRecv = 65527

// UDPProcessor is the datagram-oriented counterpart to TCPProcessor.
// Each readable event reads every datagram queued on the socket, one
// recv per datagram, not only the first; each datagram must decode in a
// single pass or it is dropped and its count recorded. Each writable event sends exactly one datagram: there is no
// cross-event write buffering, and no ordering guarantee across
// datagrams.
type UDPProcessor struct {
	fd  int
	cfg Config
	ep  Endpoints

	key  *selector.Key
	loop *selector.EventLoop

	scratch *codec.WireBuffer // reused per-datagram decode buffer
	outWire *codec.WireBuffer // reused per-datagram encode buffer

	pendingOut     []byte
	pendingSlotRef *buffer.Slot

	dropped atomic.Uint64

	closeOnce sync.Once
	closeFut  *future.Future
}

// NewUDPProcessor wraps a non-blocking, already-bound-or-connected UDP
// socket.
func NewUDPProcessor(fd int, ep Endpoints, cfg Config) *UDPProcessor {
	cfg = cfg.withDefaults()
	p := &UDPProcessor{
		fd:       fd,
		cfg:      cfg,
		ep:       ep,
		scratch:  codec.NewWireBuffer(maxUDPRecv),
		outWire:  codec.NewWireBuffer(maxUDPRecv),
		closeFut: future.New(),
	}
	ep.In.AttachWakeup(p.onInputRoom)
	ep.Out.AttachWakeup(p.onOutputReady)
	return p
}

func (p *UDPProcessor) Bind(key *selector.Key, loop *selector.EventLoop) {
	p.key = key
	p.loop = loop
}

func (p *UDPProcessor) CloseFuture() *future.Future { return p.closeFut }
func (p *UDPProcessor) OnAcceptable()                {}
func (p *UDPProcessor) OnConnectable()               {}

var _ Processor = (*UDPProcessor)(nil)

// DroppedCount reports how many datagrams failed a single-pass decode
// or arrived when the input queue was full, and were discarded rather
// than closing the channel (UDP has no backpressure on the wire).
func (p *UDPProcessor) DroppedCount() uint64 { return p.dropped.Load() }

func (p *UDPProcessor) OnReadable() {
	for {
		p.scratch.Reset()
		buf := p.scratch.Grow(maxUDPRecv)
		n, err := unix.Read(p.fd, buf)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			p.Close(wrapIOErr("recv", err))
			return
		}
		if n == 0 {
			return
		}
		p.scratch.CommitWrite(n)
		p.decodeOne()
	}
}

func (p *UDPProcessor) decodeOne() {
	ok, err := p.cfg.Codec.HasNext(p.scratch)
	if err != nil || !ok {
		p.dropped.Add(1)
		if err != nil {
			p.cfg.Log.Debug("udp: dropping undecodable datagram", zap.Error(err))
		}
		return
	}
	slot, claimed := p.ep.In.TryNext()
	if !claimed {
		p.dropped.Add(1)
		return
	}
	msg, err := p.cfg.Codec.Get(p.scratch)
	if err != nil {
		p.dropped.Add(1)
		return
	}
	slot.N = copy(slot.Data, msg)
	p.ep.In.Publish(slot)
}

func (p *UDPProcessor) OnWritable() {
	if p.pendingOut == nil {
		slot, ok := p.ep.Out.TryNext()
		if !ok {
			p.setInterest(p.key.Interest() &^ selector.Writable)
			return
		}
		p.pendingOut = slot.Bytes()
		p.pendingSlotRef = slot
	}

	granted, wait := p.cfg.Limiter.Acquire(p.cfg.Codec.EncodedLength(p.pendingOut))
	if !granted {
		p.setInterest(p.key.Interest() &^ selector.Writable)
		time.AfterFunc(wait, func() {
			p.loop.Submit(func() {
				p.setInterest(p.key.Interest() | selector.Writable)
				p.OnWritable()
			})
		})
		return
	}

	p.outWire.Reset()
	if err := p.cfg.Codec.Put(p.pendingOut, p.outWire); err != nil {
		p.Close(err)
		return
	}
	if _, err := unix.Write(p.fd, p.outWire.Bytes()); err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return // one datagram per event; pendingOut stays claimed for the next writable
		}
		p.Close(wrapIOErr("send", err))
		return
	}
	p.ep.Out.Release(p.pendingSlotRef)
	p.pendingOut = nil
	p.pendingSlotRef = nil

	if _, ok := p.ep.Out.TryNext(); !ok {
		p.setInterest(p.key.Interest() &^ selector.Writable)
	}
}

func (p *UDPProcessor) onInputRoom() {
	if p.loop == nil {
		return
	}
	p.loop.Submit(func() { p.setInterest(p.key.Interest() | selector.Readable) })
}

func (p *UDPProcessor) onOutputReady() {
	if p.loop == nil {
		return
	}
	p.loop.Submit(func() { p.setInterest(p.key.Interest() | selector.Writable) })
}

func (p *UDPProcessor) setInterest(i selector.Interest) {
	if p.loop != nil && p.key != nil {
		_ = p.loop.SetInterest(p.key, i)
	}
}

func (p *UDPProcessor) Close(cause error) {
	p.closeOnce.Do(func() {
		teardown := func() {
			if p.key != nil && p.loop != nil {
				_ = p.loop.Cancel(p.key)
			}
			_ = unix.Close(p.fd)
			p.ep.In.Close()
			p.ep.Out.Close()
			if cause != nil {
				p.cfg.Log.Warn("udp: channel closed", zap.Error(cause))
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
