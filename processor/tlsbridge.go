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
	"io"
	"net"
	"sync"
	"time"
)

// TLSBridge is the net.Conn crypto/tls sees in place of the real socket.
// The owning TLSProcessor feeds it ciphertext read off the non-blocking
// fd (PushIn) and drains the ciphertext tls.Conn produces (PullOut) from
// the event-loop thread; tls.Conn's own blocking Read/Write calls land
// here from the processor's per-channel record reader/writer goroutines.
// This keeps ordinary socket I/O on the event loop while still letting
// crypto/tls drive its handshake and record framing the only way it
// knows how: synchronously.
type TLSBridge struct {
	mu      sync.Mutex
	cond    *sync.Cond
	in      []byte
	out     []byte
	closed  bool
	err     error
	onWrite func()
}

func NewTLSBridge() *TLSBridge {
	b := &TLSBridge{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// AttachWriteWakeup registers cb to run whenever Write queues ciphertext
// the event loop needs to flush to the socket. Must be called before the
// bridge is handed to a *tls.Conn.
func (b *TLSBridge) AttachWriteWakeup(cb func()) {
	b.mu.Lock()
	b.onWrite = cb
	b.mu.Unlock()
}

// PushIn delivers ciphertext read off the real socket. Called only from
// the owning event-loop thread.
func (b *TLSBridge) PushIn(p []byte) {
	if len(p) == 0 {
		return
	}
	b.mu.Lock()
	if !b.closed {
		b.in = append(b.in, p...)
		b.cond.Broadcast()
	}
	b.mu.Unlock()
}

// PullOut drains ciphertext tls.Conn has queued for the socket. Called
// only from the owning event-loop thread.
func (b *TLSBridge) PullOut() ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.out) == 0 {
		return nil, false
	}
	out := b.out
	b.out = nil
	return out, true
}

// Read implements net.Conn for the record reader goroutine: it blocks
// until ciphertext has arrived from the socket or the bridge is closed.
func (b *TLSBridge) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.in) == 0 && !b.closed {
		b.cond.Wait()
	}
	if len(b.in) == 0 {
		if b.err != nil {
			return 0, b.err
		}
		return 0, io.EOF
	}
	n := copy(p, b.in)
	b.in = b.in[n:]
	return n, nil
}

// Write implements net.Conn for the record writer goroutine (and the
// handshake): it queues ciphertext for the event loop and wakes it, but
// never blocks on the socket itself.
func (b *TLSBridge) Write(p []byte) (int, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	b.out = append(b.out, p...)
	cb := b.onWrite
	b.mu.Unlock()
	if cb != nil {
		cb()
	}
	return len(p), nil
}

// Close satisfies net.Conn; tls.Conn calls it once it considers the
// transport done. It does not touch the real socket — the TLSProcessor
// owns that lifecycle — it only wakes any goroutine blocked in Read.
func (b *TLSBridge) Close() error {
	b.shutdown(nil)
	return nil
}

// shutdown marks the bridge closed with cause, waking any Read blocked
// in cond.Wait. Idempotent: the first cause wins.
func (b *TLSBridge) shutdown(cause error) {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		b.err = cause
		b.cond.Broadcast()
	}
	b.mu.Unlock()
}

func (b *TLSBridge) LocalAddr() net.Addr  { return tlsBridgeAddr{} }
func (b *TLSBridge) RemoteAddr() net.Addr { return tlsBridgeAddr{} }

// Deadlines are not supported: pacing is governed by the rate limiter and
// the event loop's own readiness polling, not per-call timeouts.
func (b *TLSBridge) SetDeadline(time.Time) error      { return nil }
func (b *TLSBridge) SetReadDeadline(time.Time) error  { return nil }
func (b *TLSBridge) SetWriteDeadline(time.Time) error { return nil }

type tlsBridgeAddr struct{}

func (tlsBridgeAddr) Network() string { return "tls-bridge" }
func (tlsBridgeAddr) String() string  { return "tls-bridge" }

var _ net.Conn = (*TLSBridge)(nil)
