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

package selector

import "sync/atomic"

// Interest is a bitmask of the readiness conditions a Key is registered for.
type Interest uint32

const (
	// Readable means the channel has bytes (or a connection) pending.
	Readable Interest = 1 << iota
	// Writable means the channel can accept more bytes without blocking.
	Writable
	// Connectable means a pending connect() has completed or failed.
	Connectable
	// Acceptable means a listening socket has a pending connection.
	Acceptable
)

// Handler is invoked by the owning EventLoop when a Key becomes ready.
// Implementations must not block: they run on the event-loop thread.
type Handler interface {
	OnReadable()
	OnWritable()
	OnAcceptable()
	OnConnectable()
	// Close terminates whatever this Handler owns (a channel, an
	// in-progress connect) with cause. Called by the event loop itself if
	// one of the On* methods panics, so it must be safe to call from a
	// recover() and idempotent.
	Close(cause error)
}

// Key binds a file descriptor to its interest set and Handler. Only the
// owning EventLoop goroutine may read or mutate Interest; every other
// caller must go through EventLoop.Submit.
type Key struct {
	FD       int
	Handler  Handler
	interest atomic.Uint32
	loop     *EventLoop
	cancel   atomic.Bool
}

// Interest returns the current registered interest set.
func (k *Key) Interest() Interest {
	return Interest(k.interest.Load())
}

// Loop returns the EventLoop that owns this key.
func (k *Key) Loop() *EventLoop {
	return k.loop
}

// Cancelled reports whether Cancel has already been called for this key.
func (k *Key) Cancelled() bool {
	return k.cancel.Load()
}

func (k *Key) setInterest(i Interest) {
	k.interest.Store(uint32(i))
}
