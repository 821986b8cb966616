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

package selector_test

import (
	"testing"
	"time"

	"github.com/govoltron/reactor/internal/selector"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

func TestPoolNextRoundRobins(t *testing.T) {
	pool, err := selector.Open("test-rr", 3, zap.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = pool.Shutdown() })

	seen := map[int]bool{}
	for i := 0; i < 3; i++ {
		seen[pool.Next().Index()] = true
	}
	if len(seen) != 3 {
		t.Fatalf("expected Next to cycle through all 3 loops, saw %v", seen)
	}
}

func TestPoolShutdownClosesSignal(t *testing.T) {
	pool, err := selector.Open("test-shutdown", 2, zap.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := pool.Shutdown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	select {
	case <-pool.CloseSignal():
	default:
		t.Fatal("CloseSignal not closed after Shutdown")
	}
	if err := pool.Err(); err != nil {
		t.Fatalf("Err() = %v, want nil after a clean shutdown", err)
	}
}

// fdHandler records which callbacks fired, confirming dispatch routes to
// the handler registered for a given fd's interest.
type fdHandler struct {
	readable, writable chan struct{}
}

func newFDHandler() *fdHandler {
	return &fdHandler{readable: make(chan struct{}, 1), writable: make(chan struct{}, 1)}
}

func (h *fdHandler) OnReadable() {
	select {
	case h.readable <- struct{}{}:
	default:
	}
}
func (h *fdHandler) OnWritable() {
	select {
	case h.writable <- struct{}{}:
	default:
	}
}
func (h *fdHandler) OnAcceptable()  {}
func (h *fdHandler) OnConnectable() {}
func (h *fdHandler) Close(error)    {}

func TestEventLoopDispatchesReadable(t *testing.T) {
	pool, err := selector.Open("test-dispatch", 1, zap.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = pool.Shutdown() })

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	defer unix.Close(fds[1])
	if err := unix.SetNonblock(fds[0], true); err != nil {
		t.Fatalf("set nonblock: %v", err)
	}

	loop := pool.Next()
	h := newFDHandler()
	registered := make(chan struct{})
	loop.Submit(func() {
		key := &selector.Key{FD: fds[0], Handler: h}
		if err := loop.Register(key, selector.Readable); err != nil {
			t.Errorf("register: %v", err)
		}
		close(registered)
	})
	<-registered
	defer unix.Close(fds[0])

	if _, err := unix.Write(fds[1], []byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case <-h.readable:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnReadable dispatch")
	}
}

// panicHandler panics on every OnReadable call, simulating a codec
// precondition violation surfacing from inside a processor.
type panicHandler struct {
	closed chan error
}

func newPanicHandler() *panicHandler { return &panicHandler{closed: make(chan error, 1)} }

func (h *panicHandler) OnReadable()    { panic("boom") }
func (h *panicHandler) OnWritable()    {}
func (h *panicHandler) OnAcceptable()  {}
func (h *panicHandler) OnConnectable() {}
func (h *panicHandler) Close(cause error) {
	select {
	case h.closed <- cause:
	default:
	}
}

// TestDispatchPanicClosesHandlerAndCancelsKey confirms a panicking On*
// callback terminates that key's Handler (via Close) and cancels the key,
// instead of leaving the loop goroutine to redeliver and repanic forever.
func TestDispatchPanicClosesHandlerAndCancelsKey(t *testing.T) {
	pool, err := selector.Open("test-panic", 1, zap.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = pool.Shutdown() })

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	defer unix.Close(fds[1])
	if err := unix.SetNonblock(fds[0], true); err != nil {
		t.Fatalf("set nonblock: %v", err)
	}
	defer unix.Close(fds[0])

	loop := pool.Next()
	h := newPanicHandler()
	key := &selector.Key{FD: fds[0], Handler: h}
	registered := make(chan struct{})
	loop.Submit(func() {
		if err := loop.Register(key, selector.Readable); err != nil {
			t.Errorf("register: %v", err)
		}
		close(registered)
	})
	<-registered

	if _, err := unix.Write(fds[1], []byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case cause := <-h.closed:
		if cause == nil {
			t.Fatal("Close called with a nil cause, want the panic wrapped as an error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the panicking handler to be closed")
	}

	deadline := time.Now().Add(2 * time.Second)
	for !key.Cancelled() {
		if time.Now().After(deadline) {
			t.Fatal("key was never cancelled after its handler panicked")
		}
		time.Sleep(time.Millisecond)
	}
}
