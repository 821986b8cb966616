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

package processor_test

import (
	"testing"
	"time"

	"github.com/govoltron/reactor/buffer"
	"github.com/govoltron/reactor/codec"
	"github.com/govoltron/reactor/internal/selector"
	"github.com/govoltron/reactor/processor"
	"github.com/govoltron/reactor/ratelimit"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// newProcessorUnderTest wires one end of a connected unix socketpair into
// a TCPProcessor registered with a one-thread Selector Pool, and returns
// the raw fd for the other end so the test can act as the remote peer
// with plain unix.Read/unix.Write calls.
func newProcessorUnderTest(t *testing.T) (pool *selector.Pool, peerFD int, in buffer.Consumer, out buffer.Producer) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		t.Fatalf("set nonblock: %v", err)
	}
	if err := unix.SetNonblock(fds[1], true); err != nil {
		t.Fatalf("set nonblock: %v", err)
	}

	inQueue := buffer.NewRing(8, 2048)  // receive path: processor -> application
	outQueue := buffer.NewRing(8, 2048) // send path: application -> processor

	pool, err = selector.Open("test", 1, zap.NewNop())
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}
	t.Cleanup(func() { _ = pool.Shutdown() })

	cfg := processor.Config{Codec: codec.NewShortHeader(1024), Limiter: ratelimit.Null}
	ep := processor.Endpoints{Out: outQueue.Consumer(), In: inQueue.Producer()}
	proc := processor.NewTCPProcessor(fds[0], ep, cfg)

	loop := pool.Next()
	registered := make(chan struct{})
	loop.Submit(func() {
		key := &selector.Key{FD: fds[0], Handler: proc}
		if err := loop.Register(key, selector.Readable); err != nil {
			t.Errorf("register: %v", err)
		}
		proc.Bind(key, loop)
		close(registered)
	})
	<-registered

	return pool, fds[1], inQueue.Consumer(), outQueue.Producer()
}

func TestTCPProcessorEcho(t *testing.T) {
	_, peerFD, in, out := newProcessorUnderTest(t)
	defer unix.Close(peerFD)

	// Peer sends a short-header frame carrying "hello world".
	c := codec.NewShortHeader(1024)
	frame := codec.NewWireBuffer(32)
	if err := c.Put([]byte("hello world"), frame); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := unix.Write(peerFD, frame.Bytes()); err != nil {
		t.Fatalf("peer write: %v", err)
	}

	slot := waitForSlot(t, in)
	if got := string(slot.Bytes()); got != "hello world" {
		t.Fatalf("got %q, want %q", got, "hello world")
	}
	in.Release(slot)

	// Application enqueues a reply; the processor should encode and
	// write it back to the peer.
	s, ok := out.Next()
	if !ok {
		t.Fatalf("output queue unexpectedly closed")
	}
	reply := []byte("hello world")
	s.N = copy(s.Data, reply)
	out.Publish(s)

	got := readFrameFromPeer(t, peerFD)
	if string(got) != "hello world" {
		t.Fatalf("peer received %q, want %q", got, "hello world")
	}
}

func waitForSlot(t *testing.T, c buffer.Consumer) *buffer.Slot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if slot, ok := c.TryNext(); ok {
			return slot
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for a decoded message")
	return nil
}

func readFrameFromPeer(t *testing.T, fd int) []byte {
	t.Helper()
	buf := make([]byte, 256)
	deadline := time.Now().Add(2 * time.Second)
	var acc []byte
	for time.Now().Before(deadline) {
		n, err := unix.Read(fd, buf)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				time.Sleep(time.Millisecond)
				continue
			}
			t.Fatalf("peer read: %v", err)
		}
		acc = append(acc, buf[:n]...)
		if len(acc) >= 2 {
			body := int(acc[0])<<8 | int(acc[1])
			if len(acc) >= 2+body {
				return acc[2 : 2+body]
			}
		}
	}
	t.Fatal("timed out waiting for a reply frame")
	return nil
}
