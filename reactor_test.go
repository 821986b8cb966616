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

package reactor_test

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/govoltron/reactor"
	"github.com/govoltron/reactor/buffer"
	"github.com/govoltron/reactor/codec"
	"github.com/govoltron/reactor/ratelimit"
)

func mustOpenPool(t *testing.T) *reactor.Pool {
	t.Helper()
	pool, err := reactor.Open("test", 2)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}
	t.Cleanup(func() { _ = pool.Shutdown() })
	return pool
}

func waitSlot(t *testing.T, c buffer.Consumer, timeout time.Duration) *buffer.Slot {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if slot, ok := c.TryNext(); ok {
			return slot
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for a message")
	return nil
}

func publish(t *testing.T, p buffer.Producer, msg []byte) {
	t.Helper()
	slot, ok := p.Next()
	if !ok {
		t.Fatal("output queue unexpectedly closed")
	}
	slot.N = copy(slot.Data, msg)
	p.Publish(slot)
}

// TestBindConnectEcho exercises the full Bind/Connect/Channel path over a
// loopback TCP socket: a bound listener echoes back whatever it reads.
func TestBindConnectEcho(t *testing.T) {
	pool := mustOpenPool(t)
	builder := reactor.NewChannelBuilder(pool, reactor.WithMessageLength(0))

	accepted := make(chan *reactor.Channel, 1)
	listener, err := reactor.Bind(builder, "tcp", "127.0.0.1:0", func(remote net.Addr, ch *reactor.Channel) {
		accepted <- ch
	})
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	t.Cleanup(func() { listener.Close() })

	client, err := reactor.Connect(builder, "tcp", listener.Addr().String())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	if err := client.ConnectFuture().Err(); err != nil {
		t.Fatalf("client connect future: %v", err)
	}

	var server *reactor.Channel
	select {
	case server = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for accept")
	}

	go func() {
		in := server.GetInputBuffer()
		out := server.GetOutputBuffer()
		for {
			slot, ok := in.Next()
			if !ok {
				return
			}
			msg := append([]byte(nil), slot.Bytes()...)
			in.Release(slot)
			publish(t, out, msg)
		}
	}()

	publish(t, client.GetOutputBuffer(), []byte("ping"))
	slot := waitSlot(t, client.GetInputBuffer(), 2*time.Second)
	if got := string(slot.Bytes()); got != "ping" {
		t.Fatalf("got %q, want %q", got, "ping")
	}
	client.GetInputBuffer().Release(slot)
}

// TestChecksumMismatchClosesChannel confirms a corrupted checksum footer
// terminates the receiving channel with ErrInvalidEncoding instead of
// silently dropping or misdecoding the frame. The corrupted frame is
// written over a plain net.Dial connection so the test controls the raw
// bytes on the wire directly, independent of the codec under test.
func TestChecksumMismatchClosesChannel(t *testing.T) {
	pool := mustOpenPool(t)
	builder := reactor.NewChannelBuilder(pool, reactor.WithMessageCodec(
		codec.NewChecksum(codec.NewIntHeader(0), codec.CRC32),
	))

	accepted := make(chan *reactor.Channel, 1)
	listener, err := reactor.Bind(builder, "tcp", "127.0.0.1:0", func(remote net.Addr, ch *reactor.Channel) {
		accepted <- ch
	})
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	t.Cleanup(func() { listener.Close() })

	conn, err := net.Dial("tcp", listener.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var server *reactor.Channel
	select {
	case server = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for accept")
	}

	c := codec.NewChecksum(codec.NewIntHeader(0), codec.CRC32)
	frame := codec.NewWireBuffer(32)
	if err := c.Put([]byte("hello"), frame); err != nil {
		t.Fatalf("encode: %v", err)
	}
	encoded := append([]byte(nil), frame.Bytes()...)
	encoded[len(encoded)-1] ^= 0xFF // corrupt the last digest byte
	if _, err := conn.Write(encoded); err != nil {
		t.Fatalf("write: %v", err)
	}

	err = server.CloseFuture().Err()
	if err == nil || !errors.Is(err, reactor.ErrInvalidEncoding) {
		t.Fatalf("close cause = %v, want ErrInvalidEncoding", err)
	}
}

// TestRateLimiterDelaysDelivery confirms a tight token bucket measurably
// slows down message delivery rather than only bounding throughput over a
// long window.
func TestRateLimiterDelaysDelivery(t *testing.T) {
	pool := mustOpenPool(t)
	// 10 tokens/s with a 10-token burst: the 8-byte first frame fits the
	// burst, the 10-byte second frame waits about 0.8s for the refill.
	builder := reactor.NewChannelBuilder(pool,
		reactor.WithMessageLength(0),
		reactor.WithRateLimiter(ratelimit.NewTokenBucket(10, ratelimit.PerSecond)),
	)

	accepted := make(chan *reactor.Channel, 1)
	listener, err := reactor.Bind(builder, "tcp", "127.0.0.1:0", func(remote net.Addr, ch *reactor.Channel) {
		accepted <- ch
	})
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	t.Cleanup(func() { listener.Close() })

	client, err := reactor.Connect(builder, "tcp", listener.Addr().String())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)

	var server *reactor.Channel
	select {
	case server = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for accept")
	}

	start := time.Now()
	publish(t, server.GetOutputBuffer(), []byte("slow"))
	publish(t, server.GetOutputBuffer(), []byte("slower"))
	waitSlot(t, client.GetInputBuffer(), 5*time.Second)
	waitSlot(t, client.GetInputBuffer(), 5*time.Second)
	if elapsed := time.Since(start); elapsed < 200*time.Millisecond {
		t.Fatalf("two messages through a 10-token/s bucket delivered in %v, expected throttling to slow them down", elapsed)
	}
}
