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

	"github.com/govoltron/reactor/buffer"
	"github.com/govoltron/reactor/codec"
	"github.com/govoltron/reactor/ratelimit"
	"go.uber.org/zap"
)

// ChannelBuilder collects the options Bind/Connect need to construct a
// Channel: queue shape, codec, rate limiter, and (for TLS channels) a TLS
// configuration. A single builder may be reused across many Bind/Connect
// calls; each call constructs its own queues and processor.
type ChannelBuilder struct {
	pool *Pool

	bufferCapacity                    int
	sendBufferSize, receiveBufferSize int // SO_SNDBUF/SO_RCVBUF (stream channels only)
	slotCapacity                      int // message-queue slot payload capacity
	alloc                             buffer.Allocator
	newQueue                          func(capacity, slotCap int, alloc buffer.Allocator) buffer.Queue
	sharedIn                          buffer.Queue
	codecTemplate                     codec.Codec
	limiter                           ratelimit.Limiter
	tlsConfig                         *tls.Config
	log                               *zap.Logger
}

// BuilderOption configures a ChannelBuilder.
type BuilderOption func(*ChannelBuilder)

// NewChannelBuilder returns a builder attached to pool, with defaults of
// bufferCapacity 256, 65535-byte socket buffers, 65535-byte queue slots,
// a heap-allocated ring queue per channel, and an int-header codec with
// an unbounded body length.
func NewChannelBuilder(pool *Pool, opts ...BuilderOption) *ChannelBuilder {
	b := &ChannelBuilder{
		pool:              pool,
		bufferCapacity:    256,
		sendBufferSize:    65535,
		receiveBufferSize: 65535,
		slotCapacity:      65535,
		alloc:             buffer.HeapAlloc,
		newQueue:          func(c, slotCap int, alloc buffer.Allocator) buffer.Queue { return buffer.NewRingWithAlloc(c, slotCap, alloc) },
		codecTemplate:     codec.NewIntHeader(0),
		limiter:           ratelimit.Null,
		log:               zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// WithBufferCapacity sets C, the number of slots per queue.
func WithBufferCapacity(c int) BuilderOption {
	return func(b *ChannelBuilder) { b.bufferCapacity = c }
}

// WithSendBufferSize sets SO_SNDBUF on the underlying socket (stream
// channels only).
func WithSendBufferSize(n int) BuilderOption {
	return func(b *ChannelBuilder) { b.sendBufferSize = n }
}

// WithReceiveBufferSize sets SO_RCVBUF on the underlying socket (stream
// channels only).
func WithReceiveBufferSize(n int) BuilderOption {
	return func(b *ChannelBuilder) { b.receiveBufferSize = n }
}

// WithSlotCapacity sets the payload capacity of each message-queue slot
// (the largest frame body a Slot can hold), independent of the socket's
// SO_SNDBUF/SO_RCVBUF. Size it to the codec's configured body length.
func WithSlotCapacity(n int) BuilderOption {
	return func(b *ChannelBuilder) { b.slotCapacity = n }
}

// WithDirectBuffer allocates every queue's slots out of one contiguous
// backing array instead of one allocation per slot.
func WithDirectBuffer() BuilderOption {
	return func(b *ChannelBuilder) { b.alloc = buffer.DirectAlloc }
}

// WithHeapBuffer allocates each queue slot independently (the default).
func WithHeapBuffer() BuilderOption {
	return func(b *ChannelBuilder) { b.alloc = buffer.HeapAlloc }
}

// WithRingBuffer selects the lock-free ring queue implementation (the default).
func WithRingBuffer() BuilderOption {
	return func(b *ChannelBuilder) {
		b.newQueue = func(c, slotCap int, alloc buffer.Allocator) buffer.Queue {
			return buffer.NewRingWithAlloc(c, slotCap, alloc)
		}
	}
}

// WithBlockingQueue selects the mutex/condvar queue implementation.
func WithBlockingQueue() BuilderOption {
	return func(b *ChannelBuilder) {
		b.newQueue = func(c, slotCap int, alloc buffer.Allocator) buffer.Queue {
			return buffer.NewBlockingWithAlloc(c, slotCap, alloc)
		}
	}
}

// WithSingleInputBuffer fans every channel a Bind's acceptor produces
// into one shared input queue of the given capacity/slot size, instead of
// giving each accepted channel its own. Only meaningful for Bind.
func WithSingleInputBuffer(capacity, slotCap int) BuilderOption {
	return func(b *ChannelBuilder) {
		b.sharedIn = b.newQueue(capacity, slotCap, b.alloc)
	}
}

// WithMultipleInputBuffers gives each accepted channel its own input
// queue (the default).
func WithMultipleInputBuffers() BuilderOption {
	return func(b *ChannelBuilder) { b.sharedIn = nil }
}

// WithMessageCodec sets the wire codec directly.
func WithMessageCodec(c codec.Codec) BuilderOption {
	return func(b *ChannelBuilder) { b.codecTemplate = c }
}

// WithMessageLength is shorthand for an int-header codec with the given
// maximum body length (0 means codec.MaxIntBodyLength).
func WithMessageLength(n int) BuilderOption {
	return func(b *ChannelBuilder) { b.codecTemplate = codec.NewIntHeader(n) }
}

// WithRateLimiter sets the rate limiter directly.
func WithRateLimiter(l ratelimit.Limiter) BuilderOption {
	return func(b *ChannelBuilder) { b.limiter = l }
}

// WithRateLimit is shorthand for a token-bucket limiter of ratePerUnit
// tokens per unit, burst equal to one second's worth of that rate.
func WithRateLimit(ratePerUnit int, unit ratelimit.Unit) BuilderOption {
	return func(b *ChannelBuilder) { b.limiter = ratelimit.NewTokenBucket(ratePerUnit, unit) }
}

// WithTLSConfig attaches a TLS configuration; its presence is what
// selects TLS channels out of Connect/Bind.
func WithTLSConfig(cfg *tls.Config) BuilderOption {
	return func(b *ChannelBuilder) { b.tlsConfig = cfg }
}

// WithLogger attaches a structured logger to channels this builder produces.
func WithLogger(log *zap.Logger) BuilderOption {
	return func(b *ChannelBuilder) { b.log = log }
}

func (b *ChannelBuilder) newInputQueue() buffer.Queue {
	if b.sharedIn != nil {
		return b.sharedIn
	}
	return b.newQueue(b.bufferCapacity, b.slotCapacity, b.alloc)
}

func (b *ChannelBuilder) newOutputQueue() buffer.Queue {
	return b.newQueue(b.bufferCapacity, b.slotCapacity, b.alloc)
}
