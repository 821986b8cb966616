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

// Package processor implements the per-channel state machines that move
// bytes between OS sockets and application-facing message queues: a TCP
// processor, a TLS processor layered on crypto/tls, a UDP processor, and
// a server acceptor that hands each newly accepted connection to a
// callback for registration.
package processor

import (
	"errors"
	"fmt"

	"github.com/govoltron/reactor/buffer"
	"github.com/govoltron/reactor/codec"
	"github.com/govoltron/reactor/future"
	"github.com/govoltron/reactor/internal/selector"
	"github.com/govoltron/reactor/ratelimit"
	"go.uber.org/zap"
)

// ErrInvalidLength and ErrInvalidEncoding mirror the codec package's
// sentinels so callers can errors.Is against either package without
// importing codec directly.
var (
	ErrInvalidLength   = codec.ErrInvalidLength
	ErrInvalidEncoding = codec.ErrInvalidEncoding
)

// ErrTLS wraps any error surfaced by the TLS engine during handshake,
// rekey, or data transfer.
var ErrTLS = errors.New("processor: tls engine error")

// ErrClosed is returned by operations attempted after Close.
var ErrClosed = errors.New("processor: channel closed")

// Endpoints bundles the two queue-side handles a processor needs: the
// consumer half of the outbound (send) queue and the producer half of
// the inbound (receive) queue. The complementary producer/consumer
// halves (appOut, appIn in spec terms) are retained by the owning
// Channel and handed to application code.
type Endpoints struct {
	Out buffer.Consumer // chnIn: processor dequeues application messages to send
	In  buffer.Producer // chnOut: processor enqueues decoded messages for the application
}

// Config holds everything a processor needs that isn't wire-specific.
type Config struct {
	Codec      codec.Codec
	Limiter    ratelimit.Limiter
	Log        *zap.Logger
	ReadBuffer int // socket read chunk size
}

func (c *Config) withDefaults() Config {
	cp := *c
	if cp.Limiter == nil {
		cp.Limiter = ratelimit.Null
	}
	if cp.Log == nil {
		cp.Log = zap.NewNop()
	}
	if cp.ReadBuffer <= 0 {
		cp.ReadBuffer = 65536
	}
	return cp
}

// Processor is the common surface every channel kind implements; it is
// also a selector.Handler so the event loop can dispatch readiness to it
// directly.
type Processor interface {
	selector.Handler
	// CloseFuture completes exactly once, successfully or with the cause
	// that terminated the channel.
	CloseFuture() *future.Future
	// Close initiates shutdown; safe to call more than once.
	Close(cause error)
}

func wrapIOErr(op string, err error) error {
	return fmt.Errorf("processor: %s: %w", op, err)
}
