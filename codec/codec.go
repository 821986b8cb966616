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

// Package codec implements the core's pluggable message framing: frame
// layout is [header][body][footer]. Short-header and Int-header codecs
// frame a bare body; Checksum and Compression codecs wrap another codec.
package codec

import (
	"errors"
	"fmt"
)

// ErrInvalidLength is returned when a frame's declared body length is out
// of the codec's accepted bounds (empty or oversize body).
var ErrInvalidLength = errors.New("codec: invalid length")

// ErrInvalidEncoding is returned for a malformed header, a checksum
// mismatch, or a decompression failure.
var ErrInvalidEncoding = errors.New("codec: invalid encoding")

// Buffer is the minimal byte-accumulator contract a codec needs: readable
// bytes starting at an internal read cursor, and room to append more. It is
// satisfied by WireBuffer, the type the processor package uses for its
// wire-side buffers (inBuf/outBuf).
type Buffer interface {
	// Bytes returns the unread bytes, without advancing the read cursor.
	Bytes() []byte
	// Advance moves the read cursor forward by n bytes (n <= len(Bytes())).
	Advance(n int)
	// Write appends p, growing the buffer as needed.
	Write(p []byte) (int, error)
}

// Codec frames application messages (encode) and parses them back
// (decode). A single instance may be used concurrently by one encoder
// goroutine and one decoder goroutine, never by two encoders or two
// decoders at once.
type Codec interface {
	// HeaderLength is the fixed header size in bytes.
	HeaderLength() int
	// FooterLength is the fixed footer size in bytes (0 for most codecs).
	FooterLength() int
	// EncodedLength returns the total wire size put(msg) will produce.
	EncodedLength(msg []byte) int
	// Valid rejects empty and oversize bodies with ErrInvalidLength.
	Valid(msg []byte) error
	// Put encodes msg into buf.
	Put(msg []byte, buf Buffer) error
	// HasNext peeks at buf's header, without advancing the read cursor, and
	// reports whether a complete frame is available.
	HasNext(buf Buffer) (bool, error)
	// DecodedLength returns the body length of the next frame in buf. Only
	// valid to call once HasNext has returned true for the same state.
	DecodedLength(buf Buffer) (int, error)
	// Get parses one complete frame out of buf. Precondition: HasNext must
	// have just returned true; calling Get when it underflows buf is a
	// programmer error and panics.
	Get(buf Buffer) ([]byte, error)
	// Clone returns an independent instance for a new channel, sharing no
	// mutable scratch state with the original.
	Clone() Codec
}

// maxUDPPayload is the largest UDP datagram payload a codec frame may
// occupy while remaining UDP-safe.
const maxUDPPayload = 65527

func tooLong(bound string, n, limit int) error {
	return fmt.Errorf("%w: body length %d exceeds %s limit %d", ErrInvalidLength, n, bound, limit)
}
