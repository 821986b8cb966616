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

package codec_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/govoltron/reactor/codec"
)

func roundTrip(t *testing.T, c codec.Codec, msg []byte) {
	t.Helper()
	buf := codec.NewWireBuffer(256)
	if err := c.Put(msg, buf); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if got, want := buf.Len(), c.EncodedLength(msg); got != want {
		t.Fatalf("length contract: wrote %d bytes, EncodedLength says %d", got, want)
	}
	ok, err := c.HasNext(buf)
	if err != nil {
		t.Fatalf("HasNext: %v", err)
	}
	if !ok {
		t.Fatalf("HasNext: expected true after a full Put")
	}
	got, err := c.Get(buf)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, msg) {
		t.Fatalf("round-trip mismatch: got %q want %q", got, msg)
	}
}

func TestShortHeaderRoundTrip(t *testing.T) {
	c := codec.NewShortHeader(1024)
	roundTrip(t, c, []byte("hello world"))
}

func TestIntHeaderRoundTrip(t *testing.T) {
	c := codec.NewIntHeader(0)
	roundTrip(t, c, bytes.Repeat([]byte("x"), 70000))
}

func TestChecksumRoundTrip(t *testing.T) {
	for _, d := range []codec.Digest{codec.CRC32, codec.Adler32, codec.XXHash} {
		c := codec.NewChecksum(codec.NewIntHeader(0), d)
		roundTrip(t, c, []byte("hello world"))
	}
}

func TestCompressionRoundTrip(t *testing.T) {
	for _, a := range []codec.Algorithm{codec.Deflate, codec.LZ4} {
		c := codec.NewCompression(codec.NewIntHeader(0), a)
		roundTrip(t, c, bytes.Repeat([]byte("hello world "), 500))
	}
}

func TestChecksumRejectsFlippedByte(t *testing.T) {
	c := codec.NewChecksum(codec.NewIntHeader(0), codec.CRC32)
	buf := codec.NewWireBuffer(256)
	if err := c.Put([]byte("hello world"), buf); err != nil {
		t.Fatalf("Put: %v", err)
	}
	// Flip one payload byte on the wire (offset past the 4-byte int header).
	raw := buf.Bytes()
	raw[4] ^= 0xFF

	if _, err := c.Get(buf); err == nil {
		t.Fatalf("expected checksum mismatch to be rejected")
	} else if !errors.Is(err, codec.ErrInvalidEncoding) {
		t.Fatalf("expected ErrInvalidEncoding, got %v", err)
	}
}

func TestInvalidLengthHeaderNeverEnqueuesPartialMessage(t *testing.T) {
	c := codec.NewIntHeader(16)
	buf := codec.NewWireBuffer(64)
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], 1000) // exceeds declared bodyLength of 16
	buf.Write(hdr[:])
	buf.Write([]byte("short"))

	_, err := c.HasNext(buf)
	if err == nil {
		t.Fatalf("expected InvalidLength for an over-bound header")
	}
	if !errors.Is(err, codec.ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength, got %v", err)
	}
}

func TestValidRejectsEmptyBody(t *testing.T) {
	c := codec.NewIntHeader(0)
	if err := c.Valid(nil); !errors.Is(err, codec.ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength for empty body, got %v", err)
	}
}
