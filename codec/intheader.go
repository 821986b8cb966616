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

package codec

import "encoding/binary"

// MaxIntBodyLength is the largest body an IntHeader frame may declare
// (2^31 - 5).
const MaxIntBodyLength = (1 << 31) - 5

// MaxIntUDPBodyLength is the largest IntHeader body that still fits a UDP
// datagram.
const MaxIntUDPBodyLength = 65531

// IntHeader frames a body with a 4-byte big-endian length prefix and no
// footer. It is the default codec of reactor.NewChannelBuilder and the
// codec reactor.WithMessageLength builds.
type IntHeader struct {
	// BodyLength bounds a single message's size. 0 means MaxIntBodyLength.
	BodyLength int
}

// NewIntHeader returns an IntHeader codec accepting bodies up to
// bodyLength bytes (or MaxIntBodyLength if bodyLength is 0).
func NewIntHeader(bodyLength int) *IntHeader {
	return &IntHeader{BodyLength: bodyLength}
}

func (c *IntHeader) limit() int {
	if c.BodyLength <= 0 || c.BodyLength > MaxIntBodyLength {
		return MaxIntBodyLength
	}
	return c.BodyLength
}

func (c *IntHeader) HeaderLength() int { return 4 }
func (c *IntHeader) FooterLength() int { return 0 }

func (c *IntHeader) EncodedLength(msg []byte) int {
	return c.HeaderLength() + len(msg)
}

func (c *IntHeader) Valid(msg []byte) error {
	if len(msg) == 0 {
		return ErrInvalidLength
	}
	if n := len(msg); n > c.limit() {
		return tooLong("int-header", n, c.limit())
	}
	return nil
}

func (c *IntHeader) Put(msg []byte, buf Buffer) error {
	if err := c.Valid(msg); err != nil {
		return err
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(msg)))
	if _, err := buf.Write(hdr[:]); err != nil {
		return err
	}
	_, err := buf.Write(msg)
	return err
}

func (c *IntHeader) HasNext(buf Buffer) (bool, error) {
	b := buf.Bytes()
	if len(b) < 4 {
		return false, nil
	}
	n := int(binary.BigEndian.Uint32(b))
	if n <= 0 || n > c.limit() {
		return false, tooLong("int-header", n, c.limit())
	}
	return len(b) >= 4+n, nil
}

func (c *IntHeader) DecodedLength(buf Buffer) (int, error) {
	b := buf.Bytes()
	if len(b) < 4 {
		return 0, ErrInvalidEncoding
	}
	return int(binary.BigEndian.Uint32(b)), nil
}

func (c *IntHeader) Get(buf Buffer) ([]byte, error) {
	b := buf.Bytes()
	if len(b) < 4 {
		panic("codec: Get called without a prior successful HasNext")
	}
	n := int(binary.BigEndian.Uint32(b))
	if len(b) < 4+n {
		panic("codec: Get called without a prior successful HasNext")
	}
	msg := make([]byte, n)
	copy(msg, b[4:4+n])
	buf.Advance(4 + n)
	return msg, nil
}

func (c *IntHeader) Clone() Codec {
	cp := *c
	return &cp
}
