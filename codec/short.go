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

// MaxShortBodyLength is the largest body a ShortHeader frame may carry:
// a UDP datagram's max payload (65527) minus the 2-byte length prefix.
const MaxShortBodyLength = 65525

// ShortHeader frames a body with a 2-byte big-endian length prefix and no
// footer.
type ShortHeader struct {
	// BodyLength bounds how large a single message may be. 0 means
	// MaxShortBodyLength.
	BodyLength int
}

// NewShortHeader returns a ShortHeader codec accepting bodies up to
// bodyLength bytes (or MaxShortBodyLength if bodyLength is 0).
func NewShortHeader(bodyLength int) *ShortHeader {
	return &ShortHeader{BodyLength: bodyLength}
}

func (c *ShortHeader) limit() int {
	if c.BodyLength <= 0 || c.BodyLength > MaxShortBodyLength {
		return MaxShortBodyLength
	}
	return c.BodyLength
}

func (c *ShortHeader) HeaderLength() int { return 2 }
func (c *ShortHeader) FooterLength() int { return 0 }

func (c *ShortHeader) EncodedLength(msg []byte) int {
	return c.HeaderLength() + len(msg)
}

func (c *ShortHeader) Valid(msg []byte) error {
	if len(msg) == 0 {
		return ErrInvalidLength
	}
	if n := len(msg); n > c.limit() {
		return tooLong("short-header", n, c.limit())
	}
	return nil
}

func (c *ShortHeader) Put(msg []byte, buf Buffer) error {
	if err := c.Valid(msg); err != nil {
		return err
	}
	var hdr [2]byte
	binary.BigEndian.PutUint16(hdr[:], uint16(len(msg)))
	if _, err := buf.Write(hdr[:]); err != nil {
		return err
	}
	_, err := buf.Write(msg)
	return err
}

func (c *ShortHeader) HasNext(buf Buffer) (bool, error) {
	b := buf.Bytes()
	if len(b) < 2 {
		return false, nil
	}
	n := int(binary.BigEndian.Uint16(b))
	if n == 0 || n > c.limit() {
		return false, tooLong("short-header", n, c.limit())
	}
	return len(b) >= 2+n, nil
}

func (c *ShortHeader) DecodedLength(buf Buffer) (int, error) {
	b := buf.Bytes()
	if len(b) < 2 {
		return 0, ErrInvalidEncoding
	}
	return int(binary.BigEndian.Uint16(b)), nil
}

func (c *ShortHeader) Get(buf Buffer) ([]byte, error) {
	b := buf.Bytes()
	if len(b) < 2 {
		panic("codec: Get called without a prior successful HasNext")
	}
	n := int(binary.BigEndian.Uint16(b))
	if len(b) < 2+n {
		panic("codec: Get called without a prior successful HasNext")
	}
	msg := make([]byte, n)
	copy(msg, b[2:2+n])
	buf.Advance(2 + n)
	return msg, nil
}

func (c *ShortHeader) Clone() Codec {
	cp := *c
	return &cp
}
