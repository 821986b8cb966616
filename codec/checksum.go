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

import (
	"encoding/binary"
	"fmt"
	"hash/adler32"
	"hash/crc32"

	"github.com/cespare/xxhash/v2"
)

// Digest names the checksum algorithm a Checksum codec appends:
// CRC32, Adler32, or xxHash.
type Digest int

const (
	CRC32 Digest = iota
	Adler32
	XXHash
)

const digestLength = 4

func sum(d Digest, body []byte) (uint32, error) {
	switch d {
	case CRC32:
		return crc32.ChecksumIEEE(body), nil
	case Adler32:
		return adler32.Checksum(body), nil
	case XXHash:
		// xxhash.Sum64 is the only variant available in the ecosystem
		// library; truncated to fit the 4-byte digest width.
		return uint32(xxhash.Sum64(body)), nil
	default:
		return 0, fmt.Errorf("codec: unknown digest %d", d)
	}
}

// Checksum wraps Inner (typically an IntHeader) and appends a 4-byte
// digest of the body, rejecting a mismatch with ErrInvalidEncoding. The
// digest is appended to the body before the inner codec frames it, so the
// inner header's length covers body plus digest.
type Checksum struct {
	Inner  Codec
	Digest Digest
}

// NewChecksum wraps inner with a checksum footer using the given digest algorithm.
func NewChecksum(inner Codec, digest Digest) *Checksum {
	return &Checksum{Inner: inner, Digest: digest}
}

func (c *Checksum) HeaderLength() int { return c.Inner.HeaderLength() }
func (c *Checksum) FooterLength() int { return c.Inner.FooterLength() + digestLength }

func (c *Checksum) EncodedLength(msg []byte) int {
	return c.Inner.EncodedLength(msg) + digestLength
}

func (c *Checksum) Valid(msg []byte) error {
	return c.Inner.Valid(msg)
}

func (c *Checksum) Put(msg []byte, buf Buffer) error {
	if err := c.Valid(msg); err != nil {
		return err
	}
	digest, err := sum(c.Digest, msg)
	if err != nil {
		return err
	}
	framed := make([]byte, len(msg)+digestLength)
	copy(framed, msg)
	binary.BigEndian.PutUint32(framed[len(msg):], digest)
	return c.Inner.Put(framed, buf)
}

func (c *Checksum) HasNext(buf Buffer) (bool, error) {
	return c.Inner.HasNext(buf)
}

func (c *Checksum) DecodedLength(buf Buffer) (int, error) {
	n, err := c.Inner.DecodedLength(buf)
	if err != nil {
		return 0, err
	}
	return n - digestLength, err
}

func (c *Checksum) Get(buf Buffer) ([]byte, error) {
	framed, err := c.Inner.Get(buf)
	if err != nil {
		return nil, err
	}
	if len(framed) < digestLength {
		return nil, ErrInvalidEncoding
	}
	body := framed[:len(framed)-digestLength]
	want := binary.BigEndian.Uint32(framed[len(framed)-digestLength:])
	got, err := sum(c.Digest, body)
	if err != nil {
		return nil, err
	}
	if got != want {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrInvalidEncoding)
	}
	return body, nil
}

func (c *Checksum) Clone() Codec {
	return &Checksum{Inner: c.Inner.Clone(), Digest: c.Digest}
}
