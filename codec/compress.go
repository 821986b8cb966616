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
	"bytes"
	"compress/flate"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

// Algorithm selects the compression scheme a Compression codec uses.
type Algorithm int

const (
	Deflate Algorithm = iota
	LZ4
)

// UDP-safe body limits for each algorithm.
const (
	MaxDeflateUDPBodyLength = 65499
	MaxLZ4UDPBodyLength     = 65252
)

// Compression wraps Inner (typically an IntHeader) and compresses the body
// before the length is written, decompressing on receive.
type Compression struct {
	Inner     Codec
	Algorithm Algorithm

	// scratchMsg/scratchOut/scratchErr cache the most recent compress()
	// result so a Put immediately following an EncodedLength call for the
	// same message (the processor's normal call order) compresses once.
	scratchMsg []byte
	scratchOut []byte
	scratchErr error
}

// NewCompression wraps inner with the given compression algorithm.
func NewCompression(inner Codec, algo Algorithm) *Compression {
	return &Compression{Inner: inner, Algorithm: algo}
}

func (c *Compression) HeaderLength() int { return c.Inner.HeaderLength() }
func (c *Compression) FooterLength() int { return c.Inner.FooterLength() }

// EncodedLength reports the actual wire length, compressing msg (and
// caching the result for the Put call that follows) since the inner
// codec's header is written over the compressed body, not msg itself.
func (c *Compression) EncodedLength(msg []byte) int {
	compressed, err := c.compressCached(msg)
	if err != nil {
		return c.Inner.EncodedLength(msg)
	}
	return c.Inner.EncodedLength(compressed)
}

func (c *Compression) Valid(msg []byte) error {
	if len(msg) == 0 {
		return ErrInvalidLength
	}
	return nil
}

func (c *Compression) compress(msg []byte) ([]byte, error) {
	var out bytes.Buffer
	switch c.Algorithm {
	case Deflate:
		w, err := flate.NewWriter(&out, flate.DefaultCompression)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(msg); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case LZ4:
		w := lz4.NewWriter(&out)
		if _, err := w.Write(msg); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("codec: unknown compression algorithm %d", c.Algorithm)
	}
	return out.Bytes(), nil
}

// compressCached returns the compressed form of msg, reusing the previous
// result if msg is unchanged since the last call.
func (c *Compression) compressCached(msg []byte) ([]byte, error) {
	if c.scratchMsg != nil && bytes.Equal(c.scratchMsg, msg) {
		return c.scratchOut, c.scratchErr
	}
	out, err := c.compress(msg)
	c.scratchMsg = append(c.scratchMsg[:0], msg...)
	c.scratchOut = out
	c.scratchErr = err
	return out, err
}

func (c *Compression) decompress(body []byte) ([]byte, error) {
	var r io.Reader
	switch c.Algorithm {
	case Deflate:
		r = flate.NewReader(bytes.NewReader(body))
	case LZ4:
		r = lz4.NewReader(bytes.NewReader(body))
	default:
		return nil, fmt.Errorf("codec: unknown compression algorithm %d", c.Algorithm)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}
	if rc, ok := r.(io.Closer); ok {
		_ = rc.Close()
	}
	return out, nil
}

func (c *Compression) Put(msg []byte, buf Buffer) error {
	if err := c.Valid(msg); err != nil {
		return err
	}
	compressed, err := c.compressCached(msg)
	if err != nil {
		return err
	}
	return c.Inner.Put(compressed, buf)
}

func (c *Compression) HasNext(buf Buffer) (bool, error) {
	return c.Inner.HasNext(buf)
}

func (c *Compression) DecodedLength(buf Buffer) (int, error) {
	return c.Inner.DecodedLength(buf)
}

func (c *Compression) Get(buf Buffer) ([]byte, error) {
	compressed, err := c.Inner.Get(buf)
	if err != nil {
		return nil, err
	}
	return c.decompress(compressed)
}

func (c *Compression) Clone() Codec {
	return &Compression{Inner: c.Inner.Clone(), Algorithm: c.Algorithm}
}
