// Copyright (c) 2020 Uber Technologies, Inc.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

package block

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// The lengths reserved for a block header:
	// - magic uint32
	// - size uint32
	// - address uint64
	// - checksum 2x uint64
	headerMagicLen    = 4
	headerSizeLen     = 4
	headerAddressLen  = 8
	headerChecksumLen = 16

	// HeaderSize is the fixed length of the header at the start of every
	// grid block.
	HeaderSize = headerMagicLen +
		headerSizeLen +
		headerAddressLen +
		headerChecksumLen

	// BlockSizeMax bounds the total size of a grid block, header included.
	BlockSizeMax = 64 * 1024

	headerMagic uint32 = 0x67726462 // "grdb"
)

var (
	errHeaderTooShort   = errors.New("block too short to contain a header")
	errHeaderBadMagic   = errors.New("block header magic mismatch")
	errChecksumMismatch = errors.New("block body does not match header checksum")
)

// Header is the decoded form of the fixed header at the start of every
// grid block. The checksum covers the body only, the size covers header
// plus body.
type Header struct {
	Address  Address
	Checksum Checksum
	Size     uint32
}

// WriteHeader encodes h into the first HeaderSize bytes of buf.
func WriteHeader(buf []byte, h Header) {
	_ = buf[HeaderSize-1]
	binary.LittleEndian.PutUint32(buf[0:], headerMagic)
	binary.LittleEndian.PutUint32(buf[4:], h.Size)
	binary.LittleEndian.PutUint64(buf[8:], uint64(h.Address))
	binary.LittleEndian.PutUint64(buf[16:], h.Checksum.H0)
	binary.LittleEndian.PutUint64(buf[24:], h.Checksum.H1)
}

// ReadHeader decodes the header of a raw block.
func ReadHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, errHeaderTooShort
	}
	if magic := binary.LittleEndian.Uint32(b[0:]); magic != headerMagic {
		return Header{}, errHeaderBadMagic
	}
	h := Header{
		Size:    binary.LittleEndian.Uint32(b[4:]),
		Address: Address(binary.LittleEndian.Uint64(b[8:])),
		Checksum: Checksum{
			H0: binary.LittleEndian.Uint64(b[16:]),
			H1: binary.LittleEndian.Uint64(b[24:]),
		},
	}
	if h.Size < HeaderSize || h.Size > BlockSizeMax {
		return Header{}, fmt.Errorf("block header size out of bounds: %d", h.Size)
	}
	if int(h.Size) > len(b) {
		return Header{}, fmt.Errorf(
			"block header size %d exceeds buffer length %d", h.Size, len(b))
	}
	return h, nil
}

// Validate decodes the header of a raw block and recomputes the body
// checksum against it.
func Validate(b []byte) (Header, error) {
	h, err := ReadHeader(b)
	if err != nil {
		return Header{}, err
	}
	if ChecksumOf(b[HeaderSize:h.Size]) != h.Checksum {
		return Header{}, errChecksumMismatch
	}
	return h, nil
}

// NewBlock assembles a raw block from an address and body, computing the
// body checksum. The write path and tests use it; repair only reads.
func NewBlock(address Address, body []byte) []byte {
	size := HeaderSize + len(body)
	if size > BlockSizeMax {
		panic(fmt.Sprintf("block body length %d exceeds max block size", len(body)))
	}
	b := make([]byte, size)
	copy(b[HeaderSize:], body)
	WriteHeader(b, Header{
		Address:  address,
		Checksum: ChecksumOf(body),
		Size:     uint32(size),
	})
	return b
}
