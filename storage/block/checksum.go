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

// Package block defines the identity of grid blocks: the 64-bit address
// space, the 128-bit content checksum carried alongside every block
// reference, and the fixed on-disk block header.
package block

import murmur3 "github.com/m3db/stackmurmur3/v2"

// Address is a 64-bit block number identifying a slot in the grid's
// on-disk address space.
type Address uint64

// Checksum is a 128-bit murmur3 hash of a block's body consisting of two
// unsigned 64-bit ints.
type Checksum struct {
	H0 uint64
	H1 uint64
}

// ChecksumOf computes the 128-bit checksum of a block body.
func ChecksumOf(body []byte) Checksum {
	h0, h1 := murmur3.Sum128(body)
	return Checksum{H0: h0, H1: h1}
}

// Ref is an (address, checksum) pair pinning the exact content expected
// at a grid address. Fault records, index-block content references and
// outbound repair requests all carry refs.
type Ref struct {
	Address  Address
	Checksum Checksum
}
