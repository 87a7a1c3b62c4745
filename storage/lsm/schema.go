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

// Package lsm defines the index-block schema of LSM tables: the layout of
// content-block references inside an index block, read by the grid repair
// path and written by the table writer.
package lsm

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/blockgrid/blockgrid/storage/block"
)

const (
	// TableContentBlocksMax bounds the number of content blocks a single
	// table's index block may reference.
	TableContentBlocksMax = 64

	// The index block body holds:
	// - contentBlocksUsed uint32
	// - contentBlocksUsed x (address uint64, checksum 2x uint64)
	indexBodyCountLen = 4
	indexBodyRefLen   = 8 + 16
)

var (
	errIndexBodyTooShort    = errors.New("index block body too short")
	errIndexCountOutOfRange = fmt.Errorf(
		"index block content count out of range [1, %d]", TableContentBlocksMax)
)

// Schema reads content-block references out of raw index blocks.
type Schema struct{}

// NewSchema returns the index-block schema.
func NewSchema() Schema {
	return Schema{}
}

// ContentBlocksMax returns the schema bound on content blocks per table.
func (s Schema) ContentBlocksMax() uint32 {
	return TableContentBlocksMax
}

// ContentBlocksUsed returns the number of content blocks referenced by a
// raw index block.
func (s Schema) ContentBlocksUsed(index []byte) (uint32, error) {
	body, err := indexBody(index)
	if err != nil {
		return 0, err
	}
	used := binary.LittleEndian.Uint32(body)
	if used < 1 || used > TableContentBlocksMax {
		return 0, errIndexCountOutOfRange
	}
	if need := indexBodyCountLen + int(used)*indexBodyRefLen; len(body) < need {
		return 0, fmt.Errorf(
			"index block body length %d short of %d refs", len(body), used)
	}
	return used, nil
}

// ContentBlock returns the i'th content-block reference of a raw index
// block.
func (s Schema) ContentBlock(index []byte, i uint32) (block.Ref, error) {
	used, err := s.ContentBlocksUsed(index)
	if err != nil {
		return block.Ref{}, err
	}
	if i >= used {
		return block.Ref{}, fmt.Errorf(
			"content block ordinal %d out of %d used", i, used)
	}
	body, _ := indexBody(index)
	off := indexBodyCountLen + int(i)*indexBodyRefLen
	return block.Ref{
		Address: block.Address(binary.LittleEndian.Uint64(body[off:])),
		Checksum: block.Checksum{
			H0: binary.LittleEndian.Uint64(body[off+8:]),
			H1: binary.LittleEndian.Uint64(body[off+16:]),
		},
	}, nil
}

func indexBody(index []byte) ([]byte, error) {
	h, err := block.ReadHeader(index)
	if err != nil {
		return nil, err
	}
	body := index[block.HeaderSize:h.Size]
	if len(body) < indexBodyCountLen {
		return nil, errIndexBodyTooShort
	}
	return body, nil
}

// EncodeIndexBlock assembles a raw index block at the given address
// referencing the given content blocks.
func EncodeIndexBlock(address block.Address, refs []block.Ref) []byte {
	if len(refs) < 1 || len(refs) > TableContentBlocksMax {
		panic(fmt.Sprintf("index block content count out of range: %d", len(refs)))
	}
	body := make([]byte, indexBodyCountLen+len(refs)*indexBodyRefLen)
	binary.LittleEndian.PutUint32(body, uint32(len(refs)))
	for i, ref := range refs {
		off := indexBodyCountLen + i*indexBodyRefLen
		binary.LittleEndian.PutUint64(body[off:], uint64(ref.Address))
		binary.LittleEndian.PutUint64(body[off+8:], ref.Checksum.H0)
		binary.LittleEndian.PutUint64(body[off+16:], ref.Checksum.H1)
	}
	return block.NewBlock(address, body)
}
