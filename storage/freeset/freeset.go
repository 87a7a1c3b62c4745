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

// Package freeset tracks which grid addresses are unallocated and which
// are staged for release at the next checkpoint. Release is two-phase: a
// released address stays allocated until Checkpoint applies the staged
// set, so that in-flight writes against it can be drained first.
package freeset

import (
	"fmt"

	"github.com/willf/bitset"

	"github.com/blockgrid/blockgrid/storage/block"
)

// Set is the checkpointed free-set over a fixed address space. It is not
// safe for concurrent use; the replica's event loop serializes access.
type Set struct {
	blocksCount uint
	free        *bitset.BitSet
	released    *bitset.BitSet
}

// NewSet returns a free-set over blocksCount addresses, all initially
// free.
func NewSet(blocksCount uint) *Set {
	s := &Set{
		blocksCount: blocksCount,
		free:        bitset.New(blocksCount),
		released:    bitset.New(blocksCount),
	}
	for i := uint(0); i < blocksCount; i++ {
		s.free.Set(i)
	}
	return s
}

// IsFree returns whether the address is unallocated in the current
// checkpoint's view. A released address is still allocated.
func (s *Set) IsFree(address block.Address) bool {
	return s.free.Test(s.bit(address))
}

// IsReleased returns whether the address is staged to be freed at the
// next checkpoint.
func (s *Set) IsReleased(address block.Address) bool {
	return s.released.Test(s.bit(address))
}

// Acquire marks a free address as allocated.
func (s *Set) Acquire(address block.Address) {
	i := s.bit(address)
	if !s.free.Test(i) {
		panic(fmt.Sprintf("free set: acquire of allocated address %d", address))
	}
	s.free.Clear(i)
}

// Release stages an allocated address to be freed at the next
// checkpoint.
func (s *Set) Release(address block.Address) {
	i := s.bit(address)
	if s.free.Test(i) {
		panic(fmt.Sprintf("free set: release of free address %d", address))
	}
	if s.released.Test(i) {
		panic(fmt.Sprintf("free set: double release of address %d", address))
	}
	s.released.Set(i)
}

// Checkpoint applies the staged releases: every released address becomes
// free and the released set clears.
func (s *Set) Checkpoint() {
	for i, ok := s.released.NextSet(0); ok; i, ok = s.released.NextSet(i + 1) {
		s.free.Set(i)
	}
	s.released.ClearAll()
}

func (s *Set) bit(address block.Address) uint {
	if uint(address) >= s.blocksCount {
		panic(fmt.Sprintf("free set: address %d out of grid bounds %d",
			address, s.blocksCount))
	}
	return uint(address)
}
