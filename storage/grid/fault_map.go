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

package grid

import (
	"fmt"

	"github.com/blockgrid/blockgrid/storage/block"
)

type faultState int

const (
	faultStateWaiting faultState = iota
	faultStateWriting
	faultStateAborting
)

func (s faultState) String() string {
	switch s {
	case faultStateWaiting:
		return "waiting"
	case faultStateWriting:
		return "writing"
	case faultStateAborting:
		return "aborting"
	}
	return "unknown"
}

type progressKind int

const (
	// progressBlock is a standalone single-block repair.
	progressBlock progressKind = iota

	// progressTableIndex is the index block of a table repair; its
	// arrival seeds the table's content-block faults.
	progressTableIndex

	// progressTableContent is one content block of a table repair at a
	// known ordinal within the table.
	progressTableContent
)

type faultProgress struct {
	kind  progressKind
	table *RepairTable

	// ordinal of the content block within its table, valid only for
	// progressTableContent.
	ordinal uint32
}

type faultyBlock struct {
	address  block.Address
	checksum block.Checksum
	state    faultState
	progress faultProgress
}

// faultMap is a fixed-capacity address-keyed store of faults with both
// by-address lookup and by-ordinal access: a dense entry slice paired
// with a position index. Removal swaps the last entry into the vacated
// position. Capacity is reserved up front and never grows.
type faultMap struct {
	entries []faultyBlock
	index   map[block.Address]int
}

func newFaultMap(capacity int) *faultMap {
	return &faultMap{
		entries: make([]faultyBlock, 0, capacity),
		index:   make(map[block.Address]int, capacity),
	}
}

func (m *faultMap) count() int {
	return len(m.entries)
}

func (m *faultMap) capacity() int {
	return cap(m.entries)
}

// at returns the fault at position i. The pointer is valid only until
// the next mutation.
func (m *faultMap) at(i int) *faultyBlock {
	return &m.entries[i]
}

func (m *faultMap) lookup(address block.Address) (*faultyBlock, bool) {
	i, ok := m.index[address]
	if !ok {
		return nil, false
	}
	return &m.entries[i], true
}

func (m *faultMap) position(address block.Address) (int, bool) {
	i, ok := m.index[address]
	return i, ok
}

// getOrPut returns the fault at address, inserting a zero-valued entry
// at the end if absent. The second return reports whether the entry
// already existed; inserted entries carry only their address and must be
// initialized by the caller.
func (m *faultMap) getOrPut(address block.Address) (*faultyBlock, bool) {
	if i, ok := m.index[address]; ok {
		return &m.entries[i], true
	}
	if len(m.entries) == cap(m.entries) {
		panic(fmt.Sprintf("fault map capacity %d exceeded", cap(m.entries)))
	}
	m.entries = append(m.entries, faultyBlock{address: address})
	m.index[address] = len(m.entries) - 1
	return &m.entries[len(m.entries)-1], false
}

// swapRemove removes the fault at position i by moving the last entry
// into its place. Only the moved entry's position changes.
func (m *faultMap) swapRemove(i int) {
	last := len(m.entries) - 1
	delete(m.index, m.entries[i].address)
	if i != last {
		m.entries[i] = m.entries[last]
		m.index[m.entries[i].address] = i
	}
	m.entries[last] = faultyBlock{}
	m.entries = m.entries[:last]
}

// clear empties the map retaining its capacity.
func (m *faultMap) clear() {
	for i := range m.entries {
		delete(m.index, m.entries[i].address)
		m.entries[i] = faultyBlock{}
	}
	m.entries = m.entries[:0]
}
