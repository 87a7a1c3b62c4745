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

// Package grid implements the repair queue of the grid: the bounded set
// of corrupt-or-missing blocks a replica must fetch from its peers and
// write locally before it may treat them as present. Standalone blocks
// and whole tables (an index block plus the content blocks it
// references) are repaired through the same queue; tables complete with
// a per-table callback.
package grid

import (
	"github.com/m3db/m3x/instrument"
	"github.com/willf/bitset"

	"github.com/blockgrid/blockgrid/storage/block"
)

// TableResult is the terminal outcome of a table repair, delivered
// through the table's callback exactly once.
type TableResult int

const (
	// TableResultRepaired means every block of the table was fetched and
	// written locally.
	TableResultRepaired TableResult = iota

	// TableResultCanceled means the queue was canceled before the table
	// completed.
	TableResultCanceled

	// TableResultReleased means the table's blocks were released by a
	// checkpoint before the table completed.
	TableResultReleased
)

func (r TableResult) String() string {
	switch r {
	case TableResultRepaired:
		return "repaired"
	case TableResultCanceled:
		return "canceled"
	case TableResultReleased:
		return "released"
	}
	return "unknown"
}

// TableCallback is invoked exactly once per enqueued table with its
// terminal result. Callbacks run synchronously inside the queue
// operation that terminates the table and must not re-enter the queue's
// enqueue paths.
type TableCallback func(table *RepairTable, result TableResult)

// RepairTable is the caller-owned record of one table repair. The queue
// threads it through an intrusive FIFO link; the caller must not mutate
// it between EnqueueTable and the terminal callback.
type RepairTable struct {
	indexAddress  block.Address
	indexChecksum block.Checksum

	// contentBlocksReceived tracks which content-block ordinals have had
	// their repair commence, for validation against double receipt.
	contentBlocksReceived *bitset.BitSet

	// blocksWritten counts completed writes, index block included.
	blocksWritten uint32

	// blocksTotal is -1 until the index block arrives, then
	// 1 + content blocks used.
	blocksTotal int

	callback TableCallback
	next     *RepairTable
	linked   bool
}

// IndexAddress returns the address of the table's index block.
func (t *RepairTable) IndexAddress() block.Address { return t.indexAddress }

// IndexChecksum returns the checksum of the table's index block.
func (t *RepairTable) IndexChecksum() block.Checksum { return t.indexChecksum }

// BlocksWritten returns the count of the table's completed block writes.
func (t *RepairTable) BlocksWritten() uint32 { return t.blocksWritten }

// FreeSet is the read-only oracle over the checkpointed free-set
// consulted during checkpoint reconciliation.
type FreeSet interface {
	// IsFree returns whether the address is unallocated.
	IsFree(address block.Address) bool

	// IsReleased returns whether the address is staged to be freed at the
	// next checkpoint.
	IsReleased(address block.Address) bool
}

// IndexSchema reads table content-block references out of raw index
// blocks.
type IndexSchema interface {
	// ContentBlocksUsed returns the number of content blocks referenced
	// by a raw index block.
	ContentBlocksUsed(index []byte) (uint32, error)

	// ContentBlock returns the i'th content-block reference of a raw
	// index block.
	ContentBlock(index []byte, i uint32) (block.Ref, error)

	// ContentBlocksMax returns the schema bound on content blocks per
	// table.
	ContentBlocksMax() uint32
}

// RepairQueue cycles fairly through a bounded set of outstanding block
// faults, emitting batched peer requests and coordinating repair writes
// with checkpointing. It is single-threaded: the grid owns it and
// serializes all access through the replica's event loop.
type RepairQueue interface {
	// EnqueueBlock records a standalone block fault. Enqueuing an
	// existing (address, checksum) fault is a no-op. The caller must
	// check EnqueueBlocksAvailable first.
	EnqueueBlock(address block.Address, checksum block.Checksum)

	// EnqueueTable records a table fault: the index block is enqueued
	// now and its content blocks once the index block's repair write
	// completes. The caller-owned table record is initialized and linked
	// until the callback fires.
	EnqueueTable(callback TableCallback, table *RepairTable,
		address block.Address, checksum block.Checksum)

	// EnqueueBlocksAvailable returns the slack available for standalone
	// block faults after reserving the worst-case footprint of all
	// permitted tables.
	EnqueueBlocksAvailable() int

	// NextBatchOfBlockRequests fills requests with refs of faults
	// awaiting repair, cycling round-robin across calls, and returns the
	// number populated.
	NextBatchOfBlockRequests(requests []block.Ref) int

	// RepairWaiting returns whether a fault exists at the address with a
	// matching checksum and no repair write begun.
	RepairWaiting(address block.Address, checksum block.Checksum) bool

	// RepairCommence marks the fault's repair write as begun.
	RepairCommence(address block.Address, checksum block.Checksum)

	// RepairComplete removes the fault whose write finished; the raw
	// block supplies the authoritative address and checksum. Completing
	// a table's index block enqueues its content blocks; completing a
	// table's last block fires the table callback.
	RepairComplete(blockData []byte)

	// CheckpointCommence reconciles the queue against the free-set
	// staged for the next checkpoint, retiring released faults and
	// marking released in-flight writes to be drained.
	CheckpointCommence(freeSet FreeSet)

	// CheckpointComplete returns whether every write aborted by the
	// preceding CheckpointCommence has drained, clearing the checkpoint
	// state when it has. Poll after each RepairComplete.
	CheckpointComplete() bool

	// Cancel fires every outstanding table callback with
	// TableResultCanceled in FIFO order and empties the queue. The queue
	// rejects further use; re-initialize it before resuming.
	Cancel()

	// NumFaultyBlocks returns the number of outstanding block faults.
	NumFaultyBlocks() int

	// NumFaultyTables returns the number of outstanding table repairs.
	NumFaultyTables() int
}

// Options control the repair queue's capacity and instrumentation.
type Options interface {
	// Validate validates the options.
	Validate() error

	// SetBlocksMax sets the slack reserved for standalone block faults.
	SetBlocksMax(value int) Options

	// BlocksMax returns the slack reserved for standalone block faults.
	BlocksMax() int

	// SetTablesMax sets the maximum number of concurrent table repairs.
	SetTablesMax(value int) Options

	// TablesMax returns the maximum number of concurrent table repairs.
	TablesMax() int

	// SetIndexSchema sets the index-block schema.
	SetIndexSchema(value IndexSchema) Options

	// IndexSchema returns the index-block schema.
	IndexSchema() IndexSchema

	// SetInstrumentOptions sets the instrumentation options.
	SetInstrumentOptions(value instrument.Options) Options

	// InstrumentOptions returns the instrumentation options.
	InstrumentOptions() instrument.Options
}
