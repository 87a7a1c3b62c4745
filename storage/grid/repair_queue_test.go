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
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/m3db/m3x/instrument"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"

	"github.com/blockgrid/blockgrid/storage/block"
	"github.com/blockgrid/blockgrid/storage/freeset"
	"github.com/blockgrid/blockgrid/storage/lsm"
)

var (
	_ FreeSet     = (*freeset.Set)(nil)
	_ IndexSchema = lsm.Schema{}
)

func newTestQueue(t *testing.T, opts Options) *repairQueue {
	q, err := NewRepairQueue(opts)
	require.NoError(t, err)
	return q.(*repairQueue)
}

func testOptions() Options {
	return NewOptions().SetBlocksMax(4).SetTablesMax(1)
}

// makeBlock fabricates a raw grid block whose body derives from a seed,
// returning the block and its reference.
func makeBlock(address block.Address, seed byte) ([]byte, block.Ref) {
	body := []byte{seed, seed + 1, seed + 2}
	raw := block.NewBlock(address, body)
	h, err := block.Validate(raw)
	if err != nil {
		panic(err)
	}
	return raw, block.Ref{Address: h.Address, Checksum: h.Checksum}
}

// makeTableBlocks fabricates an index block at the given address plus its
// content blocks, one per content address.
func makeTableBlocks(
	indexAddress block.Address,
	contentAddresses []block.Address,
) (index []byte, indexRef block.Ref, contents [][]byte, contentRefs []block.Ref) {
	for i, addr := range contentAddresses {
		raw, ref := makeBlock(addr, byte(0x10*(i+1)))
		contents = append(contents, raw)
		contentRefs = append(contentRefs, ref)
	}
	index = lsm.EncodeIndexBlock(indexAddress, contentRefs)
	h, err := block.Validate(index)
	if err != nil {
		panic(err)
	}
	indexRef = block.Ref{Address: h.Address, Checksum: h.Checksum}
	return index, indexRef, contents, contentRefs
}

func repairOne(t *testing.T, q *repairQueue, raw []byte, ref block.Ref) {
	require.True(t, q.RepairWaiting(ref.Address, ref.Checksum))
	q.RepairCommence(ref.Address, ref.Checksum)
	q.RepairComplete(raw)
}

func TestRepairQueueSingleBlockHappyPath(t *testing.T) {
	scope := tally.NewTestScope("", nil)
	opts := NewOptions().
		SetBlocksMax(4).
		SetTablesMax(0).
		SetInstrumentOptions(instrument.NewOptions().SetMetricsScope(scope))
	q := newTestQueue(t, opts)

	raw, ref := makeBlock(100, 0xAA)
	q.EnqueueBlock(ref.Address, ref.Checksum)
	require.Equal(t, 1, q.NumFaultyBlocks())
	require.Equal(t, 1, q.enqueuedSingle)

	requests := make([]block.Ref, 2)
	n := q.NextBatchOfBlockRequests(requests)
	require.Equal(t, 1, n)
	require.Equal(t, ref, requests[0])

	repairOne(t, q, raw, ref)
	require.Equal(t, 0, q.NumFaultyBlocks())
	require.False(t, q.RepairWaiting(ref.Address, ref.Checksum))

	counters := scope.Snapshot().Counters()
	require.Equal(t, int64(1), counters["repair-queue.blocks-enqueued+"].Value())
	require.Equal(t, int64(1), counters["repair-queue.blocks-repaired+"].Value())
}

func TestRepairQueueEnqueueBlockIdempotent(t *testing.T) {
	q := newTestQueue(t, testOptions())

	_, ref := makeBlock(100, 0xAA)
	q.EnqueueBlock(ref.Address, ref.Checksum)
	q.EnqueueBlock(ref.Address, ref.Checksum)

	require.Equal(t, 1, q.NumFaultyBlocks())
	require.Equal(t, 1, q.enqueuedSingle)
	require.Equal(t, 0, q.enqueuedTable)
}

func TestRepairQueueEnqueueBlocksAvailable(t *testing.T) {
	q := newTestQueue(t, testOptions())

	reserved := 1 * lsm.TableContentBlocksMax
	require.Equal(t, 4+reserved, q.faults.capacity())
	require.Equal(t, 4, q.EnqueueBlocksAvailable())

	for i := 0; i < 4; i++ {
		_, ref := makeBlock(block.Address(100+i), byte(i))
		q.EnqueueBlock(ref.Address, ref.Checksum)
	}
	require.Equal(t, 0, q.EnqueueBlocksAvailable())
	_, ref := makeBlock(900, 0x99)
	require.Panics(t, func() { q.EnqueueBlock(ref.Address, ref.Checksum) })
}

func TestRepairQueueTableRepair(t *testing.T) {
	q := newTestQueue(t, testOptions())

	index, indexRef, contents, contentRefs := makeTableBlocks(
		200, []block.Address{201, 202, 203})

	var results []TableResult
	table := &RepairTable{}
	q.EnqueueTable(func(tb *RepairTable, result TableResult) {
		require.Equal(t, table, tb)
		results = append(results, result)
	}, table, indexRef.Address, indexRef.Checksum)

	require.Equal(t, 1, q.NumFaultyTables())
	require.Equal(t, 1, q.NumFaultyBlocks())

	// Only the index block is requested until its write completes.
	requests := make([]block.Ref, 8)
	require.Equal(t, 1, q.NextBatchOfBlockRequests(requests))
	require.Equal(t, indexRef, requests[0])

	repairOne(t, q, index, indexRef)

	require.Equal(t, 3, q.NumFaultyBlocks())
	require.Equal(t, 0, q.enqueuedSingle)
	require.Equal(t, 3, q.enqueuedTable)
	require.Equal(t, 1, q.NumFaultyTables())
	require.Equal(t, 4, table.blocksTotal)
	require.Equal(t, uint32(1), table.BlocksWritten())

	for i := range contents {
		require.Empty(t, results)
		repairOne(t, q, contents[i], contentRefs[i])
	}

	require.Equal(t, []TableResult{TableResultRepaired}, results)
	require.Equal(t, uint32(4), table.BlocksWritten())
	require.Equal(t, 0, q.NumFaultyBlocks())
	require.Equal(t, 0, q.NumFaultyTables())
	require.False(t, table.linked)
}

func TestRepairQueueTableUpgradePreservesWrite(t *testing.T) {
	q := newTestQueue(t, testOptions())

	index, indexRef, contents, contentRefs := makeTableBlocks(
		200, []block.Address{201, 202})

	// The scrubber queues the index block standalone and begins its
	// write before the table arrives.
	q.EnqueueBlock(indexRef.Address, indexRef.Checksum)
	q.RepairCommence(indexRef.Address, indexRef.Checksum)
	require.Equal(t, 1, q.enqueuedSingle)

	var results []TableResult
	table := &RepairTable{}
	q.EnqueueTable(func(_ *RepairTable, result TableResult) {
		results = append(results, result)
	}, table, indexRef.Address, indexRef.Checksum)

	require.Equal(t, 0, q.enqueuedSingle)
	require.Equal(t, 1, q.enqueuedTable)

	// The in-flight write completes and counts toward the table.
	q.RepairComplete(index)
	require.Equal(t, uint32(1), table.BlocksWritten())
	require.Equal(t, 3, table.blocksTotal)
	require.Equal(t, 2, q.NumFaultyBlocks())

	for i := range contents {
		repairOne(t, q, contents[i], contentRefs[i])
	}
	require.Equal(t, []TableResult{TableResultRepaired}, results)
}

func TestRepairQueueContentUpgradePreservesWrite(t *testing.T) {
	q := newTestQueue(t, testOptions())

	index, indexRef, contents, contentRefs := makeTableBlocks(
		200, []block.Address{201, 202})

	// The scrubber queues content block 201 standalone and begins its
	// write before the table's index block arrives.
	q.EnqueueBlock(contentRefs[0].Address, contentRefs[0].Checksum)
	q.RepairCommence(contentRefs[0].Address, contentRefs[0].Checksum)

	var results []TableResult
	table := &RepairTable{}
	q.EnqueueTable(func(_ *RepairTable, result TableResult) {
		results = append(results, result)
	}, table, indexRef.Address, indexRef.Checksum)

	repairOne(t, q, index, indexRef)

	// The mid-flight content block was upgraded with its received bit
	// pre-set; completing it must not re-commence.
	require.Equal(t, 0, q.enqueuedSingle)
	require.Equal(t, 2, q.enqueuedTable)
	require.True(t, table.contentBlocksReceived.Test(0))
	q.RepairComplete(contents[0])
	require.Equal(t, uint32(2), table.BlocksWritten())

	repairOne(t, q, contents[1], contentRefs[1])
	require.Equal(t, []TableResult{TableResultRepaired}, results)
}

func TestRepairQueueCyclerFairness(t *testing.T) {
	q := newTestQueue(t, NewOptions().SetBlocksMax(8).SetTablesMax(0))

	const faults = 5
	for i := 0; i < faults; i++ {
		_, ref := makeBlock(block.Address(100+i), byte(i))
		q.EnqueueBlock(ref.Address, ref.Checksum)
	}

	seen := make(map[block.Address]int)
	requests := make([]block.Ref, 2)
	calls := (faults + len(requests) - 1) / len(requests)
	for c := 0; c < calls; c++ {
		n := q.NextBatchOfBlockRequests(requests)
		require.Equal(t, len(requests), n)
		for _, r := range requests[:n] {
			seen[r.Address]++
		}
	}
	require.Len(t, seen, faults)
}

func TestRepairQueueCyclerSkipsNonWaiting(t *testing.T) {
	q := newTestQueue(t, NewOptions().SetBlocksMax(8).SetTablesMax(0))

	_, ref1 := makeBlock(100, 0x01)
	_, ref2 := makeBlock(101, 0x02)
	q.EnqueueBlock(ref1.Address, ref1.Checksum)
	q.EnqueueBlock(ref2.Address, ref2.Checksum)
	q.RepairCommence(ref1.Address, ref1.Checksum)

	requests := make([]block.Ref, 4)
	n := q.NextBatchOfBlockRequests(requests)
	require.Equal(t, 1, n)
	require.Equal(t, ref2, requests[0])

	// Idempotent once the fault set is empty.
	q2 := newTestQueue(t, testOptions())
	require.Equal(t, 0, q2.NextBatchOfBlockRequests(requests))
	require.Equal(t, 0, q2.repairIndex)
}

func TestRepairQueueReleaseDuringWrite(t *testing.T) {
	q := newTestQueue(t, NewOptions().SetBlocksMax(4).SetTablesMax(0))

	fs := freeset.NewSet(1024)
	fs.Acquire(300)

	raw, ref := makeBlock(300, 0xCC)
	q.EnqueueBlock(ref.Address, ref.Checksum)
	q.RepairCommence(ref.Address, ref.Checksum)

	fs.Release(300)
	q.CheckpointCommence(fs)
	require.Equal(t, 1, q.checkpointing.aborting)
	require.Equal(t, faultStateAborting, q.faults.at(0).state)
	require.False(t, q.CheckpointComplete())

	// The drained write does not count as a repair.
	q.RepairComplete(raw)
	require.Equal(t, 0, q.NumFaultyBlocks())
	require.Equal(t, 0, q.checkpointing.aborting)
	require.True(t, q.CheckpointComplete())
	require.Nil(t, q.checkpointing)
}

func TestRepairQueueReleaseWaitingFault(t *testing.T) {
	q := newTestQueue(t, NewOptions().SetBlocksMax(4).SetTablesMax(0))

	fs := freeset.NewSet(1024)
	fs.Acquire(400)

	_, ref := makeBlock(400, 0xDD)
	q.EnqueueBlock(ref.Address, ref.Checksum)

	fs.Release(400)
	q.CheckpointCommence(fs)
	require.Equal(t, 0, q.NumFaultyBlocks())
	require.True(t, q.CheckpointComplete())
}

func TestRepairQueueCheckpointRewindOnSwapRemove(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	q := newTestQueue(t, NewOptions().SetBlocksMax(8).SetTablesMax(0))

	// Release every address: the swap-remove rewind must still visit
	// every entry, including those swapped into vacated positions.
	for i := 0; i < 5; i++ {
		_, ref := makeBlock(block.Address(100+i), byte(i))
		q.EnqueueBlock(ref.Address, ref.Checksum)
	}

	fs := NewMockFreeSet(ctrl)
	fs.EXPECT().IsReleased(gomock.Any()).Return(true).AnyTimes()
	fs.EXPECT().IsFree(gomock.Any()).Return(false).AnyTimes()

	q.CheckpointCommence(fs)
	require.Equal(t, 0, q.NumFaultyBlocks())
	require.True(t, q.CheckpointComplete())
}

func TestRepairQueueCheckpointReleasesTable(t *testing.T) {
	q := newTestQueue(t, NewOptions().SetBlocksMax(4).SetTablesMax(2))

	fs := freeset.NewSet(1024)
	for _, addr := range []block.Address{200, 300} {
		fs.Acquire(addr)
	}

	_, releasedRef := makeBlock(200, 0xBB)
	_, survivorRef := makeBlock(300, 0xCD)

	var results []TableResult
	released, survivor := &RepairTable{}, &RepairTable{}
	callback := func(_ *RepairTable, result TableResult) {
		results = append(results, result)
	}
	q.EnqueueTable(callback, released, releasedRef.Address, releasedRef.Checksum)
	q.EnqueueTable(callback, survivor, survivorRef.Address, survivorRef.Checksum)

	fs.Release(200)
	q.CheckpointCommence(fs)

	require.Equal(t, []TableResult{TableResultReleased}, results)
	require.Equal(t, 1, q.NumFaultyTables())
	require.Equal(t, survivor, q.tablesHead)
	require.Equal(t, 1, q.NumFaultyBlocks())
	require.True(t, q.CheckpointComplete())
	require.False(t, released.linked)
}

func TestRepairQueueCancel(t *testing.T) {
	q := newTestQueue(t, NewOptions().SetBlocksMax(8).SetTablesMax(2))

	var order []block.Address
	tableA, tableB := &RepairTable{}, &RepairTable{}
	callback := func(tb *RepairTable, result TableResult) {
		require.Equal(t, TableResultCanceled, result)
		order = append(order, tb.IndexAddress())
	}

	_, refA := makeBlock(200, 0xBB)
	_, refB := makeBlock(300, 0xCD)
	q.EnqueueTable(callback, tableA, refA.Address, refA.Checksum)
	q.EnqueueTable(callback, tableB, refB.Address, refB.Checksum)

	var refs []block.Ref
	for i := 0; i < 5; i++ {
		_, ref := makeBlock(block.Address(400+i), byte(i))
		q.EnqueueBlock(ref.Address, ref.Checksum)
		refs = append(refs, ref)
	}
	q.RepairCommence(refs[0].Address, refs[0].Checksum)
	q.RepairCommence(refs[3].Address, refs[3].Checksum)

	q.Cancel()

	require.Equal(t, []block.Address{200, 300}, order)
	require.Equal(t, 0, q.NumFaultyBlocks())
	require.Equal(t, 0, q.NumFaultyTables())
	require.True(t, q.canceling)
	require.Equal(t, 8+2*lsm.TableContentBlocksMax, q.faults.capacity())

	// The latch rejects re-entrant use until the queue is rebuilt.
	require.Panics(t, func() { q.EnqueueBlock(refs[0].Address, refs[0].Checksum) })
	require.Panics(t, func() { q.Cancel() })
}

func TestRepairQueueContractViolations(t *testing.T) {
	raw, ref := makeBlock(100, 0xAA)
	_, other := makeBlock(100, 0xAB)

	tests := []struct {
		name string
		fn   func(q *repairQueue)
	}{
		{
			name: "enqueue checksum mismatch",
			fn: func(q *repairQueue) {
				q.EnqueueBlock(ref.Address, ref.Checksum)
				q.EnqueueBlock(other.Address, other.Checksum)
			},
		},
		{
			name: "commence absent fault",
			fn: func(q *repairQueue) {
				q.RepairCommence(ref.Address, ref.Checksum)
			},
		},
		{
			name: "commence twice",
			fn: func(q *repairQueue) {
				q.EnqueueBlock(ref.Address, ref.Checksum)
				q.RepairCommence(ref.Address, ref.Checksum)
				q.RepairCommence(ref.Address, ref.Checksum)
			},
		},
		{
			name: "complete waiting fault",
			fn: func(q *repairQueue) {
				q.EnqueueBlock(ref.Address, ref.Checksum)
				q.RepairComplete(raw)
			},
		},
		{
			name: "complete absent fault",
			fn: func(q *repairQueue) {
				q.RepairComplete(raw)
			},
		},
		{
			name: "complete corrupt block",
			fn: func(q *repairQueue) {
				q.EnqueueBlock(ref.Address, ref.Checksum)
				q.RepairCommence(ref.Address, ref.Checksum)
				corrupt := append([]byte(nil), raw...)
				corrupt[len(corrupt)-1] ^= 0xFF
				q.RepairComplete(corrupt)
			},
		},
		{
			name: "checkpoint commence twice",
			fn: func(q *repairQueue) {
				q.CheckpointCommence(freeset.NewSet(16))
				q.CheckpointCommence(freeset.NewSet(16))
			},
		},
		{
			name: "checkpoint complete without commence",
			fn: func(q *repairQueue) {
				q.CheckpointComplete()
			},
		},
		{
			name: "re-enqueue linked table",
			fn: func(q *repairQueue) {
				table := &RepairTable{}
				callback := func(*RepairTable, TableResult) {}
				q.EnqueueTable(callback, table, ref.Address, ref.Checksum)
				q.EnqueueTable(callback, table, other.Address, other.Checksum)
			},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			q := newTestQueue(t, NewOptions().SetBlocksMax(8).SetTablesMax(2))
			require.Panics(t, func() { test.fn(q) })
		})
	}
}

func TestRepairQueueMockedSchema(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	schema := NewMockIndexSchema(ctrl)
	schema.EXPECT().ContentBlocksMax().Return(uint32(8)).AnyTimes()

	q := newTestQueue(t, NewOptions().
		SetBlocksMax(4).
		SetTablesMax(1).
		SetIndexSchema(schema))
	require.Equal(t, 4+1*8, q.faults.capacity())

	index, indexRef, _, contentRefs := makeTableBlocks(
		200, []block.Address{201, 202})
	schema.EXPECT().ContentBlocksUsed(index).Return(uint32(2), nil)
	for i, ref := range contentRefs {
		schema.EXPECT().ContentBlock(index, uint32(i)).Return(ref, nil)
	}

	table := &RepairTable{}
	q.EnqueueTable(func(*RepairTable, TableResult) {}, table,
		indexRef.Address, indexRef.Checksum)
	repairOne(t, q, index, indexRef)

	require.Equal(t, 2, q.NumFaultyBlocks())
	require.Equal(t, 3, table.blocksTotal)
}

func TestRepairQueueOptionsValidate(t *testing.T) {
	_, err := NewRepairQueue(NewOptions().SetBlocksMax(0))
	require.Error(t, err)

	_, err = NewRepairQueue(NewOptions().SetTablesMax(-1))
	require.Error(t, err)

	_, err = NewRepairQueue(NewOptions().SetIndexSchema(nil))
	require.Error(t, err)

	q, err := NewRepairQueue(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, q.NumFaultyBlocks())
}

func TestTableResultString(t *testing.T) {
	for result, expected := range map[TableResult]string{
		TableResultRepaired: "repaired",
		TableResultCanceled: "canceled",
		TableResultReleased: "released",
		TableResult(42):     "unknown",
	} {
		assert.Equal(t, expected, result.String(),
			fmt.Sprintf("result %d", int(result)))
	}
}
