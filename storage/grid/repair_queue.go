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

	"github.com/m3db/m3x/instrument"
	xlog "github.com/m3db/m3x/log"
	"github.com/uber-go/tally"
	"github.com/willf/bitset"

	"github.com/blockgrid/blockgrid/storage/block"
)

// checkpointProgress tracks the drain of writes aborted by a checkpoint:
// released blocks whose repair write was in flight at CheckpointCommence.
type checkpointProgress struct {
	aborting int
}

type repairQueueMetrics struct {
	blocksEnqueued tally.Counter
	tablesEnqueued tally.Counter
	blocksRepaired tally.Counter
	writesAborted  tally.Counter
	tablesRepaired tally.Counter
	tablesCanceled tally.Counter
	tablesReleased tally.Counter
	faultyBlocks   tally.Gauge
	faultyTables   tally.Gauge
}

func newRepairQueueMetrics(scope tally.Scope) repairQueueMetrics {
	return repairQueueMetrics{
		blocksEnqueued: scope.Counter("blocks-enqueued"),
		tablesEnqueued: scope.Counter("tables-enqueued"),
		blocksRepaired: scope.Counter("blocks-repaired"),
		writesAborted:  scope.Counter("writes-aborted"),
		tablesRepaired: scope.Counter("tables-repaired"),
		tablesCanceled: scope.Counter("tables-canceled"),
		tablesReleased: scope.Counter("tables-released"),
		faultyBlocks:   scope.Gauge("faulty-blocks"),
		faultyTables:   scope.Gauge("faulty-tables"),
	}
}

type repairQueue struct {
	opts    Options
	schema  IndexSchema
	logger  xlog.Logger
	metrics repairQueueMetrics

	faults *faultMap

	// repairIndex is the request cycler's position into the fault map.
	repairIndex int

	// Accounting partition of the fault map between standalone block
	// faults and faults belonging to table repairs.
	enqueuedSingle int
	enqueuedTable  int

	tablesHead  *RepairTable
	tablesTail  *RepairTable
	tablesCount int

	checkpointing *checkpointProgress
	canceling     bool
}

// NewRepairQueue creates a repair queue with its fault storage reserved
// up front. The one later allocation is a table record's received-bitset,
// made by EnqueueTable the first time that record is enqueued.
func NewRepairQueue(opts Options) (RepairQueue, error) {
	if opts == nil {
		opts = NewOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	var (
		iopts    = opts.InstrumentOptions()
		scope    = iopts.MetricsScope().SubScope("repair-queue")
		schema   = opts.IndexSchema()
		capacity = opts.BlocksMax() +
			opts.TablesMax()*int(schema.ContentBlocksMax())
	)
	return &repairQueue{
		opts:    opts,
		schema:  schema,
		logger:  iopts.Logger(),
		metrics: newRepairQueueMetrics(scope),
		faults:  newFaultMap(capacity),
	}, nil
}

func (q *repairQueue) EnqueueBlock(address block.Address, checksum block.Checksum) {
	q.ensureNotCanceling("EnqueueBlock")

	if f, ok := q.faults.lookup(address); ok {
		// Duplicate enqueue of a known fault is a no-op; the caller holds
		// the authoritative reference so the checksum cannot disagree.
		if f.checksum != checksum {
			q.invariantf("enqueue block: checksum mismatch at address %d", address)
		}
		return
	}
	if q.EnqueueBlocksAvailable() <= 0 {
		q.invariantf("enqueue block: no standalone fault capacity available")
	}

	f, found := q.faults.getOrPut(address)
	if found {
		q.invariantf("enqueue block: fault at address %d appeared mid-insert", address)
	}
	f.checksum = checksum
	f.state = faultStateWaiting
	f.progress = faultProgress{kind: progressBlock}
	q.enqueuedSingle++

	q.metrics.blocksEnqueued.Inc(1)
	q.finishMutation()
}

func (q *repairQueue) EnqueueTable(
	callback TableCallback,
	table *RepairTable,
	address block.Address,
	checksum block.Checksum,
) {
	q.ensureNotCanceling("EnqueueTable")

	if callback == nil {
		q.invariantf("enqueue table: nil callback")
	}
	if table == nil {
		q.invariantf("enqueue table: nil table record")
	}
	if table.linked {
		q.invariantf("enqueue table: record for index address %d still linked", address)
	}
	if q.tablesCount >= q.opts.TablesMax() {
		q.invariantf("enqueue table: tables max %d reached", q.opts.TablesMax())
	}
	for t := q.tablesHead; t != nil; t = t.next {
		if t.indexAddress == address {
			q.invariantf("enqueue table: index address %d already enqueued", address)
		}
	}

	table.indexAddress = address
	table.indexChecksum = checksum
	table.blocksWritten = 0
	table.blocksTotal = -1
	table.callback = callback
	table.next = nil
	table.linked = true
	if table.contentBlocksReceived == nil {
		table.contentBlocksReceived = bitset.New(uint(q.schema.ContentBlocksMax()))
	} else {
		table.contentBlocksReceived.ClearAll()
	}
	q.pushTable(table)

	f, found := q.faults.getOrPut(address)
	if found {
		if f.checksum != checksum {
			q.invariantf("enqueue table: checksum mismatch at index address %d", address)
		}
		if f.progress.kind != progressBlock {
			q.invariantf("enqueue table: index address %d already belongs to a table", address)
		}
		// The scrubber may have queued the index block standalone first,
		// possibly already mid-write. Upgrade the fault in place; its
		// write, whenever it completes, counts toward the table.
		f.progress = faultProgress{kind: progressTableIndex, table: table}
		q.enqueuedSingle--
		q.enqueuedTable++
	} else {
		f.checksum = checksum
		f.state = faultStateWaiting
		f.progress = faultProgress{kind: progressTableIndex, table: table}
		q.enqueuedTable++
	}

	q.metrics.tablesEnqueued.Inc(1)
	q.finishMutation()
}

func (q *repairQueue) EnqueueBlocksAvailable() int {
	// Reserve the worst-case footprint of all permitted tables so that
	// table repairs can never be starved by standalone enqueues.
	reserved := q.opts.TablesMax() * int(q.schema.ContentBlocksMax())
	return q.faults.capacity() - q.enqueuedSingle - reserved
}

func (q *repairQueue) NextBatchOfBlockRequests(requests []block.Ref) int {
	q.ensureNotCanceling("NextBatchOfBlockRequests")

	count := q.faults.count()
	if count == 0 {
		return 0
	}

	var filled, examined int
	for examined < count && filled < len(requests) {
		f := q.faults.at((q.repairIndex + examined) % count)
		examined++
		if f.state != faultStateWaiting {
			continue
		}
		requests[filled] = block.Ref{Address: f.address, Checksum: f.checksum}
		filled++
	}

	// Advance by entries examined rather than emitted so that batches
	// smaller than the fault set do not starve its tail.
	q.repairIndex = (q.repairIndex + examined) % count
	return filled
}

func (q *repairQueue) RepairWaiting(address block.Address, checksum block.Checksum) bool {
	q.ensureNotCanceling("RepairWaiting")

	f, ok := q.faults.lookup(address)
	return ok && f.checksum == checksum && f.state == faultStateWaiting
}

func (q *repairQueue) RepairCommence(address block.Address, checksum block.Checksum) {
	q.ensureNotCanceling("RepairCommence")

	f, ok := q.faults.lookup(address)
	if !ok {
		q.invariantf("commence: no fault at address %d", address)
	}
	if f.checksum != checksum {
		q.invariantf("commence: checksum mismatch at address %d", address)
	}
	if f.state != faultStateWaiting {
		q.invariantf("commence: fault at address %d is %s, not waiting", address, f.state)
	}

	f.state = faultStateWriting

	if f.progress.kind == progressTableContent {
		t := f.progress.table
		ordinal := uint(f.progress.ordinal)
		if t.contentBlocksReceived.Test(ordinal) {
			q.invariantf("commence: content block %d of table %d already received",
				ordinal, t.indexAddress)
		}
		t.contentBlocksReceived.Set(ordinal)
	}
}

func (q *repairQueue) RepairComplete(blockData []byte) {
	q.ensureNotCanceling("RepairComplete")

	header, err := block.Validate(blockData)
	if err != nil {
		q.invariantf("complete: invalid block: %v", err)
	}

	pos, ok := q.faults.position(header.Address)
	if !ok {
		q.invariantf("complete: no fault at address %d", header.Address)
	}
	f := q.faults.at(pos)
	if f.checksum != header.Checksum {
		q.invariantf("complete: checksum mismatch at address %d", header.Address)
	}
	if f.state != faultStateWriting && f.state != faultStateAborting {
		q.invariantf("complete: fault at address %d is %s, not writing or aborting",
			header.Address, f.state)
	}

	state, progress := f.state, f.progress
	q.removeFaultAt(pos)

	if state == faultStateAborting {
		// The block was released by the checkpoint; its write is merely
		// being drained and counts toward no table's progress.
		if q.checkpointing == nil || q.checkpointing.aborting <= 0 {
			q.invariantf("complete: aborting fault at address %d outside checkpoint drain",
				header.Address)
		}
		q.checkpointing.aborting--
		q.metrics.writesAborted.Inc(1)
		q.finishMutation()
		return
	}

	q.metrics.blocksRepaired.Inc(1)

	if progress.kind == progressTableIndex {
		q.enqueueTableContents(progress.table, blockData)
	}

	if progress.kind == progressTableIndex || progress.kind == progressTableContent {
		t := progress.table
		t.blocksWritten++
		if t.blocksTotal < 0 {
			q.invariantf("complete: table %d progressed before its index block arrived",
				t.indexAddress)
		}
		if int(t.blocksWritten) > t.blocksTotal {
			q.invariantf("complete: table %d wrote %d of %d blocks",
				t.indexAddress, t.blocksWritten, t.blocksTotal)
		}
		if int(t.blocksWritten) == t.blocksTotal {
			if received := int(t.contentBlocksReceived.Count()); received != t.blocksTotal-1 {
				q.invariantf("complete: table %d received %d of %d content blocks",
					t.indexAddress, received, t.blocksTotal-1)
			}
			q.unlinkTable(t)
			q.metrics.tablesRepaired.Inc(1)
			q.finishMutation()
			t.callback(t, TableResultRepaired)
			return
		}
	}

	q.finishMutation()
}

// enqueueTableContents reads the content-block references out of a
// table's freshly written index block and enqueues a fault for each.
// Enqueuing only once the index write completes keeps the upgrade path
// safe for blocks already mid-flight when the table arrived.
func (q *repairQueue) enqueueTableContents(t *RepairTable, index []byte) {
	used, err := q.schema.ContentBlocksUsed(index)
	if err != nil {
		q.invariantf("index block of table %d: %v", t.indexAddress, err)
	}
	if t.blocksTotal >= 0 {
		q.invariantf("index block of table %d arrived twice", t.indexAddress)
	}
	t.blocksTotal = 1 + int(used)

	for i := uint32(0); i < used; i++ {
		ref, err := q.schema.ContentBlock(index, i)
		if err != nil {
			q.invariantf("content block %d of table %d: %v", i, t.indexAddress, err)
		}
		f, found := q.faults.getOrPut(ref.Address)
		if !found {
			f.checksum = ref.Checksum
			f.state = faultStateWaiting
			f.progress = faultProgress{kind: progressTableContent, table: t, ordinal: i}
			q.enqueuedTable++
			continue
		}
		if f.checksum != ref.Checksum {
			q.invariantf("content block %d of table %d: checksum mismatch at address %d",
				i, t.indexAddress, ref.Address)
		}
		if f.progress.kind != progressBlock {
			q.invariantf("content block address %d already belongs to a table", ref.Address)
		}
		if f.state == faultStateAborting {
			q.invariantf("content block address %d of live table %d is aborting",
				ref.Address, t.indexAddress)
		}
		// The scrubber queued this block first. Keep its fault, shifting
		// the accounting; if its write is already in flight, record the
		// ordinal as received now since commence will not run again.
		if f.state == faultStateWriting {
			t.contentBlocksReceived.Set(uint(i))
		}
		f.progress = faultProgress{kind: progressTableContent, table: t, ordinal: i}
		q.enqueuedSingle--
		q.enqueuedTable++
	}
}

func (q *repairQueue) CheckpointCommence(freeSet FreeSet) {
	q.ensureNotCanceling("CheckpointCommence")

	if q.checkpointing != nil {
		q.invariantf("checkpoint commence while already checkpointing")
	}
	if freeSet == nil {
		q.invariantf("checkpoint commence: nil free set")
	}

	aborting := 0
	for i := 0; i < q.faults.count(); {
		f := q.faults.at(i)
		released := freeSet.IsReleased(f.address)

		// Tables release whole: a table's fault is released exactly when
		// the table's index block is.
		if f.progress.kind != progressBlock {
			indexReleased := freeSet.IsReleased(f.progress.table.indexAddress)
			if released != indexReleased {
				q.invariantf(
					"checkpoint: block %d released=%t but its table index %d released=%t",
					f.address, released, f.progress.table.indexAddress, indexReleased)
			}
		}

		if !released {
			if freeSet.IsFree(f.address) {
				q.invariantf("checkpoint: fault at free address %d", f.address)
			}
			i++
			continue
		}

		switch f.state {
		case faultStateWaiting:
			// Swap-remove moves the last entry into position i; stay put
			// so the moved entry is examined.
			q.removeFaultAt(i)
		case faultStateWriting:
			f.state = faultStateAborting
			aborting++
			i++
		case faultStateAborting:
			q.invariantf("checkpoint: fault at address %d already aborting", f.address)
		}
	}

	// Rebuild the table FIFO in order, retiring released tables as they
	// are encountered.
	head := q.tablesHead
	q.tablesHead, q.tablesTail, q.tablesCount = nil, nil, 0
	for t := head; t != nil; {
		next := t.next
		t.next = nil
		if freeSet.IsReleased(t.indexAddress) {
			t.linked = false
			q.metrics.tablesReleased.Inc(1)
			t.callback(t, TableResultReleased)
		} else {
			if freeSet.IsFree(t.indexAddress) {
				q.invariantf("checkpoint: table at free index address %d", t.indexAddress)
			}
			q.pushTable(t)
		}
		t = next
	}

	q.checkpointing = &checkpointProgress{aborting: aborting}
	q.logger.Debugf(
		"repair queue checkpoint commenced: aborting=%d faults=%d tables=%d",
		aborting, q.faults.count(), q.tablesCount)
	q.finishMutation()
}

func (q *repairQueue) CheckpointComplete() bool {
	q.ensureNotCanceling("CheckpointComplete")

	if q.checkpointing == nil {
		q.invariantf("checkpoint complete without commence")
	}
	if q.checkpointing.aborting > 0 {
		return false
	}
	for i := 0; i < q.faults.count(); i++ {
		if f := q.faults.at(i); f.state == faultStateAborting {
			q.invariantf("checkpoint: fault at address %d still aborting after drain",
				f.address)
		}
	}
	q.checkpointing = nil
	q.logger.Debugf("repair queue checkpoint complete")
	return true
}

func (q *repairQueue) Cancel() {
	q.ensureNotCanceling("Cancel")

	// Latch before firing callbacks so none can re-enter the queue.
	q.canceling = true

	head := q.tablesHead
	q.tablesHead, q.tablesTail, q.tablesCount = nil, nil, 0
	q.faults.clear()
	q.enqueuedSingle, q.enqueuedTable = 0, 0
	q.repairIndex = 0
	q.checkpointing = nil
	q.metrics.faultyBlocks.Update(0)
	q.metrics.faultyTables.Update(0)

	for t := head; t != nil; {
		next := t.next
		t.next = nil
		t.linked = false
		q.metrics.tablesCanceled.Inc(1)
		t.callback(t, TableResultCanceled)
		t = next
	}
}

func (q *repairQueue) NumFaultyBlocks() int {
	return q.faults.count()
}

func (q *repairQueue) NumFaultyTables() int {
	return q.tablesCount
}

func (q *repairQueue) pushTable(t *RepairTable) {
	if q.tablesTail == nil {
		q.tablesHead = t
	} else {
		q.tablesTail.next = t
	}
	q.tablesTail = t
	q.tablesCount++
}

func (q *repairQueue) unlinkTable(t *RepairTable) {
	var prev *RepairTable
	cur := q.tablesHead
	for cur != nil && cur != t {
		prev = cur
		cur = cur.next
	}
	if cur == nil {
		q.invariantf("unlink of table %d not in queue", t.indexAddress)
	}
	if prev == nil {
		q.tablesHead = t.next
	} else {
		prev.next = t.next
	}
	if q.tablesTail == t {
		q.tablesTail = prev
	}
	t.next = nil
	t.linked = false
	q.tablesCount--
}

// removeFaultAt removes the fault at position i, shifting the accounting
// partition and clamping the cycler's index.
func (q *repairQueue) removeFaultAt(i int) {
	if q.faults.at(i).progress.kind == progressBlock {
		q.enqueuedSingle--
	} else {
		q.enqueuedTable--
	}
	q.faults.swapRemove(i)
	if q.repairIndex >= q.faults.count() {
		q.repairIndex = 0
	}
}

// finishMutation re-checks the cheap structural invariants and refreshes
// the outstanding-fault gauges after each enqueue, repair completion and
// checkpoint commence.
func (q *repairQueue) finishMutation() {
	if q.faults.count() != q.enqueuedSingle+q.enqueuedTable {
		q.invariantf("accounting drift: %d faults != %d single + %d table",
			q.faults.count(), q.enqueuedSingle, q.enqueuedTable)
	}
	if max := q.opts.TablesMax() * int(q.schema.ContentBlocksMax()); q.enqueuedTable > max {
		q.invariantf("table faults %d exceed reservation %d", q.enqueuedTable, max)
	}
	if q.faults.count() > 0 && q.repairIndex >= q.faults.count() {
		q.invariantf("repair index %d out of bounds %d", q.repairIndex, q.faults.count())
	}
	q.metrics.faultyBlocks.Update(float64(q.faults.count()))
	q.metrics.faultyTables.Update(float64(q.tablesCount))
}

func (q *repairQueue) ensureNotCanceling(op string) {
	if q.canceling {
		q.invariantf("%s on canceled queue", op)
	}
}

func (q *repairQueue) invariantf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	instrument.EmitAndLogInvariantViolation(
		q.opts.InstrumentOptions(), func(l xlog.Logger) {
			l.Errorf("repair queue: %s", msg)
		})
	panic(fmt.Sprintf("repair queue invariant violated: %s", msg))
}
