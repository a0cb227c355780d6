package bom

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/bomkit/bomkit/pkg/stats"
)

// TreeIterator walks every key/value pair reachable from a tree node,
// visiting a node's own pairs first, then its child subtree, then its
// forward sibling chain.
//
// The walk tolerates damage. Pairs whose key or value block cannot be
// resolved are skipped, and an unresolvable node drops only its subtree.
// A revisited node ends its chain instead of looping. Each incident is
// logged and counted, iteration itself never fails.
type TreeIterator struct {
	bom  *Bom
	root uint32

	// stack holds node block indices still to visit. The forward sibling
	// is pushed before the child so the child subtree pops first.
	stack   []uint32
	visited map[uint32]bool

	// pair area of the current leaf
	pairs     []byte
	pos       int
	remaining int

	key   []byte
	value []byte

	nodes     uint64
	emitted   uint64
	skipped   uint64
	walkStart time.Time

	done        bool
	initialized bool
	mu          sync.Mutex
}

// Tree returns an iterator over the subtree rooted at the node held in
// block rootIndex, typically the Child of a TreeRoot. The iterator is
// not positioned yet, callers use SeekToFirst or lean on the first Next.
func (b *Bom) Tree(rootIndex uint32) *TreeIterator {
	return &TreeIterator{
		bom:  b,
		root: rootIndex,
	}
}

// SeekToFirst positions the iterator at the first reachable pair
func (it *TreeIterator) SeekToFirst() {
	it.mu.Lock()
	defer it.mu.Unlock()

	it.seekToFirstLocked()
}

// Next advances the iterator to the next pair
func (it *TreeIterator) Next() bool {
	it.mu.Lock()
	defer it.mu.Unlock()

	if !it.initialized {
		it.seekToFirstLocked()
		return it.key != nil
	}

	return it.advance()
}

// Key returns the current key block's bytes. The slice aliases the
// store buffer and stays valid until Close.
func (it *TreeIterator) Key() []byte {
	it.mu.Lock()
	defer it.mu.Unlock()

	return it.key
}

// Value returns the current value block's bytes. The slice aliases the
// store buffer and stays valid until Close.
func (it *TreeIterator) Value() []byte {
	it.mu.Lock()
	defer it.mu.Unlock()

	return it.value
}

// Valid returns true if the iterator is positioned at a pair
func (it *TreeIterator) Valid() bool {
	it.mu.Lock()
	defer it.mu.Unlock()

	return it.initialized && it.key != nil
}

// Skipped returns the number of pairs dropped so far in this walk
func (it *TreeIterator) Skipped() uint64 {
	it.mu.Lock()
	defer it.mu.Unlock()

	return it.skipped
}

// NodesVisited returns the number of tree nodes resolved so far in
// this walk
func (it *TreeIterator) NodesVisited() uint64 {
	it.mu.Lock()
	defer it.mu.Unlock()

	return it.nodes
}

// seekToFirstLocked resets the walk state and advances to the first pair
func (it *TreeIterator) seekToFirstLocked() {
	it.stack = it.stack[:0]
	it.visited = make(map[uint32]bool)
	it.pairs = nil
	it.pos = 0
	it.remaining = 0
	it.key = nil
	it.value = nil
	it.nodes = 0
	it.emitted = 0
	it.skipped = 0
	it.done = false
	it.initialized = true

	it.walkStart = it.bom.stats.StartWalk()
	it.bom.stats.TrackOperation(stats.OpTreeWalk)

	if it.root != NullBlock {
		it.stack = append(it.stack, it.root)
	}

	it.advance()
}

// advance moves to the next resolvable pair, consuming nodes from the
// stack as leaves drain
func (it *TreeIterator) advance() bool {
	for {
		// Drain the current leaf first
		for it.remaining > 0 {
			off := it.pos
			it.pos += pairSize
			it.remaining--

			// Pairs store the value block index before the key block index
			valueIdx := binary.BigEndian.Uint32(it.pairs[off : off+4])
			keyIdx := binary.BigEndian.Uint32(it.pairs[off+4 : off+8])

			key, okKey := it.bom.BlockData(keyIdx)
			value, okValue := it.bom.BlockData(valueIdx)
			if !okKey || !okValue || len(key) == 0 || len(value) == 0 {
				it.skipped++
				it.bom.stats.TrackCorruption(stats.CorruptSkippedPair)
				it.bom.logger.Warn("skipping leaf pair with unreadable blocks: key_block=%d value_block=%d",
					keyIdx, valueIdx)
				continue
			}

			it.key = key
			it.value = value
			it.emitted++
			return true
		}

		if len(it.stack) == 0 {
			it.key = nil
			it.value = nil
			it.finishWalk()
			return false
		}

		idx := it.stack[len(it.stack)-1]
		it.stack = it.stack[:len(it.stack)-1]

		if it.visited[idx] {
			it.bom.stats.TrackCorruption(stats.CorruptWalkCycle)
			it.bom.logger.Warn("node block %d already visited, breaking cycle", idx)
			continue
		}
		it.visited[idx] = true

		blk, okBlock := it.bom.Block(idx)
		data, okData := it.bom.BlockData(idx)
		if !okBlock || !okData || len(data) < treeNodeSize {
			it.bom.stats.TrackCorruption(stats.CorruptUnresolvableNode)
			it.bom.logger.Warn("skipping unresolvable tree node at block %d", idx)
			continue
		}

		node := decodeTreeNode(data)
		it.nodes++

		if node.forward != NullBlock {
			it.stack = append(it.stack, node.forward)
		}

		if node.isLeaf != 0 {
			it.loadLeafPairs(blk, node)
			continue
		}

		// Internal nodes carry no pairs. A nonzero count means the node
		// header lies about its shape, the subtree below it is not
		// trustworthy, but the sibling chain still is.
		if node.count != 0 {
			it.bom.stats.TrackCorruption(stats.CorruptMalformedNode)
			it.bom.logger.Warn("internal node at block %d declares %d pairs, not descending",
				idx, node.count)
			continue
		}

		// The child index sits at the end of the node's block span, not
		// directly after the node header. Generators record the two
		// differently and the span end is the one they write to.
		childOff := uint64(blk.Address) + uint64(blk.Length)
		if childOff+4 > uint64(len(it.bom.data)) {
			it.bom.stats.TrackCorruption(stats.CorruptUnresolvableNode)
			it.bom.logger.Warn("child pointer of node at block %d lies outside the store", idx)
			continue
		}
		child := binary.BigEndian.Uint32(it.bom.data[childOff : childOff+4])
		if child == NullBlock {
			it.bom.logger.Debug("internal node at block %d has a null child", idx)
			continue
		}
		it.stack = append(it.stack, child)
	}
}

// loadLeafPairs exposes the pair run of a leaf node. The run begins
// right after the node header and may extend past the block's recorded
// length, so it is bounded by the store buffer instead. Declared pairs
// that fall outside the buffer are dropped and counted.
func (it *TreeIterator) loadLeafPairs(blk Block, node treeNode) {
	start := uint64(blk.Address) + treeNodeSize
	end := start + uint64(node.count)*pairSize

	if limit := uint64(len(it.bom.data)); end > limit {
		whole := (limit - start) / pairSize
		lost := uint64(node.count) - whole
		it.skipped += lost
		it.bom.stats.TrackCorruption(stats.CorruptTruncatedLeaf)
		it.bom.logger.Warn("leaf at block address %d declares %d pairs, only %d fit in the store",
			blk.Address, node.count, whole)
		end = start + whole*pairSize
	}

	it.pairs = it.bom.data[start:end]
	it.pos = 0
	it.remaining = int((end - start) / pairSize)
}

// finishWalk records the walk totals once per walk
func (it *TreeIterator) finishWalk() {
	if it.done {
		return
	}
	it.done = true
	it.bom.stats.FinishWalk(it.walkStart, it.nodes, it.emitted, it.skipped)
}
