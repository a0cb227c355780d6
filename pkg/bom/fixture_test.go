package bom

import (
	"encoding/binary"
	"fmt"

	"github.com/bomkit/bomkit/pkg/bom/header"
)

// storeBuilder assembles a store image in memory for tests. Block
// payloads are appended after the header, the metadata regions and the
// header fields are written by build.
type storeBuilder struct {
	buf    []byte
	blocks []Block
	free   []Block
	vars   []Variable
}

func newStoreBuilder() *storeBuilder {
	sb := &storeBuilder{
		buf: make([]byte, header.HeaderSize),
	}
	// Block 0 is the reserved null block
	sb.blocks = append(sb.blocks, Block{})
	return sb
}

// addBlock appends data to the image and registers it as the next block
func (sb *storeBuilder) addBlock(data []byte) uint32 {
	return sb.addBlockSpan(data, uint32(len(data)))
}

// addBlockSpan appends data but registers a descriptor covering only the
// first length bytes. Internal tree nodes rely on this, their child
// index is stored right past the descriptor's span.
func (sb *storeBuilder) addBlockSpan(data []byte, length uint32) uint32 {
	addr := uint32(len(sb.buf))
	sb.buf = append(sb.buf, data...)
	sb.blocks = append(sb.blocks, Block{Address: addr, Length: length})
	return uint32(len(sb.blocks) - 1)
}

// addRawBlock registers a descriptor without appending any bytes
func (sb *storeBuilder) addRawBlock(blk Block) uint32 {
	sb.blocks = append(sb.blocks, blk)
	return uint32(len(sb.blocks) - 1)
}

func (sb *storeBuilder) addFree(blk Block) {
	sb.free = append(sb.free, blk)
}

func (sb *storeBuilder) addVariable(name string, index uint32) {
	sb.vars = append(sb.vars, Variable{Index: index, Name: name})
}

// leafNodeBytes encodes a leaf node holding value/key index pairs
func leafNodeBytes(forward, backward uint32, pairs [][2]uint32) []byte {
	data := make([]byte, treeNodeSize+len(pairs)*pairSize)
	binary.BigEndian.PutUint16(data[0:2], 1)
	binary.BigEndian.PutUint16(data[2:4], uint16(len(pairs)))
	binary.BigEndian.PutUint32(data[4:8], forward)
	binary.BigEndian.PutUint32(data[8:12], backward)
	for i, p := range pairs {
		off := treeNodeSize + i*pairSize
		binary.BigEndian.PutUint32(data[off:off+4], p[0])   // value block index
		binary.BigEndian.PutUint32(data[off+4:off+8], p[1]) // key block index
	}
	return data
}

// addLeaf appends a leaf node block. Pairs are given value index first.
func (sb *storeBuilder) addLeaf(forward, backward uint32, pairs [][2]uint32) uint32 {
	return sb.addBlock(leafNodeBytes(forward, backward, pairs))
}

// addInternal appends an internal node block whose span covers the node
// header plus pad filler bytes. The child index goes right after the
// span, where walkers must pick it up.
func (sb *storeBuilder) addInternal(forward, backward, child uint32, pad int) uint32 {
	data := make([]byte, treeNodeSize+pad+4)
	binary.BigEndian.PutUint32(data[4:8], forward)
	binary.BigEndian.PutUint32(data[8:12], backward)
	binary.BigEndian.PutUint32(data[treeNodeSize+pad:], child)
	return sb.addBlockSpan(data, uint32(treeNodeSize+pad))
}

// addInternalWithCount appends an internal node claiming pair slots it
// must not have
func (sb *storeBuilder) addInternalWithCount(forward, backward, child uint32, count uint16) uint32 {
	data := make([]byte, treeNodeSize+4)
	binary.BigEndian.PutUint16(data[2:4], count)
	binary.BigEndian.PutUint32(data[4:8], forward)
	binary.BigEndian.PutUint32(data[8:12], backward)
	binary.BigEndian.PutUint32(data[treeNodeSize:], child)
	return sb.addBlockSpan(data, treeNodeSize)
}

// addTreeRoot appends a tree root record block
func (sb *storeBuilder) addTreeRoot(child, pathCount uint32) uint32 {
	data := make([]byte, treeRootSize)
	copy(data[0:4], "tree")
	binary.BigEndian.PutUint32(data[4:8], 1)
	binary.BigEndian.PutUint32(data[8:12], child)
	binary.BigEndian.PutUint32(data[12:16], 4096)
	binary.BigEndian.PutUint32(data[16:20], pathCount)
	return sb.addBlock(data)
}

// addTreeVariable appends a root record and a directory entry for it
func (sb *storeBuilder) addTreeVariable(name string, child, pathCount uint32) uint32 {
	idx := sb.addTreeRoot(child, pathCount)
	sb.addVariable(name, idx)
	return idx
}

// build writes both metadata regions and the header, returning the image
func (sb *storeBuilder) build() []byte {
	indexOffset := uint32(len(sb.buf))
	sb.buf = appendPointerTable(sb.buf, sb.blocks)
	sb.buf = appendPointerTable(sb.buf, sb.free)
	indexLength := uint32(len(sb.buf)) - indexOffset

	varsOffset := uint32(len(sb.buf))
	sb.buf = appendUint32(sb.buf, uint32(len(sb.vars)))
	for _, v := range sb.vars {
		sb.buf = appendUint32(sb.buf, v.Index)
		sb.buf = append(sb.buf, byte(len(v.Name)))
		sb.buf = append(sb.buf, v.Name...)
	}
	varsLength := uint32(len(sb.buf)) - varsOffset

	copy(sb.buf[0:8], header.Magic)
	binary.BigEndian.PutUint32(sb.buf[8:12], header.CurrentVersion)
	binary.BigEndian.PutUint32(sb.buf[12:16], uint32(len(sb.blocks)))
	binary.BigEndian.PutUint32(sb.buf[16:20], indexOffset)
	binary.BigEndian.PutUint32(sb.buf[20:24], indexLength)
	binary.BigEndian.PutUint32(sb.buf[24:28], varsOffset)
	binary.BigEndian.PutUint32(sb.buf[28:32], varsLength)

	return sb.buf
}

func appendPointerTable(buf []byte, blocks []Block) []byte {
	buf = appendUint32(buf, uint32(len(blocks)))
	for _, blk := range blocks {
		buf = appendUint32(buf, blk.Address)
		buf = appendUint32(buf, blk.Length)
	}
	return buf
}

func appendUint32(buf []byte, v uint32) []byte {
	var scratch [4]byte
	binary.BigEndian.PutUint32(scratch[:], v)
	return append(buf, scratch[:]...)
}

// buildListingStore builds the canonical test image: a "Paths" style
// tree of 25 pairs spread over three chained leaves below one internal
// node. Keys are "key-00" through "key-24" in walk order, values carry
// the pair number as a big-endian uint32.
func buildListingStore(variable string) []byte {
	sb := newStoreBuilder()

	var keys, values [25]uint32
	for i := 0; i < 25; i++ {
		keys[i] = sb.addBlock([]byte(fmt.Sprintf("key-%02d", i)))
		values[i] = sb.addBlock(appendUint32(nil, uint32(i)))
	}

	pairRange := func(lo, hi int) [][2]uint32 {
		var pairs [][2]uint32
		for i := lo; i < hi; i++ {
			pairs = append(pairs, [2]uint32{values[i], keys[i]})
		}
		return pairs
	}

	// Leaves are laid down right to left so forward links resolve
	leaf3 := sb.addLeaf(NullBlock, 0, pairRange(18, 25))
	leaf2 := sb.addLeaf(leaf3, 0, pairRange(10, 18))
	leaf1 := sb.addLeaf(leaf2, 0, pairRange(0, 10))
	rootNode := sb.addInternal(NullBlock, 0, leaf1, 4)

	sb.addTreeVariable(variable, rootNode, 25)
	sb.addFree(Block{Address: 0, Length: 0})

	return sb.build()
}
