package bom

import (
	"encoding/binary"
	"fmt"
)

const (
	// treeRootSize is the encoded size of a tree root record
	treeRootSize = 21
	// treeNodeSize is the fixed header size shared by leaf and internal nodes
	treeNodeSize = 12
	// pairSize is the encoded size of one leaf key/value pair
	pairSize = 8
)

// TreeRoot is the root record of a tree shaped variable. Child is the
// block index of the topmost node, the entry point for walks.
type TreeRoot struct {
	// Tag carried by the record, "tree" in files from known generators.
	// It is not validated, stores in the wild carry variants.
	Tag [4]byte
	// Version of the tree layout
	Version uint32
	// Child is the block index of the topmost node
	Child uint32
	// BlockSize the generator used when laying out nodes
	BlockSize uint32
	// PathCount is the number of pairs the generator recorded
	PathCount uint32
}

// decodeTreeRoot parses a tree root record. The single reserved byte
// after PathCount is required to be present but carries nothing.
func decodeTreeRoot(data []byte) (*TreeRoot, error) {
	if len(data) < treeRootSize {
		return nil, fmt.Errorf("tree root record too small: %d bytes, expected %d: %w",
			len(data), treeRootSize, ErrCorruption)
	}

	root := &TreeRoot{
		Version:   binary.BigEndian.Uint32(data[4:8]),
		Child:     binary.BigEndian.Uint32(data[8:12]),
		BlockSize: binary.BigEndian.Uint32(data[12:16]),
		PathCount: binary.BigEndian.Uint32(data[16:20]),
	}
	copy(root.Tag[:], data[0:4])

	return root, nil
}

// TreeRoot resolves a variable name to its decoded tree root record
func (b *Bom) TreeRoot(name string) (*TreeRoot, error) {
	data, err := b.BlockForVariable(name)
	if err != nil {
		return nil, err
	}

	root, err := decodeTreeRoot(data)
	if err != nil {
		return nil, fmt.Errorf("variable %q: %w", name, err)
	}
	return root, nil
}

// treeNode is the fixed header at the start of every tree node block
type treeNode struct {
	isLeaf   uint16
	count    uint16
	forward  uint32
	backward uint32
}

// decodeTreeNode parses a node header. Callers guarantee at least
// treeNodeSize bytes.
func decodeTreeNode(data []byte) treeNode {
	return treeNode{
		isLeaf:   binary.BigEndian.Uint16(data[0:2]),
		count:    binary.BigEndian.Uint16(data[2:4]),
		forward:  binary.BigEndian.Uint32(data[4:8]),
		backward: binary.BigEndian.Uint32(data[8:12]),
	}
}
