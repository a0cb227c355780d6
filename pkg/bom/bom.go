// Package bom reads the binary "Bill of Materials" container format used
// by macOS installer receipts and asset catalogs.
//
// A store is a single buffer addressed through a block table: every record
// in the file, from tree nodes down to path metadata, lives in a numbered
// block, and named variables point at the block holding their root record.
// The package loads the three metadata regions eagerly and resolves
// everything else lazily. Damaged stores degrade to partial output
// instead of failures.
package bom

import "errors"

const (
	// blockPointerSize is the encoded size of one block table entry
	blockPointerSize = 8
	// NullBlock is the index of the reserved empty block. Tree links use
	// it to mean "no node".
	NullBlock = uint32(0)
)

var (
	// ErrVariableNotFound indicates the named variable is absent from the directory
	ErrVariableNotFound = errors.New("variable not found in bom")
	// ErrCorruption indicates structural corruption was detected
	ErrCorruption = errors.New("bom corruption detected")
)

// Block locates one record inside the store buffer.
type Block struct {
	// Address is the byte offset of the record
	Address uint32
	// Length is the record size in bytes
	Length uint32
}

// Variable is a named entry in the variable directory pointing at the
// block that holds the variable's root record.
type Variable struct {
	// Index of the block holding the root record
	Index uint32
	// Name as stored in the directory
	Name string
}
