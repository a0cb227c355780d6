package header

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// HeaderSize is the fixed size of the store header in bytes
	HeaderSize = 32
	// Magic is the signature that opens every BOM store file
	Magic = "BOMStore"
	// CurrentVersion is the file format version written by known generators
	CurrentVersion = uint32(1)
)

// ErrBadSignature is returned by CheckSignature when the file does not
// open with the BOM store magic.
var ErrBadSignature = errors.New("not a BOM store file")

// Header contains the layout metadata for a BOM store file.
//
// All fields are stored big-endian. The offsets and lengths describe the
// two metadata regions of the file: the block table region and the
// variable directory region.
type Header struct {
	// Signature identifying the file format, "BOMStore" in valid files
	Signature [8]byte
	// Version of the file format
	Version uint32
	// NumBlocks is the block count recorded by the generator. Real files
	// disagree with the block table's own count, so readers treat the
	// table count as authoritative and keep this value for reporting.
	NumBlocks uint32
	// IndexOffset is where the block table region starts
	IndexOffset uint32
	// IndexLength is the size of the block table region in bytes
	IndexLength uint32
	// VarsOffset is where the variable directory starts
	VarsOffset uint32
	// VarsLength is the size of the variable directory in bytes
	VarsLength uint32
}

// Decode parses a header from a byte slice.
//
// Only the size is validated here. The signature is carried through
// unchecked so that tools can still inspect files with a damaged or
// unexpected magic; callers that want strictness use CheckSignature.
func Decode(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("header data too small: %d bytes, expected %d",
			len(data), HeaderSize)
	}

	hdr := &Header{
		Version:     binary.BigEndian.Uint32(data[8:12]),
		NumBlocks:   binary.BigEndian.Uint32(data[12:16]),
		IndexOffset: binary.BigEndian.Uint32(data[16:20]),
		IndexLength: binary.BigEndian.Uint32(data[20:24]),
		VarsOffset:  binary.BigEndian.Uint32(data[24:28]),
		VarsLength:  binary.BigEndian.Uint32(data[28:32]),
	}
	copy(hdr.Signature[:], data[0:8])

	return hdr, nil
}

// CheckSignature verifies the header opens with the BOM store magic
func (h *Header) CheckSignature() error {
	if string(h.Signature[:]) != Magic {
		return fmt.Errorf("%w: signature %q", ErrBadSignature, h.Signature)
	}
	return nil
}
