package bom

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/bomkit/bomkit/pkg/bom/header"
	"github.com/bomkit/bomkit/pkg/common/log"
	"github.com/bomkit/bomkit/pkg/stats"
)

// errMmapUnsupported is returned by mmapFile on platforms without a
// usable mapping primitive. OpenMapped falls back to a plain read.
var errMmapUnsupported = errors.New("memory mapping not supported on this platform")

// Bom is a loaded store. All reads resolve against the single backing
// buffer, so a Bom is safe for concurrent readers once constructed.
// Close invalidates every slice previously handed out.
type Bom struct {
	data   []byte
	header *header.Header
	blocks []Block
	free   []Block
	vars   []Variable
	varIdx map[string]uint32

	logger log.Logger
	stats  stats.Collector

	// unmap releases the backing mapping, set only by OpenMapped
	unmap func() error
}

// Option configures a Bom during construction
type Option func(*Bom)

// WithLogger sets the logger used for corruption warnings
func WithLogger(logger log.Logger) Option {
	return func(b *Bom) {
		b.logger = logger
	}
}

// WithStats sets the statistics collector
func WithStats(collector stats.Collector) Option {
	return func(b *Bom) {
		b.stats = collector
	}
}

// New constructs a store from an uncompressed buffer already in memory.
//
// The header and both metadata regions are parsed up front; any failure
// there fails the load. The signature is not checked so that tools can
// inspect files with damaged magic, use Header().CheckSignature for
// strictness.
func New(data []byte, opts ...Option) (*Bom, error) {
	b := &Bom{
		data:   data,
		logger: log.GetDefaultLogger(),
		stats:  stats.NewAtomicCollector(),
	}
	for _, opt := range opts {
		opt(b)
	}

	hdr, err := header.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode header: %w", err)
	}
	b.header = hdr

	blocks, free, err := parseBlockTable(data, hdr)
	if err != nil {
		return nil, err
	}
	b.blocks = blocks
	b.free = free

	vars, err := parseVariables(data, hdr)
	if err != nil {
		return nil, err
	}
	b.vars = vars

	// Later duplicates shadow earlier ones during lookup, matching the
	// directory scan order of the generator tools.
	b.varIdx = make(map[string]uint32, len(vars))
	for _, v := range vars {
		b.varIdx[v.Name] = v.Index
	}

	b.stats.TrackOperation(stats.OpOpen)
	b.logger.Debug("loaded bom store: version=%d blocks=%d free=%d variables=%d size=%d",
		hdr.Version, len(blocks), len(free), len(vars), len(data))

	return b, nil
}

// Open reads and loads the store at path. Files compressed with gzip or
// zstd are decompressed transparently.
func Open(path string, opts ...Option) (*Bom, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	data, err := maybeDecompress(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress %s: %w", path, err)
	}

	b, err := New(data, opts...)
	if err != nil {
		return nil, err
	}
	b.stats.TrackBytesRead(uint64(len(raw)))
	return b, nil
}

// OpenMapped loads the store at path through a read-only memory mapping,
// avoiding a heap copy for large receipts. On platforms without mapping
// support, and for compressed files, it degrades to Open.
func OpenMapped(path string, opts ...Option) (*Bom, error) {
	data, unmap, err := mmapFile(path)
	if errors.Is(err, errMmapUnsupported) {
		return Open(path, opts...)
	}
	if err != nil {
		return nil, err
	}

	if isCompressed(data) {
		// Decompression needs a private buffer anyway
		unmap()
		return Open(path, opts...)
	}

	b, err := New(data, opts...)
	if err != nil {
		unmap()
		return nil, err
	}
	b.unmap = unmap
	return b, nil
}

// Close releases the backing buffer. The Bom and every key, value or
// block slice obtained from it must not be used afterwards.
func (b *Bom) Close() error {
	if b.data == nil {
		return nil
	}
	b.data = nil
	b.blocks = nil
	b.free = nil
	b.stats.TrackOperation(stats.OpClose)

	if b.unmap != nil {
		unmap := b.unmap
		b.unmap = nil
		return unmap()
	}
	return nil
}

// Header returns the decoded store header
func (b *Bom) Header() *header.Header {
	return b.header
}

// Blocks returns the block table in file order. Index 0 is the reserved
// null block in well formed stores.
func (b *Bom) Blocks() []Block {
	return b.blocks
}

// FreeBlocks returns the free list table in file order
func (b *Bom) FreeBlocks() []Block {
	return b.free
}

// Variables returns the variable directory in file order, including any
// duplicate names
func (b *Bom) Variables() []Variable {
	return b.vars
}

// VariableIndex looks up the block index a variable points at
func (b *Bom) VariableIndex(name string) (uint32, bool) {
	idx, ok := b.varIdx[name]
	return idx, ok
}

// Size returns the size of the backing buffer in bytes
func (b *Bom) Size() int {
	return len(b.data)
}

// Logger returns the logger corruption warnings go to
func (b *Bom) Logger() log.Logger {
	return b.logger
}

// Stats returns the statistics collector observing this store
func (b *Bom) Stats() stats.Collector {
	return b.stats
}

// Block returns the descriptor for a block table index
func (b *Bom) Block(index uint32) (Block, bool) {
	if int(index) >= len(b.blocks) {
		return Block{}, false
	}
	return b.blocks[index], true
}

// BlockData resolves a block index to its bytes in the backing buffer.
//
// The slice aliases the buffer and stays valid until Close. Resolution
// fails, without panicking, for indexes outside the table and for
// descriptors whose span leaves the buffer.
func (b *Bom) BlockData(index uint32) ([]byte, bool) {
	blk, ok := b.Block(index)
	if !ok {
		return nil, false
	}
	end := uint64(blk.Address) + uint64(blk.Length)
	if end > uint64(len(b.data)) {
		return nil, false
	}
	b.stats.TrackOperation(stats.OpBlockRead)
	return b.data[blk.Address:end], true
}

// BlockForVariable resolves a variable name to the bytes of its root
// record block.
func (b *Bom) BlockForVariable(name string) ([]byte, error) {
	idx, ok := b.varIdx[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrVariableNotFound, name)
	}
	data, ok := b.BlockData(idx)
	if !ok {
		return nil, fmt.Errorf("variable %q points at unreadable block %d: %w",
			name, idx, ErrCorruption)
	}
	return data, nil
}

// parseBlockTable reads the block table and the free list table that
// follows it. Both live inside the index region declared by the header;
// a table that overruns its region fails the load.
func parseBlockTable(data []byte, hdr *header.Header) ([]Block, []Block, error) {
	region, err := sliceRegion(data, hdr.IndexOffset, hdr.IndexLength)
	if err != nil {
		return nil, nil, fmt.Errorf("block table region: %w", err)
	}

	blocks, rest, err := parsePointerTable(region)
	if err != nil {
		return nil, nil, fmt.Errorf("block table: %w", err)
	}

	free, _, err := parsePointerTable(rest)
	if err != nil {
		return nil, nil, fmt.Errorf("free block table: %w", err)
	}

	return blocks, free, nil
}

// parsePointerTable reads one count-prefixed run of address/length pairs
// and returns the remainder of the region.
func parsePointerTable(region []byte) ([]Block, []byte, error) {
	if len(region) < 4 {
		return nil, nil, fmt.Errorf("truncated count (%d bytes left): %w",
			len(region), ErrCorruption)
	}
	count := binary.BigEndian.Uint32(region[0:4])

	need := uint64(4) + uint64(count)*blockPointerSize
	if need > uint64(len(region)) {
		return nil, nil, fmt.Errorf("%d entries overrun region of %d bytes: %w",
			count, len(region), ErrCorruption)
	}

	blocks := make([]Block, count)
	for i := range blocks {
		off := 4 + i*blockPointerSize
		blocks[i] = Block{
			Address: binary.BigEndian.Uint32(region[off : off+4]),
			Length:  binary.BigEndian.Uint32(region[off+4 : off+8]),
		}
	}

	return blocks, region[need:], nil
}

// parseVariables reads the variable directory region
func parseVariables(data []byte, hdr *header.Header) ([]Variable, error) {
	region, err := sliceRegion(data, hdr.VarsOffset, hdr.VarsLength)
	if err != nil {
		return nil, fmt.Errorf("variable directory region: %w", err)
	}
	if len(region) < 4 {
		return nil, fmt.Errorf("variable directory truncated (%d bytes): %w",
			len(region), ErrCorruption)
	}

	count := binary.BigEndian.Uint32(region[0:4])
	pos := 4

	vars := make([]Variable, 0, count)
	for i := uint32(0); i < count; i++ {
		if pos+5 > len(region) {
			return nil, fmt.Errorf("variable %d overruns directory: %w", i, ErrCorruption)
		}
		index := binary.BigEndian.Uint32(region[pos : pos+4])
		nameLen := int(region[pos+4])
		pos += 5

		if pos+nameLen > len(region) {
			return nil, fmt.Errorf("variable %d name overruns directory: %w", i, ErrCorruption)
		}
		name := string(region[pos : pos+nameLen])
		pos += nameLen

		vars = append(vars, Variable{Index: index, Name: name})
	}

	return vars, nil
}

// sliceRegion bounds a declared region against the backing buffer. The
// declared length is clamped to the buffer end, files in the wild
// declare generous region lengths.
func sliceRegion(data []byte, offset, length uint32) ([]byte, error) {
	start := uint64(offset)
	if start > uint64(len(data)) {
		return nil, fmt.Errorf("offset %d beyond %d byte store: %w",
			offset, len(data), ErrCorruption)
	}
	end := start + uint64(length)
	if end > uint64(len(data)) {
		end = uint64(len(data))
	}
	return data[start:end], nil
}
