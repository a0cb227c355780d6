package bom

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/bomkit/bomkit/pkg/bom/header"
)

// setHeaderField overwrites one big-endian uint32 header field in place
func setHeaderField(image []byte, offset int, v uint32) {
	binary.BigEndian.PutUint32(image[offset:offset+4], v)
}

func TestNewParsesLayout(t *testing.T) {
	sb := newStoreBuilder()
	payload := sb.addBlock([]byte("payload"))
	rootNode := sb.addLeaf(NullBlock, 0, nil)
	sb.addTreeVariable("Paths", rootNode, 0)
	sb.addVariable("BomInfo", payload)
	sb.addFree(Block{Address: 100, Length: 4})
	sb.addFree(Block{Address: 200, Length: 8})
	image := sb.build()

	b, err := New(image)
	if err != nil {
		t.Fatalf("Failed to load store: %v", err)
	}

	hdr := b.Header()
	if string(hdr.Signature[:]) != header.Magic {
		t.Errorf("Signature mismatch: got %q", hdr.Signature)
	}
	if hdr.Version != header.CurrentVersion {
		t.Errorf("Version mismatch: got %d", hdr.Version)
	}
	if err := hdr.CheckSignature(); err != nil {
		t.Errorf("Unexpected signature error: %v", err)
	}

	// Null block, payload, leaf, tree root
	if len(b.Blocks()) != 4 {
		t.Errorf("Expected 4 blocks, got %d", len(b.Blocks()))
	}
	if hdr.NumBlocks != 4 {
		t.Errorf("Expected header to declare 4 blocks, got %d", hdr.NumBlocks)
	}

	if len(b.FreeBlocks()) != 2 {
		t.Fatalf("Expected 2 free blocks, got %d", len(b.FreeBlocks()))
	}
	if b.FreeBlocks()[1] != (Block{Address: 200, Length: 8}) {
		t.Errorf("Free block mismatch: got %+v", b.FreeBlocks()[1])
	}

	vars := b.Variables()
	if len(vars) != 2 {
		t.Fatalf("Expected 2 variables, got %d", len(vars))
	}
	if vars[0].Name != "Paths" || vars[1].Name != "BomInfo" {
		t.Errorf("Variables out of directory order: %+v", vars)
	}

	if idx, ok := b.VariableIndex("BomInfo"); !ok || idx != payload {
		t.Errorf("VariableIndex(BomInfo) = %d, %v; want %d, true", idx, ok, payload)
	}
	if _, ok := b.VariableIndex("Missing"); ok {
		t.Errorf("VariableIndex returned an entry for an absent name")
	}

	if b.Size() != len(image) {
		t.Errorf("Size mismatch: got %d, want %d", b.Size(), len(image))
	}
}

func TestNewHeaderTooSmall(t *testing.T) {
	if _, err := New(make([]byte, header.HeaderSize-1)); err == nil {
		t.Fatalf("Expected error loading a short buffer, got none")
	}
}

func TestNewAcceptsForeignSignature(t *testing.T) {
	sb := newStoreBuilder()
	sb.addBlock([]byte("x"))
	image := sb.build()
	copy(image[0:8], "XXXXXXXX")

	b, err := New(image)
	if err != nil {
		t.Fatalf("Load rejected a store with unexpected magic: %v", err)
	}
	if err := b.Header().CheckSignature(); !errors.Is(err, header.ErrBadSignature) {
		t.Errorf("Expected ErrBadSignature, got %v", err)
	}
}

func TestNewBlockTableOutOfRange(t *testing.T) {
	image := buildListingStore("Paths")
	setHeaderField(image, 16, uint32(len(image)+100))

	_, err := New(image)
	if err == nil {
		t.Fatalf("Expected error for block table beyond the store, got none")
	}
	if !errors.Is(err, ErrCorruption) {
		t.Errorf("Expected ErrCorruption, got %v", err)
	}
}

func TestNewBlockTableOverrun(t *testing.T) {
	image := buildListingStore("Paths")
	indexOffset := binary.BigEndian.Uint32(image[16:20])
	// The block table count sits first in the index region
	setHeaderField(image, int(indexOffset), 1<<30)

	_, err := New(image)
	if err == nil {
		t.Fatalf("Expected error for oversized block count, got none")
	}
	if !errors.Is(err, ErrCorruption) {
		t.Errorf("Expected ErrCorruption, got %v", err)
	}
}

func TestNewFreeTableTruncated(t *testing.T) {
	image := buildListingStore("Paths")
	indexOffset := binary.BigEndian.Uint32(image[16:20])
	blockCount := binary.BigEndian.Uint32(image[indexOffset : indexOffset+4])

	// Declare the index region to end exactly after the block table,
	// leaving no room for the free table count
	setHeaderField(image, 20, 4+blockCount*blockPointerSize)

	_, err := New(image)
	if err == nil {
		t.Fatalf("Expected error for missing free table, got none")
	}
	if !errors.Is(err, ErrCorruption) {
		t.Errorf("Expected ErrCorruption, got %v", err)
	}
}

func TestNewVariableDirectoryTruncated(t *testing.T) {
	image := buildListingStore("Paths")
	setHeaderField(image, 28, 2)

	if _, err := New(image); !errors.Is(err, ErrCorruption) {
		t.Fatalf("Expected ErrCorruption for short directory, got %v", err)
	}
}

func TestNewVariableDirectoryOverrun(t *testing.T) {
	image := buildListingStore("Paths")
	varsOffset := binary.BigEndian.Uint32(image[24:28])
	setHeaderField(image, int(varsOffset), 1000)

	if _, err := New(image); !errors.Is(err, ErrCorruption) {
		t.Fatalf("Expected ErrCorruption for overrunning directory, got %v", err)
	}
}

func TestDuplicateVariableLastWins(t *testing.T) {
	sb := newStoreBuilder()
	first := sb.addBlock([]byte("first"))
	second := sb.addBlock([]byte("second"))
	sb.addVariable("Twice", first)
	sb.addVariable("Twice", second)

	b, err := New(sb.build())
	if err != nil {
		t.Fatalf("Failed to load store: %v", err)
	}

	// The directory keeps both entries, lookup resolves to the later one
	if len(b.Variables()) != 2 {
		t.Errorf("Expected both directory entries, got %d", len(b.Variables()))
	}
	data, err := b.BlockForVariable("Twice")
	if err != nil {
		t.Fatalf("BlockForVariable failed: %v", err)
	}
	if string(data) != "second" {
		t.Errorf("Expected later entry to win, got %q", data)
	}
}

func TestBlockDataBounds(t *testing.T) {
	sb := newStoreBuilder()
	payload := sb.addBlock([]byte("hello"))
	outOfRange := sb.addRawBlock(Block{Address: 1 << 30, Length: 4})
	overrun := sb.addRawBlock(Block{Address: 40, Length: 1 << 30})
	image := sb.build()

	b, err := New(image)
	if err != nil {
		t.Fatalf("Failed to load store: %v", err)
	}

	if data, ok := b.BlockData(payload); !ok || string(data) != "hello" {
		t.Errorf("BlockData(%d) = %q, %v; want \"hello\", true", payload, data, ok)
	}

	// The null block resolves to an empty payload
	if data, ok := b.BlockData(0); !ok || len(data) != 0 {
		t.Errorf("BlockData(0) = %q, %v; want empty, true", data, ok)
	}

	if _, ok := b.BlockData(outOfRange); ok {
		t.Errorf("BlockData resolved a block starting beyond the store")
	}
	if _, ok := b.BlockData(overrun); ok {
		t.Errorf("BlockData resolved a block running past the store")
	}
	if _, ok := b.BlockData(uint32(len(b.Blocks()))); ok {
		t.Errorf("BlockData resolved an index outside the table")
	}

	// No descriptor may panic, whatever it points at
	for i := range b.Blocks() {
		b.BlockData(uint32(i))
	}
}

func TestBlockForVariableErrors(t *testing.T) {
	sb := newStoreBuilder()
	bad := sb.addRawBlock(Block{Address: 1 << 30, Length: 10})
	sb.addVariable("Broken", bad)

	b, err := New(sb.build())
	if err != nil {
		t.Fatalf("Failed to load store: %v", err)
	}

	if _, err := b.BlockForVariable("Missing"); !errors.Is(err, ErrVariableNotFound) {
		t.Errorf("Expected ErrVariableNotFound, got %v", err)
	}
	if _, err := b.BlockForVariable("Broken"); !errors.Is(err, ErrCorruption) {
		t.Errorf("Expected ErrCorruption for unreadable root block, got %v", err)
	}
}

func TestOpenFile(t *testing.T) {
	image := buildListingStore("Paths")
	path := filepath.Join(t.TempDir(), "test.bom")
	if err := os.WriteFile(path, image, 0o644); err != nil {
		t.Fatalf("Failed to write fixture: %v", err)
	}

	b, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer b.Close()

	if _, ok := b.VariableIndex("Paths"); !ok {
		t.Errorf("Expected Paths variable after Open")
	}
}

func TestOpenMissingFile(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "absent.bom")); err == nil {
		t.Fatalf("Expected error opening a missing file, got none")
	}
}

func TestOpenGzip(t *testing.T) {
	image := buildListingStore("Paths")

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(image); err != nil {
		t.Fatalf("Failed to compress fixture: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("Failed to close gzip writer: %v", err)
	}

	path := filepath.Join(t.TempDir(), "test.bom.gz")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("Failed to write fixture: %v", err)
	}

	b, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed on gzip payload: %v", err)
	}
	defer b.Close()

	if b.Size() != len(image) {
		t.Errorf("Decompressed size mismatch: got %d, want %d", b.Size(), len(image))
	}
}

func TestOpenZstd(t *testing.T) {
	image := buildListingStore("Paths")

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("Failed to create zstd encoder: %v", err)
	}
	compressed := enc.EncodeAll(image, nil)
	enc.Close()

	path := filepath.Join(t.TempDir(), "test.bom.zst")
	if err := os.WriteFile(path, compressed, 0o644); err != nil {
		t.Fatalf("Failed to write fixture: %v", err)
	}

	b, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed on zstd payload: %v", err)
	}
	defer b.Close()

	if b.Size() != len(image) {
		t.Errorf("Decompressed size mismatch: got %d, want %d", b.Size(), len(image))
	}
}

func TestOpenCorruptCompressedStream(t *testing.T) {
	// A gzip magic followed by garbage must fail the load, not parse
	payload := append([]byte{0x1f, 0x8b}, bytes.Repeat([]byte{0xff}, 64)...)
	path := filepath.Join(t.TempDir(), "broken.bom.gz")
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		t.Fatalf("Failed to write fixture: %v", err)
	}

	if _, err := Open(path); err == nil {
		t.Fatalf("Expected error for corrupt gzip stream, got none")
	}
}

func TestOpenMapped(t *testing.T) {
	image := buildListingStore("Paths")
	path := filepath.Join(t.TempDir(), "test.bom")
	if err := os.WriteFile(path, image, 0o644); err != nil {
		t.Fatalf("Failed to write fixture: %v", err)
	}

	b, err := OpenMapped(path)
	if err != nil {
		t.Fatalf("OpenMapped failed: %v", err)
	}

	if b.Size() != len(image) {
		t.Errorf("Mapped size mismatch: got %d, want %d", b.Size(), len(image))
	}

	count, err := FoldVariable(b, "Paths", 0, func(acc int, key, value []byte) int {
		return acc + 1
	})
	if err != nil {
		t.Fatalf("FoldVariable failed on mapped store: %v", err)
	}
	if count != 25 {
		t.Errorf("Expected 25 pairs from mapped store, got %d", count)
	}

	if err := b.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestOpenMappedCompressed(t *testing.T) {
	image := buildListingStore("Paths")

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write(image)
	zw.Close()

	path := filepath.Join(t.TempDir(), "test.bom.gz")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("Failed to write fixture: %v", err)
	}

	// Compressed content degrades to the read path
	b, err := OpenMapped(path)
	if err != nil {
		t.Fatalf("OpenMapped failed on compressed payload: %v", err)
	}
	defer b.Close()

	if b.Size() != len(image) {
		t.Errorf("Decompressed size mismatch: got %d, want %d", b.Size(), len(image))
	}
}

func TestCloseInvalidates(t *testing.T) {
	b, err := New(buildListingStore("Paths"))
	if err != nil {
		t.Fatalf("Failed to load store: %v", err)
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, ok := b.BlockData(1); ok {
		t.Errorf("BlockData resolved a block after Close")
	}
	if _, ok := b.Block(0); ok {
		t.Errorf("Block returned a descriptor after Close")
	}

	// Closing twice is harmless
	if err := b.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}
}
