// Package paths decodes the file listing carried by a store's path tree
// into full path entries, the view lsbom style tools print.
package paths

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"

	"github.com/bomkit/bomkit/pkg/bom"
	"github.com/bomkit/bomkit/pkg/common/log"
	"github.com/bomkit/bomkit/pkg/stats"
)

const (
	// PathsVariable is the conventional name of the listing tree
	PathsVariable = "Paths"

	// keyHeaderSize is the parent id prefix before the name bytes
	keyHeaderSize = 4
	// valueSize is the encoded size of a listing value, id plus the
	// index of the metadata block
	valueSize = 8
	// fileInfoSize is the encoded size of a metadata record
	fileInfoSize = 27
)

// Entry kinds as recorded in the metadata block
const (
	KindFile      uint8 = 1
	KindDirectory uint8 = 2
	KindLink      uint8 = 3
	KindDevice    uint8 = 4
)

// FileInfo is the decoded metadata record of one listed path
type FileInfo struct {
	Kind         uint8
	Architecture uint16
	Mode         uint16
	UID          uint32
	GID          uint32
	ModTime      uint32
	Size         uint32
	Checksum     uint32
}

// DecodeFileInfo parses a metadata record. The two filler bytes inside
// the record are skipped.
func DecodeFileInfo(data []byte) (FileInfo, error) {
	if len(data) < fileInfoSize {
		return FileInfo{}, fmt.Errorf("file info record too small: %d bytes, expected %d",
			len(data), fileInfoSize)
	}

	return FileInfo{
		Kind:         data[0],
		Architecture: binary.BigEndian.Uint16(data[2:4]),
		Mode:         binary.BigEndian.Uint16(data[4:6]),
		UID:          binary.BigEndian.Uint32(data[6:10]),
		GID:          binary.BigEndian.Uint32(data[10:14]),
		ModTime:      binary.BigEndian.Uint32(data[14:18]),
		Size:         binary.BigEndian.Uint32(data[18:22]),
		Checksum:     binary.BigEndian.Uint32(data[23:27]),
	}, nil
}

// Entry is one listed path with its assembled location
type Entry struct {
	// ID of the entry inside the listing
	ID uint32
	// Parent entry id, zero for roots
	Parent uint32
	// Name is the entry's own path component
	Name string
	// Path is the full path assembled through the parent chain
	Path string
	// Info is the decoded metadata record
	Info FileInfo
}

// List decodes the conventional listing variable into sorted entries
func List(b *bom.Bom) ([]Entry, error) {
	return ListVariable(b, PathsVariable)
}

// ListVariable decodes a listing tree by variable name.
//
// Records that do not decode are dropped with a warning, the rest of
// the listing still comes back. Entries whose parent chain is broken
// keep the partial path assembled up to the break, and a chain that
// loops is cut at the revisit. The result is sorted by path.
func ListVariable(b *bom.Bom, variable string) ([]Entry, error) {
	logger := b.Logger()
	collector := b.Stats()

	entries, err := bom.FoldVariable(b, variable, map[uint32]Entry{},
		func(acc map[uint32]Entry, key, value []byte) map[uint32]Entry {
			if len(key) < keyHeaderSize+1 || len(value) < valueSize {
				collector.TrackCorruption(stats.CorruptBadPathRecord)
				logger.Warn("dropping malformed listing record: key=%d bytes value=%d bytes",
					len(key), len(value))
				return acc
			}

			id := binary.BigEndian.Uint32(value[0:4])
			infoIndex := binary.BigEndian.Uint32(value[4:8])
			parent := binary.BigEndian.Uint32(key[0:4])
			name := strings.TrimRight(string(key[keyHeaderSize:]), "\x00")

			infoData, ok := b.BlockData(infoIndex)
			if !ok {
				collector.TrackCorruption(stats.CorruptBadPathRecord)
				logger.Warn("dropping entry %q: metadata block %d unreadable", name, infoIndex)
				return acc
			}
			info, err := DecodeFileInfo(infoData)
			if err != nil {
				collector.TrackCorruption(stats.CorruptBadPathRecord)
				logger.Warn("dropping entry %q: %v", name, err)
				return acc
			}

			acc[id] = Entry{
				ID:     id,
				Parent: parent,
				Name:   name,
				Info:   info,
			}
			return acc
		})
	if err != nil {
		return nil, err
	}

	out := make([]Entry, 0, len(entries))
	for id, entry := range entries {
		entry.Path = assemblePath(entries, id, logger, collector)
		out = append(out, entry)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Path < out[j].Path
	})

	collector.TrackOperation(stats.OpListPaths)
	return out, nil
}

// assemblePath prepends parent names until the chain runs out. A parent
// id with no entry ends the chain, a revisited id means the chain loops
// and is cut there.
func assemblePath(entries map[uint32]Entry, id uint32, logger log.Logger, collector stats.Collector) string {
	entry := entries[id]
	path := entry.Name

	seen := map[uint32]bool{id: true}
	parent := entry.Parent
	for {
		p, ok := entries[parent]
		if !ok {
			break
		}
		if seen[parent] {
			collector.TrackCorruption(stats.CorruptWalkCycle)
			logger.Warn("parent chain of entry %d loops at %d, cutting path", id, parent)
			break
		}
		seen[parent] = true
		path = p.Name + "/" + path
		parent = p.Parent
	}

	return path
}

// FormatEntry renders one listing line: path, octal mode and owner,
// plus size and checksum for plain files
func FormatEntry(e Entry) string {
	if e.Info.Kind == KindFile {
		return fmt.Sprintf("%s\t%o\t%d/%d\t%d\t%d",
			e.Path, e.Info.Mode, e.Info.UID, e.Info.GID, e.Info.Size, e.Info.Checksum)
	}
	return fmt.Sprintf("%s\t%o\t%d/%d", e.Path, e.Info.Mode, e.Info.UID, e.Info.GID)
}
