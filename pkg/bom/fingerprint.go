package bom

import (
	"github.com/cespare/xxhash/v2"

	"github.com/bomkit/bomkit/pkg/stats"
)

// BlockDigest returns the xxhash64 fingerprint of a block's payload.
// It fails for the same indexes BlockData fails for.
func (b *Bom) BlockDigest(index uint32) (uint64, bool) {
	data, ok := b.BlockData(index)
	if !ok {
		return 0, false
	}
	b.stats.TrackOperation(stats.OpDigest)
	return xxhash.Sum64(data), true
}

// DuplicateBlocks fingerprints every resolvable block and returns the
// groups of indexes whose payloads hash identically. Zero length blocks
// and groups of one are left out. Generators deduplicate common path
// metadata, so receipts normally show a handful of groups.
func (b *Bom) DuplicateBlocks() map[uint64][]uint32 {
	b.stats.TrackOperation(stats.OpDigest)

	groups := make(map[uint64][]uint32)
	for i := range b.blocks {
		idx := uint32(i)
		data, ok := b.BlockData(idx)
		if !ok || len(data) == 0 {
			continue
		}
		digest := xxhash.Sum64(data)
		groups[digest] = append(groups[digest], idx)
	}

	for digest, indexes := range groups {
		if len(indexes) < 2 {
			delete(groups, digest)
		}
	}
	return groups
}
