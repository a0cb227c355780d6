package bom

import "github.com/bomkit/bomkit/pkg/stats"

// Fold walks the subtree rooted at the node held in block rootIndex and
// combines every reachable key/value pair into an accumulator, in walk
// order. Unresolvable pairs are skipped with a warning, never surfaced,
// so Fold always returns an accumulator.
//
// The key and value slices alias the store buffer and are only
// guaranteed for the duration of the callback.
func Fold[A any](b *Bom, rootIndex uint32, initial A, combine func(acc A, key, value []byte) A) A {
	b.stats.TrackOperation(stats.OpFold)

	acc := initial
	it := b.Tree(rootIndex)
	for it.SeekToFirst(); it.Valid(); it.Next() {
		acc = combine(acc, it.Key(), it.Value())
	}
	return acc
}

// FoldVariable resolves a tree shaped variable by name and folds over
// it. The only error is failing to resolve the variable's root record;
// in that case the initial accumulator comes back unchanged.
func FoldVariable[A any](b *Bom, name string, initial A, combine func(acc A, key, value []byte) A) (A, error) {
	root, err := b.TreeRoot(name)
	if err != nil {
		return initial, err
	}
	return Fold(b, root.Child, initial, combine), nil
}

// Map walks the subtree rooted at the node held in block rootIndex and
// collects the transform of every reachable pair, in walk order.
func Map[T any](b *Bom, rootIndex uint32, fn func(key, value []byte) T) []T {
	b.stats.TrackOperation(stats.OpMap)

	var out []T
	it := b.Tree(rootIndex)
	for it.SeekToFirst(); it.Valid(); it.Next() {
		out = append(out, fn(it.Key(), it.Value()))
	}
	return out
}

// MapVariable resolves a tree shaped variable by name and maps over it
func MapVariable[T any](b *Bom, name string, fn func(key, value []byte) T) ([]T, error) {
	root, err := b.TreeRoot(name)
	if err != nil {
		return nil, err
	}
	return Map(b, root.Child, fn), nil
}
