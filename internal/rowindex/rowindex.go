// Package rowindex implements the sorted row index: for each (partition,
// segment) key, an ordered mapping from row key to the Locator of where
// that row currently lives. The index is rewritten whenever the memtable
// re-hydrates a partial chunk, so lookups always resolve to the row's
// current location, never a stale one.
//
// The index keeps one sorted []entry per (partition, segment) bucket and
// uses slices.BinarySearchFunc for point and range lookups, rather than an
// external ordered-map/tree library.
package rowindex

import (
	"slices"
	"sync"

	"github.com/helena/filodb/internal/chunkstore"
)

// Locator packs a chunk id and an in-chunk row offset into one 64-bit
// value: the high 32 bits hold the chunk id, the low 32 bits the offset.
// This matches the wire-level packed Locator that package memtable and
// other callers outside this package exchange; chunkstore.ChunkID stays a
// uint32 so the pack never loses precision.
type Locator uint64

// NewLocator packs id and rowOffset into a Locator.
func NewLocator(id chunkstore.ChunkID, rowOffset uint32) Locator {
	return Locator(uint64(id)<<32 | uint64(rowOffset))
}

// ChunkID returns the chunk id packed into the Locator.
func (l Locator) ChunkID() chunkstore.ChunkID { return chunkstore.ChunkID(uint64(l) >> 32) }

// RowOffset returns the in-chunk row offset packed into the Locator.
func (l Locator) RowOffset() uint32 { return uint32(uint64(l)) }

type bucketKey[P, S comparable] struct {
	partition P
	segment   S
}

type entry[R comparable] struct {
	key R
	loc Locator
}

// Index is the sorted row index for one Projection's (P, S, R) key types.
// Safe for concurrent use.
type Index[P, S, R comparable] struct {
	mu          sync.RWMutex
	comparePart func(a, b P) int
	compareSeg  func(a, b S) int
	compareRow  func(a, b R) int
	buckets     map[bucketKey[P, S]]*[]entry[R]
	// order lists every (partition, segment) bucket that has ever received
	// an Insert, in first-seen order; ScanAll copies and sorts it rather
	// than ranging over buckets directly, since Go map iteration order is
	// not deterministic.
	order []bucketKey[P, S]
}

// New constructs an Index using the given total-order comparators.
func New[P, S, R comparable](comparePartition func(a, b P) int, compareSegment func(a, b S) int, compareRow func(a, b R) int) *Index[P, S, R] {
	return &Index[P, S, R]{
		comparePart: comparePartition,
		compareSeg:  compareSegment,
		compareRow:  compareRow,
		buckets:     make(map[bucketKey[P, S]]*[]entry[R]),
	}
}

// Insert records that rowKey's row now lives at loc. If rowKey already has
// an entry in (partition, segment), the entry's Locator is overwritten
// (last writer wins); Insert is idempotent when called again with the same
// (partition, segment, rowKey, loc).
func (idx *Index[P, S, R]) Insert(partition P, segment S, rowKey R, loc Locator) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	key := bucketKey[P, S]{partition, segment}
	bucket, ok := idx.buckets[key]
	if !ok {
		bucket = &[]entry[R]{}
		idx.buckets[key] = bucket
		idx.order = append(idx.order, key)
	}

	pos, found := slices.BinarySearchFunc(*bucket, rowKey, func(e entry[R], target R) int {
		return idx.compareRow(e.key, target)
	})
	if found {
		(*bucket)[pos].loc = loc
		return
	}
	*bucket = slices.Insert(*bucket, pos, entry[R]{key: rowKey, loc: loc})
}

// Lookup returns the Locator currently recorded for rowKey in (partition,
// segment), if any.
func (idx *Index[P, S, R]) Lookup(partition P, segment S, rowKey R) (Locator, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	bucket, ok := idx.buckets[bucketKey[P, S]{partition, segment}]
	if !ok {
		return 0, false
	}
	pos, found := slices.BinarySearchFunc(*bucket, rowKey, func(e entry[R], target R) int {
		return idx.compareRow(e.key, target)
	})
	if !found {
		return 0, false
	}
	return (*bucket)[pos].loc, true
}

// LookupRange returns, in row-key order, every entry in (partition,
// segment) whose row key falls within [lo, hi] inclusive. Unlike Lookup,
// which returns only a Locator, LookupRange carries the row key of each
// match so a caller (package memtable's ranged read path) can report it
// alongside the decoded row without a second index lookup.
func (idx *Index[P, S, R]) LookupRange(partition P, segment S, lo, hi R) []ScanEntry[P, S, R] {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	bucket, ok := idx.buckets[bucketKey[P, S]{partition, segment}]
	if !ok {
		return nil
	}
	start, _ := slices.BinarySearchFunc(*bucket, lo, func(e entry[R], target R) int {
		return idx.compareRow(e.key, target)
	})
	end, endFound := slices.BinarySearchFunc(*bucket, hi, func(e entry[R], target R) int {
		return idx.compareRow(e.key, target)
	})
	if endFound {
		end++
	}
	if start >= end {
		return nil
	}
	out := make([]ScanEntry[P, S, R], 0, end-start)
	for _, e := range (*bucket)[start:end] {
		out = append(out, ScanEntry[P, S, R]{Partition: partition, Segment: segment, RowKey: e.key, Locator: e.loc})
	}
	return out
}

// Bucket returns every entry for exactly (partition, segment), in row-key
// order.
func (idx *Index[P, S, R]) Bucket(partition P, segment S) []ScanEntry[P, S, R] {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	bucket, ok := idx.buckets[bucketKey[P, S]{partition, segment}]
	if !ok {
		return nil
	}
	out := make([]ScanEntry[P, S, R], 0, len(*bucket))
	for _, e := range *bucket {
		out = append(out, ScanEntry[P, S, R]{Partition: partition, Segment: segment, RowKey: e.key, Locator: e.loc})
	}
	return out
}

// ScanEntry is one (partition, segment, row key, Locator) tuple returned by
// ScanAll.
type ScanEntry[P, S, R comparable] struct {
	Partition P
	Segment   S
	RowKey    R
	Locator   Locator
}

// ScanAll returns every entry in the index, ordered lexicographically by
// (partition, segment) per the projection's comparators, then by row key
// within each bucket.
func (idx *Index[P, S, R]) ScanAll() []ScanEntry[P, S, R] {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	buckets := make([]bucketKey[P, S], len(idx.order))
	copy(buckets, idx.order)
	slices.SortFunc(buckets, func(a, b bucketKey[P, S]) int {
		if c := idx.comparePart(a.partition, b.partition); c != 0 {
			return c
		}
		return idx.compareSeg(a.segment, b.segment)
	})

	var out []ScanEntry[P, S, R]
	for _, key := range buckets {
		bucket := idx.buckets[key]
		for _, e := range *bucket {
			out = append(out, ScanEntry[P, S, R]{
				Partition: key.partition,
				Segment:   key.segment,
				RowKey:    e.key,
				Locator:   e.loc,
			})
		}
	}
	return out
}

// Clear discards all entries.
func (idx *Index[P, S, R]) Clear() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.buckets = make(map[bucketKey[P, S]]*[]entry[R])
	idx.order = nil
}
