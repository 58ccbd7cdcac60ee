// Package chunkstore implements the chunk store: an append-only sequence of
// already-encoded columnar chunks, keyed by monotonically increasing chunk
// id. It exposes exactly what package memtable needs: append, pop the most
// recently appended chunk (for partial-chunk merges), and O(1) positional
// reads within a chunk via Reader.
package chunkstore

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/helena/filodb/internal/column"
	"github.com/helena/filodb/internal/logging"
	"github.com/helena/filodb/internal/projection"
)

// ErrChunkNotFound is returned when a ChunkID does not name a chunk
// currently held by the store.
var ErrChunkNotFound = errors.New("chunkstore: chunk not found")

// ErrPositionOutOfRange is returned by Reader.Position when rowNo is not a
// valid row offset within the chunk.
var ErrPositionOutOfRange = errors.New("chunkstore: row position out of range")

// ChunkID identifies a chunk. It is a plain monotonic counter rather than a
// 128-bit identifier: the row index's Locator packs a chunk id into 32
// bits, so chunk identity here is a uint32. Ids are never reused within the
// lifetime of a Store.
type ChunkID uint32

// Chunk is a fully encoded, immutable columnar chunk: one Filo-style byte
// vector per column, plus the row count it was built from.
type Chunk struct {
	Vectors map[string][]byte
	NumRows int
}

// RowView is a decoded view onto a single row of a chunk, returned by
// Reader.Position.
type RowView = projection.Row

// Store holds an append-only, in-memory sequence of Chunks. It is safe for
// concurrent use; package memtable additionally wraps calls in its own
// coarser lock for flush-sequencing purposes, so Store's internal lock only
// needs to protect its own slice and map.
type Store struct {
	mu      sync.RWMutex
	nextID  uint32
	order   []ChunkID
	chunks  map[ChunkID]Chunk
	columns []projection.Column
	logger  *slog.Logger
}

// Config configures a Store.
type Config struct {
	// Columns is the column schema every chunk in this store is encoded
	// against. Required for Reader to be able to decode chunk vectors.
	Columns []projection.Column

	// Logger for structured logging. If nil, logging is disabled.
	Logger *slog.Logger
}

// New returns an empty Store.
func New(cfg Config) *Store {
	return &Store{
		chunks:  make(map[ChunkID]Chunk),
		columns: cfg.Columns,
		logger:  logging.Default(cfg.Logger).With("component", "chunkstore"),
	}
}

// Append assigns the next ChunkID and stores chunk under it. Ids are
// assigned in strictly increasing order regardless of any chunk removed by
// PopLast, so a PopLast immediately followed by Append never reassigns a
// previously issued id.
func (s *Store) Append(chunk Chunk) ChunkID {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := ChunkID(s.nextID)
	s.nextID++
	s.chunks[id] = chunk
	s.order = append(s.order, id)
	s.logger.Debug("chunk appended", "chunk_id", id, "rows", chunk.NumRows)
	return id
}

// PopLast removes and returns the most recently appended chunk still held
// by the store. Used by the memtable's partial-chunk merge: the previous
// partial chunk is popped, re-hydrated with the new rows, and re-appended
// (under a fresh id).
func (s *Store) PopLast(id ChunkID) (Chunk, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.order) == 0 || s.order[len(s.order)-1] != id {
		return Chunk{}, false
	}
	c, ok := s.chunks[id]
	if !ok {
		return Chunk{}, false
	}
	s.order = s.order[:len(s.order)-1]
	delete(s.chunks, id)
	return c, true
}

// Get returns the chunk stored under id.
func (s *Store) Get(id ChunkID) (Chunk, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chunks[id]
	return c, ok
}

// Reader returns a cheap, borrowed-view reader over the chunk stored under
// id. The reader holds no lock of its own; callers must not mutate the
// store's chunk concurrently with reads (chunks are treated as immutable
// once appended, so this is safe under the store's normal usage pattern).
func (s *Store) Reader(id ChunkID) (*Reader, error) {
	c, ok := s.Get(id)
	if !ok {
		return nil, ErrChunkNotFound
	}
	return NewReader(c, s.columns), nil
}

// Len returns the number of chunks currently held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// LastID returns the id of the most recently appended chunk still held.
func (s *Store) LastID() (ChunkID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.order) == 0 {
		return 0, false
	}
	return s.order[len(s.order)-1], true
}

// NextID returns the id Append would assign if called right now.
func (s *Store) NextID() ChunkID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ChunkID(s.nextID)
}

// Clear discards all chunks. Chunk id allocation is not reset, matching the
// "fresh id per chunk, even across ClearAllData" decision.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = s.order[:0]
	s.chunks = make(map[ChunkID]Chunk)
}

// Iterate calls fn for every chunk currently held, oldest first. Iterate
// stops and returns fn's error if fn returns a non-nil error.
func (s *Store) Iterate(fn func(ChunkID, Chunk) error) error {
	s.mu.RLock()
	ids := make([]ChunkID, len(s.order))
	copy(ids, s.order)
	s.mu.RUnlock()

	for _, id := range ids {
		c, ok := s.Get(id)
		if !ok {
			continue
		}
		if err := fn(id, c); err != nil {
			return err
		}
	}
	return nil
}

// Reader provides O(1) positional access into one chunk's columnar
// vectors: Position decodes each column's vector lazily, at most once per
// Reader, so random access to a handful of rows out of a large chunk stays
// cheap regardless of how many Position calls are made against it.
type Reader struct {
	chunk   Chunk
	columns []projection.Column

	ints   map[int][]int64
	floats map[int][]float64
	strs   map[int][]string
	bools  map[int][]bool
}

// NewReader constructs a Reader over chunk, decoding against columns.
func NewReader(chunk Chunk, columns []projection.Column) *Reader {
	return &Reader{chunk: chunk, columns: columns}
}

// NumRows returns the number of rows in the underlying chunk.
func (r *Reader) NumRows() int { return r.chunk.NumRows }

// Vector returns the raw encoded vector for the named column.
func (r *Reader) Vector(column string) ([]byte, bool) {
	v, ok := r.chunk.Vectors[column]
	return v, ok
}

// Position returns a RowView onto the row at rowNo, or ErrPositionOutOfRange
// if rowNo does not name a valid row in this chunk.
func (r *Reader) Position(rowNo int) (RowView, error) {
	if rowNo < 0 || rowNo >= r.chunk.NumRows {
		return nil, ErrPositionOutOfRange
	}
	return readerRow{r: r, i: rowNo}, nil
}

// readerRow is the RowView returned by Reader.Position: a lazily decoded
// window onto one row of the reader's chunk.
type readerRow struct {
	r *Reader
	i int
}

func (row readerRow) Len() int { return len(row.r.columns) }

func (row readerRow) Int64(col int) int64 {
	if row.r.ints == nil {
		row.r.ints = make(map[int][]int64)
	}
	vals, ok := row.r.ints[col]
	if !ok {
		vals = column.DecodeInt64(row.r.chunk.Vectors[row.r.columns[col].Name])
		row.r.ints[col] = vals
	}
	return vals[row.i]
}

func (row readerRow) Float64(col int) float64 {
	if row.r.floats == nil {
		row.r.floats = make(map[int][]float64)
	}
	vals, ok := row.r.floats[col]
	if !ok {
		vals = column.DecodeFloat64(row.r.chunk.Vectors[row.r.columns[col].Name])
		row.r.floats[col] = vals
	}
	return vals[row.i]
}

func (row readerRow) String(col int) string {
	if row.r.strs == nil {
		row.r.strs = make(map[int][]string)
	}
	vals, ok := row.r.strs[col]
	if !ok {
		vals = column.DecodeString(row.r.chunk.Vectors[row.r.columns[col].Name])
		row.r.strs[col] = vals
	}
	return vals[row.i]
}

func (row readerRow) Bool(col int) bool {
	if row.r.bools == nil {
		row.r.bools = make(map[int][]bool)
	}
	vals, ok := row.r.bools[col]
	if !ok {
		vals = column.DecodeBool(row.r.chunk.Vectors[row.r.columns[col].Name])
		row.r.bools[col] = vals
	}
	return vals[row.i]
}

// Snapshot returns a zstd-compressed encoding of the chunk's vectors,
// suitable for handing to an external persister. Kept out of Append/Get so
// that the in-memory hot path (ReadRows, set-operator scans) never pays a
// decompression cost: only callers that actually want an at-rest
// representation invoke Snapshot.
func Snapshot(c Chunk) (map[string][]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()

	out := make(map[string][]byte, len(c.Vectors))
	for name, vec := range c.Vectors {
		out[name] = enc.EncodeAll(vec, nil)
	}
	return out, nil
}

// Restore decodes a Snapshot's output back into chunk vectors.
func Restore(snapshot map[string][]byte, numRows int) (Chunk, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return Chunk{}, err
	}
	defer dec.Close()

	vectors := make(map[string][]byte, len(snapshot))
	for name, compressed := range snapshot {
		raw, err := dec.DecodeAll(compressed, nil)
		if err != nil {
			return Chunk{}, err
		}
		vectors[name] = raw
	}
	return Chunk{Vectors: vectors, NumRows: numRows}, nil
}
