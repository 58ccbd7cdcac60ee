package chunkstore

import (
	"errors"
	"testing"

	"github.com/helena/filodb/internal/column"
	"github.com/helena/filodb/internal/projection"
)

func chunkWithRows(n int) Chunk {
	return Chunk{Vectors: map[string][]byte{"v": []byte{byte(n)}}, NumRows: n}
}

func TestAppendAssignsMonotonicIDs(t *testing.T) {
	s := New(Config{})
	id0 := s.Append(chunkWithRows(1))
	id1 := s.Append(chunkWithRows(2))
	if id1 <= id0 {
		t.Fatalf("expected id1 > id0, got id0=%d id1=%d", id0, id1)
	}
	if s.Len() != 2 {
		t.Fatalf("expected Len 2, got %d", s.Len())
	}
}

func TestPopLastOnlyRemovesTail(t *testing.T) {
	s := New(Config{})
	id0 := s.Append(chunkWithRows(1))
	id1 := s.Append(chunkWithRows(2))

	if _, ok := s.PopLast(id0); ok {
		t.Fatal("PopLast should fail when id is not the tail")
	}
	c, ok := s.PopLast(id1)
	if !ok {
		t.Fatal("PopLast should succeed on the tail id")
	}
	if c.NumRows != 2 {
		t.Fatalf("expected popped chunk rows 2, got %d", c.NumRows)
	}
	if s.Len() != 1 {
		t.Fatalf("expected Len 1 after pop, got %d", s.Len())
	}
}

func TestAppendAfterPopDoesNotReuseID(t *testing.T) {
	s := New(Config{})
	id0 := s.Append(chunkWithRows(1))
	s.PopLast(id0)
	id1 := s.Append(chunkWithRows(2))
	if id1 == id0 {
		t.Fatalf("expected fresh id after pop, got reused id %d", id1)
	}
}

func TestGetAndReader(t *testing.T) {
	s := New(Config{})
	id := s.Append(chunkWithRows(3))

	r, err := s.Reader(id)
	if err != nil {
		t.Fatalf("Reader: %v", err)
	}
	if r.NumRows() != 3 {
		t.Fatalf("expected NumRows 3, got %d", r.NumRows())
	}
	if _, ok := r.Vector("v"); !ok {
		t.Fatal("expected vector 'v' present")
	}
}

func TestReaderUnknownChunk(t *testing.T) {
	s := New(Config{})
	_, err := s.Reader(ChunkID(999))
	if !errors.Is(err, ErrChunkNotFound) {
		t.Fatalf("expected ErrChunkNotFound, got %v", err)
	}
}

func TestClearResetsChunksNotIDs(t *testing.T) {
	s := New(Config{})
	s.Append(chunkWithRows(1))
	id1 := s.Append(chunkWithRows(2))
	s.Clear()
	if s.Len() != 0 {
		t.Fatalf("expected Len 0 after Clear, got %d", s.Len())
	}
	id2 := s.Append(chunkWithRows(3))
	if id2 <= id1 {
		t.Fatalf("expected id allocation to continue past Clear, got id1=%d id2=%d", id1, id2)
	}
}

func TestIterateOrderOldestFirst(t *testing.T) {
	s := New(Config{})
	id0 := s.Append(chunkWithRows(1))
	id1 := s.Append(chunkWithRows(2))

	var seen []ChunkID
	err := s.Iterate(func(id ChunkID, c Chunk) error {
		seen = append(seen, id)
		return nil
	})
	if err != nil {
		t.Fatalf("Iterate: %v", err)
	}
	if len(seen) != 2 || seen[0] != id0 || seen[1] != id1 {
		t.Fatalf("expected order [%d %d], got %v", id0, id1, seen)
	}
}

func TestIterateStopsOnError(t *testing.T) {
	s := New(Config{})
	s.Append(chunkWithRows(1))
	s.Append(chunkWithRows(2))

	sentinel := errors.New("stop")
	calls := 0
	err := s.Iterate(func(ChunkID, Chunk) error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected iteration to stop after first error, got %d calls", calls)
	}
}

type positionTestRow struct {
	i int64
	s string
}

func (r positionTestRow) Len() int            { return 2 }
func (r positionTestRow) Int64(int) int64     { return r.i }
func (r positionTestRow) Float64(int) float64 { return 0 }
func (r positionTestRow) String(int) string   { return r.s }
func (r positionTestRow) Bool(int) bool       { return false }

func positionTestColumns() []projection.Column {
	return []projection.Column{
		{Name: "i", Type: projection.ColumnInt64},
		{Name: "s", Type: projection.ColumnString},
	}
}

func TestReaderPositionDecodesRow(t *testing.T) {
	cols := positionTestColumns()
	b := column.NewBuilder(cols)
	b.AddRow(positionTestRow{i: 7, s: "alpha"})
	b.AddRow(positionTestRow{i: 9, s: "beta"})
	vecs, err := b.Emit()
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}

	r := NewReader(Chunk{Vectors: vecs, NumRows: 2}, cols)
	row, err := r.Position(1)
	if err != nil {
		t.Fatalf("Position: %v", err)
	}
	if row.Int64(0) != 9 || row.String(1) != "beta" {
		t.Fatalf("expected row (9, beta), got (%d, %s)", row.Int64(0), row.String(1))
	}

	row0, err := r.Position(0)
	if err != nil {
		t.Fatalf("Position: %v", err)
	}
	if row0.Int64(0) != 7 || row0.String(1) != "alpha" {
		t.Fatalf("expected row (7, alpha), got (%d, %s)", row0.Int64(0), row0.String(1))
	}
}

func TestReaderPositionOutOfRange(t *testing.T) {
	cols := positionTestColumns()
	b := column.NewBuilder(cols)
	b.AddRow(positionTestRow{i: 1, s: "x"})
	vecs, err := b.Emit()
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	r := NewReader(Chunk{Vectors: vecs, NumRows: 1}, cols)

	if _, err := r.Position(-1); !errors.Is(err, ErrPositionOutOfRange) {
		t.Fatalf("expected ErrPositionOutOfRange for negative offset, got %v", err)
	}
	if _, err := r.Position(1); !errors.Is(err, ErrPositionOutOfRange) {
		t.Fatalf("expected ErrPositionOutOfRange for offset == NumRows, got %v", err)
	}
}

func TestStoreReaderUsesConfiguredColumns(t *testing.T) {
	cols := positionTestColumns()
	s := New(Config{Columns: cols})
	b := column.NewBuilder(cols)
	b.AddRow(positionTestRow{i: 42, s: "z"})
	vecs, err := b.Emit()
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	id := s.Append(Chunk{Vectors: vecs, NumRows: 1})

	r, err := s.Reader(id)
	if err != nil {
		t.Fatalf("Reader: %v", err)
	}
	row, err := r.Position(0)
	if err != nil {
		t.Fatalf("Position: %v", err)
	}
	if row.Int64(0) != 42 || row.String(1) != "z" {
		t.Fatalf("expected row (42, z), got (%d, %s)", row.Int64(0), row.String(1))
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	c := Chunk{Vectors: map[string][]byte{"a": []byte("hello world hello world")}, NumRows: 2}
	snap, err := Snapshot(c)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	restored, err := Restore(snap, c.NumRows)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if string(restored.Vectors["a"]) != string(c.Vectors["a"]) {
		t.Fatalf("round trip mismatch: got %q", restored.Vectors["a"])
	}
	if restored.NumRows != 2 {
		t.Fatalf("expected NumRows 2, got %d", restored.NumRows)
	}
}
