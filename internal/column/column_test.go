package column

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/helena/filodb/internal/projection"
)

type testRow struct {
	i int64
	f float64
	s string
	b bool
}

func (r testRow) Len() int              { return 4 }
func (r testRow) Int64(int) int64       { return r.i }
func (r testRow) Float64(int) float64   { return r.f }
func (r testRow) String(int) string     { return r.s }
func (r testRow) Bool(int) bool         { return r.b }

func schema() []projection.Column {
	return []projection.Column{
		{Name: "i", Type: projection.ColumnInt64},
		{Name: "f", Type: projection.ColumnFloat64},
		{Name: "s", Type: projection.ColumnString},
		{Name: "b", Type: projection.ColumnBool},
	}
}

func TestBuilderAddRowAndLen(t *testing.T) {
	b := NewBuilder(schema())
	if b.Len() != 0 {
		t.Fatalf("expected empty builder, got Len %d", b.Len())
	}
	b.AddRow(testRow{i: 1, f: 1.5, s: "a", b: true})
	b.AddRow(testRow{i: 2, f: 2.5, s: "bb", b: false})
	if got := b.Len(); got != 2 {
		t.Fatalf("expected Len 2, got %d", got)
	}
}

func TestBuilderReset(t *testing.T) {
	b := NewBuilder(schema())
	b.AddRow(testRow{i: 1})
	b.Reset()
	if b.Len() != 0 {
		t.Fatalf("expected Len 0 after Reset, got %d", b.Len())
	}
}

func TestBuilderEmitInt64(t *testing.T) {
	b := NewBuilder(schema())
	b.AddRow(testRow{i: 7})
	b.AddRow(testRow{i: -3})
	vecs, err := b.Emit()
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	vec := vecs["i"]

	count := binary.LittleEndian.Uint32(vec[0:4])
	if count != 2 {
		t.Fatalf("expected count 2, got %d", count)
	}
	v0 := int64(binary.LittleEndian.Uint64(vec[4:12]))
	v1 := int64(binary.LittleEndian.Uint64(vec[12:20]))
	if v0 != 7 || v1 != -3 {
		t.Fatalf("expected [7 -3], got [%d %d]", v0, v1)
	}
}

func TestBuilderEmitFloat64(t *testing.T) {
	b := NewBuilder(schema())
	b.AddRow(testRow{f: 3.25})
	vecs, err := b.Emit()
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	vec := vecs["f"]
	bits := binary.LittleEndian.Uint64(vec[4:12])
	if math.Float64frombits(bits) != 3.25 {
		t.Fatalf("expected 3.25, got %v", math.Float64frombits(bits))
	}
}

func TestBuilderEmitString(t *testing.T) {
	b := NewBuilder(schema())
	b.AddRow(testRow{s: "hello"})
	b.AddRow(testRow{s: ""})
	vecs, err := b.Emit()
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	vec := vecs["s"]

	count := binary.LittleEndian.Uint32(vec[0:4])
	if count != 2 {
		t.Fatalf("expected count 2, got %d", count)
	}
	off := 4
	l0 := binary.LittleEndian.Uint32(vec[off : off+4])
	off += 4
	s0 := string(vec[off : off+int(l0)])
	off += int(l0)
	if s0 != "hello" {
		t.Fatalf("expected %q, got %q", "hello", s0)
	}
	l1 := binary.LittleEndian.Uint32(vec[off : off+4])
	if l1 != 0 {
		t.Fatalf("expected empty second string, got length %d", l1)
	}
}

func TestBuilderEmitBool(t *testing.T) {
	b := NewBuilder(schema())
	for _, v := range []bool{true, false, true, true, false, false, false, false, true} {
		b.AddRow(testRow{b: v})
	}
	vecs, err := b.Emit()
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	vec := vecs["b"]
	count := binary.LittleEndian.Uint32(vec[0:4])
	if count != 9 {
		t.Fatalf("expected count 9, got %d", count)
	}
	bit := func(i int) bool {
		return vec[4+i/8]&(1<<uint(i%8)) != 0
	}
	want := []bool{true, false, true, true, false, false, false, false, true}
	for i, w := range want {
		if bit(i) != w {
			t.Fatalf("bit %d: expected %v, got %v", i, w, bit(i))
		}
	}
}

func TestBuilderEmitDoesNotReset(t *testing.T) {
	b := NewBuilder(schema())
	b.AddRow(testRow{i: 1})
	if _, err := b.Emit(); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if b.Len() != 1 {
		t.Fatalf("Emit should not reset, got Len %d", b.Len())
	}
}

func TestExceedsLengthPrefix(t *testing.T) {
	cases := []struct {
		n    int
		want bool
	}{
		{0, false},
		{1024, false},
		{math.MaxUint32, false},
		{math.MaxUint32 + 1, true},
	}
	for _, c := range cases {
		if got := exceedsLengthPrefix(c.n); got != c.want {
			t.Fatalf("exceedsLengthPrefix(%d): got %v, want %v", c.n, got, c.want)
		}
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	b := NewBuilder(schema())
	b.AddRow(testRow{i: 1, f: 1.5, s: "a", b: true})
	b.AddRow(testRow{i: -2, f: -2.5, s: "bb", b: false})
	vecs, err := b.Emit()
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}

	ints := DecodeInt64(vecs["i"])
	if len(ints) != 2 || ints[0] != 1 || ints[1] != -2 {
		t.Fatalf("DecodeInt64: got %v", ints)
	}
	floats := DecodeFloat64(vecs["f"])
	if len(floats) != 2 || floats[0] != 1.5 || floats[1] != -2.5 {
		t.Fatalf("DecodeFloat64: got %v", floats)
	}
	strs := DecodeString(vecs["s"])
	if len(strs) != 2 || strs[0] != "a" || strs[1] != "bb" {
		t.Fatalf("DecodeString: got %v", strs)
	}
	bools := DecodeBool(vecs["b"])
	if len(bools) != 2 || bools[0] != true || bools[1] != false {
		t.Fatalf("DecodeBool: got %v", bools)
	}
}
