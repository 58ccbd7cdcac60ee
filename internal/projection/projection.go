// Package projection describes a dataset's partition/segment/row keying and
// column schema. A Projection is immutable and read-only: it never mutates
// rows, only extracts keys from them and compares keys it has extracted.
package projection

import "errors"

// ErrSchemaIncompatible is returned by New when a column declares an
// encoding the columnar builder cannot produce a native vector for.
var ErrSchemaIncompatible = errors.New("projection: schema incompatible with native columnar encoding")

// ColumnType is the logical type of a column. The columnar builder (package
// column) must provide a native encoder for every ColumnType a Projection
// uses, or construction fails with ErrSchemaIncompatible.
type ColumnType int

const (
	ColumnInt64 ColumnType = iota
	ColumnFloat64
	ColumnString
	ColumnBool
)

func (t ColumnType) supported() bool {
	switch t {
	case ColumnInt64, ColumnFloat64, ColumnString, ColumnBool:
		return true
	default:
		return false
	}
}

// Column describes one column of the schema.
type Column struct {
	Name string
	Type ColumnType
}

// Row is an abstract read-only tuple indexed by column ordinal. Callers may
// reuse the backing storage of a Row once it has been passed to a consuming
// call (e.g. Builder.AddRow); Projection and column.Builder never retain a
// reference to the Row itself, only to the values pulled out of it during
// the call.
type Row interface {
	// Len returns the number of columns addressable on this row; it must
	// equal len(Columns()) for the projection this row is ingested under.
	Len() int
	// Int64, Float64, String, Bool return the value at the given column
	// ordinal. Callers must only invoke the accessor matching that
	// column's declared ColumnType.
	Int64(col int) int64
	Float64(col int) float64
	String(col int) string
	Bool(col int) bool
}

// Projection is an immutable, pure description of a dataset: typed
// partition/segment/row key extractors, total-order comparators for each,
// and the ordered column schema.
//
// P, S and R must be comparable so they can key maps directly (package
// rowindex relies on this plus the supplied comparator functions for
// ordering).
type Projection[P, S, R comparable] struct {
	columns     []Column
	partitionOf func(Row) P
	segmentOf   func(Row) S
	rowKeyOf    func(Row) R
	comparePart func(a, b P) int
	compareSeg  func(a, b S) int
	compareRow  func(a, b R) int
}

// Config is the set of pure functions and schema needed to build a
// Projection. All fields are required.
type Config[P, S, R comparable] struct {
	Columns         []Column
	PartitionOf     func(Row) P
	SegmentOf       func(Row) S
	RowKeyOf        func(Row) R
	ComparePartition func(a, b P) int
	CompareSegment   func(a, b S) int
	CompareRowKey    func(a, b R) int
}

// New validates cfg and returns an immutable Projection. Returns
// ErrSchemaIncompatible if any column declares an unsupported ColumnType.
func New[P, S, R comparable](cfg Config[P, S, R]) (*Projection[P, S, R], error) {
	for _, c := range cfg.Columns {
		if !c.Type.supported() {
			return nil, ErrSchemaIncompatible
		}
	}
	cols := make([]Column, len(cfg.Columns))
	copy(cols, cfg.Columns)
	return &Projection[P, S, R]{
		columns:     cols,
		partitionOf: cfg.PartitionOf,
		segmentOf:   cfg.SegmentOf,
		rowKeyOf:    cfg.RowKeyOf,
		comparePart: cfg.ComparePartition,
		compareSeg:  cfg.CompareSegment,
		compareRow:  cfg.CompareRowKey,
	}, nil
}

// Columns returns the ordered column schema.
func (p *Projection[P, S, R]) Columns() []Column {
	cols := make([]Column, len(p.columns))
	copy(cols, p.columns)
	return cols
}

func (p *Projection[P, S, R]) PartitionOf(row Row) P { return p.partitionOf(row) }
func (p *Projection[P, S, R]) SegmentOf(row Row) S   { return p.segmentOf(row) }
func (p *Projection[P, S, R]) RowKeyOf(row Row) R    { return p.rowKeyOf(row) }

func (p *Projection[P, S, R]) ComparePartition(a, b P) int { return p.comparePart(a, b) }
func (p *Projection[P, S, R]) CompareSegment(a, b S) int   { return p.compareSeg(a, b) }
func (p *Projection[P, S, R]) CompareRowKey(a, b R) int    { return p.compareRow(a, b) }
