package column

import (
	"fmt"

	"github.com/helena/filodb/internal/projection"
)

// Builder composes one ColumnBuilder per column of a schema and accumulates
// whole rows across them in lockstep: callers add rows one at a time, then
// Emit the accumulated vectors when a chunk boundary is reached.
//
// Builder is not safe for concurrent use; callers (package memtable) hold
// their own lock around it.
type Builder struct {
	columns  []projection.Column
	builders []ColumnBuilder
}

// NewBuilder allocates a Builder with one typed ColumnBuilder per column.
// Column types have already been validated by projection.New, so this never
// fails.
func NewBuilder(columns []projection.Column) *Builder {
	builders := make([]ColumnBuilder, len(columns))
	for i, c := range columns {
		builders[i] = newColumnBuilder(c.Type)
	}
	return &Builder{columns: columns, builders: builders}
}

// AddRow appends row's value at each column ordinal to the matching
// ColumnBuilder.
func (b *Builder) AddRow(row projection.Row) {
	for i, cb := range b.builders {
		cb.Add(row, i)
	}
}

// Len returns the number of rows accumulated since the last Reset.
func (b *Builder) Len() int {
	if len(b.builders) == 0 {
		return 0
	}
	return b.builders[0].Len()
}

// Reset discards all accumulated rows, keeping the schema in place so the
// Builder can be reused for the next chunk.
func (b *Builder) Reset() {
	for _, cb := range b.builders {
		cb.Reset()
	}
}

// Emit encodes the accumulated rows into one Filo-style byte vector per
// column, keyed by column name. Does not reset the Builder. Fails if any
// column's values cannot be encoded (see ErrValueTooLarge); the Builder is
// left unchanged so the caller may Reset and retry, or abort the chunk
// being assembled.
func (b *Builder) Emit() (map[string][]byte, error) {
	out := make(map[string][]byte, len(b.columns))
	for i, c := range b.columns {
		vec, err := b.builders[i].Emit()
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", c.Name, err)
		}
		out[c.Name] = vec
	}
	return out, nil
}
