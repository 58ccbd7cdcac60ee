// Package memtable implements the central orchestrator of the ingestion
// core: it stages incoming rows, flushes them into fixed-size columnar
// chunks on a threshold or a timer, maintains the sorted row index, and
// fires ingest completion callbacks in strict FIFO order once their rows
// are durably chunked.
//
// A single exclusive lock guards the entire flush body and all mutation of
// the chunk store and index; a narrower inner lock covers only the temp
// buffer and pending callback list, so Ingest's append-plus-register pair
// stays atomic with respect to a concurrently running flush's fire-and-shift
// step.
package memtable

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/helena/filodb/internal/chunkstore"
	"github.com/helena/filodb/internal/column"
	"github.com/helena/filodb/internal/logging"
	"github.com/helena/filodb/internal/projection"
	"github.com/helena/filodb/internal/rowindex"
)

// ErrNoMoreRows is returned by a Cursor's Next once exhausted, and by
// ReadRow when no row is indexed under the given key.
var ErrNoMoreRows = errors.New("memtable: no more rows")

// ErrClosed is returned by operations invoked after Close.
var ErrClosed = errors.New("memtable: memtable is closed")

// ErrBuilderEncoding is returned by a flush when the columnar builder fails
// to encode the chunk being assembled (see column.ErrValueTooLarge). The
// flush aborts before any chunk is published: the store, index, temp
// buffer and pending callbacks are left exactly as they were before the
// flush attempt, so the caller may retry or surface the error upstream
// without having lost or duplicated any row.
var ErrBuilderEncoding = errors.New("memtable: builder failed to encode chunk")

const defaultChunkSize = 1000

// Config configures a Memtable.
type Config struct {
	// ChunkSize is the target row count per chunk. Defaults to 1000.
	ChunkSize int

	// FlushInterval is the maximum time a non-empty temp buffer may remain
	// unflushed. Required.
	FlushInterval time.Duration

	// Now returns the current time. Defaults to time.Now. Overridable for
	// tests.
	Now func() time.Time

	// Logger for structured logging. If nil, logging is disabled.
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = defaultChunkSize
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

type pendingCallback struct {
	first, last int
	fn          func()
}

// Memtable is the columnar memtable for one Projection's key types. Safe
// for the concurrency model described in the package doc: a single caller
// for Ingest/ForceCommit/ReadRows/ReadAllRows/NumRows/ClearAllData/Close,
// plus one background flush timer goroutine.
type Memtable[P, S, R comparable] struct {
	cfg  Config
	proj *projection.Projection[P, S, R]

	// mu is the single exclusive lock covering the entire flush body and
	// all mutation of store/index; it also serializes ClearAllData/Close
	// against a concurrently running flush.
	mu      sync.Mutex
	store   *chunkstore.Store
	index   *rowindex.Index[P, S, R]
	builder *column.Builder

	// tempMu is the inner lock on the temp buffer and pending callbacks,
	// taken by Ingest to make the append-plus-register pair atomic with
	// respect to flush's fire-and-shift step (flush takes tempMu nested
	// inside mu for that step only).
	tempMu    sync.Mutex
	temp      []projection.Row
	callbacks []pendingCallback

	timer      *time.Timer
	timerArmed bool
	closed     bool

	logger *slog.Logger
}

// New constructs a Memtable over proj with the given configuration.
func New[P, S, R comparable](proj *projection.Projection[P, S, R], cfg Config) *Memtable[P, S, R] {
	cfg = cfg.withDefaults()
	logger := logging.Default(cfg.Logger).With("component", "memtable")
	return &Memtable[P, S, R]{
		cfg:     cfg,
		proj:    proj,
		store:   chunkstore.New(chunkstore.Config{Columns: proj.Columns(), Logger: cfg.Logger}),
		index:   rowindex.New[P, S, R](proj.ComparePartition, proj.CompareSegment, proj.CompareRowKey),
		builder: column.NewBuilder(proj.Columns()),
		logger:  logger,
	}
}

// Ingest appends rows to the temp buffer and registers onComplete to fire
// once every row in this call has been persisted into a chunk. While the
// temp buffer holds at least ChunkSize rows, Ingest performs synchronous
// flushes before returning. onComplete may be nil.
func (m *Memtable[P, S, R]) Ingest(rows []projection.Row, onComplete func()) error {
	if len(rows) == 0 {
		if onComplete != nil {
			onComplete()
		}
		return nil
	}

	m.tempMu.Lock()
	if m.closed {
		m.tempMu.Unlock()
		return ErrClosed
	}
	first := len(m.temp)
	m.temp = append(m.temp, rows...)
	last := len(m.temp) - 1
	if onComplete != nil {
		m.callbacks = append(m.callbacks, pendingCallback{first: first, last: last, fn: onComplete})
	}
	m.tempMu.Unlock()

	for {
		if m.tempLen() < m.cfg.ChunkSize {
			break
		}
		if err := m.flush(); err != nil {
			return err
		}
	}

	if m.tempLen() > 0 {
		m.armTimer()
	}
	return nil
}

func (m *Memtable[P, S, R]) tempLen() int {
	m.tempMu.Lock()
	defer m.tempMu.Unlock()
	return len(m.temp)
}

func (m *Memtable[P, S, R]) armTimer() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timerArmed || m.closed {
		return
	}
	m.timer = time.AfterFunc(m.cfg.FlushInterval, m.onTimerFire)
	m.timerArmed = true
}

// onTimerFire runs on the background timer goroutine. A flush error is
// logged and the timer is not rearmed until the next Ingest.
func (m *Memtable[P, S, R]) onTimerFire() {
	if err := m.flush(); err != nil {
		m.logger.Error("timer-driven flush failed", "error", err)
		return
	}
	if m.tempLen() > 0 {
		m.armTimer()
	}
}

// ForceCommit synchronously drains the temp buffer into chunks, cancelling
// any pending timer. Unlike the threshold flush performed inline by
// Ingest, ForceCommit drains to zero, publishing a final partial chunk if
// needed.
func (m *Memtable[P, S, R]) ForceCommit() error {
	for m.tempLen() > 0 {
		if err := m.flush(); err != nil {
			return err
		}
	}
	return nil
}

// flush acquires the exclusive lock and runs the flush algorithm, firing
// any now-satisfied callbacks after releasing it.
func (m *Memtable[P, S, R]) flush() error {
	m.mu.Lock()
	toFire, err := m.flushLocked()
	m.mu.Unlock()
	if err != nil {
		return err
	}
	for _, fn := range toFire {
		fn()
	}
	return nil
}

// rehydratedRow pairs a rehydrated partial-chunk row with the projection
// keys extracted from it, so the index can be rebuilt once the replacement
// chunk's id is known without re-decoding the row a second time.
type rehydratedRow[P, S, R comparable] struct {
	partition P
	segment   S
	rowKey    R
}

// flushLocked implements the flush algorithm. Called with mu held.
//
// The builder is only ever emitted, and the store/index only ever mutated,
// after every row destined for the chunk (rehydrated partial-chunk rows
// plus temp-buffer rows) has been added successfully. This keeps a failed
// Emit (ErrBuilderEncoding) from leaving behind a partially published
// chunk: on that path flushLocked returns before touching the store, the
// index, the temp buffer or the callback list.
func (m *Memtable[P, S, R]) flushLocked() ([]func(), error) {
	// Step 1: cancel any pending timer. Go's time.Timer.Stop never
	// interrupts an already-running callback goroutine, so the
	// non-interruptible/interruptible distinction collapses to the same
	// call here; see ClearAllData for the other call site.
	m.cancelTimerLocked()

	// Step 2: reset the builder.
	m.builder.Reset()

	// Step 3: rehydrate the last chunk if it's a partial one, without
	// popping it from the store yet. Popping is deferred until after a
	// successful Emit so a failed merge leaves the store untouched.
	var lastID chunkstore.ChunkID
	var havePartial bool
	var rehydrated []rehydratedRow[P, S, R]
	if id, ok := m.store.LastID(); ok {
		if last, ok := m.store.Get(id); ok && last.NumRows < m.cfg.ChunkSize {
			lastID = id
			havePartial = true
			reader := chunkstore.NewReader(last, m.proj.Columns())
			rehydrated = make([]rehydratedRow[P, S, R], last.NumRows)
			for i := 0; i < last.NumRows; i++ {
				row, err := reader.Position(i)
				if err != nil {
					return nil, fmt.Errorf("memtable: rehydrating partial chunk %d: %w", lastID, err)
				}
				rehydrated[i] = rehydratedRow[P, S, R]{
					partition: m.proj.PartitionOf(row),
					segment:   m.proj.SegmentOf(row),
					rowKey:    m.proj.RowKeyOf(row),
				}
				m.builder.AddRow(row)
			}
		}
	}
	baseLength := m.builder.Len()

	// Steps 4, 5 and 7 touch the temp buffer and callbacks; held under
	// tempMu, nested inside the already-held mu, to stay atomic with
	// respect to Ingest's append-plus-register pair.
	m.tempMu.Lock()
	defer m.tempMu.Unlock()

	tempLen := len(m.temp)
	rowsToAdd := min(m.cfg.ChunkSize-baseLength, tempLen)

	if baseLength+rowsToAdd == 0 {
		// Nothing to publish: the last chunk was already full (so no
		// partial-chunk merge happened above) and temp is empty. This is
		// the race between a background timer and a caller-driven flush
		// that already drained temp to zero; publishing here would emit a
		// zero-length chunk. Return without touching the store or builder.
		return nil, nil
	}

	for i := 0; i < rowsToAdd; i++ {
		m.builder.AddRow(m.temp[i])
	}

	// Step 6: emit. A failure here aborts the flush before any state is
	// mutated.
	vectors, err := m.builder.Emit()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBuilderEncoding, err)
	}

	if havePartial {
		if _, ok := m.store.PopLast(lastID); !ok {
			return nil, fmt.Errorf("memtable: partial chunk %d vanished during flush", lastID)
		}
	}
	nextChunkID := m.store.NextID()
	publishedID := m.store.Append(chunkstore.Chunk{Vectors: vectors, NumRows: baseLength + rowsToAdd})
	if publishedID != nextChunkID {
		m.logger.Warn("chunk id drifted from predicted next id", "predicted", nextChunkID, "actual", publishedID)
	}

	for i, rr := range rehydrated {
		m.index.Insert(rr.partition, rr.segment, rr.rowKey, rowindex.NewLocator(nextChunkID, uint32(i))) //nolint:gosec // G115: bounded by chunk_size
	}
	for i := 0; i < rowsToAdd; i++ {
		row := m.temp[i]
		p, s, r := m.proj.PartitionOf(row), m.proj.SegmentOf(row), m.proj.RowKeyOf(row)
		m.index.Insert(p, s, r, rowindex.NewLocator(nextChunkID, uint32(baseLength+i))) //nolint:gosec // G115: bounded by chunk_size
	}

	// Step 7: fire-and-discard satisfied callbacks; shift the rest; drop
	// the flushed prefix of temp.
	var toFire []func()
	remaining := make([]pendingCallback, 0, len(m.callbacks))
	for _, cb := range m.callbacks {
		if cb.last < rowsToAdd {
			toFire = append(toFire, cb.fn)
			continue
		}
		remaining = append(remaining, pendingCallback{
			first: max(0, cb.first-rowsToAdd),
			last:  max(0, cb.last-rowsToAdd),
			fn:    cb.fn,
		})
	}
	m.callbacks = remaining
	m.temp = append(m.temp[:0], m.temp[rowsToAdd:]...)

	// Step 8: no flush timer scheduled (already ensured by step 1).
	return toFire, nil
}

// cancelTimerLocked stops any armed timer. Called with mu held.
func (m *Memtable[P, S, R]) cancelTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.timerArmed = false
}

// ReadRows returns a Cursor over rows in (partition, segment), in row-key
// order.
func (m *Memtable[P, S, R]) ReadRows(partition P, segment S) (*Cursor[P, S, R], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.newCursorLocked(m.index.Bucket(partition, segment)), nil
}

// ReadRowsRange returns a Cursor over rows in (partition, segment) whose
// row key falls within [lo, hi] inclusive, in row-key order.
func (m *Memtable[P, S, R]) ReadRowsRange(partition P, segment S, lo, hi R) (*Cursor[P, S, R], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.newCursorLocked(m.index.LookupRange(partition, segment, lo, hi)), nil
}

// ReadRow returns the single row indexed under (partition, segment,
// rowKey), or ErrNoMoreRows if no such row has been flushed into a chunk.
func (m *Memtable[P, S, R]) ReadRow(partition P, segment S, rowKey R) (projection.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	loc, ok := m.index.Lookup(partition, segment, rowKey)
	if !ok {
		return nil, ErrNoMoreRows
	}
	reader, err := m.store.Reader(loc.ChunkID())
	if err != nil {
		return nil, err
	}
	return reader.Position(int(loc.RowOffset()))
}

// ReadAllRows returns a Cursor over every ingested-and-flushed row, in
// (partition, segment, row key) order.
func (m *Memtable[P, S, R]) ReadAllRows() (*Cursor[P, S, R], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.newCursorLocked(m.index.ScanAll()), nil
}

func (m *Memtable[P, S, R]) newCursorLocked(entries []rowindex.ScanEntry[P, S, R]) *Cursor[P, S, R] {
	readers := make(map[chunkstore.ChunkID]*chunkstore.Reader)
	resolve := func(id chunkstore.ChunkID) (*chunkstore.Reader, error) {
		if r, ok := readers[id]; ok {
			return r, nil
		}
		r, err := m.store.Reader(id)
		if err != nil {
			return nil, err
		}
		readers[id] = r
		return r, nil
	}
	return &Cursor[P, S, R]{entries: entries, resolve: resolve}
}

// Cursor iterates rows produced by ReadRows/ReadRowsRange/ReadAllRows.
type Cursor[P, S, R comparable] struct {
	entries []rowindex.ScanEntry[P, S, R]
	pos     int
	resolve func(chunkstore.ChunkID) (*chunkstore.Reader, error)
}

// Next returns the next (partition, segment, row key, row view), or
// ErrNoMoreRows once exhausted.
func (c *Cursor[P, S, R]) Next() (P, S, R, projection.Row, error) {
	var zeroP P
	var zeroS S
	var zeroR R
	if c.pos >= len(c.entries) {
		return zeroP, zeroS, zeroR, nil, ErrNoMoreRows
	}
	e := c.entries[c.pos]
	c.pos++
	reader, err := c.resolve(e.Locator.ChunkID())
	if err != nil {
		return zeroP, zeroS, zeroR, nil, err
	}
	row, err := reader.Position(int(e.Locator.RowOffset()))
	if err != nil {
		return zeroP, zeroS, zeroR, nil, err
	}
	return e.Partition, e.Segment, e.RowKey, row, nil
}

// NumRows returns the total number of rows persisted into chunks,
// excluding the temp buffer.
func (m *Memtable[P, S, R]) NumRows() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := 0
	_ = m.store.Iterate(func(_ chunkstore.ChunkID, c chunkstore.Chunk) error {
		total += c.NumRows
		return nil
	})
	return total
}

// Stats is a point-in-time snapshot of the memtable's internal state,
// cheap enough to call from a monitoring loop without exposing the
// underlying locks.
type Stats struct {
	// ChunkCount is the number of chunks currently held by the chunk store.
	ChunkCount int
	// RowCount is the total number of rows persisted into chunks, excluding
	// the temp buffer.
	RowCount int
	// TempRows is the number of rows currently staged in the temp buffer,
	// awaiting a flush.
	TempRows int
	// PendingCallbacks is the number of Ingest callbacks not yet fired.
	PendingCallbacks int
}

// Stats returns a snapshot of the memtable's internal state.
func (m *Memtable[P, S, R]) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	rowCount := 0
	_ = m.store.Iterate(func(_ chunkstore.ChunkID, c chunkstore.Chunk) error {
		rowCount += c.NumRows
		return nil
	})
	chunkCount := m.store.Len()

	m.tempMu.Lock()
	defer m.tempMu.Unlock()

	return Stats{
		ChunkCount:       chunkCount,
		RowCount:         rowCount,
		TempRows:         len(m.temp),
		PendingCallbacks: len(m.callbacks),
	}
}

// ClearAllData forcibly cancels the flush timer, drops all chunks, the
// index, the temp buffer and pending callbacks, and resets the builder.
func (m *Memtable[P, S, R]) ClearAllData() {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Cancel with interruption permitted: ClearAllData is about to discard
	// all state regardless of whether a flush is mid-execution, so there
	// is nothing to preserve by distinguishing this from the non-
	// interruptible cancel flush performs on itself.
	m.cancelTimerLocked()
	m.builder.Reset()
	m.store.Clear()
	m.index.Clear()

	m.tempMu.Lock()
	m.temp = nil
	m.callbacks = nil
	m.tempMu.Unlock()
}

// Close releases the flush timer. After Close, Ingest returns ErrClosed.
func (m *Memtable[P, S, R]) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelTimerLocked()
	m.closed = true
	return nil
}
