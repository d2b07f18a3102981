// Package tsheap implements the append-only fixed-record store for raw
// (times, values) series pairs -- component A of the storage engine. Every
// record is 16*L bytes: L little-endian float64 timestamps followed by L
// little-endian float64 values. The file's 8-byte header records L so a
// reopen can refuse to serve a heap built for a different series length.
package tsheap

import (
	"encoding/binary"
	"math"
	"os"

	tserrors "github.com/iamNilotpal/tsisax/pkg/errors"

	"github.com/iamNilotpal/tsisax/internal/filestore"
)

const headerSize = 8

// Series is the (times, values) pair the heap stores. Times must be
// strictly increasing by the time it reaches Write; the heap itself does
// not validate that invariant -- the StorageManager does, since it's the
// one with access to the full insert_ts argument before any bytes are
// written.
type Series struct {
	Times  []float64
	Values []float64
}

// Heap is the fixed-record series store.
type Heap struct {
	file   *filestore.File
	length int
}

// Open opens (or creates) the heap file at path for a database whose series
// length is length. If the file already exists, its header must match
// length exactly or SchemaMismatch is returned. A partial trailing record --
// file length not header+k*stride for any integer k -- is truncated away,
// per the crash-recovery contract in spec §4.1: the pk that record belonged
// to will simply be absent from the recovered PrimaryIndex.
func Open(path string, length int) (*Heap, error) {
	if length <= 0 {
		return nil, tserrors.InvalidArgument("tsheap.Open", "series length must be positive")
	}

	existed, err := fileExists(path)
	if err != nil {
		return nil, tserrors.IOFailure("tsheap.Open", err)
	}

	f, err := filestore.Open(path, 0644)
	if err != nil {
		return nil, tserrors.IOFailure("tsheap.Open", err)
	}

	h := &Heap{file: f, length: length}

	if !existed || f.Size() == 0 {
		if err := h.writeHeader(length); err != nil {
			_ = f.Close()
			return nil, err
		}
		return h, nil
	}

	if err := h.verifyHeader(length); err != nil {
		_ = f.Close()
		return nil, err
	}

	if err := h.truncatePartialTail(); err != nil {
		_ = f.Close()
		return nil, err
	}

	return h, nil
}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (h *Heap) writeHeader(length int) error {
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint64(buf, uint64(length))
	if err := h.file.WriteAt(0, buf); err != nil {
		return tserrors.IOFailure("tsheap.Open", err)
	}
	return nil
}

func (h *Heap) verifyHeader(length int) error {
	buf, err := h.file.ReadAt(0, headerSize)
	if err != nil {
		return tserrors.IOFailure("tsheap.Open", err)
	}
	stored := int(binary.LittleEndian.Uint64(buf))
	if stored != length {
		return tserrors.SchemaMismatch("tsheap.Open", "series length does not match heap header").
			WithDetail("headerLength", stored).WithDetail("requestedLength", length)
	}
	return nil
}

func (h *Heap) stride() int64 { return int64(16 * h.length) }

func (h *Heap) truncatePartialTail() error {
	body := h.file.Size() - headerSize
	if body < 0 {
		return tserrors.Integrity("tsheap.Open", nil).WithDetail("reason", "file shorter than header")
	}
	stride := h.stride()
	remainder := body % stride
	if remainder != 0 {
		return h.file.Truncate(h.file.Size() - remainder)
	}
	return nil
}

// Write appends ts to the heap and returns the byte offset of the record's
// first byte -- the offset the PrimaryIndex stores for this pk.
func (h *Heap) Write(ts Series) (int64, error) {
	if len(ts.Times) != h.length || len(ts.Values) != h.length {
		return 0, tserrors.InvalidArgument("tsheap.Write", "series length mismatch").
			WithDetail("expected", h.length).WithDetail("gotTimes", len(ts.Times)).WithDetail("gotValues", len(ts.Values))
	}

	buf := make([]byte, 16*h.length)
	for i, t := range ts.Times {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(t))
	}
	base := 8 * h.length
	for i, v := range ts.Values {
		binary.LittleEndian.PutUint64(buf[base+i*8:], math.Float64bits(v))
	}

	offset, err := h.file.Append(buf)
	if err != nil {
		return 0, tserrors.IOFailure("tsheap.Write", err)
	}
	return offset, nil
}

// Read decodes the L-length series record starting at offset.
func (h *Heap) Read(offset int64) (Series, error) {
	buf, err := h.file.ReadAt(offset, 16*h.length)
	if err != nil {
		return Series{}, tserrors.IOFailure("tsheap.Read", err)
	}

	ts := Series{Times: make([]float64, h.length), Values: make([]float64, h.length)}
	for i := range ts.Times {
		ts.Times[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	base := 8 * h.length
	for i := range ts.Values {
		ts.Values[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[base+i*8:]))
	}
	return ts, nil
}

// Length returns the database-wide fixed series length this heap was opened with.
func (h *Heap) Length() int { return h.length }

// Sync fsyncs the heap file.
func (h *Heap) Sync() error {
	if err := h.file.Sync(); err != nil {
		return tserrors.IOFailure("tsheap.Sync", err)
	}
	return nil
}

// Close closes the underlying file.
func (h *Heap) Close() error { return h.file.Close() }
