// Package metaheap implements the fixed-record metadata store -- component B
// of the storage engine. Unlike TSHeap, MetaHeap carries no header of its
// own: its record width R is derived from the Schema and supplied by the
// caller on every Open, since a schema change means R itself changes (see
// spec §4.2's rewrite procedure).
package metaheap

import (
	"github.com/iamNilotpal/tsisax/internal/filestore"
	tserrors "github.com/iamNilotpal/tsisax/pkg/errors"
)

// Heap is the fixed-record metadata store.
type Heap struct {
	file *filestore.File
	size int // R, in bytes
}

// Open opens (or creates) the heap file at path for records of width size
// bytes. A partial trailing record from an unclean shutdown is truncated,
// matching TSHeap's recovery behavior.
func Open(path string, size int) (*Heap, error) {
	if size <= 0 {
		return nil, tserrors.InvalidArgument("metaheap.Open", "record size must be positive")
	}

	f, err := filestore.Open(path, 0644)
	if err != nil {
		return nil, tserrors.IOFailure("metaheap.Open", err)
	}

	h := &Heap{file: f, size: size}
	if remainder := f.Size() % int64(size); remainder != 0 {
		if err := f.Truncate(f.Size() - remainder); err != nil {
			_ = f.Close()
			return nil, tserrors.IOFailure("metaheap.Open", err)
		}
	}
	return h, nil
}

// Write appends record and returns its byte offset.
func (h *Heap) Write(record []byte) (int64, error) {
	if len(record) != h.size {
		return 0, tserrors.InvalidArgument("metaheap.Write", "record size mismatch").
			WithDetail("expected", h.size).WithDetail("got", len(record))
	}
	offset, err := h.file.Append(record)
	if err != nil {
		return 0, tserrors.IOFailure("metaheap.Write", err)
	}
	return offset, nil
}

// Read returns the record stored at offset.
func (h *Heap) Read(offset int64) ([]byte, error) {
	buf, err := h.file.ReadAt(offset, h.size)
	if err != nil {
		return nil, tserrors.IOFailure("metaheap.Read", err)
	}
	return buf, nil
}

// Overwrite rewrites the record at offset in place. Used by upsert_meta,
// which never changes a record's size (re-encoding under the same schema
// always produces exactly R bytes).
func (h *Heap) Overwrite(offset int64, record []byte) error {
	if len(record) != h.size {
		return tserrors.InvalidArgument("metaheap.Overwrite", "record size mismatch").
			WithDetail("expected", h.size).WithDetail("got", len(record))
	}
	if err := h.file.WriteAt(offset, record); err != nil {
		return tserrors.IOFailure("metaheap.Overwrite", err)
	}
	return nil
}

// RecordSize returns R, the fixed record width this heap was opened with.
func (h *Heap) RecordSize() int { return h.size }

// Sync fsyncs the heap file.
func (h *Heap) Sync() error {
	if err := h.file.Sync(); err != nil {
		return tserrors.IOFailure("metaheap.Sync", err)
	}
	return nil
}

// Close closes the underlying file.
func (h *Heap) Close() error { return h.file.Close() }

// Path returns the heap's backing file path, used by StorageManager to
// locate the "alongside" temp file during a schema-evolution rewrite.
func (h *Heap) Path() string { return h.file.Path() }
