// Package filestore provides the low-level append/overwrite file primitive
// shared by every on-disk heap and log in the database: TSHeap, MetaHeap,
// and the PrimaryIndex's WAL all open their backing file through File.
//
// This generalizes the teacher engine's segment-file bootstrap: open for
// O_RDWR|O_CREATE, seek to end to learn the current size, and wrap
// I/O failures with structured StorageError context. What it drops is
// segment rotation -- every file this database writes (a heap, a log) is a
// single ever-growing file by design (see spec §1 Non-goals: no
// variable-length series, no segmented storage), so there is no "active
// segment" to roll over.
package filestore

import (
	stdErrors "errors"
	"io"
	"os"
	"sync"

	"github.com/iamNilotpal/tsisax/pkg/errors"
)

// ErrClosed is returned by any operation attempted after Close.
var ErrClosed = stdErrors.New("filestore: operation on closed file")

// File wraps an *os.File with offset bookkeeping so callers can append a
// record and learn its starting byte offset in one call, or overwrite a
// previously-written record in place.
type File struct {
	mu     sync.Mutex
	f      *os.File
	path   string
	size   int64
	closed bool
}

// Open opens path for read/write, creating it if absent. The returned File's
// Size() reflects the file's current length on disk.
func Open(path string, perm os.FileMode) (*File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, perm)
	if err != nil {
		return nil, errors.ClassifyFileOpenError(err, path, path)
	}

	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		_ = f.Close()
		return nil, errors.NewStorageError(err, errors.ErrorCodeIO, "failed to seek to end of file").
			WithPath(path)
	}

	return &File{f: f, path: path, size: size}, nil
}

// Size returns the file's current length in bytes.
func (fl *File) Size() int64 {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return fl.size
}

// Path returns the path File was opened with.
func (fl *File) Path() string { return fl.path }

// Append writes data at the current end of file and returns the byte offset
// the record started at. The write is not fsynced; call Sync for durability.
func (fl *File) Append(data []byte) (int64, error) {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.closed {
		return 0, ErrClosed
	}

	offset := fl.size
	n, err := fl.f.WriteAt(data, offset)
	if err != nil {
		return 0, errors.NewStorageError(err, errors.ErrorCodeIO, "failed to append record").
			WithPath(fl.path).WithOffset(int(offset))
	}
	fl.size += int64(n)
	return offset, nil
}

// WriteAt overwrites length len(data) at the given offset. Used by MetaHeap
// to rewrite a record in place after upsert_meta, and by TSHeap to write
// its header.
func (fl *File) WriteAt(offset int64, data []byte) error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.closed {
		return ErrClosed
	}

	if _, err := fl.f.WriteAt(data, offset); err != nil {
		return errors.NewStorageError(err, errors.ErrorCodeIO, "failed to write record").
			WithPath(fl.path).WithOffset(int(offset))
	}
	if end := offset + int64(len(data)); end > fl.size {
		fl.size = end
	}
	return nil
}

// ReadAt reads exactly n bytes starting at offset.
func (fl *File) ReadAt(offset int64, n int) ([]byte, error) {
	fl.mu.Lock()
	closed := fl.closed
	f := fl.f
	fl.mu.Unlock()

	if closed {
		return nil, ErrClosed
	}

	buf := make([]byte, n)
	if _, err := f.ReadAt(buf, offset); err != nil {
		return nil, errors.NewStorageError(err, errors.ErrorCodeIO, "failed to read record").
			WithPath(fl.path).WithOffset(int(offset))
	}
	return buf, nil
}

// Sync fsyncs the file, using a bounded retry when the call is interrupted
// (EINTR) before surfacing the failure as a StorageError.
func (fl *File) Sync() error {
	fl.mu.Lock()
	f := fl.f
	path := fl.path
	closed := fl.closed
	fl.mu.Unlock()

	if closed {
		return ErrClosed
	}

	if err := syncWithRetry(f); err != nil {
		return errors.ClassifySyncError(err, path, path, 0)
	}
	return nil
}

// Truncate shrinks or extends the file to exactly n bytes, used when
// recovery finds a partial trailing record or when the WAL compacts its log
// after a snapshot.
func (fl *File) Truncate(n int64) error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.closed {
		return ErrClosed
	}
	if err := fl.f.Truncate(n); err != nil {
		return errors.NewStorageError(err, errors.ErrorCodeIO, "failed to truncate file").
			WithPath(fl.path).WithOffset(int(n))
	}
	fl.size = n
	return nil
}

// Close closes the underlying file handle without syncing it. Close is
// idempotent.
func (fl *File) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.closed {
		return nil
	}
	fl.closed = true
	return fl.f.Close()
}
