package metaheap

import (
	"os"
	"path/filepath"

	"github.com/iamNilotpal/tsisax/pkg/seginfo"

	tserrors "github.com/iamNilotpal/tsisax/pkg/errors"
)

// Rewrite implements the schema-evolution procedure from spec §4.2: stream
// every record (deleted ones included) out of the heap at oldPath, transform
// it (re-encode under the new schema, filling defaults for added fields or
// dropping removed ones), and write it to a freshly created heap of
// newSize-byte records. It returns the new offsets in the same order records
// were read, and the temp file's path -- the caller (StorageManager, still
// holding its own mutex) renames the temp file over oldPath with Replace and
// then updates every pk's meta_off to its new offset.
//
// The temp filename reuses seginfo's timestamped naming convention so two
// concurrent rewrites (which the single-writer model otherwise forbids, but
// a crash mid-rewrite followed by a retry could produce) never collide.
func Rewrite(oldPath string, oldSize, newSize int, transform func(old []byte) ([]byte, error)) (tmpPath string, offsets []int64, err error) {
	oldHeap, err := Open(oldPath, oldSize)
	if err != nil {
		return "", nil, err
	}
	defer oldHeap.Close()

	dir := filepath.Dir(oldPath)
	tmpName := seginfo.GenerateName(0, filepath.Base(oldPath)+".rewrite")
	tmpPath = filepath.Join(dir, tmpName)

	newHeap, err := Open(tmpPath, newSize)
	if err != nil {
		return "", nil, err
	}
	defer newHeap.Close()

	count := oldHeap.file.Size() / int64(oldSize)
	offsets = make([]int64, 0, count)

	for i := int64(0); i < count; i++ {
		old, err := oldHeap.Read(i * int64(oldSize))
		if err != nil {
			return "", nil, err
		}
		transformed, err := transform(old)
		if err != nil {
			return "", nil, tserrors.InvalidArgument("metaheap.Rewrite", err.Error())
		}
		newOffset, err := newHeap.Write(transformed)
		if err != nil {
			return "", nil, err
		}
		offsets = append(offsets, newOffset)
	}

	if err := newHeap.Sync(); err != nil {
		return "", nil, err
	}
	return tmpPath, offsets, nil
}

// Replace atomically renames tmpPath over finalPath, completing step (f) of
// the schema-evolution procedure.
func Replace(tmpPath, finalPath string) error {
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return tserrors.IOFailure("metaheap.Replace", err)
	}
	return nil
}
