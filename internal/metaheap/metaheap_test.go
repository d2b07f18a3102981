package metaheap_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iamNilotpal/tsisax/internal/metaheap"
)

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.heap")
	h, err := metaheap.Open(path, 8)
	require.NoError(t, err)
	defer h.Close()

	record := []byte("abcdefgh")
	offset, err := h.Write(record)
	require.NoError(t, err)

	got, err := h.Read(offset)
	require.NoError(t, err)
	assert.Equal(t, record, got)
}

func TestWriteRejectsWrongSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.heap")
	h, err := metaheap.Open(path, 8)
	require.NoError(t, err)
	defer h.Close()

	_, err = h.Write([]byte("short"))
	assert.Error(t, err)
}

func TestOverwriteReplacesRecordInPlace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.heap")
	h, err := metaheap.Open(path, 8)
	require.NoError(t, err)
	defer h.Close()

	offset, err := h.Write([]byte("original"))
	require.NoError(t, err)

	require.NoError(t, h.Overwrite(offset, []byte("replaced")))
	got, err := h.Read(offset)
	require.NoError(t, err)
	assert.Equal(t, []byte("replaced"), got)
}

func TestOpenTruncatesPartialTrailingRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.heap")
	h, err := metaheap.Open(path, 8)
	require.NoError(t, err)
	_, err = h.Write([]byte("complete"))
	require.NoError(t, err)
	require.NoError(t, h.Close())

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	h2, err := metaheap.Open(path, 8)
	require.NoError(t, err)
	defer h2.Close()

	got, err := h2.Read(0)
	require.NoError(t, err)
	assert.Equal(t, []byte("complete"), got)
}

func TestRewriteTransformsEveryRecordAndPreservesOrder(t *testing.T) {
	oldPath := filepath.Join(t.TempDir(), "old.heap")
	oldHeap, err := metaheap.Open(oldPath, 4)
	require.NoError(t, err)

	records := [][]byte{[]byte("aaaa"), []byte("bbbb"), []byte("cccc")}
	for _, r := range records {
		_, err := oldHeap.Write(r)
		require.NoError(t, err)
	}
	require.NoError(t, oldHeap.Close())

	tmpPath, offsets, err := metaheap.Rewrite(oldPath, 4, 5, func(old []byte) ([]byte, error) {
		return append(bytes.Clone(old), 'X'), nil
	})
	require.NoError(t, err)
	require.Len(t, offsets, 3)

	newHeap, err := metaheap.Open(tmpPath, 5)
	require.NoError(t, err)
	defer newHeap.Close()

	for i, off := range offsets {
		got, err := newHeap.Read(off)
		require.NoError(t, err)
		assert.Equal(t, append(bytes.Clone(records[i]), 'X'), got)
	}
}

func TestReplaceRenamesTmpOverFinal(t *testing.T) {
	dir := t.TempDir()
	finalPath := filepath.Join(dir, "meta.heap")
	tmpPath := filepath.Join(dir, "meta.heap.tmp")

	require.NoError(t, os.WriteFile(tmpPath, []byte("payload"), 0644))
	require.NoError(t, metaheap.Replace(tmpPath, finalPath))

	got, err := os.ReadFile(finalPath)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))
	_, err = os.Stat(tmpPath)
	assert.True(t, os.IsNotExist(err))
}
