package tsheap_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iamNilotpal/tsisax/internal/tsheap"
)

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ts.heap")
	h, err := tsheap.Open(path, 4)
	require.NoError(t, err)
	defer h.Close()

	series := tsheap.Series{Times: []float64{0, 1, 2, 3}, Values: []float64{1.5, 2.5, 3.5, 4.5}}
	offset, err := h.Write(series)
	require.NoError(t, err)

	got, err := h.Read(offset)
	require.NoError(t, err)
	assert.Equal(t, series, got)
}

func TestWriteRejectsWrongLength(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ts.heap")
	h, err := tsheap.Open(path, 4)
	require.NoError(t, err)
	defer h.Close()

	_, err = h.Write(tsheap.Series{Times: []float64{0, 1}, Values: []float64{1, 2}})
	assert.Error(t, err)
}

func TestOpenRejectsMismatchedLengthOnReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ts.heap")
	h, err := tsheap.Open(path, 4)
	require.NoError(t, err)
	require.NoError(t, h.Close())

	_, err = tsheap.Open(path, 8)
	assert.Error(t, err)
}

func TestOpenTruncatesPartialTrailingRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ts.heap")
	h, err := tsheap.Open(path, 4)
	require.NoError(t, err)

	series := tsheap.Series{Times: []float64{0, 1, 2, 3}, Values: []float64{1, 2, 3, 4}}
	_, err = h.Write(series)
	require.NoError(t, err)
	require.NoError(t, h.Close())

	// Simulate a crash mid-write: append a few stray bytes past the last
	// complete record.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	h2, err := tsheap.Open(path, 4)
	require.NoError(t, err)
	defer h2.Close()

	got, err := h2.Read(8) // header is 8 bytes; first record starts there
	require.NoError(t, err)
	assert.Equal(t, series, got)
}

func TestLengthReportsConfiguredSeriesLength(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ts.heap")
	h, err := tsheap.Open(path, 6)
	require.NoError(t, err)
	defer h.Close()
	assert.Equal(t, 6, h.Length())
}
