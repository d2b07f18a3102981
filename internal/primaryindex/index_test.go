package primaryindex_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iamNilotpal/tsisax/internal/primaryindex"
)

func paths(dir string) (idxPath, logPath string) {
	return filepath.Join(dir, "pk.idx"), filepath.Join(dir, "pk.log")
}

func TestPutGetDelete(t *testing.T) {
	dir := t.TempDir()
	idxPath, logPath := paths(dir)

	idx, err := primaryindex.Open(idxPath, logPath, 0)
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.Put("ts-0", 10, 20))
	entry, ok := idx.Get("ts-0")
	require.True(t, ok)
	assert.Equal(t, int64(10), entry.TSOff)
	assert.Equal(t, int64(20), entry.MetaOff)

	require.NoError(t, idx.Delete("ts-0"))
	_, ok = idx.Get("ts-0")
	assert.False(t, ok)
}

// Recovery without a prior flush: every Put/Delete must survive a reopen by
// WAL replay alone (spec §4.4's recovery contract).
func TestRecoveryReplaysLogWithoutSnapshot(t *testing.T) {
	dir := t.TempDir()
	idxPath, logPath := paths(dir)

	idx, err := primaryindex.Open(idxPath, logPath, 0)
	require.NoError(t, err)
	require.NoError(t, idx.Put("ts-0", 1, 2))
	require.NoError(t, idx.Put("ts-1", 3, 4))
	require.NoError(t, idx.Delete("ts-0"))
	// No Flush/Close here: every mutation is already fsynced to the log by
	// Put/Delete, so a second Open against the same paths must recover
	// purely by replay, simulating an unclean shutdown.

	reopened, err := primaryindex.Open(idxPath, logPath, 0)
	require.NoError(t, err)
	defer reopened.Close()

	_, ok := reopened.Get("ts-0")
	assert.False(t, ok, "ts-0 was deleted before reopening")

	entry, ok := reopened.Get("ts-1")
	require.True(t, ok)
	assert.Equal(t, int64(3), entry.TSOff)
	assert.Equal(t, int64(4), entry.MetaOff)
}

// After an explicit Flush, the in-memory state must be reconstructable from
// the pk.idx snapshot alone, with no log entries left to replay.
func TestFlushSnapshotsAndTruncatesLog(t *testing.T) {
	dir := t.TempDir()
	idxPath, logPath := paths(dir)

	idx, err := primaryindex.Open(idxPath, logPath, 0)
	require.NoError(t, err)
	require.NoError(t, idx.Put("ts-0", 1, 2))
	require.NoError(t, idx.Flush())
	assert.Equal(t, idx.CurrentLSN(), idx.Snapshot0LSN())

	require.NoError(t, idx.Close())

	reopened, err := primaryindex.Open(idxPath, logPath, 0)
	require.NoError(t, err)
	defer reopened.Close()

	entry, ok := reopened.Get("ts-0")
	require.True(t, ok)
	assert.Equal(t, int64(1), entry.TSOff)
}

func TestAutomaticFlushEvery(t *testing.T) {
	dir := t.TempDir()
	idxPath, logPath := paths(dir)

	idx, err := primaryindex.Open(idxPath, logPath, 2)
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.Put("ts-0", 1, 2))
	assert.NotEqual(t, idx.CurrentLSN(), idx.Snapshot0LSN(), "flush should not have fired yet")

	require.NoError(t, idx.Put("ts-1", 3, 4))
	assert.Equal(t, idx.CurrentLSN(), idx.Snapshot0LSN(), "flush should fire on the second operation")
}

func TestLenAndSnapshot(t *testing.T) {
	dir := t.TempDir()
	idxPath, logPath := paths(dir)

	idx, err := primaryindex.Open(idxPath, logPath, 0)
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.Put("ts-0", 1, 2))
	require.NoError(t, idx.Put("ts-1", 3, 4))
	assert.Equal(t, 2, idx.Len())

	snap := idx.Snapshot()
	assert.Len(t, snap, 2)
	assert.Equal(t, primaryindex.Entry{TSOff: 1, MetaOff: 2}, snap["ts-0"])
}
