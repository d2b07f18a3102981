package secondary_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iamNilotpal/tsisax/internal/secondary"
)

func TestBitmapIndexInsertQueryEQ(t *testing.T) {
	idx := secondary.NewBitmapIndex()
	require.NoError(t, idx.Insert(true, "a"))
	require.NoError(t, idx.Insert(false, "b"))
	require.NoError(t, idx.Insert(true, "c"))

	trues, err := idx.Query(secondary.OpEQ, true)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "c"}, trues)
}

func TestBitmapIndexQueryNE(t *testing.T) {
	idx := secondary.NewBitmapIndex()
	require.NoError(t, idx.Insert(int64(1), "a"))
	require.NoError(t, idx.Insert(int64(2), "b"))

	notOne, err := idx.Query(secondary.OpNE, int64(1))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"b"}, notOne)
}

func TestBitmapIndexQueryIN(t *testing.T) {
	idx := secondary.NewBitmapIndex()
	require.NoError(t, idx.Insert(int64(1), "a"))
	require.NoError(t, idx.Insert(int64(2), "b"))
	require.NoError(t, idx.Insert(int64(3), "c"))

	result, err := idx.Query(secondary.OpIN, []any{int64(1), int64(3)})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "c"}, result)
}

func TestBitmapIndexRemove(t *testing.T) {
	idx := secondary.NewBitmapIndex()
	require.NoError(t, idx.Insert(true, "a"))
	require.NoError(t, idx.Remove(true, "a"))

	result, err := idx.Query(secondary.OpEQ, true)
	require.NoError(t, err)
	assert.Empty(t, result)
}

func TestBitmapIndexSaveLoadRoundTrip(t *testing.T) {
	idx := secondary.NewBitmapIndex()
	require.NoError(t, idx.Insert(true, "a"))
	require.NoError(t, idx.Insert(false, "b"))
	idx.SetLSN(7)

	path := filepath.Join(t.TempDir(), "index_deleted.idx")
	require.NoError(t, idx.Save(path))

	loaded, err := secondary.LoadBitmapIndex(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), loaded.LSN())

	result, err := loaded.Query(secondary.OpEQ, true)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a"}, result)
}

func TestBitmapIndexRejectsUnsupportedValueType(t *testing.T) {
	idx := secondary.NewBitmapIndex()
	err := idx.Insert([]int{1, 2}, "a")
	assert.Error(t, err)
}

func TestBitmapIndexRebuild(t *testing.T) {
	idx := secondary.NewBitmapIndex()
	require.NoError(t, idx.Insert(true, "stale"))

	rows := map[string]any{"a": true, "b": false}
	err := idx.Rebuild(func(yield func(pk string, value any) bool) {
		for k, v := range rows {
			if !yield(k, v) {
				return
			}
		}
	})
	require.NoError(t, err)

	stale, err := idx.Query(secondary.OpEQ, true)
	require.NoError(t, err)
	assert.NotContains(t, stale, "stale")
	assert.Contains(t, stale, "a")
}
