package trigger_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iamNilotpal/tsisax/internal/trigger"
)

func TestAddFiringOrderIsInsertionOrder(t *testing.T) {
	table := trigger.New()
	require.NoError(t, table.Add("stats", trigger.OnInsertTS, []string{"mean", "std"}, ""))
	require.NoError(t, table.Add("corr", trigger.OnInsertTS, []string{"corr"}, "1,2,3"))

	bindings := table.Bindings(trigger.OnInsertTS)
	require.Len(t, bindings, 2)
	assert.Equal(t, "stats", bindings[0].Proc)
	assert.Equal(t, "corr", bindings[1].Proc)
}

func TestAddRejectsEmptyProcName(t *testing.T) {
	table := trigger.New()
	assert.Error(t, table.Add("", trigger.OnInsertTS, nil, ""))
}

func TestRemoveFirstMatch(t *testing.T) {
	table := trigger.New()
	require.NoError(t, table.Add("stats", trigger.OnInsertTS, []string{"mean"}, ""))
	require.NoError(t, table.Add("stats", trigger.OnInsertTS, []string{"std"}, ""))

	require.NoError(t, table.Remove("stats", trigger.OnInsertTS))
	bindings := table.Bindings(trigger.OnInsertTS)
	require.Len(t, bindings, 1)
	assert.Equal(t, []string{"std"}, bindings[0].Target)
}

func TestRemoveMissingIsNotFound(t *testing.T) {
	table := trigger.New()
	assert.Error(t, table.Remove("stats", trigger.OnInsertTS))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	table := trigger.New()
	require.NoError(t, table.Add("stats", trigger.OnInsertTS, []string{"mean", "std"}, ""))

	path := filepath.Join(t.TempDir(), "triggers.idx")
	require.NoError(t, table.Save(path))

	loaded, err := trigger.Load(path)
	require.NoError(t, err)
	assert.Equal(t, table.Bindings(trigger.OnInsertTS), loaded.Bindings(trigger.OnInsertTS))
}

func TestLoadMissingFileYieldsEmptyTable(t *testing.T) {
	loaded, err := trigger.Load(filepath.Join(t.TempDir(), "absent.idx"))
	require.NoError(t, err)
	assert.Empty(t, loaded.Bindings(trigger.OnInsertTS))
}
