package engine_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iamNilotpal/tsisax/internal/engine"
	"github.com/iamNilotpal/tsisax/internal/schema"
	"github.com/iamNilotpal/tsisax/internal/trigger"
	"github.com/iamNilotpal/tsisax/internal/tsheap"
	"github.com/iamNilotpal/tsisax/pkg/options"
)

func testOptions(t *testing.T) options.Options {
	t.Helper()
	return options.New(
		options.WithDataDir(t.TempDir()),
		options.WithDBName("db"),
		options.WithTSLength(4),
		options.WithFlushEvery(2),
		options.WithSAX(options.SAXOptions{WordLength: 4, Cardinality: 4, TerminalThreshold: 5}),
	)
}

func series(vals ...float64) tsheap.Series {
	times := make([]float64, len(vals))
	for i := range times {
		times[i] = float64(i)
	}
	return tsheap.Series{Times: times, Values: vals}
}

func TestInsertGetDeleteLifecycle(t *testing.T) {
	sm, err := engine.Open(testOptions(t))
	require.NoError(t, err)
	defer sm.Close()

	require.NoError(t, sm.InsertTS("ts-1", series(1, 2, 3, 4)))

	rows, err := sm.Select(map[string]any{"pk": "ts-1"}, []string{"pk", "ts"}, engine.Additional{})
	require.NoError(t, err)
	require.Contains(t, rows, "ts-1")

	require.NoError(t, sm.DeleteTS("ts-1"))
	rows, err = sm.Select(map[string]any{"pk": "ts-1"}, []string{"pk"}, engine.Additional{})
	require.NoError(t, err)
	assert.Empty(t, rows)

	// pk is free again once deleted.
	require.NoError(t, sm.InsertTS("ts-1", series(5, 6, 7, 8)))
}

func TestInsertRejectsDuplicatePK(t *testing.T) {
	sm, err := engine.Open(testOptions(t))
	require.NoError(t, err)
	defer sm.Close()

	require.NoError(t, sm.InsertTS("ts-1", series(1, 2, 3, 4)))
	err = sm.InsertTS("ts-1", series(1, 2, 3, 4))
	assert.Error(t, err)
}

func TestInsertRejectsWrongLength(t *testing.T) {
	sm, err := engine.Open(testOptions(t))
	require.NoError(t, err)
	defer sm.Close()

	err = sm.InsertTS("ts-1", series(1, 2, 3))
	assert.Error(t, err)
}

func TestInsertRejectsNonMonotonicTimes(t *testing.T) {
	sm, err := engine.Open(testOptions(t))
	require.NoError(t, err)
	defer sm.Close()

	nonMonotonic := tsheap.Series{Times: []float64{0, 1, 1, 3}, Values: []float64{1, 2, 3, 4}}
	assert.Error(t, sm.InsertTS("ts-1", nonMonotonic))

	decreasing := tsheap.Series{Times: []float64{0, 2, 1, 3}, Values: []float64{1, 2, 3, 4}}
	assert.Error(t, sm.InsertTS("ts-2", decreasing))
}

func TestInsertRejectsReservedCharactersInPK(t *testing.T) {
	sm, err := engine.Open(testOptions(t))
	require.NoError(t, err)
	defer sm.Close()

	assert.Error(t, sm.InsertTS("has/slash", series(1, 2, 3, 4)))
	assert.Error(t, sm.InsertTS("", series(1, 2, 3, 4)))
}

func TestDeleteUnknownPKIsNotFound(t *testing.T) {
	sm, err := engine.Open(testOptions(t))
	require.NoError(t, err)
	defer sm.Close()

	assert.Error(t, sm.DeleteTS("absent"))
}

func TestUpsertMetaIsIdempotent(t *testing.T) {
	sm, err := engine.Open(testOptions(t))
	require.NoError(t, err)
	defer sm.Close()

	require.NoError(t, sm.InsertTS("ts-1", series(1, 2, 3, 4)))
	require.NoError(t, sm.UpsertMeta("ts-1", map[string]any{"vp": true}))
	require.NoError(t, sm.UpsertMeta("ts-1", map[string]any{"vp": true}))

	rows, err := sm.Select(map[string]any{"pk": "ts-1"}, []string{"pk", "vp"}, engine.Additional{})
	require.NoError(t, err)
	assert.Equal(t, true, rows["ts-1"]["vp"])
}

func TestUpsertMetaRejectsUnknownField(t *testing.T) {
	sm, err := engine.Open(testOptions(t))
	require.NoError(t, err)
	defer sm.Close()

	require.NoError(t, sm.InsertTS("ts-1", series(1, 2, 3, 4)))
	assert.Error(t, sm.UpsertMeta("ts-1", map[string]any{"nonexistent": 1}))
}

func TestRecoveryAcrossRestartPreservesRows(t *testing.T) {
	opt := testOptions(t)

	sm, err := engine.Open(opt)
	require.NoError(t, err)
	require.NoError(t, sm.InsertTS("ts-1", series(1, 2, 3, 4)))
	require.NoError(t, sm.InsertTS("ts-2", series(5, 6, 7, 8)))
	require.NoError(t, sm.Close())

	sm2, err := engine.Open(opt)
	require.NoError(t, err)
	defer sm2.Close()

	rows, err := sm2.Select(map[string]any{}, []string{"pk"}, engine.Additional{})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Contains(t, rows, "ts-1")
	assert.Contains(t, rows, "ts-2")
}

func TestAddFieldThenSelectProjectsDefault(t *testing.T) {
	sm, err := engine.Open(testOptions(t))
	require.NoError(t, err)
	defer sm.Close()

	require.NoError(t, sm.InsertTS("ts-1", series(1, 2, 3, 4)))
	require.NoError(t, sm.AddField(schema.Field{Name: "label", Type: schema.TypeInt, Default: int64(0)}))

	rows, err := sm.Select(map[string]any{"pk": "ts-1"}, []string{"pk", "label"}, engine.Additional{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), rows["ts-1"]["label"])
}

func TestRemoveFieldRejectsIndexedField(t *testing.T) {
	sm, err := engine.Open(testOptions(t))
	require.NoError(t, err)
	defer sm.Close()

	require.NoError(t, sm.AddField(schema.Field{Name: "category", Type: schema.TypeInt, Default: int64(0), Index: schema.IndexBitmap}))
	assert.Error(t, sm.RemoveField("category"))
}

// The mechanism of seed scenario 2 from spec §8: a stats trigger on
// insert_ts populates mean and std, checked here on a constant series
// (mean 1, std 0).
func TestTriggerFiresStatsProcOnInsert(t *testing.T) {
	sm, err := engine.Open(testOptions(t))
	require.NoError(t, err)
	defer sm.Close()

	require.NoError(t, sm.AddField(schema.Field{Name: "mean", Type: schema.TypeFloat, Default: 0.0}))
	require.NoError(t, sm.AddField(schema.Field{Name: "std", Type: schema.TypeFloat, Default: 0.0}))
	require.NoError(t, sm.AddTrigger("stats", trigger.OnInsertTS, []string{"mean", "std"}, ""))

	require.NoError(t, sm.InsertTS("ts-1", series(1, 1, 1, 1)))

	rows, err := sm.Select(map[string]any{"pk": "ts-1"}, []string{"pk", "mean", "std"}, engine.Additional{})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, rows["ts-1"]["mean"].(float64), 1e-9)
	assert.InDelta(t, 0.0, rows["ts-1"]["std"].(float64), 1e-9)
}

func TestDeleteTSRemovesFromSecondaryIndex(t *testing.T) {
	sm, err := engine.Open(testOptions(t))
	require.NoError(t, err)
	defer sm.Close()

	require.NoError(t, sm.AddField(schema.Field{Name: "category", Type: schema.TypeInt, Default: int64(0), Index: schema.IndexBitmap}))
	require.NoError(t, sm.InsertTS("ts-1", series(1, 2, 3, 4)))
	require.NoError(t, sm.UpsertMeta("ts-1", map[string]any{"category": int64(7)}))

	rows, err := sm.Select(map[string]any{"category": int64(7)}, []string{"pk"}, engine.Additional{})
	require.NoError(t, err)
	assert.Contains(t, rows, "ts-1")

	require.NoError(t, sm.DeleteTS("ts-1"))
	rows, err = sm.Select(map[string]any{"category": int64(7)}, []string{"pk"}, engine.Additional{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestVPSimilaritySearchOrdersByDistance(t *testing.T) {
	sm, err := engine.Open(testOptions(t))
	require.NoError(t, err)
	defer sm.Close()

	require.NoError(t, sm.InsertTS("v1", series(1, 2, 3, 4)))
	require.NoError(t, sm.InsertVP("v1"))

	require.NoError(t, sm.InsertTS("near", series(1, 2, 3, 4)))
	require.NoError(t, sm.InsertTS("far", series(10, -3, 8, 0)))

	results, err := sm.VPSimilaritySearch([]float64{1, 2, 3, 4}, 2)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for i := 1; i < len(results); i++ {
		assert.LessOrEqual(t, results[i-1].Dist, results[i].Dist)
	}
}

func TestAugmentedSelectAppliesProcToSurvivingRows(t *testing.T) {
	sm, err := engine.Open(testOptions(t))
	require.NoError(t, err)
	defer sm.Close()

	require.NoError(t, sm.InsertTS("ts-1", series(2, 2, 2, 2)))

	rows, err := sm.AugmentedSelect("stats", []string{"mean", "std"}, "", map[string]any{"pk": "ts-1"}, []string{"pk"}, engine.Additional{})
	require.NoError(t, err)
	assert.InDelta(t, 2.0, rows["ts-1"]["mean"].(float64), 1e-9)
}

func TestSelectAdditionalSortAndLimit(t *testing.T) {
	sm, err := engine.Open(testOptions(t))
	require.NoError(t, err)
	defer sm.Close()

	require.NoError(t, sm.AddField(schema.Field{Name: "score", Type: schema.TypeInt, Default: int64(0)}))
	require.NoError(t, sm.InsertTS("a", series(1, 2, 3, 4)))
	require.NoError(t, sm.InsertTS("b", series(1, 2, 3, 4)))
	require.NoError(t, sm.InsertTS("c", series(1, 2, 3, 4)))
	require.NoError(t, sm.UpsertMeta("a", map[string]any{"score": int64(30)}))
	require.NoError(t, sm.UpsertMeta("b", map[string]any{"score": int64(10)}))
	require.NoError(t, sm.UpsertMeta("c", map[string]any{"score": int64(20)}))

	rows, err := sm.Select(map[string]any{}, []string{"pk", "score"}, engine.Additional{SortBy: "score", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Contains(t, rows, "b")
	assert.Contains(t, rows, "c")
}

func TestSchemaPersistsAcrossRestart(t *testing.T) {
	opt := testOptions(t)
	sm, err := engine.Open(opt)
	require.NoError(t, err)
	require.NoError(t, sm.AddField(schema.Field{Name: "label", Type: schema.TypeInt, Default: int64(0)}))
	require.NoError(t, sm.InsertTS("ts-1", series(1, 2, 3, 4)))
	require.NoError(t, sm.Close())

	sm2, err := engine.Open(opt)
	require.NoError(t, err)
	defer sm2.Close()

	rows, err := sm2.Select(map[string]any{"pk": "ts-1"}, []string{"pk", "label"}, engine.Additional{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), rows["ts-1"]["label"])
}

func TestSecondaryIndexSurvivesRestart(t *testing.T) {
	opt := testOptions(t)
	sm, err := engine.Open(opt)
	require.NoError(t, err)
	require.NoError(t, sm.AddField(schema.Field{Name: "category", Type: schema.TypeInt, Default: int64(0), Index: schema.IndexBitmap}))
	require.NoError(t, sm.InsertTS("ts-1", series(1, 2, 3, 4)))
	require.NoError(t, sm.UpsertMeta("ts-1", map[string]any{"category": int64(5)}))
	require.NoError(t, sm.Close())

	sm2, err := engine.Open(opt)
	require.NoError(t, err)
	defer sm2.Close()

	rows, err := sm2.Select(map[string]any{"category": int64(5)}, []string{"pk"}, engine.Additional{})
	require.NoError(t, err)
	assert.Contains(t, rows, "ts-1")
}

func TestOpenRejectsMismatchedTSLength(t *testing.T) {
	dir := t.TempDir()
	opt := options.New(options.WithDataDir(dir), options.WithDBName("db"), options.WithTSLength(4),
		options.WithSAX(options.SAXOptions{WordLength: 4, Cardinality: 4, TerminalThreshold: 5}))
	sm, err := engine.Open(opt)
	require.NoError(t, err)
	require.NoError(t, sm.Close())

	opt2 := options.New(options.WithDataDir(dir), options.WithDBName("db"), options.WithTSLength(8),
		options.WithSAX(options.SAXOptions{WordLength: 4, Cardinality: 4, TerminalThreshold: 5}))
	_, err = engine.Open(opt2)
	assert.Error(t, err)
}

func TestLookupExposesRegisteredProcedures(t *testing.T) {
	_, ok := engine.Lookup("stats")
	assert.True(t, ok)
	_, ok = engine.Lookup("unknown-proc")
	assert.False(t, ok)
}

func TestDataDirLayoutUnderDBName(t *testing.T) {
	opt := testOptions(t)
	sm, err := engine.Open(opt)
	require.NoError(t, err)
	defer sm.Close()

	require.NoError(t, sm.InsertTS("ts-1", series(1, 2, 3, 4)))
	_, err = sm.Select(map[string]any{"pk": "ts-1"}, []string{"pk"}, engine.Additional{})
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(opt.DataDir, opt.DBName, "heap_ts.met"))
}
