package vp_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iamNilotpal/tsisax/internal/vp"
)

func sineSeries(n int, shift float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		t := float64(i) / float64(n)
		out[i] = math.Sin(2*math.Pi*t) + shift
	}
	return out
}

func TestDistanceIdenticalSeriesIsZero(t *testing.T) {
	a := sineSeries(100, 0)
	d, err := vp.Distance(a, a)
	require.NoError(t, err)
	assert.InDelta(t, 0, d, 1e-9)
}

func TestDistanceIsShiftInvariant(t *testing.T) {
	a := sineSeries(100, 0)
	b := sineSeries(100, 7) // constant offset vanishes under z-normalization
	d, err := vp.Distance(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 0, d, 1e-6)
}

func TestDistanceRejectsMismatchedLength(t *testing.T) {
	_, err := vp.Distance(make([]float64, 4), make([]float64, 5))
	assert.Error(t, err)
}

func TestDistanceIsSymmetric(t *testing.T) {
	a := sineSeries(50, 0)
	b := sineSeries(50, 0.2)
	for i := range b {
		b[i] *= 2
	}

	d1, err := vp.Distance(a, b)
	require.NoError(t, err)
	d2, err := vp.Distance(b, a)
	require.NoError(t, err)
	assert.InDelta(t, d1, d2, 1e-9)
}

func TestEngineSearchDoublesCutoffUntilEnoughCandidates(t *testing.T) {
	e := vp.NewEngine(0.1, 5)
	e.AddVantagePoint("v1")

	distToQuery := map[string]float64{"v1": 1.0}
	// Only "a" lies within the first windows (widths 0.2 and 0.4); "b" joins
	// once the cutoff has doubled twice and the window [lo, hi] is 0.8 wide,
	// so reaching two candidates takes the doubling loop.
	within := func(vpName string, lo, hi float64) ([]string, error) {
		if hi-lo < 0.7 {
			return []string{"a"}, nil
		}
		return []string{"a", "b"}, nil
	}
	exact := map[string]float64{"a": 0.5, "b": 0.2}

	results, err := e.Search(
		2,
		func(v string) (float64, error) { return distToQuery[v], nil },
		within,
		func(pk string) (float64, error) { return exact[pk], nil },
	)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "b", results[0].PK, "results must be sorted by ascending exact distance")
	assert.Equal(t, "a", results[1].PK)
}

func TestEngineSearchWithNoVantagePointsReturnsEmpty(t *testing.T) {
	e := vp.NewEngine(0.25, 3)
	results, err := e.Search(
		5,
		func(v string) (float64, error) { return 0, nil },
		func(v string, lo, hi float64) ([]string, error) { return nil, nil },
		func(pk string) (float64, error) { return 0, nil },
	)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestEngineAddRemoveVantagePointIsIdempotent(t *testing.T) {
	e := vp.NewEngine(0.25, 3)
	e.AddVantagePoint("v1")
	e.AddVantagePoint("v1")
	assert.Equal(t, []string{"v1"}, e.VantagePoints())

	e.RemoveVantagePoint("v1")
	assert.Empty(t, e.VantagePoints())
}
