package procedures_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iamNilotpal/tsisax/internal/procedures"
	"github.com/iamNilotpal/tsisax/internal/tsheap"
)

func sineValues(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		t := float64(i) / float64(n)
		out[i] = math.Sin(2 * math.Pi * t)
	}
	return out
}

func TestLookupKnownAndUnknownNames(t *testing.T) {
	_, ok := procedures.Lookup("stats")
	assert.True(t, ok)

	_, ok = procedures.Lookup("corr")
	assert.True(t, ok)

	_, ok = procedures.Lookup("nonexistent")
	assert.False(t, ok)
}

// Seed scenario 2 from spec §8: a sine series has mean approx 0.0 and
// stddev approx sqrt(0.5).
func TestStatsProcMeanAndStdOnSineWave(t *testing.T) {
	proc, ok := procedures.Lookup("stats")
	require.True(t, ok)

	series := tsheap.Series{Values: sineValues(1000)}
	out, err := proc(series, "")
	require.NoError(t, err)
	require.Len(t, out, 2)

	mean := out[0].(float64)
	std := out[1].(float64)
	assert.InDelta(t, 0.0, mean, 1e-9)
	assert.InDelta(t, math.Sqrt(0.5), std, 1e-2)
}

func TestStatsProcOnEmptySeries(t *testing.T) {
	proc, ok := procedures.Lookup("stats")
	require.True(t, ok)

	out, err := proc(tsheap.Series{Values: nil}, "")
	require.NoError(t, err)
	assert.Equal(t, []any{0.0, 0.0}, out)
}

func TestCorrProcPerfectPositiveCorrelation(t *testing.T) {
	proc, ok := procedures.Lookup("corr")
	require.True(t, ok)

	series := tsheap.Series{Values: []float64{1, 2, 3, 4, 5}}
	out, err := proc(series, "2,4,6,8,10")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.InDelta(t, 1.0, out[0].(float64), 1e-9)
}

func TestCorrProcRejectsMismatchedLength(t *testing.T) {
	proc, ok := procedures.Lookup("corr")
	require.True(t, ok)

	series := tsheap.Series{Values: []float64{1, 2, 3}}
	_, err := proc(series, "1,2")
	assert.Error(t, err)
}

func TestCorrProcRejectsMalformedArg(t *testing.T) {
	proc, ok := procedures.Lookup("corr")
	require.True(t, ok)

	series := tsheap.Series{Values: []float64{1, 2, 3}}
	_, err := proc(series, "1,notanumber,3")
	assert.Error(t, err)
}

func TestCorrProcZeroVarianceYieldsZero(t *testing.T) {
	proc, ok := procedures.Lookup("corr")
	require.True(t, ok)

	series := tsheap.Series{Values: []float64{5, 5, 5}}
	out, err := proc(series, "1,2,3")
	require.NoError(t, err)
	assert.Equal(t, []any{0.0}, out)
}
