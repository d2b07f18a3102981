// Package procedures implements the static proc-name -> function registry
// referenced by spec §4.7: "a static mapping of proc names (e.g. stats,
// corr) to pure functions over a series and optional arg." The full
// statistics-procedure library is explicitly out of scope (spec §1); this
// registry carries the two named examples plus the minimal set the seed
// scenarios in spec §8 exercise, as a stand-in for the external system.
package procedures

import (
	"math"
	"strconv"
	"strings"

	"github.com/iamNilotpal/tsisax/internal/tsheap"
	tserrors "github.com/iamNilotpal/tsisax/pkg/errors"
)

// Proc is a pure function over a series and an optional string argument,
// returning a positional tuple of outputs assigned to a trigger or
// augmented_select's target fields.
type Proc func(series tsheap.Series, arg string) ([]any, error)

var registry = map[string]Proc{
	"stats": statsProc,
	"corr":  corrProc,
}

// Lookup returns the proc registered under name, if any.
func Lookup(name string) (Proc, bool) {
	p, ok := registry[name]
	return p, ok
}

// statsProc computes (mean, stddev) of a series' values. arg is unused.
func statsProc(series tsheap.Series, _ string) ([]any, error) {
	mean, std := meanStd(series.Values)
	return []any{mean, std}, nil
}

// corrProc computes the Pearson correlation coefficient between the
// series' values and arg interpreted as a reference pk's cached distance
// is out of scope here; instead corr takes arg as a literal comma-separated
// series of the same length, matching the "optional arg" contract described
// in spec §4.7 for simple procs.
func corrProc(series tsheap.Series, arg string) ([]any, error) {
	other, err := parseFloatCSV(arg)
	if err != nil {
		return nil, tserrors.InvalidArgument("procedures.corr", err.Error())
	}
	if len(other) != len(series.Values) {
		return nil, tserrors.InvalidArgument("procedures.corr", "arg series length must match stored series length")
	}

	meanA, _ := meanStd(series.Values)
	meanB, _ := meanStd(other)

	var num, denA, denB float64
	for i := range series.Values {
		da := series.Values[i] - meanA
		db := other[i] - meanB
		num += da * db
		denA += da * da
		denB += db * db
	}
	if denA == 0 || denB == 0 {
		return []any{0.0}, nil
	}
	return []any{num / math.Sqrt(denA*denB)}, nil
}

func meanStd(values []float64) (mean, std float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean = sum / float64(len(values))

	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return mean, math.Sqrt(variance)
}

func parseFloatCSV(s string) ([]float64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
