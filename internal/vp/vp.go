// Package vp implements the vantage-point distance-cache similarity search
// engine described in spec §4.10. It depends only on the sax package's
// z-normalization helper and stdlib math -- the same stdlib-exception
// rationale as package sax applies here (see DESIGN.md).
package vp

import (
	"math"

	"github.com/iamNilotpal/tsisax/internal/sax"
	tserrors "github.com/iamNilotpal/tsisax/pkg/errors"
)

// Distance computes the normalized cross-correlation distance between two
// equal-length series: d(a,b) = sqrt(2*(1 - max_tau NCC(a,b,tau))) on
// z-normalized series, per spec §4.10. Lag tau ranges over
// [-(n-1), n-1]; NCC at each lag is the normalized dot product of the
// overlapping region.
func Distance(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, tserrors.InvalidArgument("vp.Distance", "series must have equal length")
	}
	if len(a) == 0 {
		return 0, nil
	}

	za := sax.ZNormalize(a)
	zb := sax.ZNormalize(b)
	n := len(za)

	maxNCC := math.Inf(-1)
	for tau := -(n - 1); tau <= n-1; tau++ {
		ncc := nccAtLag(za, zb, tau)
		if ncc > maxNCC {
			maxNCC = ncc
		}
	}

	arg := 2 * (1 - maxNCC)
	if arg < 0 {
		arg = 0 // guard against floating-point drift pushing maxNCC slightly above 1
	}
	return math.Sqrt(arg), nil
}

// nccAtLag returns the normalized cross-correlation of a and b at shift
// tau: sum(a[i]*b[i-tau]) over the overlapping region, normalized by each
// series' own norm over that region.
func nccAtLag(a, b []float64, tau int) float64 {
	n := len(a)

	var start, end int
	if tau >= 0 {
		start, end = tau, n
	} else {
		start, end = 0, n+tau
	}
	if end <= start {
		return 0
	}

	var dot, normA, normB float64
	for i := start; i < end; i++ {
		av := a[i]
		bv := b[i-tau]
		dot += av * bv
		normA += av * av
		normB += bv * bv
	}
	denom := math.Sqrt(normA * normB)
	if denom < 1e-12 {
		return 0
	}
	return dot / denom
}
