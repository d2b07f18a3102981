package vp

import (
	"sort"
	"sync"
)

// Engine tracks which pks are vantage points and drives the
// triangle-inequality pruning search described in spec §4.10. It holds no
// series or metadata itself -- StorageManager owns the d_vp_<k> metadata
// fields and TSHeap reads; Engine only sequences the algorithm.
type Engine struct {
	mu             sync.RWMutex
	vantagePoints  []string
	initialCutoff  float64
	maxDoublings   int
}

// NewEngine builds an Engine with the given initial triangle-inequality
// cutoff and maximum number of cutoff doublings before giving up.
func NewEngine(initialCutoff float64, maxDoublings int) *Engine {
	return &Engine{initialCutoff: initialCutoff, maxDoublings: maxDoublings}
}

// AddVantagePoint registers pk as a vantage point.
func (e *Engine) AddVantagePoint(pk string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, v := range e.vantagePoints {
		if v == pk {
			return
		}
	}
	e.vantagePoints = append(e.vantagePoints, pk)
}

// RemoveVantagePoint unregisters pk.
func (e *Engine) RemoveVantagePoint(pk string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, v := range e.vantagePoints {
		if v == pk {
			e.vantagePoints = append(e.vantagePoints[:i], e.vantagePoints[i+1:]...)
			return
		}
	}
}

// VantagePoints returns a copy of the current vantage-point pk list.
func (e *Engine) VantagePoints() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, len(e.vantagePoints))
	copy(out, e.vantagePoints)
	return out
}

// DistToQuery pairs a candidate pk with its query distance, used while
// assembling the final top-k ranking.
type DistToQuery struct {
	PK   string
	Dist float64
}

// Search runs the full vantage-point similarity search: dQuery supplies
// d(q, v) for each registered vantage point v; candidatesWithin enumerates
// every pk whose cached d_vp_v lies within [lo, hi] of the query-to-v
// distance (an index lookup StorageManager performs via the d_vp_v
// secondary index); exactDist computes the final exact distance used to
// rank survivors. Cutoff doubles, per spec §4.10, until at least top
// candidates are found or maxDoublings is exhausted.
func (e *Engine) Search(
	top int,
	dQuery func(vp string) (float64, error),
	candidatesWithin func(vp string, lo, hi float64) ([]string, error),
	exactDist func(pk string) (float64, error),
) ([]DistToQuery, error) {
	vps := e.VantagePoints()

	vpDist := make(map[string]float64, len(vps))
	for _, v := range vps {
		d, err := dQuery(v)
		if err != nil {
			return nil, err
		}
		vpDist[v] = d
	}

	cutoff := e.initialCutoff
	seen := make(map[string]struct{})
	var candidates []string

	for doubling := 0; doubling <= e.maxDoublings; doubling++ {
		seen = make(map[string]struct{})
		candidates = candidates[:0]

		for _, v := range vps {
			d := vpDist[v]
			found, err := candidatesWithin(v, d-cutoff, d+cutoff)
			if err != nil {
				return nil, err
			}
			for _, pk := range found {
				if _, ok := seen[pk]; !ok {
					seen[pk] = struct{}{}
					candidates = append(candidates, pk)
				}
			}
		}

		if len(candidates) >= top || len(vps) == 0 {
			break
		}
		cutoff *= 2
	}

	results := make([]DistToQuery, 0, len(candidates))
	for _, pk := range candidates {
		d, err := exactDist(pk)
		if err != nil {
			return nil, err
		}
		results = append(results, DistToQuery{PK: pk, Dist: d})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Dist < results[j].Dist })
	if len(results) > top {
		results = results[:top]
	}
	return results, nil
}
