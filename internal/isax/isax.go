// Package isax implements the n-ary iSAX tree for approximate
// nearest-neighbor search over SAX-encoded series (spec §4.9).
package isax

import (
	"math"
	"sync"

	"github.com/iamNilotpal/tsisax/internal/sax"
	tserrors "github.com/iamNilotpal/tsisax/pkg/errors"
)

// entry is one (pk, word) pair stored at a terminal node.
type entry struct {
	pk   string
	word sax.Word
}

// node is either terminal (children == nil; its entries may be empty) or
// internal (children != nil).
// Per spec §4.9 a node never holds both shapes at once.
type node struct {
	entries  []entry
	position int             // internal: the word position this node splits on
	children map[int]*node   // internal: symbol at `position` -> child
}

func newTerminal() *node { return &node{} }

func (n *node) isTerminal() bool { return n.children == nil }

// Tree is the iSAX index. threshold bounds a terminal node's entry count
// before it must split.
type Tree struct {
	mu        sync.RWMutex
	root      *node
	threshold int
	encoder   *sax.Encoder
}

// New builds an empty tree using encoder for word generation and
// breakpoint-space distance, splitting terminals once they exceed
// threshold entries.
func New(encoder *sax.Encoder, threshold int) *Tree {
	return &Tree{root: newTerminal(), threshold: threshold, encoder: encoder}
}

// Insert adds pk under its SAX word.
func (t *Tree) Insert(pk string, word sax.Word) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.insertAt(t.root, entry{pk: pk, word: word})
}

func (t *Tree) insertAt(n *node, e entry) {
	if !n.isTerminal() {
		sym := e.word[n.position]
		child, ok := n.children[sym]
		if !ok {
			child = newTerminal()
			n.children[sym] = child
		}
		t.insertAt(child, e)
		return
	}

	n.entries = append(n.entries, e)
	if len(n.entries) <= t.threshold {
		return
	}
	t.split(n)
}

// split converts a terminal node into an internal one, per spec §4.9: pick
// the position with maximum entropy across the stored words (ties broken by
// smallest position index), then redistribute entries by their symbol at
// that position. A child that itself overflows is split recursively; if no
// discriminating position remains (every word identical across all
// positions not yet used as a split key on the path to this node), the
// terminal is left over-threshold rather than looping forever.
func (t *Tree) split(n *node) {
	pos, ok := bestSplitPosition(n.entries)
	if !ok {
		return
	}

	entries := n.entries
	n.entries = nil
	n.position = pos
	n.children = make(map[int]*node)

	for _, e := range entries {
		sym := e.word[pos]
		child, ok := n.children[sym]
		if !ok {
			child = newTerminal()
			n.children[sym] = child
		}
		child.entries = append(child.entries, e)
	}

	for _, child := range n.children {
		if len(child.entries) > t.threshold {
			t.split(child)
		}
	}
}

// bestSplitPosition returns the word position with maximum Shannon entropy
// of the symbol distribution across entries, tie-broken by the smallest
// index. ok is false if every position is constant across all entries (no
// position can discriminate them further).
func bestSplitPosition(entries []entry) (int, bool) {
	if len(entries) == 0 {
		return 0, false
	}
	wordLen := len(entries[0].word)

	bestPos := -1
	bestEntropy := -1.0
	for p := 0; p < wordLen; p++ {
		counts := make(map[int]int)
		for _, e := range entries {
			counts[e.word[p]]++
		}
		if len(counts) <= 1 {
			continue
		}
		h := entropy(counts, len(entries))
		if h > bestEntropy {
			bestEntropy = h
			bestPos = p
		}
	}
	if bestPos < 0 {
		return 0, false
	}
	return bestPos, true
}

func entropy(counts map[int]int, total int) float64 {
	var h float64
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / float64(total)
		h -= p * math.Log2(p)
	}
	return h
}

// Remove locates pk by descending with word and deletes its entry. Empty
// terminals are left in place (lazy removal), matching spec §4.9.
func (t *Tree) Remove(pk string, word sax.Word) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := t.root
	for !n.isTerminal() {
		sym := word[n.position]
		child, ok := n.children[sym]
		if !ok {
			return
		}
		n = child
	}
	for i, e := range n.entries {
		if e.pk == pk {
			n.entries = append(n.entries[:i], n.entries[i+1:]...)
			return
		}
	}
}

// NearestFunc computes the exact distance between a query series and the
// series stored under pk, used to refine candidates at the reached
// terminal. StorageManager supplies this since distance computation needs
// access to TSHeap via PrimaryIndex, which this package doesn't depend on.
type NearestFunc func(pk string) (float64, error)

// Query encodes q and descends the tree following the child matching q's
// symbol at each internal node's position, falling back to the
// breakpoint-nearest child when no exact match exists. At the reached
// terminal it evaluates dist against every stored pk and returns the
// closest. Returns ("", false, nil) if the tree is empty.
func (t *Tree) Query(q []float64, dist NearestFunc) (string, bool, error) {
	t.mu.RLock()
	word, err := t.encoder.Encode(q)
	if err != nil {
		t.mu.RUnlock()
		return "", false, err
	}

	n := t.root
	for !n.isTerminal() {
		sym := word[n.position]
		if child, ok := n.children[sym]; ok {
			n = child
			continue
		}
		n = nearestChild(n, sym, t.encoder)
	}
	entries := append([]entry(nil), n.entries...)
	t.mu.RUnlock()

	if len(entries) == 0 {
		return "", false, nil
	}

	bestPK := ""
	bestDist := math.Inf(1)
	for _, e := range entries {
		d, err := dist(e.pk)
		if err != nil {
			return "", false, err
		}
		if d < bestDist {
			bestDist = d
			bestPK = e.pk
		}
	}
	return bestPK, true, nil
}

// nearestChild picks the child whose key is closest to sym in breakpoint
// space, used when no child exactly matches the query's symbol.
func nearestChild(n *node, sym int, enc *sax.Encoder) *node {
	var best *node
	bestDist := math.Inf(1)
	for key, child := range n.children {
		d := enc.BreakpointDistance(sym, key)
		if d < bestDist {
			bestDist = d
			best = child
		}
	}
	return best
}

// Rebuild discards the current tree and reinserts every (pk, series) pair
// yielded by rows, used when isax.idx is missing or stale (spec §4.9).
func (t *Tree) Rebuild(rows func(yield func(pk string, series []float64) bool)) error {
	t.mu.Lock()
	t.root = newTerminal()
	t.mu.Unlock()

	var encodeErr error
	rows(func(pk string, series []float64) bool {
		word, err := t.encoder.Encode(series)
		if err != nil {
			encodeErr = err
			return false
		}
		t.Insert(pk, word)
		return true
	})
	if encodeErr != nil {
		return tserrors.InvalidArgument("isax.Rebuild", encodeErr.Error())
	}
	return nil
}
