package isax

import (
	"github.com/iamNilotpal/tsisax/internal/sax"
	"github.com/iamNilotpal/tsisax/pkg/codec"
	"github.com/iamNilotpal/tsisax/pkg/filesys"

	tserrors "github.com/iamNilotpal/tsisax/pkg/errors"
)

// persistedEntry mirrors entry for wire encoding.
type persistedEntry struct {
	PK   string `codec:"pk"`
	Word []int  `codec:"word"`
}

// persistedNode is the post-order wire shape of one node: a terminal node
// carries Entries; an internal node carries Position and Children keyed by
// symbol. Post-order means every child is fully described before its
// parent, so loading only ever references already-built subtrees.
type persistedNode struct {
	Position int                   `codec:"position"`
	Entries  []persistedEntry      `codec:"entries,omitempty"`
	Children map[int]*persistedNode `codec:"children,omitempty"`
}

type persistedTree struct {
	LSN  uint64         `codec:"lsn"`
	Root *persistedNode `codec:"root"`
}

func toPersisted(n *node) *persistedNode {
	if n.isTerminal() {
		entries := make([]persistedEntry, len(n.entries))
		for i, e := range n.entries {
			entries[i] = persistedEntry{PK: e.pk, Word: []int(e.word)}
		}
		return &persistedNode{Entries: entries}
	}

	children := make(map[int]*persistedNode, len(n.children))
	for sym, child := range n.children {
		children[sym] = toPersisted(child)
	}
	return &persistedNode{Position: n.position, Children: children}
}

func fromPersisted(p *persistedNode) *node {
	if len(p.Children) == 0 {
		entries := make([]entry, len(p.Entries))
		for i, e := range p.Entries {
			entries[i] = entry{pk: e.PK, word: sax.Word(e.Word)}
		}
		return &node{entries: entries}
	}

	children := make(map[int]*node, len(p.Children))
	for sym, child := range p.Children {
		children[sym] = fromPersisted(child)
	}
	return &node{position: p.Position, children: children}
}

// Save writes the tree to path, serialized post-order per spec §4.9.
func (t *Tree) Save(path string, lsn uint64) error {
	t.mu.RLock()
	snap := persistedTree{LSN: lsn, Root: toPersisted(t.root)}
	t.mu.RUnlock()

	data, err := codec.Encode(snap)
	if err != nil {
		return tserrors.IOFailure("isax.Save", err)
	}
	if err := filesys.WriteFile(path, 0644, data); err != nil {
		return tserrors.IOFailure("isax.Save", err)
	}
	return nil
}

// Load reads a tree previously written by Save, returning its snapshot lsn
// alongside it so the caller can compare against PrimaryIndex's lsn to
// detect staleness. A missing file is reported via ok=false, not an error.
func Load(path string, encoder *sax.Encoder, threshold int) (tree *Tree, lsn uint64, ok bool, err error) {
	exists, err := filesys.Exists(path)
	if err != nil {
		return nil, 0, false, tserrors.IOFailure("isax.Load", err)
	}
	if !exists {
		return nil, 0, false, nil
	}

	raw, err := filesys.ReadFile(path)
	if err != nil {
		return nil, 0, false, tserrors.IOFailure("isax.Load", err)
	}

	var snap persistedTree
	if err := codec.Decode(raw, &snap); err != nil {
		return nil, 0, false, tserrors.Integrity("isax.Load", err)
	}

	t := New(encoder, threshold)
	if snap.Root != nil {
		t.root = fromPersisted(snap.Root)
	}
	return t, snap.LSN, true, nil
}
