package secondary

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/btree"

	"github.com/iamNilotpal/tsisax/pkg/codec"
	"github.com/iamNilotpal/tsisax/pkg/filesys"

	tserrors "github.com/iamNilotpal/tsisax/pkg/errors"
)

// btreeDegree is the branching factor passed to btree.New. 32 matches the
// degree google/btree's own benchmarks are tuned around.
const btreeDegree = 32

// OrderedTreeIndex is a balanced ordered map keyed by field value, value a
// set of pks -- used for high-cardinality numeric/string fields where a
// bitmap-per-value would be wasteful. Backed by github.com/google/btree,
// present in the reference pack's own dependency stack (spec §4.5 calls for
// "a balanced ordered map / balanced ordered tree" by name).
type OrderedTreeIndex struct {
	mu   sync.RWMutex
	tree *btree.BTree
	lsn  uint64
}

// bucket is one btree.Item: a field value plus the set of pks holding it.
type bucket struct {
	value any
	pks   map[string]struct{}
}

// Less implements btree.Item. Values within one index are always the same
// Go type (Schema enforces one type per field), so a compare failure here
// only arises from caller error; ties fall back to false so an erroneous
// mixed-type insert doesn't panic, though callers should reject it before
// it reaches the tree (see checkTypeLocked).
func (b *bucket) Less(than btree.Item) bool {
	c, err := compare(b.value, than.(*bucket).value)
	if err != nil {
		return false
	}
	return c < 0
}

// NewOrderedTreeIndex builds an empty index.
func NewOrderedTreeIndex() *OrderedTreeIndex {
	return &OrderedTreeIndex{tree: btree.New(btreeDegree)}
}

// compare returns -1, 0, 1 for a<b, a==b, a>b. Only the value types Schema
// can produce (int64, float64, string, bool) are supported.
func compare(a, b any) (int, error) {
	switch av := a.(type) {
	case int64:
		bv, ok := b.(int64)
		if !ok {
			return 0, fmt.Errorf("ordered index: type mismatch %T vs %T", a, b)
		}
		switch {
		case av < bv:
			return -1, nil
		case av > bv:
			return 1, nil
		default:
			return 0, nil
		}
	case float64:
		bv, ok := b.(float64)
		if !ok {
			return 0, fmt.Errorf("ordered index: type mismatch %T vs %T", a, b)
		}
		switch {
		case av < bv:
			return -1, nil
		case av > bv:
			return 1, nil
		default:
			return 0, nil
		}
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, fmt.Errorf("ordered index: type mismatch %T vs %T", a, b)
		}
		switch {
		case av < bv:
			return -1, nil
		case av > bv:
			return 1, nil
		default:
			return 0, nil
		}
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, fmt.Errorf("ordered index: type mismatch %T vs %T", a, b)
		}
		if av == bv {
			return 0, nil
		}
		if !av && bv {
			return -1, nil
		}
		return 1, nil
	default:
		return 0, fmt.Errorf("ordered index: unsupported value type %T", a)
	}
}

// checkTypeLocked rejects a value whose type doesn't match whatever's
// already stored, since Less can't surface a compare error on its own.
func (idx *OrderedTreeIndex) checkTypeLocked(value any) error {
	if idx.tree.Len() == 0 {
		return nil
	}
	sample := idx.tree.Min().(*bucket).value
	_, err := compare(sample, value)
	return err
}

// Insert adds pk to the bucket for value, creating the bucket if absent.
func (idx *OrderedTreeIndex) Insert(value any, pk string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if err := idx.checkTypeLocked(value); err != nil {
		return tserrors.InvalidArgument("secondary.OrderedTreeIndex.Insert", err.Error())
	}

	probe := &bucket{value: value}
	if existing := idx.tree.Get(probe); existing != nil {
		existing.(*bucket).pks[pk] = struct{}{}
		return nil
	}
	idx.tree.ReplaceOrInsert(&bucket{value: value, pks: map[string]struct{}{pk: {}}})
	return nil
}

// Remove drops pk from value's bucket, deleting the bucket once empty.
func (idx *OrderedTreeIndex) Remove(value any, pk string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if err := idx.checkTypeLocked(value); err != nil {
		return tserrors.InvalidArgument("secondary.OrderedTreeIndex.Remove", err.Error())
	}

	probe := &bucket{value: value}
	existing := idx.tree.Get(probe)
	if existing == nil {
		return nil
	}
	b := existing.(*bucket)
	delete(b.pks, pk)
	if len(b.pks) == 0 {
		idx.tree.Delete(probe)
	}
	return nil
}

// Query evaluates op against value across every bucket.
func (idx *OrderedTreeIndex) Query(op Op, value any) ([]string, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if err := idx.checkTypeLocked(value); err != nil {
		return nil, tserrors.InvalidArgument("secondary.OrderedTreeIndex.Query", err.Error())
	}

	var out []string
	collect := func(b *bucket) {
		for pk := range b.pks {
			out = append(out, pk)
		}
	}

	switch op {
	case OpEQ:
		if existing := idx.tree.Get(&bucket{value: value}); existing != nil {
			collect(existing.(*bucket))
		}

	case OpNE:
		idx.tree.Ascend(func(i btree.Item) bool {
			b := i.(*bucket)
			if c, _ := compare(b.value, value); c != 0 {
				collect(b)
			}
			return true
		})

	case OpLT:
		idx.tree.AscendLessThan(&bucket{value: value}, func(i btree.Item) bool {
			collect(i.(*bucket))
			return true
		})

	case OpLE:
		idx.tree.DescendLessOrEqual(&bucket{value: value}, func(i btree.Item) bool {
			collect(i.(*bucket))
			return true
		})

	case OpGT:
		idx.tree.DescendGreaterThan(&bucket{value: value}, func(i btree.Item) bool {
			collect(i.(*bucket))
			return true
		})

	case OpGE:
		idx.tree.AscendGreaterOrEqual(&bucket{value: value}, func(i btree.Item) bool {
			collect(i.(*bucket))
			return true
		})

	default:
		return nil, tserrors.InvalidArgument("secondary.OrderedTreeIndex.Query", "unsupported operator for ordered index")
	}

	return out, nil
}

func (idx *OrderedTreeIndex) LSN() uint64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.lsn
}

func (idx *OrderedTreeIndex) SetLSN(lsn uint64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.lsn = lsn
}

// persistedOrderedEntry is the wire shape for one bucket.
type persistedOrderedEntry struct {
	Value any      `codec:"value"`
	PKs   []string `codec:"pks"`
}

type persistedOrdered struct {
	LSN     uint64                  `codec:"lsn"`
	Entries []persistedOrderedEntry `codec:"entries"`
}

// Save writes the index to path in ascending value order, so re-loading
// never needs to re-sort before reconstructing the tree.
func (idx *OrderedTreeIndex) Save(path string) error {
	idx.mu.RLock()
	snap := persistedOrdered{LSN: idx.lsn}
	idx.tree.Ascend(func(i btree.Item) bool {
		b := i.(*bucket)
		pks := make([]string, 0, len(b.pks))
		for pk := range b.pks {
			pks = append(pks, pk)
		}
		sort.Strings(pks)
		snap.Entries = append(snap.Entries, persistedOrderedEntry{Value: b.value, PKs: pks})
		return true
	})
	idx.mu.RUnlock()

	data, err := codec.Encode(snap)
	if err != nil {
		return tserrors.IOFailure("secondary.OrderedTreeIndex.Save", err)
	}
	return wrapWriteErr(filesys.WriteFile(path, 0644, data))
}

// LoadOrderedTreeIndex reads a snapshot previously written by Save.
func LoadOrderedTreeIndex(path string) (*OrderedTreeIndex, error) {
	exists, err := filesys.Exists(path)
	if err != nil {
		return nil, tserrors.IOFailure("secondary.LoadOrderedTreeIndex", err)
	}
	if !exists {
		return nil, tserrors.NotFound("secondary.LoadOrderedTreeIndex", path)
	}

	raw, err := filesys.ReadFile(path)
	if err != nil {
		return nil, tserrors.IOFailure("secondary.LoadOrderedTreeIndex", err)
	}

	var snap persistedOrdered
	if err := codec.Decode(raw, &snap); err != nil {
		corruptErr := tserrors.NewIndexCorruptionError("secondary.LoadOrderedTreeIndex", len(raw), err)
		return nil, tserrors.Integrity("secondary.LoadOrderedTreeIndex", corruptErr)
	}

	idx := &OrderedTreeIndex{tree: btree.New(btreeDegree), lsn: snap.LSN}
	for _, e := range snap.Entries {
		pks := make(map[string]struct{}, len(e.PKs))
		for _, pk := range e.PKs {
			pks[pk] = struct{}{}
		}
		idx.tree.ReplaceOrInsert(&bucket{value: e.Value, pks: pks})
	}
	return idx, nil
}

// Rebuild discards all entries and repopulates by iterating rows.
func (idx *OrderedTreeIndex) Rebuild(rows func(yield func(pk string, value any) bool)) error {
	idx.mu.Lock()
	idx.tree = btree.New(btreeDegree)
	idx.mu.Unlock()

	var insertErr error
	rows(func(pk string, value any) bool {
		if err := idx.Insert(value, pk); err != nil {
			insertErr = err
			return false
		}
		return true
	})
	return insertErr
}

func wrapWriteErr(err error) error {
	if err == nil {
		return nil
	}
	return tserrors.IOFailure("secondary.Save", err)
}
