package secondary

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/iamNilotpal/tsisax/pkg/codec"
	"github.com/iamNilotpal/tsisax/pkg/filesys"

	tserrors "github.com/iamNilotpal/tsisax/pkg/errors"
)

// BitmapIndex maps value -> roaring bitmap over pk slot ids, used for
// low-cardinality fields (spec §4.5). A parallel slot<->pk table (pks.idx in
// the spec's naming) is carried inline here rather than as a separate file,
// since both halves always load and save together.
type BitmapIndex struct {
	mu  sync.RWMutex
	lsn uint64

	buckets map[any]*roaring.Bitmap

	pkToSlot map[string]uint32
	slotToPK map[uint32]string
	nextSlot uint32
}

// NewBitmapIndex builds an empty index.
func NewBitmapIndex() *BitmapIndex {
	return &BitmapIndex{
		buckets:  make(map[any]*roaring.Bitmap),
		pkToSlot: make(map[string]uint32),
		slotToPK: make(map[uint32]string),
	}
}

func (idx *BitmapIndex) slotForLocked(pk string) uint32 {
	if slot, ok := idx.pkToSlot[pk]; ok {
		return slot
	}
	slot := idx.nextSlot
	idx.nextSlot++
	idx.pkToSlot[pk] = slot
	idx.slotToPK[slot] = pk
	return slot
}

// Insert adds pk to value's bitmap, assigning pk a slot id if it doesn't
// already have one.
func (idx *BitmapIndex) Insert(value any, pk string) error {
	key, err := bitmapKey(value)
	if err != nil {
		return tserrors.InvalidArgument("secondary.BitmapIndex.Insert", err.Error())
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	slot := idx.slotForLocked(pk)
	bm, ok := idx.buckets[key]
	if !ok {
		bm = roaring.New()
		idx.buckets[key] = bm
	}
	bm.Add(slot)
	return nil
}

// Remove clears pk's bit in value's bitmap. The slot assignment itself is
// retained -- reused across a pk's lifetime so other buckets referencing the
// same pk stay consistent without a cross-bucket sweep.
func (idx *BitmapIndex) Remove(value any, pk string) error {
	key, err := bitmapKey(value)
	if err != nil {
		return tserrors.InvalidArgument("secondary.BitmapIndex.Remove", err.Error())
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	slot, ok := idx.pkToSlot[pk]
	if !ok {
		return nil
	}
	if bm, ok := idx.buckets[key]; ok {
		bm.Remove(slot)
	}
	return nil
}

// Query evaluates op against value. OpIN expects value to be a []any of
// candidate values and unions their bitmaps.
func (idx *BitmapIndex) Query(op Op, value any) ([]string, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var result *roaring.Bitmap
	switch op {
	case OpEQ:
		key, err := bitmapKey(value)
		if err != nil {
			return nil, tserrors.InvalidArgument("secondary.BitmapIndex.Query", err.Error())
		}
		if bm, ok := idx.buckets[key]; ok {
			result = bm.Clone()
		} else {
			result = roaring.New()
		}

	case OpNE:
		key, err := bitmapKey(value)
		if err != nil {
			return nil, tserrors.InvalidArgument("secondary.BitmapIndex.Query", err.Error())
		}
		result = roaring.New()
		for k, bm := range idx.buckets {
			if k != key {
				result.Or(bm)
			}
		}

	case OpIN:
		values, ok := value.([]any)
		if !ok {
			return nil, tserrors.InvalidArgument("secondary.BitmapIndex.Query", "IN requires a slice of values")
		}
		result = roaring.New()
		for _, v := range values {
			key, err := bitmapKey(v)
			if err != nil {
				return nil, tserrors.InvalidArgument("secondary.BitmapIndex.Query", err.Error())
			}
			if bm, ok := idx.buckets[key]; ok {
				result.Or(bm)
			}
		}

	default:
		return nil, tserrors.InvalidArgument("secondary.BitmapIndex.Query", "unsupported operator for bitmap index")
	}

	out := make([]string, 0, result.GetCardinality())
	it := result.Iterator()
	for it.HasNext() {
		slot := it.Next()
		if pk, ok := idx.slotToPK[slot]; ok {
			out = append(out, pk)
		}
	}
	return out, nil
}

func (idx *BitmapIndex) LSN() uint64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.lsn
}

func (idx *BitmapIndex) SetLSN(lsn uint64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.lsn = lsn
}

// bitmapKey normalizes a dynamically-typed field value into a map key,
// since bool/int64/float64/string values must each compare by value, not by
// interface identity.
func bitmapKey(value any) (any, error) {
	switch value.(type) {
	case bool, int64, float64, string:
		return value, nil
	default:
		return nil, fmt.Errorf("bitmap index: unsupported value type %T", value)
	}
}

// persistedBitmap is the wire shape for a BitmapIndex snapshot.
type persistedBitmap struct {
	LSN      uint64            `codec:"lsn"`
	NextSlot uint32            `codec:"nextSlot"`
	PKToSlot map[string]uint32 `codec:"pkToSlot"`
	Buckets  []persistedBucket `codec:"buckets"`
}

type persistedBucket struct {
	Value   any    `codec:"value"`
	Bitmap  []byte `codec:"bitmap"`
}

// Save serializes buckets and the slot table to path.
func (idx *BitmapIndex) Save(path string) error {
	idx.mu.RLock()
	snap := persistedBitmap{
		LSN:      idx.lsn,
		NextSlot: idx.nextSlot,
		PKToSlot: make(map[string]uint32, len(idx.pkToSlot)),
	}
	for pk, slot := range idx.pkToSlot {
		snap.PKToSlot[pk] = slot
	}
	for key, bm := range idx.buckets {
		var buf bytes.Buffer
		if _, err := bm.WriteTo(&buf); err != nil {
			idx.mu.RUnlock()
			return tserrors.IOFailure("secondary.BitmapIndex.Save", err)
		}
		snap.Buckets = append(snap.Buckets, persistedBucket{Value: key, Bitmap: buf.Bytes()})
	}
	idx.mu.RUnlock()

	data, err := codec.Encode(snap)
	if err != nil {
		return tserrors.IOFailure("secondary.BitmapIndex.Save", err)
	}
	return wrapWriteErr(filesys.WriteFile(path, 0644, data))
}

// LoadBitmapIndex reads a snapshot previously written by Save.
func LoadBitmapIndex(path string) (*BitmapIndex, error) {
	exists, err := filesys.Exists(path)
	if err != nil {
		return nil, tserrors.IOFailure("secondary.LoadBitmapIndex", err)
	}
	if !exists {
		return nil, tserrors.NotFound("secondary.LoadBitmapIndex", path)
	}

	raw, err := filesys.ReadFile(path)
	if err != nil {
		return nil, tserrors.IOFailure("secondary.LoadBitmapIndex", err)
	}

	var snap persistedBitmap
	if err := codec.Decode(raw, &snap); err != nil {
		corruptErr := tserrors.NewIndexCorruptionError("secondary.LoadBitmapIndex", len(raw), err)
		return nil, tserrors.Integrity("secondary.LoadBitmapIndex", corruptErr)
	}

	idx := NewBitmapIndex()
	idx.lsn = snap.LSN
	idx.nextSlot = snap.NextSlot
	for pk, slot := range snap.PKToSlot {
		idx.pkToSlot[pk] = slot
		idx.slotToPK[slot] = pk
	}
	for _, b := range snap.Buckets {
		bm := roaring.New()
		if _, err := bm.ReadFrom(bytes.NewReader(b.Bitmap)); err != nil {
			return nil, tserrors.Integrity("secondary.LoadBitmapIndex", err)
		}
		idx.buckets[b.Value] = bm
	}
	return idx, nil
}

// Rebuild discards all buckets and slot assignments, then repopulates by
// iterating rows. Slot ids are reassigned from scratch.
func (idx *BitmapIndex) Rebuild(rows func(yield func(pk string, value any) bool)) error {
	idx.mu.Lock()
	idx.buckets = make(map[any]*roaring.Bitmap)
	idx.pkToSlot = make(map[string]uint32)
	idx.slotToPK = make(map[uint32]string)
	idx.nextSlot = 0
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
