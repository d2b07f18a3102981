package primaryindex

import (
	"sync"

	"github.com/iamNilotpal/tsisax/pkg/codec"
	"github.com/iamNilotpal/tsisax/pkg/filesys"

	tserrors "github.com/iamNilotpal/tsisax/pkg/errors"
)

// Entry is the PrimaryIndex's mapped value: the two heap offsets a pk
// resolves to.
type Entry struct {
	TSOff   int64
	MetaOff int64
}

// Index is the in-memory pk -> Entry map, kept durable by a paired Log. All
// mutation goes through Put/Delete, which append-and-fsync to the log
// before the map itself changes -- this ordering is what gives the whole
// scheme its atomicity guarantee (spec §4.4).
type Index struct {
	mu  sync.RWMutex
	log *Log

	entries map[string]Entry
	lastLSN uint64

	// snapshotLSN is the lsn as of the last durable snapshot (pk.idx on
	// disk), used by StorageManager to decide whether a secondary index or
	// the iSAX tree is stale relative to PrimaryIndex (spec §4.5, §4.9).
	snapshotLSN uint64

	flushEvery int
	opsSinceFlush int

	idxPath string
	logPath string
}

// Open loads (or bootstraps) a PrimaryIndex rooted at idxPath/logPath,
// performing recovery per spec §4.4: load the snapshot, then replay every
// log record whose lsn exceeds the snapshot's lsn.
func Open(idxPath, logPath string, flushEvery int) (*Index, error) {
	snapshot, snapLSN, err := loadSnapshot(idxPath)
	if err != nil {
		return nil, err
	}

	idx := &Index{
		entries:     snapshot,
		lastLSN:     snapLSN,
		snapshotLSN: snapLSN,
		flushEvery:  flushEvery,
		idxPath:     idxPath,
		logPath:     logPath,
	}

	records, err := ReadAll(logPath)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if rec.LSN <= snapLSN {
			continue
		}
		idx.applyLocked(rec)
	}

	log, err := OpenLog(logPath, idx.lastLSN+1)
	if err != nil {
		return nil, err
	}
	idx.log = log
	return idx, nil
}

func (idx *Index) applyLocked(rec Record) {
	switch rec.Op {
	case OpPut:
		idx.entries[rec.PK] = Entry{TSOff: rec.TSOff, MetaOff: rec.MetaOff}
	case OpDel:
		delete(idx.entries, rec.PK)
	}
	if rec.LSN > idx.lastLSN {
		idx.lastLSN = rec.LSN
	}
}

// Put records that pk resolves to (tsOff, metaOff), durably.
func (idx *Index) Put(pk string, tsOff, metaOff int64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	rec, err := idx.log.Append(OpPut, pk, tsOff, metaOff)
	if err != nil {
		return err
	}
	idx.applyLocked(rec)
	return idx.maybeFlushLocked()
}

// Delete removes pk from the index, durably.
func (idx *Index) Delete(pk string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	rec, err := idx.log.Append(OpDel, pk, 0, 0)
	if err != nil {
		return err
	}
	idx.applyLocked(rec)
	return idx.maybeFlushLocked()
}

// Get returns the entry for pk, if present.
func (idx *Index) Get(pk string) (Entry, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.entries[pk]
	return e, ok
}

// Contains reports whether pk is present.
func (idx *Index) Contains(pk string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.entries[pk]
	return ok
}

// Len returns the number of live entries.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// Snapshot returns a defensive copy of the full pk -> Entry map, used by
// StorageManager to drive secondary-index rebuilds and recovery checks.
func (idx *Index) Snapshot() map[string]Entry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make(map[string]Entry, len(idx.entries))
	for k, v := range idx.entries {
		out[k] = v
	}
	return out
}

// maybeFlushLocked implements the write path's step (5): every flushEvery
// operations, snapshot the map to disk and truncate the log. Must be called
// with idx.mu held.
func (idx *Index) maybeFlushLocked() error {
	idx.opsSinceFlush++
	if idx.flushEvery <= 0 || idx.opsSinceFlush < idx.flushEvery {
		return nil
	}
	return idx.flushLocked()
}

// Flush forces an immediate snapshot+truncate regardless of the operation
// counter, used on clean shutdown.
func (idx *Index) Flush() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.flushLocked()
}

func (idx *Index) flushLocked() error {
	if err := saveSnapshot(idx.idxPath, idx.entries, idx.lastLSN); err != nil {
		return err
	}
	if err := idx.log.Truncate(); err != nil {
		return err
	}
	idx.snapshotLSN = idx.lastLSN
	idx.opsSinceFlush = 0
	return nil
}

// CurrentLSN returns the highest lsn applied to the in-memory map so far.
func (idx *Index) CurrentLSN() uint64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.lastLSN
}

// Snapshot0LSN returns the lsn as of the last durable pk.idx snapshot,
// used as the staleness baseline for secondary indexes and the iSAX tree.
func (idx *Index) Snapshot0LSN() uint64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.snapshotLSN
}

// Close flushes and closes the backing log.
func (idx *Index) Close() error {
	if err := idx.Flush(); err != nil {
		return err
	}
	return idx.log.Close()
}

// persistedSnapshot is the wire shape of pk.idx.
type persistedSnapshot struct {
	LSN     uint64           `codec:"lsn"`
	Entries map[string]Entry `codec:"entries"`
}

func saveSnapshot(path string, entries map[string]Entry, lsn uint64) error {
	snap := persistedSnapshot{LSN: lsn, Entries: entries}
	data, err := codec.Encode(snap)
	if err != nil {
		return tserrors.IOFailure("primaryindex.saveSnapshot", err)
	}
	if err := filesys.WriteFile(path, 0644, data); err != nil {
		return tserrors.IOFailure("primaryindex.saveSnapshot", err)
	}
	return nil
}

func loadSnapshot(path string) (map[string]Entry, uint64, error) {
	exists, err := filesys.Exists(path)
	if err != nil {
		return nil, 0, tserrors.IOFailure("primaryindex.loadSnapshot", err)
	}
	if !exists {
		return make(map[string]Entry), 0, nil
	}

	raw, err := filesys.ReadFile(path)
	if err != nil {
		return nil, 0, tserrors.IOFailure("primaryindex.loadSnapshot", err)
	}

	var snap persistedSnapshot
	if err := codec.Decode(raw, &snap); err != nil {
		return nil, 0, tserrors.Integrity("primaryindex.loadSnapshot", err)
	}
	if snap.Entries == nil {
		snap.Entries = make(map[string]Entry)
	}
	return snap.Entries, snap.LSN, nil
}
