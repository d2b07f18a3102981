// Package engine implements the StorageManager, component G: it composes
// every other component (A-F plus the SAX/iSAX/VP layer) and exposes the
// user-visible operations from spec §4.7. All mutations serialize on one
// mutation mutex, matching the single-writer/many-reader model of spec §5 --
// the critical section covers log append + fsync + in-memory update +
// secondary-index update + iSAX update, exactly as described there.
package engine

import (
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/iamNilotpal/tsisax/internal/isax"
	"github.com/iamNilotpal/tsisax/internal/metaheap"
	"github.com/iamNilotpal/tsisax/internal/primaryindex"
	"github.com/iamNilotpal/tsisax/internal/procedures"
	"github.com/iamNilotpal/tsisax/internal/sax"
	"github.com/iamNilotpal/tsisax/internal/schema"
	"github.com/iamNilotpal/tsisax/internal/secondary"
	"github.com/iamNilotpal/tsisax/internal/trigger"
	"github.com/iamNilotpal/tsisax/internal/tsheap"
	"github.com/iamNilotpal/tsisax/internal/vp"

	"github.com/iamNilotpal/tsisax/pkg/filesys"
	"github.com/iamNilotpal/tsisax/pkg/logger"
	"github.com/iamNilotpal/tsisax/pkg/options"

	tserrors "github.com/iamNilotpal/tsisax/pkg/errors"
)

const (
	fileTSHeap   = "heap_ts.met"
	fileMetaHeap = "heap_meta.met"
	fileSchema   = "schema.idx"
	filePKIdx    = "pk.idx"
	filePKLog    = "pk.log"
	fileTriggers = "triggers.idx"
	fileISAX     = "isax.idx"
)

func secondaryIndexPath(dir, field string) string {
	return filepath.Join(dir, "index_"+field+".idx")
}

// StorageManager is the single entry point for every database operation.
type StorageManager struct {
	mu  sync.Mutex // the one logical mutation point described in spec §5
	dir string
	opt options.Options
	log *zap.SugaredLogger

	tsHeap   *tsheap.Heap
	metaHeap *metaheap.Heap
	schema   *schema.Schema
	primary  *primaryindex.Index
	triggers *trigger.Table

	secIdx map[string]secondary.Index

	saxEncoder *sax.Encoder
	isaxTree   *isax.Tree
	vpEngine   *vp.Engine
}

// Open opens (or bootstraps) a database rooted at opt.DataDir/opt.DBName,
// running recovery per spec §4.4-§4.5 if existing files are present.
func Open(opt options.Options) (*StorageManager, error) {
	dir := filepath.Join(opt.DataDir, opt.DBName)
	if err := filesys.CreateDir(dir, 0755, false); err != nil {
		return nil, tserrors.IOFailure("engine.Open", err)
	}

	sm := &StorageManager{
		dir:    dir,
		opt:    opt,
		log:    logger.New("tsisax.engine"),
		secIdx: make(map[string]secondary.Index),
	}

	var err error

	sm.tsHeap, err = tsheap.Open(filepath.Join(dir, fileTSHeap), opt.TSLength)
	if err != nil {
		return nil, err
	}

	sm.schema, err = schema.Load(filepath.Join(dir, fileSchema))
	if err != nil {
		return nil, err
	}

	sm.metaHeap, err = metaheap.Open(filepath.Join(dir, fileMetaHeap), sm.schema.Size())
	if err != nil {
		return nil, err
	}

	sm.primary, err = primaryindex.Open(filepath.Join(dir, filePKIdx), filepath.Join(dir, filePKLog), opt.FlushEvery)
	if err != nil {
		return nil, err
	}

	sm.triggers, err = trigger.Load(filepath.Join(dir, fileTriggers))
	if err != nil {
		return nil, err
	}

	sm.saxEncoder, err = sax.NewEncoder(opt.SAX.WordLength, opt.SAX.Cardinality)
	if err != nil {
		return nil, err
	}

	if tree, lsn, ok, lerr := isax.Load(filepath.Join(dir, fileISAX), sm.saxEncoder, opt.SAX.TerminalThreshold); lerr != nil {
		return nil, lerr
	} else if ok && lsn >= sm.primary.Snapshot0LSN() {
		sm.isaxTree = tree
	} else {
		sm.isaxTree = isax.New(sm.saxEncoder, opt.SAX.TerminalThreshold)
		if rerr := sm.rebuildISAX(); rerr != nil {
			return nil, rerr
		}
	}

	sm.vpEngine = vp.NewEngine(opt.VP.InitialCutoff, opt.VP.MaxDoublings)
	for _, f := range sm.schema.Fields() {
		if schema.IsVPDistanceField(f.Name) {
			sm.vpEngine.AddVantagePoint(schema.VPNameFromField(f.Name))
		}
	}

	if err := sm.loadOrRebuildSecondaryIndexes(); err != nil {
		return nil, err
	}

	return sm, nil
}

// loadOrRebuildSecondaryIndexes loads each declared secondary index from
// disk, rebuilding in parallel (via errgroup, spec's recovery path) any
// that are missing, stale relative to PrimaryIndex's snapshot lsn, or fail
// an integrity check.
func (sm *StorageManager) loadOrRebuildSecondaryIndexes() error {
	fields := sm.schema.Fields()
	snapLSN := sm.primary.Snapshot0LSN()

	var g errgroup.Group
	var mu sync.Mutex

	for _, f := range fields {
		f := f
		if f.Index == schema.IndexNone {
			continue
		}
		g.Go(func() error {
			idx, needsRebuild := sm.loadSecondaryIndex(f, snapLSN)
			if needsRebuild {
				if err := idx.Rebuild(sm.streamField(f.Name)); err != nil {
					return err
				}
				idx.SetLSN(sm.primary.CurrentLSN())
			}
			mu.Lock()
			sm.secIdx[f.Name] = idx
			mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

func (sm *StorageManager) loadSecondaryIndex(f schema.Field, snapLSN uint64) (secondary.Index, bool) {
	path := secondaryIndexPath(sm.dir, f.Name)

	var idx secondary.Index
	var err error
	switch f.Index {
	case schema.IndexBitmap:
		idx, err = secondary.LoadBitmapIndex(path)
	case schema.IndexOrdered:
		idx, err = secondary.LoadOrderedTreeIndex(path)
	}

	if err != nil || idx.LSN() < snapLSN {
		switch f.Index {
		case schema.IndexBitmap:
			return secondary.NewBitmapIndex(), true
		default:
			return secondary.NewOrderedTreeIndex(), true
		}
	}
	return idx, false
}

// streamField yields (pk, value) for every live (non-deleted) row's field
// f, used to rebuild a secondary index from the heaps via PrimaryIndex.
func (sm *StorageManager) streamField(field string) func(yield func(pk string, value any) bool) {
	return func(yield func(pk string, value any) bool) {
		for pk, entry := range sm.primary.Snapshot() {
			raw, err := sm.metaHeap.Read(entry.MetaOff)
			if err != nil {
				continue
			}
			record, err := sm.schema.Decode(raw)
			if err != nil {
				continue
			}
			if deleted, _ := record["deleted"].(bool); deleted {
				continue
			}
			if !yield(pk, record[field]) {
				return
			}
		}
	}
}

func (sm *StorageManager) rebuildISAX() error {
	return sm.isaxTree.Rebuild(func(yield func(pk string, series []float64) bool) {
		for pk, entry := range sm.primary.Snapshot() {
			raw, err := sm.metaHeap.Read(entry.MetaOff)
			if err != nil {
				continue
			}
			record, err := sm.schema.Decode(raw)
			if err != nil {
				continue
			}
			if deleted, _ := record["deleted"].(bool); deleted {
				continue
			}
			series, err := sm.tsHeap.Read(entry.TSOff)
			if err != nil {
				continue
			}
			if !yield(pk, series.Values) {
				return
			}
		}
	})
}

// Close flushes every durable component and releases file handles.
func (sm *StorageManager) Close() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if err := sm.primary.Close(); err != nil {
		return err
	}
	if err := sm.schema.Save(filepath.Join(sm.dir, fileSchema)); err != nil {
		return err
	}
	if err := sm.triggers.Save(filepath.Join(sm.dir, fileTriggers)); err != nil {
		return err
	}
	if err := sm.isaxTree.Save(filepath.Join(sm.dir, fileISAX), sm.primary.CurrentLSN()); err != nil {
		return err
	}
	for field, idx := range sm.secIdx {
		idx.SetLSN(sm.primary.CurrentLSN())
		if err := idx.Save(secondaryIndexPath(sm.dir, field)); err != nil {
			return err
		}
	}
	if err := sm.tsHeap.Sync(); err != nil {
		return err
	}
	if err := sm.tsHeap.Close(); err != nil {
		return err
	}
	if err := sm.metaHeap.Sync(); err != nil {
		return err
	}
	return sm.metaHeap.Close()
}

// Lookup exposes Proc resolution to callers building augmented_select
// pipelines outside this package.
func Lookup(name string) (procedures.Proc, bool) { return procedures.Lookup(name) }
