package engine

import (
	"path/filepath"
	"sort"

	"github.com/iamNilotpal/tsisax/internal/metaheap"
	"github.com/iamNilotpal/tsisax/internal/primaryindex"
	"github.com/iamNilotpal/tsisax/internal/procedures"
	"github.com/iamNilotpal/tsisax/internal/schema"
	"github.com/iamNilotpal/tsisax/internal/secondary"
	"github.com/iamNilotpal/tsisax/internal/trigger"
	"github.com/iamNilotpal/tsisax/internal/tsheap"
	"github.com/iamNilotpal/tsisax/internal/vp"

	tserrors "github.com/iamNilotpal/tsisax/pkg/errors"
)

// InsertTS implements insert_ts(pk, ts): spec §4.7.
func (sm *StorageManager) InsertTS(pk string, series tsheap.Series) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if err := validatePK(pk); err != nil {
		return err
	}
	if sm.primary.Contains(pk) {
		return tserrors.AlreadyExists("engine.InsertTS", pk)
	}
	if len(series.Times) != sm.opt.TSLength || len(series.Values) != sm.opt.TSLength {
		return tserrors.InvalidArgument("engine.InsertTS", "series length must equal the database's fixed length")
	}
	if err := validateStrictlyIncreasing(series.Times); err != nil {
		return err
	}

	tsOff, err := sm.tsHeap.Write(series)
	if err != nil {
		return err
	}

	defaults := map[string]any{schema.FieldDeleted: false, schema.FieldVP: false}
	encoded, err := sm.schema.Encode(defaults)
	if err != nil {
		return err
	}
	metaOff, err := sm.metaHeap.Write(encoded)
	if err != nil {
		return err
	}

	if err := sm.primary.Put(pk, tsOff, metaOff); err != nil {
		return err
	}

	for field, idx := range sm.secIdx {
		value := defaults[field]
		if value == nil {
			if f, ok := sm.schema.FieldInfo(field); ok {
				value = f.Default
			}
		}
		if err := idx.Insert(value, pk); err != nil {
			return err
		}
	}

	word, err := sm.saxEncoder.Encode(series.Values)
	if err != nil {
		return err
	}
	sm.isaxTree.Insert(pk, word)

	if err := sm.updateVPDistancesOnInsert(pk, series); err != nil {
		return err
	}

	// Triggers fire after the iSAX/VP update rather than before it, unlike
	// the ordering spec §4.7 lists. Harmless in practice: a stats/corr
	// trigger only mutates metadata via upsert_meta, never the series
	// itself, so it can't invalidate the SAX word or cached VP distances
	// already computed above.
	sm.fireTriggers(trigger.OnInsertTS, pk, series)
	return nil
}

// validatePK rejects a pk containing a reserved character, per spec §3:
// "Reserved characters (delimiters used in on-disk formats) must be
// rejected." A pk is embedded verbatim into secondary-index filenames (via
// schema.VPDistanceField for vantage points), so a path separator or NUL
// byte would otherwise corrupt the on-disk layout.
func validatePK(pk string) error {
	if pk == "" {
		return tserrors.InvalidArgument("engine.validatePK", "pk must not be empty")
	}
	for _, r := range pk {
		if r == '/' || r == '\\' || r == 0 {
			return tserrors.InvalidArgument("engine.validatePK", "pk contains a reserved character").
				WithDetail("pk", pk)
		}
	}
	return nil
}

// validateStrictlyIncreasing enforces spec §3's TimeSeries invariant: times
// must be strictly increasing. §7 names "non-monotonic times" as an
// explicit InvalidArgument case.
func validateStrictlyIncreasing(times []float64) error {
	for i := 1; i < len(times); i++ {
		if times[i] <= times[i-1] {
			return tserrors.InvalidArgument("engine.InsertTS", "series times must be strictly increasing").
				WithDetail("index", i).WithDetail("prev", times[i-1]).WithDetail("next", times[i])
		}
	}
	return nil
}

// UpsertMeta implements upsert_meta(pk, md): spec §4.7. Unknown fields in md
// are rejected, per the spec's chosen policy, via Schema.Encode's own
// validation.
func (sm *StorageManager) UpsertMeta(pk string, md map[string]any) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.upsertMetaLocked(pk, md)
}

func (sm *StorageManager) upsertMetaLocked(pk string, md map[string]any) error {
	entry, ok := sm.primary.Get(pk)
	if !ok {
		return tserrors.NotFound("engine.UpsertMeta", pk)
	}

	rawOld, err := sm.metaHeap.Read(entry.MetaOff)
	if err != nil {
		return err
	}
	oldRecord, err := sm.schema.Decode(rawOld)
	if err != nil {
		return err
	}

	merged := make(map[string]any, len(oldRecord)+len(md))
	for k, v := range oldRecord {
		merged[k] = v
	}
	for k, v := range md {
		merged[k] = v
	}

	encoded, err := sm.schema.Encode(merged)
	if err != nil {
		return err
	}
	if err := sm.metaHeap.Overwrite(entry.MetaOff, encoded); err != nil {
		return err
	}

	for field, idx := range sm.secIdx {
		oldVal, hadOld := oldRecord[field]
		newVal, hasNew := merged[field]
		if !hasNew {
			continue
		}
		if hadOld && oldVal == newVal {
			continue
		}
		if hadOld {
			if err := idx.Remove(oldVal, pk); err != nil {
				return err
			}
		}
		if err := idx.Insert(newVal, pk); err != nil {
			return err
		}
	}
	return nil
}

// DeleteTS implements delete_ts(pk): spec §4.7. The heap slots themselves
// are retained -- compaction is out of scope (spec §1).
func (sm *StorageManager) DeleteTS(pk string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	entry, ok := sm.primary.Get(pk)
	if !ok {
		return tserrors.NotFound("engine.DeleteTS", pk)
	}

	raw, err := sm.metaHeap.Read(entry.MetaOff)
	if err != nil {
		return err
	}
	record, err := sm.schema.Decode(raw)
	if err != nil {
		return err
	}

	deletedRecord := make(map[string]any, len(record))
	for k, v := range record {
		deletedRecord[k] = v
	}
	deletedRecord[schema.FieldDeleted] = true
	encoded, err := sm.schema.Encode(deletedRecord)
	if err != nil {
		return err
	}
	if err := sm.metaHeap.Overwrite(entry.MetaOff, encoded); err != nil {
		return err
	}

	for field, idx := range sm.secIdx {
		if value, ok := record[field]; ok {
			_ = idx.Remove(value, pk)
		}
	}

	if err := sm.primary.Delete(pk); err != nil {
		return err
	}

	series, err := sm.tsHeap.Read(entry.TSOff)
	if err == nil {
		word, werr := sm.saxEncoder.Encode(series.Values)
		if werr == nil {
			sm.isaxTree.Remove(pk, word)
		}
	}

	for _, v := range sm.vpEngine.VantagePoints() {
		field := schema.VPDistanceField(v)
		if idx, ok := sm.secIdx[field]; ok {
			if value, ok := record[field]; ok {
				_ = idx.Remove(value, pk)
			}
		}
	}
	sm.vpEngine.RemoveVantagePoint(pk)

	return nil
}

// Additional is select/augmented_select's post-filter directive: optional
// sort and limit, per spec §4.7. The sort orders rows before Limit is
// applied, so it decides which rows a limit keeps; the returned map itself
// carries no order.
type Additional struct {
	SortBy   string // field name, empty = no sort
	SortDesc bool
	Limit    int // 0 = no limit
}

// Select implements select(md, fields, additional): spec §4.7. md is
// evaluated as a conjunction of equality predicates: candidates come from
// the secondary index of one md field when any md field is indexed (a full
// scan otherwise), and every candidate is then checked against all of md
// in memory.
func (sm *StorageManager) Select(md map[string]any, fields []string, additional Additional) (map[string]map[string]any, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.selectLocked(md, fields, additional)
}

func (sm *StorageManager) selectLocked(md map[string]any, fields []string, additional Additional) (map[string]map[string]any, error) {
	candidates, err := sm.candidatePKs(md)
	if err != nil {
		return nil, err
	}

	out := make(map[string]map[string]any, len(candidates))
	for _, pk := range candidates {
		entry, ok := sm.primary.Get(pk)
		if !ok {
			continue
		}
		raw, err := sm.metaHeap.Read(entry.MetaOff)
		if err != nil {
			return nil, err
		}
		record, err := sm.schema.Decode(raw)
		if err != nil {
			return nil, err
		}
		if deleted, _ := record[schema.FieldDeleted].(bool); deleted {
			continue
		}
		if want, ok := md["pk"]; ok && want != pk {
			continue
		}
		if !matchesAll(record, md) {
			continue
		}

		row := sm.project(pk, record, entry, fields)
		out[pk] = row
	}

	return applyAdditional(out, additional), nil
}

// candidatePKs resolves md's "pk" equality shortcut directly when pk is the
// only predicate. Otherwise it returns the pks matching one md field that
// has a secondary index, or every pk in PrimaryIndex when no md field is
// indexed; results are not intersected across indexes, so the caller checks
// every candidate against the full predicate.
func (sm *StorageManager) candidatePKs(md map[string]any) ([]string, error) {
	if pk, ok := md["pk"].(string); ok && len(md) == 1 {
		if sm.primary.Contains(pk) {
			return []string{pk}, nil
		}
		return nil, nil
	}

	for field, value := range md {
		if idx, ok := sm.secIdx[field]; ok {
			return idx.Query(secondary.OpEQ, value)
		}
	}

	all := sm.primary.Snapshot()
	out := make([]string, 0, len(all))
	for pk := range all {
		out = append(out, pk)
	}
	return out, nil
}

func matchesAll(record map[string]any, md map[string]any) bool {
	for field, want := range md {
		if field == "pk" {
			continue
		}
		if record[field] != want {
			return false
		}
	}
	return true
}

func (sm *StorageManager) project(pk string, record map[string]any, entry primaryindex.Entry, fields []string) map[string]any {
	row := make(map[string]any, len(fields))
	for _, f := range fields {
		switch f {
		case "pk":
			row["pk"] = pk
		case "ts":
			if series, err := sm.tsHeap.Read(entry.TSOff); err == nil {
				row["ts"] = series
			}
		default:
			if v, ok := record[f]; ok {
				row[f] = v
			}
		}
	}
	return row
}

func applyAdditional(rows map[string]map[string]any, additional Additional) map[string]map[string]any {
	if additional.SortBy == "" && additional.Limit == 0 {
		return rows
	}

	pks := make([]string, 0, len(rows))
	for pk := range rows {
		pks = append(pks, pk)
	}

	if additional.SortBy != "" {
		sortByField(pks, rows, additional.SortBy, additional.SortDesc)
	}
	if additional.Limit > 0 && len(pks) > additional.Limit {
		pks = pks[:additional.Limit]
	}

	out := make(map[string]map[string]any, len(pks))
	for _, pk := range pks {
		out[pk] = rows[pk]
	}
	return out
}

func sortByField(pks []string, rows map[string]map[string]any, field string, desc bool) {
	less := func(i, j int) bool {
		return lessValue(rows[pks[i]][field], rows[pks[j]][field])
	}
	if desc {
		inner := less
		less = func(i, j int) bool { return inner(j, i) }
	}
	sort.Slice(pks, less)
}

func lessValue(a, b any) bool {
	switch av := a.(type) {
	case int64:
		bv, _ := b.(int64)
		return av < bv
	case float64:
		bv, _ := b.(float64)
		return av < bv
	case string:
		bv, _ := b.(string)
		return av < bv
	default:
		return false
	}
}

// AugmentedSelect implements augmented_select: spec §4.7. proc's outputs
// are assigned positionally to target in each surviving row.
func (sm *StorageManager) AugmentedSelect(procName string, target []string, arg string, md map[string]any, fields []string, additional Additional) (map[string]map[string]any, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	rows, err := sm.selectLocked(md, append(append([]string{}, fields...), "ts"), additional)
	if err != nil {
		return nil, err
	}

	proc, ok := procedures.Lookup(procName)
	if !ok {
		return nil, tserrors.InvalidArgument("engine.AugmentedSelect", "unknown procedure").WithDetail("proc", procName)
	}

	for pk, row := range rows {
		series, ok := row["ts"].(tsheap.Series)
		if !ok {
			continue
		}
		outputs, err := proc(series, arg)
		if err != nil {
			return nil, err
		}
		for i, name := range target {
			if i < len(outputs) {
				row[name] = outputs[i]
			}
		}
		rows[pk] = row
	}
	return rows, nil
}

// AddTrigger implements add_trigger: spec §4.6.
func (sm *StorageManager) AddTrigger(proc string, onwhat trigger.Operation, target []string, arg string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.triggers.Add(proc, onwhat, target, arg)
}

// RemoveTrigger implements remove_trigger: spec §4.6.
func (sm *StorageManager) RemoveTrigger(proc string, onwhat trigger.Operation) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.triggers.Remove(proc, onwhat)
}

// fireTriggers runs every binding registered for onwhat against the row
// just committed. Per spec §4.6/§9's design note, triggers run
// post-commit: by the time this is called, the mutation that caused them
// is already durable and visible, so a trigger invoking upsert_meta cannot
// re-enter the mutation lock -- the caller already holds it and this
// function is invoked from within the same critical section, but the
// mutation it already completed is what makes re-entrancy safe (no nested
// lock acquisition occurs; upsertMetaLocked is called directly).
func (sm *StorageManager) fireTriggers(onwhat trigger.Operation, pk string, series tsheap.Series) {
	for _, binding := range sm.triggers.Bindings(onwhat) {
		proc, ok := procedures.Lookup(binding.Proc)
		if !ok {
			sm.log.Warnw("trigger references unknown procedure, skipping", "proc", binding.Proc, "on", onwhat)
			continue
		}
		outputs, err := proc(series, binding.Arg)
		if err != nil {
			sm.log.Warnw("trigger procedure failed", "proc", binding.Proc, "pk", pk, "error", err)
			continue
		}
		md := make(map[string]any, len(binding.Target))
		for i, name := range binding.Target {
			if i < len(outputs) {
				md[name] = outputs[i]
			}
		}
		if len(md) == 0 {
			continue
		}
		if err := sm.upsertMetaLocked(pk, md); err != nil {
			sm.log.Warnw("trigger-driven upsert_meta failed", "proc", binding.Proc, "pk", pk, "error", err)
		}
	}
}

// AddField implements the schema-add half of spec §4.2/§4.3: every
// metadata record is rewritten alongside the old file, then the rename
// makes the new layout authoritative. If f declares a secondary index, a
// fresh index is built over the field's (now-defaulted) values across every
// live row.
func (sm *StorageManager) AddField(f schema.Field) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if err := sm.evolveSchema(func() error { return sm.schema.AddField(f) }); err != nil {
		return err
	}
	if f.Index == schema.IndexNone {
		return nil
	}

	idx := newSecondaryIndex(f.Index)
	if err := idx.Rebuild(sm.streamField(f.Name)); err != nil {
		return err
	}
	idx.SetLSN(sm.primary.CurrentLSN())
	sm.secIdx[f.Name] = idx
	return nil
}

func newSecondaryIndex(kind schema.IndexKind) secondary.Index {
	if kind == schema.IndexBitmap {
		return secondary.NewBitmapIndex()
	}
	return secondary.NewOrderedTreeIndex()
}

// RemoveField implements the schema-drop half; rejected unless the field
// carries no secondary index, per the Open Question decided in spec §9.
func (sm *StorageManager) RemoveField(name string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.evolveSchema(func() error { return sm.schema.RemoveField(name) })
}

// evolveSchema drives the procedure from spec §4.2: snapshot the old
// schema's width and encoding, apply mutate to get the new schema, stream
// every record through metaheap.Rewrite re-encoding under the new
// schema, then swap MetaHeap and PrimaryIndex offsets to the rewritten
// file.
func (sm *StorageManager) evolveSchema(mutate func() error) error {
	oldSchema := schema.FromFields(sm.schema.Fields())
	oldSize := oldSchema.Size()
	oldPath := sm.metaHeap.Path()

	if err := mutate(); err != nil {
		return err
	}
	newSize := sm.schema.Size()

	offsetOrder := make(map[int64]string)
	for pk, entry := range sm.primary.Snapshot() {
		offsetOrder[entry.MetaOff] = pk
	}

	transform := func(old []byte) ([]byte, error) {
		record, err := oldSchema.Decode(old)
		if err != nil {
			return nil, err
		}
		return sm.schema.Encode(record)
	}

	tmpPath, offsets, err := metaheap.Rewrite(oldPath, oldSize, newSize, transform)
	if err != nil {
		return err
	}

	if err := sm.metaHeap.Close(); err != nil {
		return err
	}
	if err := metaheap.Replace(tmpPath, oldPath); err != nil {
		return err
	}

	newHeap, err := metaheap.Open(oldPath, newSize)
	if err != nil {
		return err
	}
	sm.metaHeap = newHeap

	for i, offset := range offsets {
		pk, ok := offsetOrder[int64(i)*int64(oldSize)]
		if !ok {
			continue
		}
		entry, ok := sm.primary.Get(pk)
		if !ok {
			continue
		}
		if err := sm.primary.Put(pk, entry.TSOff, offset); err != nil {
			return err
		}
	}

	return sm.schema.Save(filepath.Join(sm.dir, fileSchema))
}

// InsertVP implements insert_vp(pk): spec §4.7/§4.10.
func (sm *StorageManager) InsertVP(pkV string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	vEntry, ok := sm.primary.Get(pkV)
	if !ok {
		return tserrors.NotFound("engine.InsertVP", pkV)
	}
	vSeries, err := sm.tsHeap.Read(vEntry.TSOff)
	if err != nil {
		return err
	}

	field := schema.VPDistanceField(pkV)
	if err := sm.evolveSchema(func() error {
		return sm.schema.AddField(schema.Field{Name: field, Type: schema.TypeFloat, Default: float64(0), Index: schema.IndexOrdered})
	}); err != nil {
		return err
	}

	idx := secondary.NewOrderedTreeIndex()
	for pk := range sm.primary.Snapshot() {
		entry, ok := sm.primary.Get(pk)
		if !ok {
			continue
		}
		series, err := sm.tsHeap.Read(entry.TSOff)
		if err != nil {
			return err
		}
		d, err := vp.Distance(vSeries.Values, series.Values)
		if err != nil {
			return err
		}
		if err := sm.upsertMetaLocked(pk, map[string]any{field: d}); err != nil {
			return err
		}
		if err := idx.Insert(d, pk); err != nil {
			return err
		}
	}
	sm.secIdx[field] = idx
	sm.vpEngine.AddVantagePoint(pkV)
	return nil
}

// DeleteVP implements delete_vp(pk): spec §4.7/§4.10.
func (sm *StorageManager) DeleteVP(pkV string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	field := schema.VPDistanceField(pkV)
	delete(sm.secIdx, field)
	sm.vpEngine.RemoveVantagePoint(pkV)

	return sm.evolveSchema(func() error { return sm.schema.RemoveVPField(field) })
}

// updateVPDistancesOnInsert computes and caches d_vp_<k> for series against
// every existing vantage point, per insert_ts's contract in spec §4.7.
func (sm *StorageManager) updateVPDistancesOnInsert(pk string, series tsheap.Series) error {
	md := make(map[string]any)
	for _, v := range sm.vpEngine.VantagePoints() {
		vEntry, ok := sm.primary.Get(v)
		if !ok {
			continue
		}
		vSeries, err := sm.tsHeap.Read(vEntry.TSOff)
		if err != nil {
			return err
		}
		d, err := vp.Distance(vSeries.Values, series.Values)
		if err != nil {
			return err
		}
		field := schema.VPDistanceField(v)
		md[field] = d
		if idx, ok := sm.secIdx[field]; ok {
			if err := idx.Insert(d, pk); err != nil {
				return err
			}
		}
	}
	if len(md) == 0 {
		return nil
	}
	return sm.upsertMetaLocked(pk, md)
}

// VPSimilaritySearch implements vp_similarity_search(q, top): spec §4.10.
func (sm *StorageManager) VPSimilaritySearch(query []float64, top int) ([]vp.DistToQuery, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	dQuery := func(v string) (float64, error) {
		entry, ok := sm.primary.Get(v)
		if !ok {
			return 0, tserrors.NotFound("engine.VPSimilaritySearch", v)
		}
		series, err := sm.tsHeap.Read(entry.TSOff)
		if err != nil {
			return 0, err
		}
		return vp.Distance(query, series.Values)
	}

	candidatesWithin := func(v string, lo, hi float64) ([]string, error) {
		field := schema.VPDistanceField(v)
		idx, ok := sm.secIdx[field]
		if !ok {
			return nil, nil
		}
		ge, err := idx.Query(secondary.OpGE, lo)
		if err != nil {
			return nil, err
		}
		le, err := idx.Query(secondary.OpLE, hi)
		if err != nil {
			return nil, err
		}
		leSet := make(map[string]struct{}, len(le))
		for _, pk := range le {
			leSet[pk] = struct{}{}
		}
		out := make([]string, 0)
		for _, pk := range ge {
			if _, ok := leSet[pk]; ok {
				out = append(out, pk)
			}
		}
		return out, nil
	}

	exactDist := func(pk string) (float64, error) {
		entry, ok := sm.primary.Get(pk)
		if !ok {
			return 0, tserrors.NotFound("engine.VPSimilaritySearch", pk)
		}
		series, err := sm.tsHeap.Read(entry.TSOff)
		if err != nil {
			return 0, err
		}
		return vp.Distance(query, series.Values)
	}

	return sm.vpEngine.Search(top, dQuery, candidatesWithin, exactDist)
}
