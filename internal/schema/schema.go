// Package schema implements the ordered metadata field list that governs
// MetaHeap's binary layout -- component C of the storage engine. A Schema is
// mutable (fields may be appended or, under restrictions, removed) and is
// persisted deterministically so a restart can re-derive MetaHeap's record
// size R without rereading every record.
package schema

import (
	"sync"

	tserrors "github.com/iamNilotpal/tsisax/pkg/errors"

	"github.com/iamNilotpal/tsisax/pkg/codec"
	"github.com/iamNilotpal/tsisax/pkg/filesys"
)

// Schema is the ordered, mutable list of metadata field descriptors. The
// order is significant: it's the encoding order used to pack MetaHeap
// records, so appends must never reorder existing fields.
type Schema struct {
	mu     sync.RWMutex
	fields []Field
	byName map[string]int // name -> index into fields
}

// New builds a Schema carrying only the two fields every database always
// has: "deleted" and "vp".
func New() *Schema {
	s := &Schema{byName: make(map[string]int)}
	s.appendLocked(Field{Name: FieldDeleted, Type: TypeBool, Default: false, Index: IndexBitmap})
	s.appendLocked(Field{Name: FieldVP, Type: TypeBool, Default: false, Index: IndexBitmap})
	return s
}

func (s *Schema) appendLocked(f Field) {
	s.byName[f.Name] = len(s.fields)
	s.fields = append(s.fields, f)
}

// FromFields builds a Schema from a pre-existing ordered field list,
// without seeding the reserved fields New does -- used by StorageManager to
// reconstruct a read-only view of a schema's prior layout during schema
// evolution (spec §4.2), where the live *Schema has already been mutated to
// the new layout by the time old records need decoding.
func FromFields(fields []Field) *Schema {
	s := &Schema{byName: make(map[string]int)}
	for _, f := range fields {
		s.appendLocked(f)
	}
	return s
}

// AddField appends a new field to the schema. Existing MetaHeap records are
// not rewritten by AddField itself -- the caller (StorageManager) is
// responsible for driving the MetaHeap rewrite described in spec §4.2 and
// only then calling AddField to make the new layout authoritative, or for
// calling AddField first and populating defaults as part of the same
// rewrite. Either order is safe because AddField only changes in-memory
// state and its own persisted snapshot.
func (s *Schema) AddField(f Field) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f.Name == "" {
		return tserrors.InvalidArgument("schema.AddField", tserrors.NewRequiredFieldError("name").Error())
	}
	if _, exists := s.byName[f.Name]; exists {
		return tserrors.SchemaMismatch("schema.AddField", "field already exists").WithDetail("field", f.Name)
	}
	if f.Type == TypeString && f.StringMaxLen <= 0 {
		rangeErr := tserrors.NewFieldRangeError("stringMaxLen", f.StringMaxLen, 1, nil)
		return tserrors.InvalidArgument("schema.AddField", rangeErr.Error())
	}

	s.appendLocked(f)
	return nil
}

// RemoveField removes a field by name. Per the Open Question resolved in
// spec §9, removal is rejected unless the field carries no secondary index
// -- an indexed field is, by construction, "in use" by query plans, so
// removing it silently would leave dangling index files. Reserved fields
// (deleted, vp, d_vp_<k>) can never be removed through this path; the
// vantage-point lifecycle removes d_vp_<k> fields directly via RemoveVPField.
func (s *Schema) RemoveField(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeFieldLocked(name, false)
}

// RemoveVPField removes a d_vp_<k> field as part of delete_vp. Unlike
// RemoveField, this is allowed even though the field always carries an
// ordered index, since the vantage-point lifecycle is exactly what created
// that index declaration in the first place.
func (s *Schema) RemoveVPField(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeFieldLocked(name, true)
}

func (s *Schema) removeFieldLocked(name string, allowIndexed bool) error {
	if name == FieldDeleted || name == FieldVP {
		return tserrors.InvalidArgument("schema.RemoveField", "reserved field cannot be removed").WithDetail("field", name)
	}
	idx, exists := s.byName[name]
	if !exists {
		return tserrors.NotFound("schema.RemoveField", name)
	}
	if !allowIndexed && s.fields[idx].Index != IndexNone {
		return tserrors.SchemaMismatch("schema.RemoveField", "field is in use by a secondary index").
			WithDetail("field", name)
	}

	s.fields = append(s.fields[:idx], s.fields[idx+1:]...)
	delete(s.byName, name)
	for i := idx; i < len(s.fields); i++ {
		s.byName[s.fields[i].Name] = i
	}
	return nil
}

// Size returns R, the total encoded byte width of one MetaHeap record under
// the current schema.
func (s *Schema) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, f := range s.fields {
		total += f.width()
	}
	return total
}

// Fields returns a copy of the ordered field list.
func (s *Schema) Fields() []Field {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// FieldInfo returns the descriptor for name, if present.
func (s *Schema) FieldInfo(name string) (Field, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byName[name]
	if !ok {
		return Field{}, false
	}
	return s.fields[idx], true
}

// Encode packs record (field name -> value) into an R-byte buffer in schema
// order. Fields absent from record fall back to their declared default.
// Unknown keys in record are rejected -- the StorageManager chose "reject"
// over "auto-add" per spec §4.7's upsert_meta policy.
func (s *Schema) Encode(record map[string]any) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for k := range record {
		if _, ok := s.byName[k]; !ok {
			return nil, tserrors.SchemaMismatch("schema.Encode", "unknown metadata field").WithDetail("field", k)
		}
	}

	buf := make([]byte, s.sizeLocked())
	offset := 0
	for _, f := range s.fields {
		w := f.width()
		value, ok := record[f.Name]
		if !ok {
			value = f.Default
		}
		if err := encodeValue(f, buf[offset:offset+w], value); err != nil {
			formatErr := tserrors.NewFieldFormatError(f.Name, value, f.Type.String())
			return nil, tserrors.InvalidArgument("schema.Encode", formatErr.WithDetail("cause", err.Error()).Error())
		}
		offset += w
	}
	return buf, nil
}

func (s *Schema) sizeLocked() int {
	total := 0
	for _, f := range s.fields {
		total += f.width()
	}
	return total
}

// Decode unpacks an R-byte MetaHeap record into a field-name-keyed map.
func (s *Schema) Decode(data []byte) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(data) != s.sizeLocked() {
		return nil, tserrors.SchemaMismatch("schema.Decode", "record size does not match schema width").
			WithDetail("expected", s.sizeLocked()).WithDetail("got", len(data))
	}

	record := make(map[string]any, len(s.fields))
	offset := 0
	for _, f := range s.fields {
		w := f.width()
		value, err := decodeValue(f, data[offset:offset+w])
		if err != nil {
			return nil, tserrors.Integrity("schema.Decode", err)
		}
		record[f.Name] = value
		offset += w
	}
	return record, nil
}

// persistedSchema is the wire shape written to schema.idx. It exists
// separately from Schema so Fields (an exported slice) round-trips through
// codec without exposing the mutex.
type persistedSchema struct {
	Fields []Field `codec:"fields"`
}

// Save writes the schema to path using the deterministic codec package, so
// a byte-identical Schema always produces byte-identical bytes on disk --
// a precondition for the round-trip property tested in spec §8.
func (s *Schema) Save(path string) error {
	s.mu.RLock()
	snapshot := persistedSchema{Fields: append([]Field(nil), s.fields...)}
	s.mu.RUnlock()

	data, err := codec.Encode(snapshot)
	if err != nil {
		return tserrors.IOFailure("schema.Save", err)
	}
	if err := filesys.WriteFile(path, 0644, data); err != nil {
		return tserrors.IOFailure("schema.Save", err)
	}
	return nil
}

// Load reads a schema previously written by Save. If path does not exist,
// Load returns a fresh Schema carrying only the implicit reserved fields.
func Load(path string) (*Schema, error) {
	exists, err := filesys.Exists(path)
	if err != nil {
		return nil, tserrors.IOFailure("schema.Load", err)
	}
	if !exists {
		return New(), nil
	}

	raw, err := filesys.ReadFile(path)
	if err != nil {
		return nil, tserrors.IOFailure("schema.Load", err)
	}

	var snapshot persistedSchema
	if err := codec.Decode(raw, &snapshot); err != nil {
		return nil, tserrors.Integrity("schema.Load", err)
	}

	s := &Schema{byName: make(map[string]int)}
	for _, f := range snapshot.Fields {
		s.appendLocked(f)
	}
	return s, nil
}
