package schema

// FieldType is the set of metadata value types a Schema field may hold.
type FieldType int

const (
	TypeInt FieldType = iota
	TypeFloat
	TypeBool
	TypeString
)

func (t FieldType) String() string {
	switch t {
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeBool:
		return "bool"
	case TypeString:
		return "string"
	default:
		return "unknown"
	}
}

// IndexKind is the secondary-index variant, if any, declared for a field.
type IndexKind int

const (
	IndexNone IndexKind = iota
	IndexOrdered
	IndexBitmap
)

// Field describes one metadata column: its semantic name, storage type,
// default value, and optional secondary-index declaration.
type Field struct {
	Name string    `codec:"name"`
	Type FieldType `codec:"type"`

	// Default is the value written for this field when a record doesn't
	// supply one -- always true for insert_ts's implicit default metadata,
	// and for pre-existing records when a field is added after the fact.
	Default any `codec:"default"`

	Index IndexKind `codec:"index"`

	// StringMaxLen is the fixed byte width reserved for TypeString fields.
	// Ignored for other types.
	StringMaxLen int `codec:"stringMaxLen"`
}

// width returns the fixed on-disk byte width of this field's encoded value.
func (f Field) width() int {
	switch f.Type {
	case TypeInt, TypeFloat:
		return 8
	case TypeBool:
		return 1
	case TypeString:
		return f.StringMaxLen
	default:
		return 0
	}
}

// Reserved field names, always present per spec §3.
const (
	FieldDeleted = "deleted"
	FieldVP      = "vp"
	vpDistPrefix = "d_vp_"
)

// VPDistanceField returns the implicit distance-field name for vantage
// point pk.
func VPDistanceField(vpPK string) string {
	return vpDistPrefix + vpPK
}

// IsVPDistanceField reports whether name is an implicit d_vp_<k> field.
func IsVPDistanceField(name string) bool {
	return len(name) > len(vpDistPrefix) && name[:len(vpDistPrefix)] == vpDistPrefix
}

// VPNameFromField extracts the vantage-point pk from a d_vp_<k> field name.
// The caller must have already checked IsVPDistanceField.
func VPNameFromField(name string) string {
	return name[len(vpDistPrefix):]
}
