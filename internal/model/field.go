package model

// FieldKind is the value type of a Todo field
type FieldKind int

const (
	KindID FieldKind = iota + 1
	KindString
	KindEnum
	KindInt
	KindBool
	KindTimestamp
)

// Field names as they appear on the wire and in filters
const (
	FieldID            = "id"
	FieldName          = "name"
	FieldDescription   = "description"
	FieldPriority      = "priority"
	FieldVersion       = "_version"
	FieldDeleted       = "_deleted"
	FieldLastChangedAt = "_lastChangedAt"
	FieldCreatedAt     = "createdAt"
	FieldUpdatedAt     = "updatedAt"
)

// FieldSpec declares one Todo field
type FieldSpec struct {
	Name     string
	Kind     FieldKind
	GQLType  string
	Required bool
	// Writable fields may be set by create and update
	Writable bool
}

// TodoFields is the field set of the Todo entity, in declaration order
var TodoFields = []FieldSpec{
	{Name: FieldID, Kind: KindID, GQLType: "ID", Required: true},
	{Name: FieldName, Kind: KindString, GQLType: "String", Required: true, Writable: true},
	{Name: FieldDescription, Kind: KindString, GQLType: "String", Writable: true},
	{Name: FieldPriority, Kind: KindEnum, GQLType: "Priority", Writable: true},
	{Name: FieldVersion, Kind: KindInt, GQLType: "Int", Required: true},
	{Name: FieldDeleted, Kind: KindBool, GQLType: "Boolean"},
	{Name: FieldLastChangedAt, Kind: KindInt, GQLType: "AWSTimestamp", Required: true},
	{Name: FieldCreatedAt, Kind: KindTimestamp, GQLType: "AWSDateTime", Required: true},
	{Name: FieldUpdatedAt, Kind: KindTimestamp, GQLType: "AWSDateTime", Required: true},
}

// LookupField returns the declaration of a field by wire name
func LookupField(name string) (FieldSpec, bool) {
	for _, f := range TodoFields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// Value returns the normalized value of a field: string, int64, bool, or nil
// for an unset optional field. Enums normalize to their rank and timestamps to
// unix milliseconds so that every field orders the same way here and in SQL.
func (t Todo) Value(field string) (any, bool) {
	switch field {
	case FieldID:
		return t.ID, true
	case FieldName:
		return t.Name, true
	case FieldDescription:
		if t.Description == nil {
			return nil, true
		}
		return *t.Description, true
	case FieldPriority:
		if t.Priority == PriorityUnset {
			return nil, true
		}
		return int64(t.Priority), true
	case FieldVersion:
		return t.Version, true
	case FieldDeleted:
		return t.Deleted, true
	case FieldLastChangedAt:
		return t.LastChangedAt, true
	case FieldCreatedAt:
		return t.CreatedAt.UnixMilli(), true
	case FieldUpdatedAt:
		return t.UpdatedAt.UnixMilli(), true
	}
	return nil, false
}
