// Package schema derives structural descriptors for Go types and validates
// JSON payloads against them. A descriptor is a fingerprint of a data shape
// (field names, type tags, optionality) computed once per type from the type
// definition, never from a runtime instance.
package schema

// TypeTag identifies the wire shape of a single field.
type TypeTag string

// Known type tags. Sized integer tags keep enough information for the
// widening rules in Compatible.
const (
	TagString  TypeTag = "string"
	TagBool    TypeTag = "bool"
	TagInt8    TypeTag = "int8"
	TagInt16   TypeTag = "int16"
	TagInt32   TypeTag = "int32"
	TagInt64   TypeTag = "int64"
	TagUint8   TypeTag = "uint8"
	TagUint16  TypeTag = "uint16"
	TagUint32  TypeTag = "uint32"
	TagUint64  TypeTag = "uint64"
	TagFloat32 TypeTag = "float32"
	TagFloat64 TypeTag = "float64"
	TagBytes   TypeTag = "bytes"
	TagObject  TypeTag = "object"
	TagArray   TypeTag = "array"
	TagAny     TypeTag = "any"
)

// Field describes one named field of a struct shape.
type Field struct {
	Name     string  `json:"name"`
	Type     TypeTag `json:"type"`
	Optional bool    `json:"optional,omitempty"`
}

// Descriptor is the structural description of a data type. Field order is
// preserved from the type definition but carries no semantic weight; two
// descriptors compare by field set, not position.
type Descriptor struct {
	TypeName string `json:"typeName"`
	// Type is the top-level shape: TagObject for struct types, a primitive
	// tag otherwise. Fields is populated only for TagObject.
	Type   TypeTag `json:"type"`
	Fields []Field `json:"fields,omitempty"`
}

// FieldByName returns the named field, if present.
func (d *Descriptor) FieldByName(name string) (Field, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Empty reports whether the descriptor has no fields at all, i.e. the
// described payload may be absent.
func (d *Descriptor) Empty() bool {
	return d == nil || len(d.Fields) == 0
}
