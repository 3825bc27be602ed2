package schema

// widensTo lists, per tag, the tags a value of that tag may safely widen
// into. Exact matches are always compatible and are not listed.
var widensTo = map[TypeTag][]TypeTag{
	TagInt8:    {TagInt16, TagInt32, TagInt64},
	TagInt16:   {TagInt32, TagInt64},
	TagInt32:   {TagInt64},
	TagUint8:   {TagUint16, TagUint32, TagUint64, TagInt16, TagInt32, TagInt64},
	TagUint16:  {TagUint32, TagUint64, TagInt32, TagInt64},
	TagUint32:  {TagUint64, TagInt64},
	TagFloat32: {TagFloat64},
}

// TagCompatible reports whether a value tagged `from` can be accepted where
// `to` is expected: either an exact match or a defined safe widening.
// TagAny accepts anything.
func TagCompatible(from, to TypeTag) bool {
	if from == to || to == TagAny {
		return true
	}
	for _, t := range widensTo[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Compatible reports whether a payload shaped like `from` structurally
// satisfies `to`: the field sets match by name and every field's tag matches
// exactly or widens safely. Type names do not participate; compatibility is
// structural.
func Compatible(from, to *Descriptor) bool {
	if from == nil || to == nil {
		return from.Empty() && to.Empty()
	}
	if from.Type != TagObject || to.Type != TagObject {
		return TagCompatible(from.Type, to.Type)
	}
	if len(from.Fields) != len(to.Fields) {
		return false
	}
	for _, want := range to.Fields {
		got, ok := from.FieldByName(want.Name)
		if !ok {
			return false
		}
		if !TagCompatible(got.Type, want.Type) {
			return false
		}
	}
	return true
}
