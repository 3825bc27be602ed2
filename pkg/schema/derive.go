package schema

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"
)

// ErrNonDescribable marks a type whose shape cannot be expressed as a
// descriptor. Derivation errors wrap it so registration code can treat them
// as fatal configuration errors.
var ErrNonDescribable = fmt.Errorf("schema: non-describable type")

var (
	timeType    = reflect.TypeOf(time.Time{})
	rawMsgType  = reflect.TypeOf(json.RawMessage{})
	descCacheMu sync.RWMutex
	descCache   = map[reflect.Type]*Descriptor{}
)

// For derives the descriptor for T. It is the typed convenience over
// FromType used by endpoint registration.
func For[T any]() (*Descriptor, error) {
	return FromType(reflect.TypeOf((*T)(nil)).Elem())
}

// FromType derives a descriptor from a type definition. The result is
// computed once per type and cached; callers must treat it as read-only.
func FromType(t reflect.Type) (*Descriptor, error) {
	descCacheMu.RLock()
	d, ok := descCache[t]
	descCacheMu.RUnlock()
	if ok {
		return d, nil
	}

	d, err := derive(t, map[reflect.Type]bool{})
	if err != nil {
		return nil, err
	}

	descCacheMu.Lock()
	descCache[t] = d
	descCacheMu.Unlock()
	return d, nil
}

// derive walks a type definition. seen holds the structs currently on the
// derivation path; re-entering one means the type refers to itself, which a
// flat descriptor cannot express.
func derive(t reflect.Type, seen map[reflect.Type]bool) (*Descriptor, error) {
	base := t
	for base.Kind() == reflect.Pointer {
		base = base.Elem()
	}

	if base.Kind() != reflect.Struct || base == timeType {
		tag, err := tagFor(base, seen)
		if err != nil {
			return nil, err
		}
		return &Descriptor{TypeName: typeName(base), Type: tag}, nil
	}

	if seen[base] {
		return nil, fmt.Errorf("%w: recursive type %s", ErrNonDescribable, typeName(base))
	}
	seen[base] = true
	defer delete(seen, base)

	d := &Descriptor{TypeName: typeName(base), Type: TagObject}
	for i := 0; i < base.NumField(); i++ {
		sf := base.Field(i)
		if !sf.IsExported() {
			continue
		}

		name, omitEmpty, skip := parseJSONTag(sf)
		if skip {
			continue
		}

		ft := sf.Type
		optional := omitEmpty
		if ft.Kind() == reflect.Pointer {
			optional = true
			ft = ft.Elem()
		}

		tag, err := tagFor(ft, seen)
		if err != nil {
			return nil, fmt.Errorf("schema: field %q of %s: %w", name, d.TypeName, err)
		}
		d.Fields = append(d.Fields, Field{Name: name, Type: tag, Optional: optional})
	}
	return d, nil
}

// tagFor maps a Go type to its wire tag. Kinds that cannot cross a process
// boundary report ErrNonDescribable.
func tagFor(t reflect.Type, seen map[reflect.Type]bool) (TypeTag, error) {
	if t == timeType {
		return TagString, nil
	}
	if t == rawMsgType {
		return TagAny, nil
	}

	switch t.Kind() {
	case reflect.String:
		return TagString, nil
	case reflect.Bool:
		return TagBool, nil
	case reflect.Int8:
		return TagInt8, nil
	case reflect.Int16:
		return TagInt16, nil
	case reflect.Int32:
		return TagInt32, nil
	case reflect.Int, reflect.Int64:
		return TagInt64, nil
	case reflect.Uint8:
		return TagUint8, nil
	case reflect.Uint16:
		return TagUint16, nil
	case reflect.Uint32:
		return TagUint32, nil
	case reflect.Uint, reflect.Uint64, reflect.Uintptr:
		return TagUint64, nil
	case reflect.Float32:
		return TagFloat32, nil
	case reflect.Float64:
		return TagFloat64, nil
	case reflect.Slice, reflect.Array:
		if t.Elem().Kind() == reflect.Uint8 {
			return TagBytes, nil
		}
		if _, err := tagFor(t.Elem(), seen); err != nil {
			return "", err
		}
		return TagArray, nil
	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return "", fmt.Errorf("%w: map key must be string, got %s", ErrNonDescribable, t.Key())
		}
		if _, err := tagFor(t.Elem(), seen); err != nil {
			return "", err
		}
		return TagObject, nil
	case reflect.Struct:
		if _, err := derive(t, seen); err != nil {
			return "", err
		}
		return TagObject, nil
	case reflect.Pointer:
		return tagFor(t.Elem(), seen)
	case reflect.Interface:
		if t.NumMethod() == 0 {
			return TagAny, nil
		}
		return "", fmt.Errorf("%w: non-empty interface %s", ErrNonDescribable, t)
	default:
		return "", fmt.Errorf("%w: kind %s", ErrNonDescribable, t.Kind())
	}
}

func typeName(t reflect.Type) string {
	if n := t.Name(); n != "" {
		return n
	}
	return t.String()
}

// parseJSONTag resolves the wire name of a struct field the same way
// encoding/json does.
func parseJSONTag(sf reflect.StructField) (name string, omitEmpty, skip bool) {
	tag := sf.Tag.Get("json")
	if tag == "-" {
		return "", false, true
	}
	name = sf.Name
	parts := strings.Split(tag, ",")
	if parts[0] != "" {
		name = parts[0]
	}
	for _, opt := range parts[1:] {
		if opt == "omitempty" {
			omitEmpty = true
		}
	}
	return name, omitEmpty, false
}
