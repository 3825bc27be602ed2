package schema

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
)

// MismatchError reports a structural violation of a payload against a
// descriptor. The dispatch layer maps it to a schema-mismatch response; the
// client maps it to a local validation failure.
type MismatchError struct {
	TypeName string
	Field    string
	Reason   string
}

func (e *MismatchError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("schema: payload does not match %s: %s", e.TypeName, e.Reason)
	}
	return fmt.Sprintf("schema: field %q of %s: %s", e.Field, e.TypeName, e.Reason)
}

func mismatch(d *Descriptor, field, reason string) *MismatchError {
	return &MismatchError{TypeName: d.TypeName, Field: field, Reason: reason}
}

// ValidateParams checks a raw JSON payload against a param descriptor.
// An absent payload is valid only when the descriptor requires no fields.
// The check is purely structural; it never instantiates the target type.
func ValidateParams(d *Descriptor, raw json.RawMessage) error {
	if isAbsent(raw) {
		for _, f := range d.Fields {
			if !f.Optional {
				return mismatch(d, f.Name, "required field missing (empty payload)")
			}
		}
		return nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return mismatch(d, "", "payload is not a JSON object")
	}

	for _, f := range d.Fields {
		val, ok := obj[f.Name]
		if !ok || isAbsent(val) {
			if f.Optional {
				continue
			}
			return mismatch(d, f.Name, "required field missing")
		}
		if err := checkValue(d, f, val); err != nil {
			return err
		}
	}

	for name := range obj {
		if _, ok := d.FieldByName(name); !ok {
			return mismatch(d, name, "unknown field")
		}
	}
	return nil
}

func isAbsent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func checkValue(d *Descriptor, f Field, raw json.RawMessage) error {
	val := bytes.TrimSpace(raw)
	switch f.Type {
	case TagString:
		var s string
		if err := json.Unmarshal(val, &s); err != nil {
			return mismatch(d, f.Name, "expected string")
		}
	case TagBool:
		var b bool
		if err := json.Unmarshal(val, &b); err != nil {
			return mismatch(d, f.Name, "expected bool")
		}
	case TagInt8, TagInt16, TagInt32, TagInt64:
		if _, err := strconv.ParseInt(string(val), 10, intBits(f.Type)); err != nil {
			return mismatch(d, f.Name, fmt.Sprintf("expected %s integer", f.Type))
		}
	case TagUint8, TagUint16, TagUint32, TagUint64:
		if _, err := strconv.ParseUint(string(val), 10, intBits(f.Type)); err != nil {
			return mismatch(d, f.Name, fmt.Sprintf("expected %s integer", f.Type))
		}
	case TagFloat32, TagFloat64:
		if _, err := strconv.ParseFloat(string(val), 64); err != nil {
			return mismatch(d, f.Name, "expected number")
		}
	case TagBytes:
		var s string
		if err := json.Unmarshal(val, &s); err != nil {
			return mismatch(d, f.Name, "expected base64 string")
		}
		if _, err := base64.StdEncoding.DecodeString(s); err != nil {
			return mismatch(d, f.Name, "expected base64 string")
		}
	case TagObject:
		if len(val) == 0 || val[0] != '{' {
			return mismatch(d, f.Name, "expected object")
		}
	case TagArray:
		if len(val) == 0 || val[0] != '[' {
			return mismatch(d, f.Name, "expected array")
		}
	case TagAny:
		// Anything present is acceptable.
	default:
		return mismatch(d, f.Name, fmt.Sprintf("unknown type tag %q", f.Type))
	}
	return nil
}

func intBits(tag TypeTag) int {
	switch tag {
	case TagInt8, TagUint8:
		return 8
	case TagInt16, TagUint16:
		return 16
	case TagInt32, TagUint32:
		return 32
	default:
		return 64
	}
}
