package petwalk

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Kind identifies which variant of Value is populated.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindText
	KindOther // any other JSON value (float, object, array), kept verbatim
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindText:
		return "text"
	case KindOther:
		return "other"
	default:
		return "unknown"
	}
}

// Value is a single wire value reported by the appliance.
// The API is loosely typed: the same key may come back as a bool, a number
// or a string depending on firmware, so every read decodes into this union.
// Value is comparable with ==.
type Value struct {
	kind Kind
	b    bool
	i    int64
	s    string // text payload, or raw JSON for KindOther
}

// Bool returns a Bool value.
func Bool(v bool) Value { return Value{kind: KindBool, b: v} }

// Int returns an Int value.
func Int(v int64) Value { return Value{kind: KindInt, i: v} }

// Text returns a Text value.
func Text(v string) Value { return Value{kind: KindText, s: v} }

// Null returns the null value.
func Null() Value { return Value{} }

// Kind returns the populated variant.
func (v Value) Kind() Kind { return v.kind }

// AsBool returns the bool payload and whether v is a Bool.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsInt returns the int payload and whether v is an Int.
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }

// AsText returns the text payload and whether v is a Text.
func (v Value) AsText() (string, bool) {
	if v.kind != KindText {
		return "", false
	}
	return v.s, true
}

// Truthy mirrors the loose truthiness the appliance's consumers expect:
// false, zero numbers, "", empty objects and arrays, and null are false;
// everything else is true.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i != 0
	case KindText:
		return v.s != ""
	case KindOther:
		return otherTruthy(v.s)
	default:
		return false
	}
}

func otherTruthy(raw string) bool {
	var out any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		// Only out-of-range numbers fail here, and those are nonzero.
		return true
	}
	switch x := out.(type) {
	case float64:
		return x != 0
	case map[string]any:
		return len(x) > 0
	case []any:
		return len(x) > 0
	default:
		return out != nil
	}
}

// Equal reports whether two values are identical.
func (v Value) Equal(o Value) bool { return v == o }

// Interface returns the payload as a plain Go value.
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindText:
		return v.s
	case KindOther:
		var out any
		if err := json.Unmarshal([]byte(v.s), &out); err != nil {
			return v.s
		}
		return out
	default:
		return nil
	}
}

// String formats the value for logs.
func (v Value) String() string {
	switch v.kind {
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindText:
		return strconv.Quote(v.s)
	case KindOther:
		return v.s
	default:
		return "null"
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("petwalk: empty value")
	}

	switch data[0] {
	case 'n':
		*v = Null()
		return nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = Bool(b)
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = Text(s)
		return nil
	}

	if i, err := strconv.ParseInt(string(data), 10, 64); err == nil {
		*v = Int(i)
		return nil
	}

	if !json.Valid(data) {
		return fmt.Errorf("petwalk: invalid JSON value %q", data)
	}
	*v = Value{kind: KindOther, s: string(data)}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindBool:
		return json.Marshal(v.b)
	case KindInt:
		return json.Marshal(v.i)
	case KindText:
		return json.Marshal(v.s)
	case KindOther:
		return []byte(v.s), nil
	default:
		return []byte("null"), nil
	}
}

// Values is a decoded response body from one of the read endpoints.
type Values map[string]Value

// Clone returns a shallow copy (Value itself is immutable).
func (vs Values) Clone() Values {
	if vs == nil {
		return nil
	}
	out := make(Values, len(vs))
	for k, v := range vs {
		out[k] = v
	}
	return out
}
