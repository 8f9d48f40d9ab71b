package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Value is a JSON literal kept in compact form. Holding the encoded text
// instead of a decoded Go value makes a default compare equal after a save
// and reload, whatever Go type it was built from. The empty Value means no
// default.
type Value string

// NewValue encodes v as a compact JSON literal.
func NewValue(v any) (Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("manifest: encode default: %w", err)
	}
	return Value(data), nil
}

// MustValue is like NewValue but panics when v cannot be encoded.
func MustValue(v any) Value {
	out, err := NewValue(v)
	if err != nil {
		panic(err)
	}
	return out
}

// IsZero reports whether no value is set.
func (v Value) IsZero() bool {
	return v == ""
}

// Decode unmarshals the literal into dst.
func (v Value) Decode(dst any) error {
	if v.IsZero() {
		return errors.New("manifest: no default value")
	}
	return json.Unmarshal([]byte(v), dst)
}

// Any returns the literal decoded into its generic JSON form.
func (v Value) Any() (any, error) {
	var out any
	if err := v.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.IsZero() {
		return []byte("null"), nil
	}
	if !json.Valid([]byte(v)) {
		return nil, fmt.Errorf("manifest: invalid default literal %q", string(v))
	}
	return []byte(v), nil
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return err
	}
	if buf.String() == "null" {
		*v = ""
		return nil
	}
	*v = Value(buf.String())
	return nil
}
