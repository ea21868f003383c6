package core

import "encoding/json"

// FlagValue is the sum type for a feature-flag value: a boolean, a string
// variant key, a number, or an arbitrary JSON value.
type FlagValue struct {
	raw json.RawMessage
}

// NewFlagValue wraps a decoded JSON value (bool, string, float64, map,
// slice, or nil) into a FlagValue.
func NewFlagValue(v any) FlagValue {
	b, err := json.Marshal(v)
	if err != nil {
		return FlagValue{raw: json.RawMessage("null")}
	}
	return FlagValue{raw: b}
}

// FlagValueFromRaw wraps an already-encoded JSON scalar or document.
func FlagValueFromRaw(raw json.RawMessage) FlagValue {
	return FlagValue{raw: raw}
}

// IsZero reports whether the value was never set.
func (v FlagValue) IsZero() bool {
	return len(v.raw) == 0
}

// IsExplicitlyFalse reports whether the value decodes to the JSON boolean false. Any
// other present value (true, a string, a number, an object, an array) is
// not boolean-false.
func (v FlagValue) IsExplicitlyFalse() bool {
	var b bool
	if err := json.Unmarshal(v.raw, &b); err != nil {
		return false
	}
	return !b
}

// String renders the value as its raw JSON text.
func (v FlagValue) String() string {
	return string(v.raw)
}

// Decode unmarshals the value into dst, the same way a caller would decode
// any other JSON document.
func (v FlagValue) Decode(dst any) error {
	return json.Unmarshal(v.raw, dst)
}

// MarshalJSON makes FlagValue itself marshal back to its wrapped document.
func (v FlagValue) MarshalJSON() ([]byte, error) {
	if len(v.raw) == 0 {
		return []byte("null"), nil
	}
	return v.raw, nil
}

// UnmarshalJSON captures the raw document verbatim.
func (v *FlagValue) UnmarshalJSON(data []byte) error {
	v.raw = append(json.RawMessage(nil), data...)
	return nil
}
