package zwave

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/shopspring/decimal"
)

// Value is one JSON value taken from a gateway payload.
//
// The raw bytes are kept so numbers are never rounded through float64 and
// configured payloads can be echoed back exactly.
type Value struct {
	raw json.RawMessage
}

// NewValue wraps raw JSON bytes.
func NewValue(raw []byte) Value {
	return Value{raw: json.RawMessage(bytes.TrimSpace(raw))}
}

// BoolValue returns the JSON literal true or false.
func BoolValue(b bool) Value {
	if b {
		return NewValue([]byte("true"))
	}
	return NewValue([]byte("false"))
}

// IsSet reports whether the value is present and not null.
func (v Value) IsSet() bool {
	return len(v.raw) > 0 && string(v.raw) != "null"
}

// Raw returns the JSON encoding of the value.
func (v Value) Raw() []byte {
	return []byte(v.raw)
}

// IsObject reports whether the value is a JSON object.
func (v Value) IsObject() bool {
	return len(v.raw) > 0 && v.raw[0] == '{'
}

// IsString reports whether the value is a JSON string.
func (v Value) IsString() bool {
	return len(v.raw) > 0 && v.raw[0] == '"'
}

// Decimal returns the value as an exact decimal when it is a JSON number.
func (v Value) Decimal() (decimal.Decimal, bool) {
	if !v.isNumber() {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(string(v.raw))
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// Int returns the integer part of a numeric value.
func (v Value) Int() (int, bool) {
	d, ok := v.Decimal()
	if !ok {
		return 0, false
	}
	return int(d.IntPart()), true
}

// Text renders the value for a host display field: strings unquoted,
// everything else as its JSON text.
func (v Value) Text() string {
	if v.IsString() {
		var s string
		if err := json.Unmarshal(v.raw, &s); err == nil {
			return s
		}
	}
	return string(v.raw)
}

// Equal compares two values semantically. Numbers compare by decimal value
// so 1, 1.0 and 1e0 are equal.
func (v Value) Equal(other Value) bool {
	if a, ok := v.Decimal(); ok {
		b, ok := other.Decimal()
		return ok && a.Equal(b)
	}
	if !v.IsSet() || !other.IsSet() {
		return v.IsSet() == other.IsSet()
	}
	x, errX := decodeAny(v.raw)
	y, errY := decodeAny(other.raw)
	if errX != nil || errY != nil {
		return bytes.Equal(v.raw, other.raw)
	}
	return reflect.DeepEqual(x, y)
}

func (v Value) String() string {
	return string(v.raw)
}

// MarshalJSON emits the raw value, or null when unset.
func (v Value) MarshalJSON() ([]byte, error) {
	if len(v.raw) == 0 {
		return []byte("null"), nil
	}
	return v.raw, nil
}

// UnmarshalJSON keeps a copy of the raw value.
func (v *Value) UnmarshalJSON(data []byte) error {
	v.raw = append(json.RawMessage(nil), bytes.TrimSpace(data)...)
	return nil
}

func (v Value) isNumber() bool {
	if len(v.raw) == 0 {
		return false
	}
	c := v.raw[0]
	return c == '-' || (c >= '0' && c <= '9')
}

func decodeAny(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// StateMessage is a parsed state payload.
type StateMessage struct {
	Time    time.Time // Event time, zero when the payload carries none
	HasTime bool
	Value   Value
}

type rawStateMessage struct {
	Time  *json.Number `json:"time"`
	Value Value        `json:"value"`
}

// ParseStateMessage parses a gateway state payload of the form
// {"time": <unix ms>, "value": <any>}. Both fields are optional but the
// payload must be a JSON object.
func ParseStateMessage(payload []byte) (StateMessage, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return StateMessage{}, fmt.Errorf("%w: state payload is not an object", ErrMalformedPayload)
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var raw rawStateMessage
	if err := dec.Decode(&raw); err != nil {
		return StateMessage{}, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}

	msg := StateMessage{Value: raw.Value}
	if raw.Time != nil {
		ms, err := raw.Time.Int64()
		if err != nil {
			f, ferr := raw.Time.Float64()
			if ferr != nil {
				return StateMessage{}, fmt.Errorf("%w: time %q", ErrMalformedPayload, raw.Time.String())
			}
			ms = int64(f)
		}
		msg.Time = time.UnixMilli(ms)
		msg.HasTime = true
	}
	return msg, nil
}
