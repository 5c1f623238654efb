package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"math"
)

// Element is one item of a dataset. It is either a bare number or a record
// that carries a numeric "value" plus arbitrary extra fields. Sorting always
// compares Key(), so both shapes share one accessor.
type Element struct {
	Value float64
	// Fields holds the record's other fields. Nil for bare numbers.
	Fields map[string]any
}

// Num returns a bare numeric element.
func Num(v float64) Element {
	return Element{Value: v}
}

// Record returns a record element with the given extra fields.
func Record(v float64, fields map[string]any) Element {
	if fields == nil {
		fields = map[string]any{}
	}
	return Element{Value: v, Fields: fields}
}

// Nums converts a list of numbers into elements.
func Nums(vs ...float64) []Element {
	out := make([]Element, len(vs))
	for i, v := range vs {
		out[i] = Num(v)
	}
	return out
}

// Key is the comparison accessor.
func (e Element) Key() float64 {
	return e.Value
}

// IsRecord reports whether the element was supplied as a record.
func (e Element) IsRecord() bool {
	return e.Fields != nil
}

// Less orders elements by Key.
func Less(a, b Element) bool {
	return a.Value < b.Value
}

// Clone copies the slice so the caller owns it exclusively. Record field maps
// are shared; workers never write to them.
func Clone(data []Element) []Element {
	if data == nil {
		return nil
	}
	out := make([]Element, len(data))
	copy(out, data)
	return out
}

// Keys returns the comparison keys of data.
func Keys(data []Element) []float64 {
	out := make([]float64, len(data))
	for i, e := range data {
		out[i] = e.Value
	}
	return out
}

// IsSorted reports whether data is ascending by Key.
func IsSorted(data []Element) bool {
	for i := 1; i < len(data); i++ {
		if Less(data[i], data[i-1]) {
			return false
		}
	}
	return true
}

func (e Element) validate() error {
	if math.IsNaN(e.Value) || math.IsInf(e.Value, 0) {
		return fmt.Errorf("element value %v is not a finite number", e.Value)
	}
	return nil
}

// MarshalJSON emits a bare number or an object with "value" merged into Fields.
func (e Element) MarshalJSON() ([]byte, error) {
	if e.Fields == nil {
		return json.Marshal(e.Value)
	}
	obj := make(map[string]any, len(e.Fields)+1)
	maps.Copy(obj, e.Fields)
	obj["value"] = e.Value
	return json.Marshal(obj)
}

// UnmarshalJSON accepts a number or an object with a numeric "value" field.
func (e *Element) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var obj map[string]any
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		raw, ok := obj["value"]
		if !ok {
			return fmt.Errorf("record element has no \"value\" field")
		}
		v, ok := raw.(float64)
		if !ok {
			return fmt.Errorf("record element \"value\" must be a number, got %T", raw)
		}
		delete(obj, "value")
		*e = Element{Value: v, Fields: obj}
		return nil
	}

	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("element must be a number or a record: %w", err)
	}
	*e = Element{Value: v}
	return nil
}

// Options carries algorithm-specific configuration, e.g. {"pivot": "middle"}.
type Options map[string]any

// String returns the option as a string or def when missing.
func (o Options) String(key, def string) string {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Int returns the option as an int or def when missing. JSON numbers decode
// as float64, so both shapes are accepted.
func (o Options) Int(key string, def int) int {
	switch v := o[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}
