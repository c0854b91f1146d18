package finding

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// ValueKind identifies which variant a Value holds.
type ValueKind string

const (
	// KindString marks a string value.
	KindString ValueKind = "string"

	// KindNumber marks a numeric value.
	KindNumber ValueKind = "number"

	// KindBool marks a boolean value.
	KindBool ValueKind = "bool"
)

// Value is a tagged attribute value: exactly one of string, number or bool.
type Value struct {
	Kind ValueKind `json:"kind"`
	Str  string    `json:"str,omitempty"`
	Num  float64   `json:"num,omitempty"`
	Bool bool      `json:"bool,omitempty"`
}

// String creates a string Value.
func String(s string) Value {
	return Value{Kind: KindString, Str: s}
}

// Number creates a numeric Value.
func Number(f float64) Value {
	return Value{Kind: KindNumber, Num: f}
}

// Bool creates a boolean Value.
func Bool(b bool) Value {
	return Value{Kind: KindBool, Bool: b}
}

// IsValid reports whether the kind tag is one of the known variants and a
// number is finite. NaN never equals itself and has no JSON form.
func (v Value) IsValid() bool {
	switch v.Kind {
	case KindString, KindBool:
		return true
	case KindNumber:
		return !math.IsNaN(v.Num) && !math.IsInf(v.Num, 0)
	default:
		return false
	}
}

// Equal compares kind and the active variant only.
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindString:
		return v.Str == other.Str
	case KindNumber:
		return v.Num == other.Num
	case KindBool:
		return v.Bool == other.Bool
	default:
		return false
	}
}

// Native returns the active variant as a plain Go value.
func (v Value) Native() any {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return v.Num
	case KindBool:
		return v.Bool
	default:
		return nil
	}
}

// String returns the textual form used in templates and fingerprints.
func (v Value) String() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	default:
		return ""
	}
}

// Attribute is a single named value.
type Attribute struct {
	Name  string `json:"name"`
	Value Value  `json:"value"`
}

// Attributes is an ordered mapping of attribute name to Value. Insertion
// order is preserved; setting an existing name replaces its value at the
// same position. The zero value is an empty mapping ready to use.
//
// Copies of an Attributes value share storage, so Set never writes to it:
// it builds new storage and leaves every other copy unchanged.
type Attributes struct {
	items []Attribute
	index map[string]int
}

// NewAttributes builds Attributes from pairs, in order.
func NewAttributes(pairs ...Attribute) Attributes {
	a := Attributes{
		items: make([]Attribute, 0, len(pairs)),
		index: make(map[string]int, len(pairs)),
	}
	for _, p := range pairs {
		a.put(p.Name, p.Value)
	}
	return a
}

// Set stores value under name.
func (a *Attributes) Set(name string, value Value) {
	items := make([]Attribute, len(a.items), len(a.items)+1)
	copy(items, a.items)
	index := make(map[string]int, len(a.index)+1)
	for k, i := range a.index {
		index[k] = i
	}
	a.items, a.index = items, index
	a.put(name, value)
}

// put writes into storage a owns exclusively.
func (a *Attributes) put(name string, value Value) {
	if i, ok := a.index[name]; ok {
		a.items[i].Value = value
		return
	}
	a.index[name] = len(a.items)
	a.items = append(a.items, Attribute{Name: name, Value: value})
}

// Get returns the value stored under name.
func (a Attributes) Get(name string) (Value, bool) {
	i, ok := a.index[name]
	if !ok {
		return Value{}, false
	}
	return a.items[i].Value, true
}

// Has reports whether name is set.
func (a Attributes) Has(name string) bool {
	_, ok := a.index[name]
	return ok
}

// Keys returns attribute names in insertion order.
func (a Attributes) Keys() []string {
	keys := make([]string, len(a.items))
	for i, item := range a.items {
		keys[i] = item.Name
	}
	return keys
}

// Items returns a copy of the ordered attribute list.
func (a Attributes) Items() []Attribute {
	out := make([]Attribute, len(a.items))
	copy(out, a.items)
	return out
}

// Len returns the number of attributes.
func (a Attributes) Len() int {
	return len(a.items)
}

// Native converts the mapping to map[string]any for template and filter contexts.
func (a Attributes) Native() map[string]any {
	out := make(map[string]any, len(a.items))
	for _, item := range a.items {
		out[item.Name] = item.Value.Native()
	}
	return out
}

// Clone returns an independent copy.
func (a Attributes) Clone() Attributes {
	return NewAttributes(a.items...)
}

// MarshalJSON encodes the mapping as an ordered list of name/value pairs.
func (a Attributes) MarshalJSON() ([]byte, error) {
	if a.items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(a.items)
}

// UnmarshalJSON decodes the ordered pair list produced by MarshalJSON.
func (a *Attributes) UnmarshalJSON(data []byte) error {
	var items []Attribute
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("decode attributes: %w", err)
	}
	for _, item := range items {
		if !item.Value.IsValid() {
			return fmt.Errorf("decode attributes: %q has invalid value kind %q", item.Name, item.Value.Kind)
		}
	}
	*a = NewAttributes(items...)
	return nil
}
