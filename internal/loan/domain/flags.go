package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
)

// Flags maps rule name to violation (true = violated). Flags only describe a
// record; they never decide whether it is emitted.
type Flags map[string]bool

func NewFlags(capacity int) Flags {
	return make(Flags, capacity)
}

// Any reports whether at least one rule is violated.
func (f Flags) Any() bool {
	for _, v := range f {
		if v {
			return true
		}
	}
	return false
}

// Violations returns the violated rule names in sorted order.
func (f Flags) Violations() []string {
	out := make([]string, 0, len(f))
	for name, v := range f {
		if v {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Merge copies other into f with keys prefixed as "<prefix>.<rule>".
func (f Flags) Merge(prefix string, other Flags) {
	for name, v := range other {
		f[prefix+"."+name] = v
	}
}

func (f Flags) Clone() Flags {
	out := make(Flags, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// MarshalJSON always emits an object; a nil set encodes as {}.
func (f Flags) MarshalJSON() ([]byte, error) {
	if f == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]bool(f))
}

// Value stores flags as a JSON object with sorted keys.
func (f Flags) Value() (driver.Value, error) {
	b, err := f.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (f *Flags) Scan(value any) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*f = Flags{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("flags: unsupported scan type %T", value)
	}
	out := Flags{}
	if err := json.Unmarshal(raw, (*map[string]bool)(&out)); err != nil {
		return err
	}
	*f = out
	return nil
}
