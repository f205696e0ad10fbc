package synth

import (
	"fmt"
	"math"
)

// Record is a value that serializes as a named, ordered list of fields.
// The name should be qualified (for example "venvpipe.RunMetrics") since it is
// the only thing that ties the payload to a Go type on the decoding side.
type Record interface {
	// RecordName returns the qualified type name written to the payload.
	RecordName() string

	// RecordFields returns the fields in their stable wire order.
	RecordFields() []Field
}

// Field is one named member of a Record.
type Field struct {
	Name  string
	Value any
}

// Fields is the read-only view of a decoded record handed to a Factory.
type Fields struct {
	name string
	list []Field
}

// NewFields builds a Fields view. It is mostly useful for testing factories.
func NewFields(name string, fields ...Field) *Fields {
	return &Fields{name: name, list: fields}
}

// TypeName returns the qualified name of the record being decoded.
func (f *Fields) TypeName() string {
	return f.name
}

// Len returns the number of fields.
func (f *Fields) Len() int {
	return len(f.list)
}

// All returns the fields in wire order. The slice must not be modified.
func (f *Fields) All() []Field {
	return f.list
}

// Get returns the decoded value of the named field.
func (f *Fields) Get(name string) (any, bool) {
	for _, fld := range f.list {
		if fld.Name == name {
			return fld.Value, true
		}
	}
	return nil, false
}

// Any returns the named field, or an error if it is absent.
func (f *Fields) Any(name string) (any, error) {
	v, ok := f.Get(name)
	if !ok {
		return nil, fmt.Errorf("synth: %s: missing field %q", f.name, name)
	}
	return v, nil
}

// String returns the named field as a string.
func (f *Fields) String(name string) (string, error) {
	v, err := f.Any(name)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", f.typeError(name, "string", v)
	}
	return s, nil
}

// Bool returns the named field as a bool.
func (f *Fields) Bool(name string) (bool, error) {
	v, err := f.Any(name)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, f.typeError(name, "bool", v)
	}
	return b, nil
}

// Int returns the named field as an int64. Unsigned values that fit are
// accepted too.
func (f *Fields) Int(name string) (int64, error) {
	v, err := f.Any(name)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case int64:
		return n, nil
	case uint64:
		if n <= math.MaxInt64 {
			return int64(n), nil
		}
	}
	return 0, f.typeError(name, "int", v)
}

// Float returns the named field as a float64. Integers are converted.
func (f *Fields) Float(name string) (float64, error) {
	v, err := f.Any(name)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	}
	return 0, f.typeError(name, "float", v)
}

// List returns the named field as a list. A nil field yields a nil list.
func (f *Fields) List(name string) ([]any, error) {
	v, err := f.Any(name)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	l, ok := v.([]any)
	if !ok {
		return nil, f.typeError(name, "list", v)
	}
	return l, nil
}

func (f *Fields) typeError(name, want string, got any) error {
	return fmt.Errorf("synth: %s: field %q is %T, want %s", f.name, name, got, want)
}
