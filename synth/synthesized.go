package synth

import (
	"fmt"
	"strings"
)

// Synthesized stands in for a record whose name the decoder does not know.
// It keeps the original qualified name and every field in wire order.
type Synthesized struct {
	kind   *Kind
	fields []Field
}

// TypeName returns the qualified name of the original type.
func (s *Synthesized) TypeName() string {
	return s.kind.name
}

// Kind returns the manufactured kind shared by all values of this name.
func (s *Synthesized) Kind() *Kind {
	return s.kind
}

// Get returns the decoded value of the named field.
func (s *Synthesized) Get(name string) (any, bool) {
	for _, f := range s.fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Fields returns the captured fields in wire order.
func (s *Synthesized) Fields() []Field {
	return s.fields
}

// RecordName implements Record so a synthesized value re-encodes unchanged.
func (s *Synthesized) RecordName() string {
	return s.kind.name
}

// RecordFields implements Record.
func (s *Synthesized) RecordFields() []Field {
	return s.fields
}

func (s *Synthesized) String() string {
	var b strings.Builder
	b.WriteString(s.kind.name)
	b.WriteByte('(')
	for i, f := range s.fields {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=%v", f.Name, f.Value)
	}
	b.WriteByte(')')
	return b.String()
}
