package synth

import (
	"errors"
	"fmt"
)

var (
	// ErrUnencodable matches every EncodeError.
	ErrUnencodable = errors.New("synth: value cannot be encoded")

	// ErrSynthesisLimit is wrapped by a SynthesisError when a registry has
	// already manufactured its maximum number of synthesized kinds.
	ErrSynthesisLimit = errors.New("synth: synthesized kind limit reached")
)

// EncodeError reports a value the encoder does not know how to serialize.
// It is only returned by a codec with error suppression turned off.
type EncodeError struct {
	// Path locates the offending value inside the encoded tree, e.g. "[2].s1".
	Path string
	// Type is the Go type of the offending value.
	Type string
	Err  error
}

func (e *EncodeError) Error() string {
	msg := fmt.Sprintf("synth: cannot encode %s", e.Type)
	if e.Path != "" {
		msg += " at " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *EncodeError) Is(target error) bool {
	return target == ErrUnencodable
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}

// SynthesisError is returned by Decode when building a placeholder kind for
// an unknown record failed. Unlike bad input it is never turned into a
// missing value.
type SynthesisError struct {
	Name string
	Err  error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synth: synthesizing %q: %v", e.Name, e.Err)
}

func (e *SynthesisError) Unwrap() error {
	return e.Err
}
