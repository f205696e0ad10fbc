package venvpipe

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/richinsley/venvpipe/synth"
)

// RemoteErrorName is the record name RemoteError travels under.
const RemoteErrorName = "venvpipe.RemoteError"

// RemoteError is an error raised in a child process and reported to the
// parent, either as an envelope (see ReportError) or as a JSON object on the
// last lines of stderr.
type RemoteError struct {
	// Type is the error's type name in the child, e.g. "ValueError" or "*fs.PathError".
	Type string `json:"exception"`

	// Message is the error text.
	Message string `json:"message"`

	// Traceback is the child's stack at the point of failure, if it sent one.
	Traceback string `json:"traceback"`

	// Args holds the raw error arguments, for children that have them.
	Args []any `json:"args,omitempty"`

	// Cause is the error this one was raised from.
	Cause *RemoteError `json:"cause,omitempty"`
}

func init() {
	synth.Register(RemoteErrorName, newRemoteErrorFromFields)
}

// NewRemoteError captures err and its single-error unwrap chain.
func NewRemoteError(err error) *RemoteError {
	if err == nil {
		return nil
	}
	if re, ok := err.(*RemoteError); ok {
		return re
	}
	re := &RemoteError{
		Type:    fmt.Sprintf("%T", err),
		Message: err.Error(),
	}
	if cause := errors.Unwrap(err); cause != nil {
		re.Cause = NewRemoteError(cause)
	}
	return re
}

// NewRemoteErrorFromJSON parses a RemoteError from a JSON object.
func NewRemoteErrorFromJSON(data []byte) (*RemoteError, error) {
	var re RemoteError
	if err := json.Unmarshal(data, &re); err != nil {
		return nil, err
	}
	return &re, nil
}

func (e *RemoteError) Error() string {
	if e.Type == "" {
		return e.Message
	}
	return e.Type + ": " + e.Message
}

// Unwrap returns the cause, if any.
func (e *RemoteError) Unwrap() error {
	if e.Cause == nil {
		return nil
	}
	return e.Cause
}

// ToString formats the error with its traceback and every cause.
func (e *RemoteError) ToString() string {
	var b strings.Builder
	for cur, first := e, true; cur != nil; cur, first = cur.Cause, false {
		if !first {
			b.WriteString("\nCaused by:\n")
		}
		fmt.Fprintf(&b, "%s: %s", cur.Type, cur.Message)
		if cur.Traceback != "" {
			b.WriteByte('\n')
			b.WriteString(cur.Traceback)
		}
	}
	return b.String()
}

func (e *RemoteError) RecordName() string {
	return RemoteErrorName
}

func (e *RemoteError) RecordFields() []synth.Field {
	var args any
	if e.Args != nil {
		args = e.Args
	}
	return []synth.Field{
		{Name: "type", Value: e.Type},
		{Name: "message", Value: e.Message},
		{Name: "traceback", Value: e.Traceback},
		{Name: "args", Value: args},
		{Name: "cause", Value: e.Cause},
	}
}

func newRemoteErrorFromFields(f *synth.Fields) (any, error) {
	var (
		re  RemoteError
		err error
	)
	if re.Type, err = f.String("type"); err != nil {
		return nil, err
	}
	if re.Message, err = f.String("message"); err != nil {
		return nil, err
	}
	// optional, older writers leave them out
	if tb, ok := f.Get("traceback"); ok {
		re.Traceback, _ = tb.(string)
	}
	if _, ok := f.Get("args"); ok {
		if re.Args, err = f.List("args"); err != nil {
			return nil, err
		}
	}
	if cause, ok := f.Get("cause"); ok {
		re.Cause, _ = cause.(*RemoteError)
	}
	return &re, nil
}

// UnknownError is an error a child reported as a record the parent has no
// type for. It keeps the synthesized record, so it re-encodes under the
// child's record name.
type UnknownError struct {
	*synth.Synthesized
}

// Error returns "Type: message" when the record has a message field.
func (e *UnknownError) Error() string {
	if msg, ok := e.Get("message"); ok {
		if s, ok := msg.(string); ok && s != "" {
			return e.TypeName() + ": " + s
		}
	}
	return e.Synthesized.String()
}

// Unwrap returns the record's cause field when it holds an error.
func (e *UnknownError) Unwrap() error {
	cause, _ := e.Get("cause")
	switch c := cause.(type) {
	case error:
		return c
	case *synth.Synthesized:
		return &UnknownError{Synthesized: c}
	}
	return nil
}
