package venvpipe

import (
	"context"
	"errors"
	"strings"

	"github.com/richinsley/venvpipe/synth"
)

// ErrStreamIncomplete is returned by ResultStream.Result before the stream
// has been read to the end.
var ErrStreamIncomplete = errors.New("venvpipe: result requested before stream ended")

// ResultStream is a Stream whose child reports a final value by writing an
// envelope line to stdout. Every line, including the envelope, is still
// delivered by Next.
type ResultStream struct {
	*Stream

	codec          *synth.Codec
	decodeReported bool

	resolved  bool
	streamErr error
	value     any
	resultErr error
}

// RunWithResult starts executable in env and returns a stream whose final
// value can be read with Result once every line was consumed.
func RunWithResult(ctx context.Context, env *Environment, executable string, args ...string) (*ResultStream, error) {
	return env.Command(executable, args...).StreamResult(ctx)
}

// StreamResult starts the command like Stream and decodes the child's result
// when the stream ends.
func (c *Command) StreamResult(ctx context.Context) (*ResultStream, error) {
	s, err := c.Stream(ctx)
	if err != nil {
		return nil, err
	}
	codec := c.Codec
	if codec == nil {
		codec = synth.Default
	}
	return &ResultStream{
		Stream:         s,
		codec:          codec,
		decodeReported: c.DecodeReportedErrors,
	}, nil
}

// Next advances like Stream.Next. After the last line it decodes the result.
func (r *ResultStream) Next() bool {
	if r.Stream.Next() {
		return true
	}
	r.resolve()
	return false
}

// Err returns the stream error. With DecodeReportedErrors set, a nonzero exit
// whose stderr carries an error value is reported as a *ReportedError.
func (r *ResultStream) Err() error {
	if r.resolved {
		return r.streamErr
	}
	return r.Stream.Err()
}

// Result returns the value the child reported. It is nil when the child
// exited cleanly without a decodable envelope, including when it could not
// encode its result. A failed run returns the stream error, and a result
// that exceeds the kind limit returns a *synth.SynthesisError.
func (r *ResultStream) Result() (any, error) {
	if !r.resolved {
		if !r.Stream.done {
			return nil, ErrStreamIncomplete
		}
		r.resolve()
	}
	return r.value, r.resultErr
}

// Close stops the stream like Stream.Close.
func (r *ResultStream) Close() error {
	err := r.Stream.Close()
	r.resolve()
	return err
}

func (r *ResultStream) resolve() {
	if r.resolved {
		return
	}
	r.resolved = true
	if err := r.Stream.Err(); err != nil {
		if r.decodeReported {
			err = DecodeReportedError(err, r.codec)
		}
		r.streamErr = err
		r.resultErr = err
		return
	}
	r.value, r.resultErr = r.codec.DecodeLast(r.Stream.Lines())
}

// ReportedError is an error value a failed child wrote to stderr. It unwraps
// to both the reported error and the *ProcessExitError.
type ReportedError struct {
	Err  error
	Exit *ProcessExitError
}

func (e *ReportedError) Error() string {
	return e.Err.Error()
}

func (e *ReportedError) Unwrap() []error {
	return []error{e.Err, e.Exit}
}

// DecodeReportedError looks for an error value reported on the stderr of a
// failed child. Envelope lines are decoded with codec; a record of a type
// the codec does not know comes back as an *UnknownError. It falls back to the
// last line holding a JSON error object. If err is not a *ProcessExitError or
// nothing usable is found, err is returned unchanged.
func DecodeReportedError(err error, codec *synth.Codec) error {
	var pe *ProcessExitError
	if !errors.As(err, &pe) || pe.Stderr == "" {
		return err
	}
	if codec == nil {
		codec = synth.Default
	}

	lines := strings.Split(strings.TrimRight(pe.Stderr, "\r\n"), "\n")
	v, derr := codec.DecodeLast(lines)
	if derr != nil {
		return errors.Join(err, derr)
	}
	switch v := v.(type) {
	case error:
		return &ReportedError{Err: v, Exit: pe}
	case *synth.Synthesized:
		return &ReportedError{Err: &UnknownError{Synthesized: v}, Exit: pe}
	}

	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{") {
			continue
		}
		if re, jerr := NewRemoteErrorFromJSON([]byte(line)); jerr == nil && re.Type != "" {
			return &ReportedError{Err: re, Exit: pe}
		}
	}
	return err
}
