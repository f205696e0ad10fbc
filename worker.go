package venvpipe

import (
	"io"

	"github.com/richinsley/venvpipe/synth"
)

// ReportResult is the child side of RunWithResult: it writes v to w, normally
// os.Stdout, as one envelope line using synth.Default. A value that cannot be
// encoded writes nothing and returns nil, so the parent sees no result.
func ReportResult(w io.Writer, v any) error {
	return ReportResultWith(synth.Default, w, v)
}

// ReportResultWith is ReportResult with an explicit codec. When the codec
// does not suppress errors, an unencodable value returns a *synth.EncodeError.
func ReportResultWith(c *synth.Codec, w io.Writer, v any) error {
	line, err := c.Encode(v)
	if err != nil || line == "" {
		return err
	}
	_, err = io.WriteString(w, line+"\n")
	return err
}

// ReportError writes err to w, normally os.Stderr, as a RemoteError envelope
// that DecodeReportedError can pick up after the child exits nonzero.
func ReportError(w io.Writer, err error) error {
	return ReportResult(w, NewRemoteError(err))
}
