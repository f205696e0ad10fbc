// Package venvpipe runs child processes inside isolated interpreter
// environments and exchanges results with them over plain text pipes.
//
// # Environments
//
// An Environment is either created fresh, restored from the running process,
// or opened from a directory created earlier:
//
//	// A new virtual environment in a temporary directory, removed by Close
//	env, err := venvpipe.CreateEnvironment(ctx, "", venvpipe.CreateOptions{Version: "3.11"})
//	defer env.Close()
//
//	// The running process; executables resolve next to it, then on PATH
//	env, err := venvpipe.RestoreCurrentEnvironment()
//
// Executables are resolved inside the environment only, so a missing tool
// fails with ErrExecutableNotFound instead of silently picking up a system
// copy.
//
// # Streams
//
// Run starts a child and returns a Stream that yields stdout lines as they
// are written. A nonzero exit surfaces from Err as a *ProcessExitError that
// carries the exit code, the full stdout and the captured stderr. Closing the
// stream early, or cancelling its context, kills the child and every process
// it started.
//
// RunWithResult does the same for children that report a value: the child
// writes one envelope line with ReportResult and the parent reads it back
// with ResultStream.Result once the stream is drained.
//
// # Results
//
// Values travel as envelope lines produced by package synth. A line is
// self-checking, so stray output mixed into stdout never decodes by accident.
// Record types the parent does not know arrive as *synth.Synthesized values
// that keep their name and fields.
//
// Errors can be reported the same way: ReportError writes a RemoteError to
// stderr, and DecodeReportedError turns a failed run into that error.
package venvpipe
