package venvpipe

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/richinsley/venvpipe/synth"
)

// DefaultMaxStderr bounds how much of a child's stderr is kept for
// ProcessExitError. The rest is read and discarded.
const DefaultMaxStderr = 4 << 20

// ErrStreamClosed is reported by a Stream that was closed before the child
// finished.
var ErrStreamClosed = errors.New("venvpipe: stream closed")

// ProcessExitError reports a child that exited with a nonzero status.
type ProcessExitError struct {
	// Command is the resolved executable followed by its arguments.
	Command []string

	// ExitCode is the exit status, or -1 when the child was killed by a signal.
	ExitCode int

	// Output is everything the child wrote to stdout.
	Output string

	// Stderr is what the child wrote to stderr, up to the command's limit.
	Stderr string

	// RunID identifies the run in logs.
	RunID string
}

func (e *ProcessExitError) Error() string {
	return fmt.Sprintf("command %s exited with status %d", strings.Join(e.Command, " "), e.ExitCode)
}

// Command describes a child process to start inside an Environment.
type Command struct {
	Env        *Environment
	Executable string
	Args       []string

	// Environ holds variables added to the inherited environment.
	Environ map[string]string

	// Dir overrides Env.ScriptRoot as the working directory.
	Dir string

	// MaxStderr caps the captured stderr. Zero means DefaultMaxStderr.
	MaxStderr int

	// Codec decodes results for StreamResult. Nil means synth.Default.
	Codec *synth.Codec

	// DecodeReportedErrors makes StreamResult replace a ProcessExitError with
	// the error value the child reported on stderr, if any.
	DecodeReportedErrors bool

	Logger *slog.Logger
}

// Command returns a Command running executable with args in env.
func (env *Environment) Command(executable string, args ...string) *Command {
	return &Command{
		Env:        env,
		Executable: executable,
		Args:       args,
	}
}

// Run starts executable in env and returns a stream over its stdout lines.
func Run(ctx context.Context, env *Environment, executable string, args ...string) (*Stream, error) {
	return env.Command(executable, args...).Stream(ctx)
}

// Stream is a lazy sequence of lines written by a child process to stdout.
// Lines are delivered as the child produces them:
//
//	s, err := venvpipe.Run(ctx, env, "python", "job.py")
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//	for s.Next() {
//		fmt.Println(s.Line())
//	}
//	if err := s.Err(); err != nil {
//		return err
//	}
//
// A Stream is not safe for concurrent use. Separate streams are independent.
type Stream struct {
	id      string
	ctx     context.Context
	cmd     *exec.Cmd
	argv    []string
	logger  *slog.Logger
	started time.Time

	stdout *bufio.Reader
	drain  errgroup.Group
	stderr limitWriter

	// mu orders group kills against reaping the child
	mu     sync.Mutex
	reaped bool

	output strings.Builder
	line   string
	done   bool
	err    error
}

// Stream starts the command. The child runs until its stdout is exhausted,
// the stream is closed or ctx is done; the last two kill it together with
// every process it started.
func (c *Command) Stream(ctx context.Context) (*Stream, error) {
	if c.Env == nil {
		return nil, errors.New("venvpipe: command has no environment")
	}
	path, err := c.Env.ResolveExecutable(c.Executable)
	if err != nil {
		return nil, err
	}

	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cmd := exec.CommandContext(ctx, path, c.Args...)
	cmd.Dir = c.Dir
	if cmd.Dir == "" {
		cmd.Dir = c.Env.ScriptRoot
	}
	cmd.Env = c.environ()
	startInGroup(cmd)
	cmd.Cancel = func() error {
		return killGroup(cmd)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}

	maxStderr := c.MaxStderr
	if maxStderr <= 0 {
		maxStderr = DefaultMaxStderr
	}

	s := &Stream{
		id:     uuid.New().String(),
		ctx:    ctx,
		cmd:    cmd,
		argv:   append([]string{path}, c.Args...),
		logger: logger,
		stdout: bufio.NewReader(stdout),
		stderr: limitWriter{limit: maxStderr},
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", c.Executable, err)
	}
	s.started = time.Now()
	go s.killOrphans()

	// stderr is drained concurrently so a chatty child never blocks on a
	// full pipe while stdout is being read
	s.drain.Go(func() error {
		_, err := copyBuffers.copyPooled(&s.stderr, stderr)
		return err
	})

	logger.Debug("process started",
		"run_id", s.id,
		"pid", cmd.Process.Pid,
		"command", s.argv,
		"dir", cmd.Dir,
	)
	return s, nil
}

func (c *Command) environ() []string {
	env := os.Environ()
	for _, k := range slices.Sorted(maps.Keys(c.Environ)) {
		env = append(env, k+"="+c.Environ[k])
	}
	return env
}

// ID returns the run identifier used in logs and errors.
func (s *Stream) ID() string {
	return s.id
}

// Pid returns the process id of the child.
func (s *Stream) Pid() int {
	return s.cmd.Process.Pid
}

// Next advances to the next line of stdout. It blocks until the child writes
// a full line or closes stdout. When Next returns false the child has been
// waited for and Err reports how it ended.
func (s *Stream) Next() bool {
	if s.done {
		return false
	}
	text, err := s.stdout.ReadString('\n')
	if text != "" {
		s.output.WriteString(text)
		s.line = strings.TrimSuffix(strings.TrimSuffix(text, "\n"), "\r")
		return true
	}
	s.finish(err)
	return false
}

// Line returns the current line without its line terminator.
func (s *Stream) Line() string {
	return s.line
}

// Output returns everything read from stdout so far.
func (s *Stream) Output() string {
	return s.output.String()
}

// Lines returns the stdout lines read so far.
func (s *Stream) Lines() []string {
	out := strings.TrimSuffix(s.output.String(), "\n")
	if out == "" {
		return nil
	}
	lines := strings.Split(out, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

// Err returns nil while the stream is running and after a clean exit. A
// nonzero exit is reported as a *ProcessExitError, a cancelled context as an
// error wrapping ctx.Err(), and an early Close as ErrStreamClosed.
func (s *Stream) Err() error {
	return s.err
}

// Close stops the stream. A child that is still running is killed along with
// its descendants. Close after the stream ended does nothing.
func (s *Stream) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	s.line = ""
	err := killGroup(s.cmd)
	// Wait closes our ends of the pipes, which also ends the stderr drain
	// if an escaped descendant still holds the write end.
	_ = s.wait()
	_ = s.drain.Wait()
	s.err = ErrStreamClosed
	s.logger.Debug("process closed", "run_id", s.id, "elapsed", time.Since(s.started))
	return err
}

func (s *Stream) finish(readErr error) {
	s.done = true
	s.line = ""
	if errors.Is(readErr, io.EOF) {
		readErr = nil
	}
	drainErr := s.drain.Wait()
	waitErr := s.wait()
	if err := killGroup(s.cmd); err != nil {
		s.logger.Warn("killing process group", "run_id", s.id, "error", err)
	}
	s.err = s.exitError(readErr, drainErr, waitErr)

	attrs := []any{"run_id", s.id, "elapsed", time.Since(s.started)}
	if s.err != nil {
		attrs = append(attrs, "error", s.err)
	}
	s.logger.Debug("process finished", attrs...)
}

func (s *Stream) wait() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.cmd.Wait()
	s.reaped = true
	return err
}

// killOrphans kills the process group as soon as the child exits. Otherwise
// a descendant that inherited stdout or stderr keeps the pipes open and the
// stream never ends.
func (s *Stream) killOrphans() {
	if err := waitExit(s.cmd.Process.Pid); err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reaped {
		return
	}
	if err := killGroup(s.cmd); err != nil {
		s.logger.Warn("killing process group", "run_id", s.id, "error", err)
	}
}

func (s *Stream) exitError(readErr, drainErr, waitErr error) error {
	if waitErr != nil {
		if ctxErr := s.ctx.Err(); ctxErr != nil {
			return fmt.Errorf("run %s: %w", s.id, ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return &ProcessExitError{
				Command:  s.argv,
				ExitCode: exitErr.ExitCode(),
				Output:   s.output.String(),
				Stderr:   s.stderr.String(),
				RunID:    s.id,
			}
		}
		return fmt.Errorf("waiting for %s: %w", s.argv[0], waitErr)
	}
	if readErr != nil {
		return fmt.Errorf("reading stdout: %w", readErr)
	}
	if drainErr != nil {
		return fmt.Errorf("reading stderr: %w", drainErr)
	}
	return nil
}

// limitWriter keeps up to limit bytes and silently discards the rest.
type limitWriter struct {
	buf   bytes.Buffer
	limit int
}

func (w *limitWriter) Write(p []byte) (int, error) {
	remaining := w.limit - w.buf.Len()
	if remaining <= 0 {
		return len(p), nil
	}
	if len(p) > remaining {
		// report everything as consumed so io.Copy keeps draining
		w.buf.Write(p[:remaining])
		return len(p), nil
	}
	return w.buf.Write(p)
}

func (w *limitWriter) String() string {
	return w.buf.String()
}
