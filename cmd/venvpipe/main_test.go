package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/richinsley/venvpipe"
	"github.com/richinsley/venvpipe/internal/config"
	"github.com/richinsley/venvpipe/synth"
)

func newTestApp(stdin string) (*app, *bytes.Buffer, *bytes.Buffer) {
	var stdout, stderr bytes.Buffer
	return &app{stdin: strings.NewReader(stdin), stdout: &stdout, stderr: &stderr}, &stdout, &stderr
}

func TestDecode(t *testing.T) {
	first, err := synth.Encode(int64(1))
	if err != nil {
		t.Fatal(err)
	}
	second, err := synth.Encode("two")
	if err != nil {
		t.Fatal(err)
	}
	input := "noise\n" + first + "\ntraceback line\n" + second + "\ntrailer\n"

	a, stdout, _ := newTestApp(input)
	if err := a.command().Run(context.Background(), []string{"venvpipe", "--config-dir", t.TempDir(), "decode"}); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := stdout.String(); got != "two\n" {
		t.Errorf("decode = %q, want %q", got, "two\n")
	}

	a, stdout, _ = newTestApp(input)
	if err := a.command().Run(context.Background(), []string{"venvpipe", "--config-dir", t.TempDir(), "decode", "--all"}); err != nil {
		t.Fatalf("decode --all: %v", err)
	}
	if got := stdout.String(); got != "1\ntwo\n" {
		t.Errorf("decode --all = %q, want %q", got, "1\ntwo\n")
	}
}

func TestDecode_NothingDecodable(t *testing.T) {
	a, stdout, _ := newTestApp("plain text\n")
	if err := a.command().Run(context.Background(), []string{"venvpipe", "--config-dir", t.TempDir(), "decode"}); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stdout.Len() != 0 {
		t.Errorf("decode printed %q", stdout.String())
	}
}

func requireSh(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not on PATH")
	}
}

func TestRun(t *testing.T) {
	requireSh(t)
	a, stdout, _ := newTestApp("")
	args := []string{"venvpipe", "--config-dir", t.TempDir(), "run", "--setenv", "GREETING=hello", "--", "sh", "-c", "echo $GREETING; echo done"}
	if err := a.command().Run(context.Background(), args); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := stdout.String(); got != "hello\ndone\n" {
		t.Errorf("run = %q", got)
	}
}

func TestRun_Failure(t *testing.T) {
	requireSh(t)
	a, _, stderr := newTestApp("")
	args := []string{"venvpipe", "--config-dir", t.TempDir(), "run", "--", "sh", "-c", "echo oops >&2; exit 3"}
	err := a.command().Run(context.Background(), args)
	var pe *venvpipe.ProcessExitError
	if !errors.As(err, &pe) {
		t.Fatalf("run = %v, want ProcessExitError", err)
	}
	if code := a.fail(err); code != 3 {
		t.Errorf("exit code = %d, want 3", code)
	}
	if !strings.Contains(stderr.String(), "oops") {
		t.Errorf("stderr = %q, want the child's stderr", stderr.String())
	}
}

func TestRun_MissingExecutable(t *testing.T) {
	a, _, _ := newTestApp("")
	err := a.command().Run(context.Background(), []string{"venvpipe", "--config-dir", t.TempDir(), "run"})
	if err == nil {
		t.Fatal("expected error without an executable")
	}
	if code := a.fail(err); code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
}

type namedRecord string

func (r namedRecord) RecordName() string          { return string(r) }
func (r namedRecord) RecordFields() []synth.Field { return nil }

func TestRun_SynthesisError(t *testing.T) {
	requireSh(t)
	a, stdout, stderr := newTestApp("")
	a.cfg = &config.Config{}
	a.logger = slog.New(slog.NewTextHandler(stderr, nil))
	reg := synth.NewRegistry()
	reg.SetMaxKinds(1)
	a.codec = synth.New(synth.WithRegistry(reg))

	first, err := synth.Encode(namedRecord("worker.First"))
	if err != nil {
		t.Fatal(err)
	}
	second, err := synth.Encode(namedRecord("worker.Second"))
	if err != nil {
		t.Fatal(err)
	}
	env, err := venvpipe.RestoreCurrentEnvironment()
	if err != nil {
		t.Fatal(err)
	}
	c := env.Command("sh", "-c", `printf '%s\n' "$1" "$2"`, "sh", first, second)
	c.Codec = a.codec
	c.Logger = a.logger

	err = a.run(context.Background(), c)
	var se *synth.SynthesisError
	if !errors.As(err, &se) {
		t.Fatalf("run = %v, want *synth.SynthesisError", err)
	}
	if !strings.Contains(stderr.String(), "decoding output line") {
		t.Errorf("stderr = %q, want the decode failure logged", stderr.String())
	}
	if stdout.Len() != 0 {
		t.Errorf("stdout = %q, want envelopes kept out of the echo", stdout.String())
	}
}

func TestCreate_NonEmptyDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "important.txt"), []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	a, _, _ := newTestApp("")
	err := a.command().Run(context.Background(), []string{"venvpipe", "--config-dir", t.TempDir(), "create", "--without-pip", dir})
	if !errors.Is(err, venvpipe.ErrDirNotEmpty) {
		t.Fatalf("create = %v, want ErrDirNotEmpty", err)
	}
	if data, err := os.ReadFile(filepath.Join(dir, "important.txt")); err != nil || string(data) != "data" {
		t.Errorf("existing file changed: %q, %v", data, err)
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "b", "c"); got != "b" {
		t.Errorf("firstNonEmpty = %q", got)
	}
	if got := firstNonEmpty(); got != "" {
		t.Errorf("firstNonEmpty() = %q", got)
	}
}
