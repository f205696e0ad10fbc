package venvpipe

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestRestoreCurrentEnvironment(t *testing.T) {
	env, err := RestoreCurrentEnvironment()
	if err != nil {
		t.Fatalf("RestoreCurrentEnvironment: %v", err)
	}
	if env.Kind != KindCurrent {
		t.Errorf("Kind = %v, want current", env.Kind)
	}
	if filepath.Dir(env.InterpreterPath) != env.BinPath {
		t.Errorf("BinPath = %q, interpreter = %q", env.BinPath, env.InterpreterPath)
	}
	wd, _ := os.Getwd()
	if env.ScriptRoot != wd {
		t.Errorf("ScriptRoot = %q, want %q", env.ScriptRoot, wd)
	}

	// the running test binary is found next to itself
	p, err := env.ResolveExecutable(filepath.Base(env.InterpreterPath))
	if err != nil {
		t.Fatalf("ResolveExecutable: %v", err)
	}
	if p != env.InterpreterPath {
		t.Errorf("ResolveExecutable = %q, want %q", p, env.InterpreterPath)
	}

	if err := env.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if _, err := os.Stat(env.InterpreterPath); err != nil {
		t.Errorf("Close removed the current environment: %v", err)
	}
}

func TestResolveExecutable_PathFallback(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not on PATH")
	}
	env, err := RestoreCurrentEnvironment()
	if err != nil {
		t.Fatal(err)
	}
	p, err := env.ResolveExecutable("sh")
	if err != nil {
		t.Fatalf("ResolveExecutable(sh): %v", err)
	}
	if !filepath.IsAbs(p) {
		t.Errorf("ResolveExecutable(sh) = %q, want an absolute path", p)
	}

	// other kinds never look at PATH
	env.Kind = KindExisting
	if _, err := env.ResolveExecutable("sh"); !errors.Is(err, ErrExecutableNotFound) {
		t.Errorf("ResolveExecutable(sh) in existing env = %v, want ErrExecutableNotFound", err)
	}
}

func TestResolveExecutable_NotFound(t *testing.T) {
	env := &Environment{BinPath: t.TempDir(), ScriptRoot: t.TempDir(), Kind: KindExisting}
	for _, name := range []string{"", "python", "sub/tool"} {
		_, err := env.ResolveExecutable(name)
		var nf *ExecutableNotFoundError
		if !errors.As(err, &nf) || !errors.Is(err, ErrExecutableNotFound) {
			t.Errorf("ResolveExecutable(%q) = %v, want ExecutableNotFoundError", name, err)
		}
	}
}

func TestResolveExecutable_RelativePath(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("relies on the executable bit")
	}
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "scripts"), 0o755); err != nil {
		t.Fatal(err)
	}
	script := filepath.Join(root, "scripts", "job.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	plain := filepath.Join(root, "scripts", "data.txt")
	if err := os.WriteFile(plain, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	env := &Environment{BinPath: t.TempDir(), ScriptRoot: root, Kind: KindExisting}
	p, err := env.ResolveExecutable("scripts/job.sh")
	if err != nil || p != script {
		t.Errorf("ResolveExecutable(scripts/job.sh) = %q, %v", p, err)
	}
	if _, err := env.ResolveExecutable("scripts/data.txt"); !errors.Is(err, ErrExecutableNotFound) {
		t.Errorf("non executable file resolved: %v", err)
	}
}

func TestOpenEnvironment(t *testing.T) {
	root := t.TempDir()
	if _, err := OpenEnvironment(root); err == nil {
		t.Fatal("expected error for a directory without a bin dir")
	}
	if err := os.Mkdir(filepath.Join(root, binDirName()), 0o755); err != nil {
		t.Fatal(err)
	}
	env, err := OpenEnvironment(root)
	if err != nil {
		t.Fatalf("OpenEnvironment: %v", err)
	}
	if env.Kind != KindExisting || env.InterpreterPath != "" {
		t.Errorf("env = %+v", env)
	}
	if err := env.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if _, err := os.Stat(root); err != nil {
		t.Errorf("Close removed an existing environment: %v", err)
	}
}

func TestCreateEnvironment_NoCreator(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "env")
	_, err := CreateEnvironment(context.Background(), dir, CreateOptions{Python: "no-such-python-xyz"})
	if !errors.Is(err, ErrCreatorUnavailable) {
		t.Fatalf("err = %v, want ErrCreatorUnavailable", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("directory was created: %v", err)
	}
}

func TestCreateEnvironment_NonEmptyDir(t *testing.T) {
	dir := t.TempDir()
	keep := filepath.Join(dir, "important.txt")
	if err := os.WriteFile(keep, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := CreateEnvironment(context.Background(), dir, CreateOptions{WithoutPip: true})
	if !errors.Is(err, ErrDirNotEmpty) {
		t.Fatalf("err = %v, want ErrDirNotEmpty", err)
	}
	if data, err := os.ReadFile(keep); err != nil || string(data) != "data" {
		t.Errorf("existing file changed: %q, %v", data, err)
	}

	file := filepath.Join(dir, "plain")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := CreateEnvironment(context.Background(), file, CreateOptions{}); err == nil {
		t.Error("expected error for a base path that is a file")
	}
}

func TestEnvironmentRemove(t *testing.T) {
	// a directory handed in empty is emptied but kept
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "bin"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "pyvenv.cfg"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	env := &Environment{Root: dir, Kind: KindTemporary}
	if err := env.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("Close removed the directory itself: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Close left %d entries behind", len(entries))
	}

	// a directory made by creation goes entirely
	owned := filepath.Join(t.TempDir(), "env")
	if err := os.MkdirAll(filepath.Join(owned, "bin"), 0o755); err != nil {
		t.Fatal(err)
	}
	env = &Environment{Root: owned, Kind: KindTemporary, ownsRoot: true}
	if err := env.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(owned); !os.IsNotExist(err) {
		t.Errorf("Close left %s behind: %v", owned, err)
	}
}

func TestCreateEnvironment_BadPin(t *testing.T) {
	_, err := CreateEnvironment(context.Background(), t.TempDir(), CreateOptions{Version: "latest"})
	if err == nil {
		t.Fatal("expected error for an unparsable version pin")
	}
}

// requirePython skips the test unless a python3 able to create environments
// is on PATH.
func requirePython(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("creates a virtual environment")
	}
	py, err := exec.LookPath("python3")
	if err != nil {
		t.Skip("python3 not on PATH")
	}
	if err := exec.Command(py, "-c", "import venv").Run(); err != nil {
		t.Skip("python3 has no venv module")
	}
}

func TestCreateEnvironment(t *testing.T) {
	requirePython(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	dir := filepath.Join(t.TempDir(), "env")
	env, err := CreateEnvironment(ctx, dir, CreateOptions{WithoutPip: true})
	if err != nil {
		t.Fatalf("CreateEnvironment: %v", err)
	}
	defer env.Close()

	if env.Kind != KindTemporary {
		t.Errorf("Kind = %v", env.Kind)
	}
	if env.InterpreterVersion.Major != 3 {
		t.Errorf("InterpreterVersion = %s", env.InterpreterVersion)
	}
	if !strings.HasPrefix(env.InterpreterPath, env.BinPath) {
		t.Errorf("InterpreterPath %q is outside %q", env.InterpreterPath, env.BinPath)
	}

	s, err := Run(ctx, env, "python", "-c", "import sys\nfor i in range(3): print(i)\nprint(sys.prefix)")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	lines := drain(s)
	if err := s.Err(); err != nil {
		t.Fatalf("Err: %v", err)
	}
	if len(lines) != 4 || lines[0] != "0" || lines[2] != "2" {
		t.Fatalf("lines = %q", lines)
	}
	if !sameDir(t, lines[3], env.Root) {
		t.Errorf("sys.prefix = %q, want %q", lines[3], env.Root)
	}

	// isolation: nothing outside the environment resolves
	if _, err := env.ResolveExecutable("sh"); !errors.Is(err, ErrExecutableNotFound) {
		t.Errorf("ResolveExecutable(sh) = %v, want ErrExecutableNotFound", err)
	}

	// a failing interpreter surfaces as a ProcessExitError
	_, err = env.Output(ctx, "python", "-c", "raise SystemExit(3)")
	var pe *ProcessExitError
	if !errors.As(err, &pe) || pe.ExitCode != 3 {
		t.Errorf("Output = %v, want exit 3", err)
	}

	// pip was left out
	if err := env.InstallPackages(ctx, []string{"six"}, PipOptions{}); err == nil {
		t.Error("InstallPackages succeeded without pip")
	}

	if err := env.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("Close left %s behind: %v", dir, err)
	}
	if err := env.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestCreateEnvironment_PinMismatch(t *testing.T) {
	requirePython(t)
	dir := filepath.Join(t.TempDir(), "env")
	_, err := CreateEnvironment(context.Background(), dir, CreateOptions{WithoutPip: true, Version: "2.7"})
	if err == nil || !strings.Contains(err.Error(), "pinned") {
		t.Fatalf("err = %v, want pin mismatch", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("failed creation left %s behind: %v", dir, err)
	}
}

func TestCreateEnvironment_ExistingEmptyDir(t *testing.T) {
	requirePython(t)
	parent := t.TempDir()
	keep := filepath.Join(parent, "important.txt")
	if err := os.WriteFile(keep, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	dir := filepath.Join(parent, "env")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}

	// a failed creation empties the directory but keeps it
	_, err := CreateEnvironment(context.Background(), dir, CreateOptions{WithoutPip: true, Version: "2.7"})
	if err == nil {
		t.Fatal("expected pin mismatch")
	}
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 0 {
		t.Fatalf("after failed creation: %d entries, %v", len(entries), err)
	}

	env, err := CreateEnvironment(context.Background(), dir, CreateOptions{WithoutPip: true})
	if err != nil {
		t.Fatalf("CreateEnvironment: %v", err)
	}
	if err := env.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if entries, err := os.ReadDir(dir); err != nil || len(entries) != 0 {
		t.Errorf("after Close: %d entries, %v", len(entries), err)
	}
	if data, err := os.ReadFile(keep); err != nil || string(data) != "data" {
		t.Errorf("neighbouring file changed: %q, %v", data, err)
	}
}

func TestKindString(t *testing.T) {
	for k, want := range map[Kind]string{KindTemporary: "temporary", KindCurrent: "current", KindExisting: "existing", Kind(9): "Kind(9)"} {
		if k.String() != want {
			t.Errorf("%d.String() = %q, want %q", int(k), k.String(), want)
		}
	}
}
