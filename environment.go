package venvpipe

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

var (
	// ErrExecutableNotFound matches every ExecutableNotFoundError.
	ErrExecutableNotFound = errors.New("executable not found")

	// ErrCreatorUnavailable is returned by CreateEnvironment when no base
	// interpreter able to create environments can be found.
	ErrCreatorUnavailable = errors.New("environment creator unavailable")

	// ErrDirNotEmpty is returned by CreateEnvironment for a base directory
	// that already holds files.
	ErrDirNotEmpty = errors.New("environment directory is not empty")
)

// Kind tells how an Environment came to be and who owns its storage.
type Kind int

const (
	// KindTemporary environments were created by CreateEnvironment. Close
	// removes what creation put on disk.
	KindTemporary Kind = iota

	// KindCurrent describes the already running parent process.
	KindCurrent

	// KindExisting environments were opened with OpenEnvironment and are
	// left in place by Close.
	KindExisting
)

func (k Kind) String() string {
	switch k {
	case KindTemporary:
		return "temporary"
	case KindCurrent:
		return "current"
	case KindExisting:
		return "existing"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ExecutableNotFoundError reports an executable missing from an environment.
type ExecutableNotFoundError struct {
	Name    string
	BinPath string
}

func (e *ExecutableNotFoundError) Error() string {
	return fmt.Sprintf("executable %q not found in %s", e.Name, e.BinPath)
}

func (e *ExecutableNotFoundError) Is(target error) bool {
	return target == ErrExecutableNotFound
}

// Environment is a located interpreter installation that child processes are
// started from.
type Environment struct {
	// Name identifies the environment in logs.
	Name string

	// Root is the environment directory. For KindTemporary its contents are
	// removed by Close, and Root itself too when CreateEnvironment made it.
	Root string

	// BinPath is the directory executables are resolved in.
	BinPath string

	// ScriptRoot is the working directory of child processes, which is what
	// relative script paths resolve against.
	ScriptRoot string

	// InterpreterPath is the environment's main interpreter.
	InterpreterPath string

	// InterpreterVersion is the detected interpreter version. Major is -1
	// when it was not detected.
	InterpreterVersion Version

	// Kind is the lifetime kind.
	Kind Kind

	ownsRoot  bool
	closeOnce sync.Once
	closeErr  error
}

// CreateOptions configures CreateEnvironment.
type CreateOptions struct {
	// Python is the base interpreter used to create the environment. When
	// empty, python3 and then python are looked up on PATH.
	Python string

	// Version pins the interpreter, e.g. "3.11". The created interpreter must
	// match every component given.
	Version string

	// WithoutPip skips installing pip into the environment.
	WithoutPip bool

	// SystemSitePackages gives the environment access to the base
	// interpreter's site-packages.
	SystemSitePackages bool

	// Packages are installed with pip after creation.
	Packages []string

	// Pip configures the installation of Packages.
	Pip PipOptions

	// Logger receives progress messages. Defaults to slog.Default().
	Logger *slog.Logger
}

// CreateEnvironment builds a fresh isolated environment in baseDir, which
// must either not exist yet or be an empty directory; anything else fails
// with ErrDirNotEmpty. An empty baseDir creates a new temporary directory.
// The returned environment is KindTemporary: Close removes what creation put
// in baseDir, and baseDir itself if CreateEnvironment made it.
//
// A failed creation cleans up the same way before returning.
func CreateEnvironment(ctx context.Context, baseDir string, opts CreateOptions) (*Environment, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var pin Version
	if opts.Version != "" {
		var err error
		if pin, err = ParseVersion(opts.Version); err != nil {
			return nil, fmt.Errorf("parsing pinned version: %w", err)
		}
	}

	exists := false
	if baseDir != "" {
		var err error
		if exists, err = checkBaseDir(baseDir); err != nil {
			return nil, err
		}
	}

	base, err := findBaseInterpreter(opts.Python)
	if err != nil {
		return nil, err
	}

	switch {
	case baseDir == "":
		if baseDir, err = os.MkdirTemp("", "venvpipe-*"); err != nil {
			return nil, fmt.Errorf("creating temporary directory: %w", err)
		}
	case !exists:
		if err := os.MkdirAll(baseDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating environment directory: %w", err)
		}
	}
	if baseDir, err = filepath.Abs(baseDir); err != nil {
		return nil, err
	}

	env := &Environment{
		Name:     filepath.Base(baseDir),
		Root:     baseDir,
		BinPath:  filepath.Join(baseDir, binDirName()),
		Kind:     KindTemporary,
		ownsRoot: !exists,
	}
	env.InterpreterVersion.Major = -1

	if err := env.populate(ctx, base, opts, pin, logger); err != nil {
		if rmErr := env.remove(); rmErr != nil {
			logger.Warn("removing partially created environment", "path", baseDir, "error", rmErr)
		}
		return nil, err
	}
	return env, nil
}

// checkBaseDir reports whether dir exists. An existing dir must be an empty
// directory.
func checkBaseDir(dir string) (bool, error) {
	fi, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking environment directory: %w", err)
	}
	if !fi.IsDir() {
		return false, fmt.Errorf("environment directory %s is not a directory", dir)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, fmt.Errorf("checking environment directory: %w", err)
	}
	if len(entries) > 0 {
		return false, fmt.Errorf("%w: %s", ErrDirNotEmpty, dir)
	}
	return true, nil
}

func (env *Environment) populate(ctx context.Context, base string, opts CreateOptions, pin Version, logger *slog.Logger) error {
	if !isDirWritable(env.Root) {
		return fmt.Errorf("environment directory is not writable: %s", env.Root)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting working directory: %w", err)
	}
	env.ScriptRoot = cwd
	return env.create(ctx, base, opts, pin, logger)
}

// remove deletes what creation put on disk. A directory the caller handed
// in empty is emptied again but kept.
func (env *Environment) remove() error {
	if env.ownsRoot {
		return os.RemoveAll(env.Root)
	}
	entries, err := os.ReadDir(env.Root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	var errs []error
	for _, e := range entries {
		errs = append(errs, os.RemoveAll(filepath.Join(env.Root, e.Name())))
	}
	return errors.Join(errs...)
}

func (env *Environment) create(ctx context.Context, base string, opts CreateOptions, pin Version, logger *slog.Logger) error {
	args := []string{"-m", "venv"}
	if opts.WithoutPip {
		args = append(args, "--without-pip")
	}
	if opts.SystemSitePackages {
		args = append(args, "--system-site-packages")
	}
	args = append(args, env.Root)

	logger.Info("creating environment", "path", env.Root, "python", base)
	creator := &Environment{
		Name:       "creator",
		BinPath:    filepath.Dir(base),
		ScriptRoot: env.ScriptRoot,
		Kind:       KindExisting,
	}
	if _, err := creator.Output(ctx, base, args...); err != nil {
		return fmt.Errorf("creating environment in %s: %w", env.Root, err)
	}

	interp, err := env.ResolveExecutable("python")
	if err != nil {
		return fmt.Errorf("created environment has no interpreter: %w", err)
	}
	env.InterpreterPath = interp

	if _, err := env.PythonVersion(ctx); err != nil {
		return fmt.Errorf("getting interpreter version: %w", err)
	}
	if opts.Version != "" && !env.InterpreterVersion.Satisfies(pin) {
		return fmt.Errorf("interpreter version %s does not match pinned %s", env.InterpreterVersion.String(), pin.String())
	}

	if len(opts.Packages) > 0 {
		if err := env.InstallPackages(ctx, opts.Packages, opts.Pip); err != nil {
			return err
		}
	}
	logger.Info("environment created", "path", env.Root, "version", env.InterpreterVersion.String())
	return nil
}

// RestoreCurrentEnvironment describes the running process as an environment.
// Executables are looked up next to the running executable first and then on
// PATH. It has no side effects and Close does nothing.
func RestoreCurrentEnvironment() (*Environment, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locating current executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting working directory: %w", err)
	}

	bin := filepath.Dir(exe)
	env := &Environment{
		Name:            "current",
		Root:            filepath.Dir(bin),
		BinPath:         bin,
		ScriptRoot:      cwd,
		InterpreterPath: exe,
		Kind:            KindCurrent,
	}
	env.InterpreterVersion.Major = -1
	return env, nil
}

// OpenEnvironment binds to an environment that already exists in dir, for
// example one created earlier with CreateEnvironment and kept around. Nothing
// is created or run, and Close leaves dir in place.
func OpenEnvironment(dir string) (*Environment, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	bin := filepath.Join(dir, binDirName())
	if fi, err := os.Stat(bin); err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("%s is not an environment: missing %s", dir, bin)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting working directory: %w", err)
	}

	env := &Environment{
		Name:       filepath.Base(dir),
		Root:       dir,
		BinPath:    bin,
		ScriptRoot: cwd,
		Kind:       KindExisting,
	}
	env.InterpreterVersion.Major = -1
	if interp, err := env.ResolveExecutable("python"); err == nil {
		env.InterpreterPath = interp
	}
	return env, nil
}

// ResolveExecutable returns the absolute path of the named executable inside
// the environment. Names containing a path separator are taken as paths,
// relative ones against ScriptRoot. Only the current environment falls back to
// PATH.
func (env *Environment) ResolveExecutable(name string) (string, error) {
	if name == "" {
		return "", &ExecutableNotFoundError{Name: name, BinPath: env.BinPath}
	}

	if strings.ContainsRune(name, '/') || strings.ContainsRune(name, filepath.Separator) {
		p := name
		if !filepath.IsAbs(p) {
			p = filepath.Join(env.ScriptRoot, p)
		}
		if isExecutable(p) {
			return p, nil
		}
		return "", &ExecutableNotFoundError{Name: name, BinPath: env.BinPath}
	}

	for _, candidate := range executableNames(name) {
		p := filepath.Join(env.BinPath, candidate)
		if isExecutable(p) {
			return p, nil
		}
	}

	if env.Kind == KindCurrent {
		if p, err := exec.LookPath(name); err == nil {
			if abs, err := filepath.Abs(p); err == nil {
				return abs, nil
			}
			return p, nil
		}
	}
	return "", &ExecutableNotFoundError{Name: name, BinPath: env.BinPath}
}

// Close releases the environment. Temporary environments are deleted from
// disk; other kinds are left untouched. Close is safe to call more than once.
func (env *Environment) Close() error {
	if env.Kind != KindTemporary {
		return nil
	}
	env.closeOnce.Do(func() {
		env.closeErr = env.remove()
	})
	return env.closeErr
}

func findBaseInterpreter(python string) (string, error) {
	candidates := []string{"python3", "python"}
	if python != "" {
		candidates = []string{python}
	}
	for _, c := range candidates {
		p, err := exec.LookPath(c)
		if err == nil {
			if abs, err := filepath.Abs(p); err == nil {
				return abs, nil
			}
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: none of %s found", ErrCreatorUnavailable, strings.Join(candidates, ", "))
}

func isExecutable(path string) bool {
	fi, err := os.Stat(path)
	if err != nil {
		return false
	}
	return isExecutableFile(fi)
}

func isDirWritable(dir string) bool {
	f, err := os.CreateTemp(dir, ".venvpipe-probe-*")
	if err != nil {
		return false
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return true
}

func binDirName() string {
	if runtime.GOOS == "windows" {
		return "Scripts"
	}
	return "bin"
}
