package venvpipe

import (
	"context"
	"fmt"
	"strings"
)

// ProgressCallback receives progress updates from long running operations.
// total is -1 when the amount of work is unknown.
type ProgressCallback func(message string, current, total int64)

// PipOptions configures pip invocations.
type PipOptions struct {
	// IndexURL replaces the default package index.
	IndexURL string

	// ExtraIndexURL adds a package index.
	ExtraIndexURL string

	// NoCache disables pip's cache.
	NoCache bool

	// Progress is called once per line of pip output. May be nil.
	Progress ProgressCallback
}

// InstallPackages installs packages such as "numpy" or "pandas>=1.0" into
// the environment with "python -m pip install".
func (env *Environment) InstallPackages(ctx context.Context, packages []string, opts PipOptions) error {
	if len(packages) == 0 {
		return nil
	}
	desc := "Installing pip packages..."
	if len(packages) == 1 {
		desc = fmt.Sprintf("Installing pip package %s...", packages[0])
	}
	args := append(pipInstallArgs(opts), packages...)
	if err := env.runPip(ctx, desc, args, opts.Progress); err != nil {
		return fmt.Errorf("installing %s: %w", strings.Join(packages, " "), err)
	}
	return nil
}

// InstallRequirements installs the packages listed in a requirements file.
func (env *Environment) InstallRequirements(ctx context.Context, requirementsPath string, opts PipOptions) error {
	args := append(pipInstallArgs(opts), "-r", requirementsPath)
	if err := env.runPip(ctx, "Installing pip requirements...", args, opts.Progress); err != nil {
		return fmt.Errorf("installing requirements from %s: %w", requirementsPath, err)
	}
	return nil
}

// PipVersion returns the version of pip installed in the environment.
func (env *Environment) PipVersion(ctx context.Context) (Version, error) {
	out, err := env.Output(ctx, "python", "-m", "pip", "--version")
	if err != nil {
		return Version{}, err
	}
	return ParsePipVersion(strings.TrimSpace(out))
}

func pipInstallArgs(opts PipOptions) []string {
	args := []string{"-m", "pip", "install", "--no-warn-script-location", "--disable-pip-version-check"}
	if opts.NoCache {
		args = append(args, "--no-cache-dir")
	}
	if opts.IndexURL != "" {
		args = append(args, "--index-url", opts.IndexURL)
	}
	if opts.ExtraIndexURL != "" {
		args = append(args, "--extra-index-url", opts.ExtraIndexURL)
	}
	return args
}

func (env *Environment) runPip(ctx context.Context, desc string, args []string, progress ProgressCallback) error {
	s, err := Run(ctx, env, "python", args...)
	if err != nil {
		return err
	}
	defer s.Close()

	var n int64
	for s.Next() {
		n++
		if progress != nil {
			progress(desc, n, -1)
		}
	}
	if err := s.Err(); err != nil {
		return err
	}
	if progress != nil {
		progress("Pip packages installed successfully", 100, 100)
	}
	return nil
}
