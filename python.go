package venvpipe

import (
	"context"
	"strings"
)

// Output runs executable in env to completion and returns its stdout. On a
// nonzero exit the partial output is returned together with the
// *ProcessExitError.
func (env *Environment) Output(ctx context.Context, executable string, args ...string) (string, error) {
	s, err := Run(ctx, env, executable, args...)
	if err != nil {
		return "", err
	}
	defer s.Close()
	for s.Next() {
	}
	return s.Output(), s.Err()
}

// RunPython runs a script with the environment's interpreter and returns its
// stdout.
func (env *Environment) RunPython(ctx context.Context, scriptPath string, args ...string) (string, error) {
	return env.Output(ctx, "python", append([]string{scriptPath}, args...)...)
}

// PythonVersion asks the environment's interpreter for its version and
// records it in InterpreterVersion.
func (env *Environment) PythonVersion(ctx context.Context) (Version, error) {
	out, err := env.Output(ctx, "python", "--version")
	if err != nil {
		return Version{}, err
	}
	v, err := ParsePythonVersion(strings.TrimSpace(out))
	if err != nil {
		return Version{}, err
	}
	env.InterpreterVersion = v
	return v, nil
}
