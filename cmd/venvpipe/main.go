// Command venvpipe creates isolated interpreter environments, runs programs
// inside them and decodes the results they report.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/lmittmann/tint"
	"github.com/urfave/cli/v3"

	"github.com/richinsley/venvpipe"
	"github.com/richinsley/venvpipe/internal/config"
	"github.com/richinsley/venvpipe/synth"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr}
	err := a.command().Run(ctx, os.Args)
	stop()
	if err != nil {
		os.Exit(a.fail(err))
	}
}

type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	cfg    *config.Config
	logger *slog.Logger
	codec  *synth.Codec
}

func (a *app) command() *cli.Command {
	return &cli.Command{
		Name:      "venvpipe",
		Usage:     "run programs in isolated environments and read back their results",
		Reader:    a.stdin,
		Writer:    a.stdout,
		ErrWriter: a.stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config-dir",
				Usage: "directory holding " + config.FileName + " and .env",
				Value: ".",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error (overrides the configuration)",
			},
		},
		Before: a.setup,
		Commands: []*cli.Command{
			a.runCommand(),
			a.decodeCommand(),
			a.createCommand(),
		},
	}
}

// setup loads the configuration and builds the logger and codec shared by
// every subcommand.
func (a *app) setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg, err := config.Load(cmd.String("config-dir"))
	if err != nil {
		return ctx, err
	}
	if lvl := cmd.String("log-level"); lvl != "" {
		cfg.RawLogLevel = lvl
	}
	a.cfg = cfg
	a.logger = slog.New(tint.NewHandler(a.stderr, &tint.Options{
		Level:      cfg.LogLevel(),
		TimeFormat: time.TimeOnly,
		NoColor:    color.NoColor,
	}))
	slog.SetDefault(a.logger)
	a.codec = synth.New(
		synth.WithSuppressErrors(cfg.SuppressErrors()),
		synth.WithCompression(cfg.CompressAbove),
	)
	return ctx, nil
}

func (a *app) runCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "run a program, echo its output and print the result it reports",
		ArgsUsage: "[--env DIR] -- EXECUTABLE [ARGS...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env",
				Usage: "environment directory; the current process environment when empty",
			},
			&cli.StringFlag{
				Name:  "dir",
				Usage: "working directory of the program",
			},
			&cli.StringSliceFlag{
				Name:  "setenv",
				Usage: "extra KEY=VALUE environment entries",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			args := cmd.Args().Slice()
			if len(args) == 0 {
				return errors.New("run: missing executable")
			}
			env, err := a.environment(cmd.String("env"))
			if err != nil {
				return err
			}
			defer env.Close()

			c := env.Command(args[0], args[1:]...)
			c.Dir = cmd.String("dir")
			c.Codec = a.codec
			c.DecodeReportedErrors = a.cfg.DecodeReportedErrors
			c.Logger = a.logger
			if kvs := cmd.StringSlice("setenv"); len(kvs) > 0 {
				c.Environ = make(map[string]string, len(kvs))
				for _, kv := range kvs {
					k, v, ok := strings.Cut(kv, "=")
					if !ok {
						return fmt.Errorf("run: --setenv %q is not KEY=VALUE", kv)
					}
					c.Environ[k] = v
				}
			}

			ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout())
			defer cancel()
			return a.run(ctx, c)
		},
	}
}

func (a *app) environment(dir string) (*venvpipe.Environment, error) {
	if dir == "" {
		return venvpipe.RestoreCurrentEnvironment()
	}
	return venvpipe.OpenEnvironment(dir)
}

func (a *app) run(ctx context.Context, c *venvpipe.Command) error {
	rs, err := c.StreamResult(ctx)
	if err != nil {
		return err
	}
	defer rs.Close()

	for rs.Next() {
		line := rs.Line()
		v, err := a.codec.Decode(line)
		if err != nil {
			a.logger.Warn("decoding output line", "run_id", rs.ID(), "error", err)
			continue
		}
		if v != nil {
			continue
		}
		fmt.Fprintln(a.stdout, line)
	}
	v, err := rs.Result()
	if err != nil {
		return err
	}
	a.printValue(v)
	return nil
}

func (a *app) decodeCommand() *cli.Command {
	return &cli.Command{
		Name:  "decode",
		Usage: "decode envelope lines read from stdin",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "all",
				Usage: "print every decodable line instead of the last one",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			sc := bufio.NewScanner(a.stdin)
			sc.Buffer(make([]byte, 0, 64*1024), 64<<20)
			var lines []string
			for sc.Scan() {
				lines = append(lines, sc.Text())
			}
			if err := sc.Err(); err != nil {
				return fmt.Errorf("reading stdin: %w", err)
			}

			if !cmd.Bool("all") {
				v, err := a.codec.DecodeLast(lines)
				if err != nil {
					return err
				}
				a.printValue(v)
				return nil
			}
			for _, line := range lines {
				v, err := a.codec.Decode(line)
				if err != nil {
					return err
				}
				if v != nil {
					a.printValue(v)
				}
			}
			return nil
		},
	}
}

func (a *app) createCommand() *cli.Command {
	return &cli.Command{
		Name:      "create",
		Usage:     "create an environment and install packages into it",
		ArgsUsage: "DIR",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "python", Usage: "base interpreter"},
			&cli.StringFlag{Name: "version", Usage: "pinned interpreter version, e.g. 3.11"},
			&cli.StringSliceFlag{Name: "package", Aliases: []string{"p"}, Usage: "package to install"},
			&cli.StringFlag{Name: "requirements", Aliases: []string{"r"}, Usage: "requirements file to install"},
			&cli.StringFlag{Name: "index-url", Usage: "package index URL"},
			&cli.BoolFlag{Name: "without-pip", Usage: "do not install pip"},
			&cli.BoolFlag{Name: "system-site-packages", Usage: "expose the base interpreter's packages"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			dir := cmd.Args().First()
			if dir == "" {
				if a.cfg.EnvRoot == "" {
					return errors.New("create: missing environment directory")
				}
				dir = a.cfg.EnvRoot
			} else if a.cfg.EnvRoot != "" && !filepath.IsAbs(dir) {
				dir = filepath.Join(a.cfg.EnvRoot, dir)
			}

			opts := venvpipe.CreateOptions{
				Python:             firstNonEmpty(cmd.String("python"), a.cfg.Python),
				Version:            firstNonEmpty(cmd.String("version"), a.cfg.PythonVersion),
				WithoutPip:         cmd.Bool("without-pip"),
				SystemSitePackages: cmd.Bool("system-site-packages"),
				Packages:           append(append([]string(nil), a.cfg.Packages...), cmd.StringSlice("package")...),
				Pip: venvpipe.PipOptions{
					IndexURL: cmd.String("index-url"),
					Progress: func(message string, current, total int64) {
						a.logger.Debug("pip", "message", message, "step", current)
					},
				},
				Logger: a.logger,
			}

			ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout())
			defer cancel()
			env, err := venvpipe.CreateEnvironment(ctx, dir, opts)
			if err != nil {
				return err
			}
			if req := cmd.String("requirements"); req != "" {
				if err := env.InstallRequirements(ctx, req, opts.Pip); err != nil {
					return err
				}
			}
			a.logger.Info("environment ready",
				"path", env.Root,
				"python", env.InterpreterPath,
				"version", env.InterpreterVersion)
			fmt.Fprintln(a.stdout, env.Root)
			return nil
		},
	}
}

func (a *app) printValue(v any) {
	switch v := v.(type) {
	case nil:
	case error:
		color.New(color.FgRed).Fprintln(a.stdout, v)
	default:
		color.New(color.FgGreen).Fprintf(a.stdout, "%v\n", v)
	}
}

// fail reports err and returns the process exit code. A failed child passes
// its own exit code through.
func (a *app) fail(err error) int {
	red := color.New(color.FgRed, color.Bold)
	code := 1
	var pe *venvpipe.ProcessExitError
	if errors.As(err, &pe) {
		if pe.ExitCode > 0 {
			code = pe.ExitCode
		}
		if pe.Stderr != "" {
			color.New(color.FgHiBlack).Fprint(a.stderr, pe.Stderr)
			if !strings.HasSuffix(pe.Stderr, "\n") {
				fmt.Fprintln(a.stderr)
			}
		}
	}
	var re *venvpipe.RemoteError
	if errors.As(err, &re) && re.Traceback != "" {
		fmt.Fprintln(a.stderr, re.ToString())
	}
	red.Fprintf(a.stderr, "venvpipe: %v\n", err)
	return code
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
