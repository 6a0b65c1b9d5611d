// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// deltactl inspects declared deltarpc protocols, computes deltas between
// values and talks to running servers.
//
// Usage:
//
//	deltactl describe  -c config.yaml
//	deltactl transpose -c config.yaml
//	deltactl diff      -c config.yaml --proc P [--phase request] [--base base.yaml] --target target.yaml
//	deltactl inspect   --url http://host:port [--phase request --direction client]
//	deltactl serve     -c config.yaml [--fixtures fixtures.yaml]
//	deltactl call      -c config.yaml --proc P [--arg arg.yaml]
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/luxfi/deltarpc/config"
)

type command struct {
	summary string
	run     func(ctx context.Context, env *env, args []string) error
}

var commands = map[string]command{
	"describe":  {"print the declared protocol and its fingerprint", runDescribe},
	"transpose": {"list wire slots per phase and sender", runTranspose},
	"diff":      {"encode the delta between two values of a procedure", runDiff},
	"inspect":   {"query the inspection endpoint of a running server", runInspect},
	"serve":     {"serve the declared protocol with fixed responses", runServe},
	"call":      {"call a procedure on a running server", runCall},
}

// env carries what every command writes to.
type env struct {
	stdout io.Writer
	stderr io.Writer
	log    zerolog.Logger
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printUsage(stderr)
		return nil
	}
	cmd, ok := commands[args[0]]
	if !ok {
		printUsage(stderr)
		return fmt.Errorf("unknown command %q", args[0])
	}
	e := &env{
		stdout: stdout,
		stderr: stderr,
		log:    zerolog.New(zerolog.ConsoleWriter{Out: stderr}).With().Timestamp().Logger().Level(zerolog.InfoLevel),
	}
	err := cmd.run(ctx, e, args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	return err
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: deltactl <command> [flags]")
	fmt.Fprintln(w)
	color.New(color.Bold).Fprintln(w, "Commands:")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-10s %s\n", name, commands[name].summary)
	}
}

// flagSet returns a flag set with the flags every command shares.
func (e *env) flagSet(name string) (*pflag.FlagSet, *globalFlags) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(e.stderr)
	g := &globalFlags{}
	fs.BoolVar(&g.noColor, "no-color", false, "disable colored output")
	fs.StringVar(&g.logLevel, "log-level", "", "override the configured log level")
	return fs, g
}

type globalFlags struct {
	noColor  bool
	logLevel string
}

// apply sets output options after parsing. cfg may be nil.
func (g *globalFlags) apply(e *env, cfg *config.Config) error {
	if g.noColor {
		color.NoColor = true
	}
	if cfg != nil {
		logging := cfg.Logging
		// console output is always readable on a terminal
		logging.Format = "console"
		e.log = logging.Logger(e.stderr)
	}
	if g.logLevel != "" {
		level, err := zerolog.ParseLevel(g.logLevel)
		if err != nil {
			return fmt.Errorf("--log-level: %w", err)
		}
		e.log = e.log.Level(level)
	}
	return nil
}

// loadConfig parses flags and loads the configuration named by -c.
func (e *env) loadConfig(fs *pflag.FlagSet, g *globalFlags, path *string, args []string) (*config.Config, error) {
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}
	if *path == "" {
		return nil, errors.New("a configuration file is required (-c)")
	}
	cfg, err := config.Load(*path)
	if err != nil {
		return nil, err
	}
	if err := g.apply(e, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
