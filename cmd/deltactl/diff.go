// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	rpc "github.com/luxfi/deltarpc"
	"github.com/luxfi/deltarpc/config"
	"github.com/luxfi/deltarpc/schema"
)

func runDiff(_ context.Context, e *env, args []string) error {
	fs, g := e.flagSet("diff")
	configPath := fs.StringP("config", "c", "", "configuration file")
	proc := fs.String("proc", "", "procedure name")
	phase := fs.String("phase", "request", `"request" or "response"`)
	side := fs.String("side", "", `declaring side, "client" or "server" (default: whichever declares --proc)`)
	basePath := fs.String("base", "", "YAML base value (default: the schema identity)")
	targetPath := fs.String("target", "", "YAML target value")

	cfg, err := e.loadConfig(fs, g, configPath, args)
	if err != nil {
		return err
	}
	if *proc == "" || *targetPath == "" {
		return errors.New("--proc and --target are required")
	}
	proto, err := cfg.Transpose()
	if err != nil {
		return err
	}
	s, err := procedureSchema(proto.Source(), *proc, *side, *phase)
	if err != nil {
		return err
	}

	base := s.Identity()
	if *basePath != "" {
		if base, err = config.LoadValue(*basePath, s); err != nil {
			return fmt.Errorf("base: %w", err)
		}
	}
	target, err := config.LoadValue(*targetPath, s)
	if err != nil {
		return fmt.Errorf("target: %w", err)
	}

	delta, err := schema.Delta(s, base, target)
	if err != nil {
		return err
	}
	e.log.Debug().Str("proc", *proc).Str("phase", *phase).Int("bytes", len(delta)).Msg("delta encoded")

	fmt.Fprintf(e.stdout, "%d bytes\n", len(delta))
	if len(delta) > 0 {
		fmt.Fprintln(e.stdout, hex.EncodeToString(delta))
	}

	patched, err := schema.Apply(s, base, delta)
	if err != nil {
		return fmt.Errorf("patch: %w", err)
	}
	if !cmp.Equal(target, patched, cmpopts.EquateEmpty(), cmpopts.EquateNaNs()) {
		return fmt.Errorf("patch produced %v, want %v", patched, target)
	}
	color.New(color.FgGreen).Fprintln(e.stdout, "patch verified")
	return nil
}

// procedureSchema finds the request or response schema of proc. An empty
// side searches client procedures first.
func procedureSchema(p rpc.ProtocolSchema, proc, side, phase string) (schema.Schema, error) {
	var tables []rpc.Table
	switch side {
	case "":
		tables = []rpc.Table{p.Client, p.Server}
	case "client":
		tables = []rpc.Table{p.Client}
	case "server":
		tables = []rpc.Table{p.Server}
	default:
		return nil, fmt.Errorf("unknown side %q", side)
	}
	for _, table := range tables {
		for _, candidate := range table {
			if candidate.Name != proc {
				continue
			}
			switch phase {
			case "request":
				return candidate.Request, nil
			case "response":
				return candidate.Response, nil
			default:
				return nil, fmt.Errorf("unknown phase %q", phase)
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", rpc.ErrUnknownProcedure, proc)
}
