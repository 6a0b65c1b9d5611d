// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"
)

func runDescribe(_ context.Context, e *env, args []string) error {
	fs, g := e.flagSet("describe")
	configPath := fs.StringP("config", "c", "", "configuration file")
	asJSON := fs.Bool("json", false, "print the descriptor as JSON")

	cfg, err := e.loadConfig(fs, g, configPath, args)
	if err != nil {
		return err
	}
	proto, err := cfg.Transpose()
	if err != nil {
		return err
	}
	fp := proto.Fingerprint()
	d := proto.Describe()

	if *asJSON {
		out, err := json.MarshalIndent(struct {
			Protocol    any    `json:"protocol"`
			Fingerprint string `json:"fingerprint"`
		}{d, hex.EncodeToString(fp[:])}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(e.stdout, string(out))
		return nil
	}

	bold := color.New(color.Bold)
	bold.Fprintf(e.stdout, "Protocol %q\n", d.Name)
	fmt.Fprintf(e.stdout, "fingerprint: %s\n", hex.EncodeToString(fp[:]))
	fmt.Fprintf(e.stdout, "procedures: %d client, %d server\n\n", len(d.Client), len(d.Server))

	// the YAML form is accepted back as the protocol section of a config
	out, err := yaml.Marshal(d)
	if err != nil {
		return err
	}
	fmt.Fprint(e.stdout, string(out))
	return nil
}

func runTranspose(_ context.Context, e *env, args []string) error {
	fs, g := e.flagSet("transpose")
	configPath := fs.StringP("config", "c", "", "configuration file")

	cfg, err := e.loadConfig(fs, g, configPath, args)
	if err != nil {
		return err
	}
	proto, err := cfg.Transpose()
	if err != nil {
		return err
	}

	bold := color.New(color.Bold)
	slot := color.New(color.FgCyan)
	for _, phase := range []string{"request", "response"} {
		for _, direction := range []string{"client", "server"} {
			table, err := proto.Wire(phase, direction)
			if err != nil {
				return err
			}
			bold.Fprintf(e.stdout, "%s %s from %s:\n", phaseName(proto.Name, phase), phase, direction)
			if table.Len() == 0 {
				fmt.Fprintln(e.stdout, "  (none)")
				continue
			}
			for i, name := range table.Names() {
				slot.Fprintf(e.stdout, "  %5d", i)
				fmt.Fprintf(e.stdout, "  %s\n", name)
			}
		}
	}
	return nil
}

func phaseName(name, phase string) string {
	if name == "" {
		return "(unnamed)"
	}
	if phase == "request" {
		return name + "Request"
	}
	return name + "Response"
}
