// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	rpc "github.com/luxfi/deltarpc"
	"github.com/luxfi/deltarpc/config"
)

func runCall(ctx context.Context, e *env, args []string) error {
	fs, g := e.flagSet("call")
	configPath := fs.StringP("config", "c", "", "configuration file")
	proc := fs.String("proc", "", "client procedure to call")
	argPath := fs.String("arg", "", "YAML argument (default: the request identity)")
	addr := fs.String("addr", "", "server address (default: client.address)")

	cfg, err := e.loadConfig(fs, g, configPath, args)
	if err != nil {
		return err
	}
	if *proc == "" {
		return errors.New("--proc is required")
	}
	proto, err := cfg.Transpose()
	if err != nil {
		return err
	}
	req, err := procedureSchema(proto.Source(), *proc, "client", "request")
	if err != nil {
		return err
	}
	res, _ := procedureSchema(proto.Source(), *proc, "client", "response")

	arg := req.Identity()
	if *argPath != "" {
		if arg, err = config.LoadValue(*argPath, req); err != nil {
			return fmt.Errorf("arg: %w", err)
		}
	}

	target := cfg.Client.Address
	if *addr != "" {
		target = *addr
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.Client.CallTimeout)
	defer cancel()

	peer, err := rpc.Dial(ctx, target, proto, append(cfg.Client.Options(), rpc.WithLogger(e.log))...)
	if err != nil {
		return err
	}
	defer peer.Close()

	reply, err := peer.Call(ctx, *proc, arg)
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(config.Plain(res, reply))
	if err != nil {
		return err
	}
	fmt.Fprint(e.stdout, string(out))
	return nil
}
