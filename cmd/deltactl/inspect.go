// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"

	rpc "github.com/luxfi/deltarpc"
)

func runInspect(ctx context.Context, e *env, args []string) error {
	fs, g := e.flagSet("inspect")
	endpoint := fs.String("url", "", "inspection endpoint, e.g. http://127.0.0.1:9651")
	phase := fs.String("phase", "", `list slots of one phase, "request" or "response"`)
	direction := fs.String("direction", "client", `sender whose slots to list, "client" or "server"`)
	timeout := fs.Duration("timeout", 10*time.Second, "request timeout")
	headers := fs.StringToString("header", nil, "extra HTTP headers, key=value")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := g.apply(e, nil); err != nil {
		return err
	}
	if *endpoint == "" {
		return errors.New("--url is required")
	}

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	opts := []rpc.RequestOption{rpc.WithRequestLogger(e.log)}
	for k, v := range *headers {
		opts = append(opts, rpc.WithHeader(k, v))
	}

	bold := color.New(color.Bold)
	if *phase != "" {
		reply, err := rpc.InspectSlots(ctx, *endpoint, *phase, *direction, opts...)
		if err != nil {
			return err
		}
		bold.Fprintf(e.stdout, "%s %s from %s:\n", reply.Name, *phase, *direction)
		for i, name := range reply.Procedures {
			fmt.Fprintf(e.stdout, "  %5d  %s\n", i, name)
		}
		return nil
	}

	reply, err := rpc.Inspect(ctx, *endpoint, opts...)
	if err != nil {
		return err
	}
	bold.Fprintf(e.stdout, "Protocol %q\n", reply.Protocol.Name)
	fmt.Fprintf(e.stdout, "fingerprint: %s\n", reply.Fingerprint)
	for _, side := range []struct {
		name  string
		procs []rpc.ProcedureDescriptor
	}{
		{"client", reply.Protocol.Client},
		{"server", reply.Protocol.Server},
	} {
		bold.Fprintf(e.stdout, "%s procedures:\n", side.name)
		for i, p := range side.procs {
			fmt.Fprintf(e.stdout, "  %5d  %s(%s) %s\n", i, p.Name, p.Request.Type, p.Response.Type)
		}
	}
	return nil
}
