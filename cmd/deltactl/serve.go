// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	rpc "github.com/luxfi/deltarpc"
	"github.com/luxfi/deltarpc/config"
)

func runServe(ctx context.Context, e *env, args []string) error {
	fs, g := e.flagSet("serve")
	configPath := fs.StringP("config", "c", "", "configuration file")
	fixturesPath := fs.String("fixtures", "", "YAML mapping from client procedure to its fixed response")

	cfg, err := e.loadConfig(fs, g, configPath, args)
	if err != nil {
		return err
	}
	proto, err := cfg.Transpose()
	if err != nil {
		return err
	}

	opts := append(cfg.Server.Options(), rpc.WithLogger(e.log))
	var reg *prometheus.Registry
	if cfg.Metrics.Enabled {
		reg = prometheus.NewRegistry()
		m, err := rpc.NewMetrics(cfg.Metrics.Namespace, reg)
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		opts = append(opts, rpc.WithMetrics(m))
	}

	if *fixturesPath != "" {
		handlers, err := loadFixtures(*fixturesPath, proto)
		if err != nil {
			return err
		}
		for proc, h := range handlers {
			opts = append(opts, rpc.WithHandler(proc, h))
		}
	}

	server, err := rpc.Listen(cfg.Server.Address, proto, opts...)
	if err != nil {
		return err
	}
	e.log.Info().
		Str("addr", server.Addr()).
		Str("transport", cfg.Server.Transport).
		Str("protocol", proto.Name).
		Msg("serving")

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return server.Serve(ctx) })
	if reg != nil && cfg.Metrics.Address != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.Metrics.Address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		group.Go(func() error {
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics: %w", err)
			}
			return nil
		})
		group.Go(func() error {
			<-ctx.Done()
			return srv.Close()
		})
	}
	return group.Wait()
}

// loadFixtures builds handlers answering each listed client procedure with
// a fixed response.
func loadFixtures(path string, proto *rpc.TransposedProtocol) (map[string]rpc.Handler, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse fixtures: %w", err)
	}

	handlers := make(map[string]rpc.Handler, len(raw))
	for proc, doc := range raw {
		s, err := procedureSchema(proto.Source(), proc, "client", "response")
		if err != nil {
			return nil, fmt.Errorf("fixtures: %w", err)
		}
		v, err := config.Value(s, doc)
		if err != nil {
			return nil, fmt.Errorf("fixture %s: %w", proc, err)
		}
		handlers[proc] = func(context.Context, any) (any, error) {
			return s.Clone(v), nil
		}
	}
	return handlers, nil
}
