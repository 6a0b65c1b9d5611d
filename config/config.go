// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config loads deltarpc settings and declarative protocols from YAML.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	rpc "github.com/luxfi/deltarpc"
	"github.com/luxfi/deltarpc/schema"
)

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Client   ClientConfig   `yaml:"client"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Protocol ProtocolConfig `yaml:"protocol"`
}

// ServerConfig configures a listening server.
type ServerConfig struct {
	Address              string        `yaml:"address"`
	Transport            string        `yaml:"transport"` // "tcp", "ws" or "grpc"
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	CompressionThreshold int           `yaml:"compression_threshold"` // 0 disables compression
	WebSocketPath        string        `yaml:"websocket_path,omitempty"`
	InspectAddress       string        `yaml:"inspect_address,omitempty"`
}

// ClientConfig configures a dialing client.
type ClientConfig struct {
	Address              string        `yaml:"address"`
	Transport            string        `yaml:"transport"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	CallTimeout          time.Duration `yaml:"call_timeout"`
	CompressionThreshold int           `yaml:"compression_threshold"`
	WebSocketPath        string        `yaml:"websocket_path,omitempty"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Address   string `yaml:"address"` // serves /metrics when set
}

// ProtocolConfig declares a protocol. Request and response schemas use the
// descriptor format produced by Schema.Describe.
type ProtocolConfig struct {
	Name   string            `yaml:"name"`
	Client []ProcedureConfig `yaml:"client"`
	Server []ProcedureConfig `yaml:"server"`
}

type ProcedureConfig struct {
	Name     string            `yaml:"name"`
	Request  schema.Descriptor `yaml:"request"`
	Response schema.Descriptor `yaml:"response"`
}

// Load reads configuration from a YAML file. Environment variables in the
// file are expanded and DELTARPC_* variables override file values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse is Load for configuration already in memory.
func Parse(data []byte) (*Config, error) {
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DELTARPC_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("DELTARPC_SERVER_TRANSPORT"); v != "" {
		cfg.Server.Transport = v
	}
	if v := os.Getenv("DELTARPC_SERVER_HANDSHAKE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.HandshakeTimeout = d
		}
	}
	if v := os.Getenv("DELTARPC_SERVER_COMPRESSION_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.CompressionThreshold = n
		}
	}
	if v := os.Getenv("DELTARPC_SERVER_INSPECT_ADDRESS"); v != "" {
		cfg.Server.InspectAddress = v
	}

	if v := os.Getenv("DELTARPC_CLIENT_ADDRESS"); v != "" {
		cfg.Client.Address = v
	}
	if v := os.Getenv("DELTARPC_CLIENT_TRANSPORT"); v != "" {
		cfg.Client.Transport = v
	}
	if v := os.Getenv("DELTARPC_CLIENT_CALL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Client.CallTimeout = d
		}
	}

	if v := os.Getenv("DELTARPC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DELTARPC_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("DELTARPC_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("DELTARPC_METRICS_ADDRESS"); v != "" {
		cfg.Metrics.Address = v
	}
}

func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = "127.0.0.1:9650"
	}
	if cfg.Server.Transport == "" {
		cfg.Server.Transport = rpc.DefaultTransport
	}
	if cfg.Server.HandshakeTimeout == 0 {
		cfg.Server.HandshakeTimeout = 10 * time.Second
	}
	if cfg.Server.WebSocketPath == "" {
		cfg.Server.WebSocketPath = rpc.DefaultWebSocketPath
	}

	if cfg.Client.Address == "" {
		cfg.Client.Address = cfg.Server.Address
	}
	if cfg.Client.Transport == "" {
		cfg.Client.Transport = cfg.Server.Transport
	}
	if cfg.Client.HandshakeTimeout == 0 {
		cfg.Client.HandshakeTimeout = cfg.Server.HandshakeTimeout
	}
	if cfg.Client.CallTimeout == 0 {
		cfg.Client.CallTimeout = 30 * time.Second
	}
	if cfg.Client.WebSocketPath == "" {
		cfg.Client.WebSocketPath = cfg.Server.WebSocketPath
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "deltarpc"
	}
}

func validate(cfg *Config) error {
	if !rpc.HasTransport(cfg.Server.Transport) {
		return fmt.Errorf("server.transport must be one of %v, got %q", rpc.AvailableTransports(), cfg.Server.Transport)
	}
	if !rpc.HasTransport(cfg.Client.Transport) {
		return fmt.Errorf("client.transport must be one of %v, got %q", rpc.AvailableTransports(), cfg.Client.Transport)
	}
	if cfg.Server.CompressionThreshold < 0 || cfg.Client.CompressionThreshold < 0 {
		return fmt.Errorf("compression_threshold must not be negative")
	}
	if cfg.Server.HandshakeTimeout < 0 || cfg.Client.HandshakeTimeout < 0 || cfg.Client.CallTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}

	if _, err := zerolog.ParseLevel(cfg.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[cfg.Logging.Format] {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", cfg.Logging.Format)
	}

	if cfg.Metrics.Address != "" && !cfg.Metrics.Enabled {
		return fmt.Errorf("metrics.address is set but metrics are disabled")
	}

	if _, err := cfg.Transpose(); err != nil {
		return fmt.Errorf("protocol: %w", err)
	}
	return nil
}

// Logger builds the logger described by the logging section.
func (c LoggingConfig) Logger(w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(c.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if c.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// Options returns the server settings as rpc options.
func (c ServerConfig) Options() []rpc.Option {
	opts := []rpc.Option{
		rpc.WithTransport(c.Transport),
		rpc.WithHandshakeTimeout(c.HandshakeTimeout),
		rpc.WithCompressionThreshold(c.CompressionThreshold),
		rpc.WithWebSocketPath(c.WebSocketPath),
	}
	if c.InspectAddress != "" {
		opts = append(opts, rpc.WithInspectAddress(c.InspectAddress))
	}
	return opts
}

// Options returns the client settings as rpc options.
func (c ClientConfig) Options() []rpc.Option {
	return []rpc.Option{
		rpc.WithTransport(c.Transport),
		rpc.WithHandshakeTimeout(c.HandshakeTimeout),
		rpc.WithCompressionThreshold(c.CompressionThreshold),
		rpc.WithWebSocketPath(c.WebSocketPath),
	}
}

// Transpose builds and transposes the declared protocol.
func (c *Config) Transpose() (*rpc.TransposedProtocol, error) {
	p, err := BuildProtocol(c.Protocol)
	if err != nil {
		return nil, err
	}
	return rpc.Transpose(p)
}
