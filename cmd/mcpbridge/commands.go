// Copyright 2026 Axon Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/axonlabs/mcpbridge/pkg/bridge"
	"github.com/axonlabs/mcpbridge/pkg/dispatcher"
	"github.com/axonlabs/mcpbridge/pkg/instruction"
)

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run(cli *CLI) error {
	fmt.Printf("mcpbridge version %s\n", bridge.Version)
	return nil
}

// RunCmd starts the bridge and keeps eager backends connected until
// interrupted.
type RunCmd struct {
	MetricsAddr string `name:"metrics-addr" help:"Override the metrics listen address."`
}

func (c *RunCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()

	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}

	var opts []bridge.Option
	if cfg.Metrics.Enabled {
		opts = append(opts, bridge.WithMetricsRegisterer(prometheus.DefaultRegisterer))
	}

	br, err := bridge.New(cfg, opts...)
	if err != nil {
		return fmt.Errorf("failed to create bridge: %w", err)
	}
	defer func() {
		if err := br.Shutdown(context.Background()); err != nil {
			slog.Warn("shutdown error", "error", err)
		}
	}()

	if err := br.ConnectEager(ctx); err != nil {
		return fmt.Errorf("eager connect failed: %w", err)
	}

	if cfg.Metrics.Enabled {
		addr := cfg.Metrics.Addr
		if c.MetricsAddr != "" {
			addr = c.MetricsAddr
		}
		go serveMetrics(addr)
	}

	slog.Info("bridge running", "backends", len(cfg.Backends))
	<-ctx.Done()
	return nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	slog.Info("metrics endpoint listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("metrics endpoint failed", "error", err)
	}
}

// ToolsCmd connects each backend (or one) and prints its catalog.
type ToolsCmd struct {
	Backend string `help:"Limit to a single backend."`
}

func (c *ToolsCmd) Run(cli *CLI) error {
	ctx := context.Background()

	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}

	br, err := bridge.New(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = br.Shutdown(context.Background()) }()

	names := make([]string, 0, len(cfg.Backends))
	if c.Backend != "" {
		names = append(names, c.Backend)
	} else {
		for name := range cfg.Backends {
			names = append(names, name)
		}
	}

	for _, name := range names {
		if err := br.Connect(ctx, name); err != nil {
			fmt.Printf("%s: unavailable (%v)\n", name, err)
			continue
		}
		tools := br.Registry().Tools(name)
		fmt.Printf("%s: %d tool(s)\n", name, len(tools))
		for _, tool := range tools {
			fmt.Printf("  %s  %s\n", tool.Name, tool.Description)
		}
	}

	return nil
}

// CallCmd dispatches one tool call and prints the shaped result.
type CallCmd struct {
	Target string `required:"" help:"Backend name or alias."`
	Tool   string `required:"" help:"Tool name."`
	Params string `help:"Tool parameters as a JSON object." default:"{}"`
}

func (c *CallCmd) Run(cli *CLI) error {
	ctx := context.Background()

	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}

	var params map[string]interface{}
	if err := json.Unmarshal([]byte(c.Params), &params); err != nil {
		return fmt.Errorf("invalid --params: %w", err)
	}

	br, err := bridge.New(cfg, bridge.WithHooks(dispatcher.Hooks{
		OnToolStart: func(backend, tool string) {
			fmt.Printf("calling %s/%s...\n", backend, tool)
		},
	}))
	if err != nil {
		return err
	}
	defer func() { _ = br.Shutdown(context.Background()) }()

	result := br.Dispatch(ctx, &instruction.Instruction{
		Target: c.Target,
		Tool:   c.Tool,
		Params: params,
	})
	if result == nil {
		return fmt.Errorf("instruction was discarded as invalid")
	}

	if !result.Success {
		fmt.Printf("FAILED (%s): %s\n", result.Kind, result.Error)
		os.Exit(1)
	}

	fmt.Println(result.Summary)
	for _, entry := range result.Entries {
		fmt.Printf("  %s\n", entry)
	}
	fmt.Printf("elapsed: %v\n", result.Elapsed)
	return nil
}

// ValidateCmd validates the configuration file.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}
	fmt.Printf("configuration is valid: %d backend(s)\n", len(cfg.Backends))
	return nil
}
