// Package bridge wires backends, supervisors, the tool registry, and the
// dispatcher into one explicitly owned object. The bridge is constructed
// once at process start and torn down at shutdown; there are no ambient
// singletons.
package bridge

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/axonlabs/mcpbridge/pkg/config"
	"github.com/axonlabs/mcpbridge/pkg/dispatcher"
	"github.com/axonlabs/mcpbridge/pkg/instruction"
	"github.com/axonlabs/mcpbridge/pkg/jsonrpc"
	"github.com/axonlabs/mcpbridge/pkg/metrics"
	"github.com/axonlabs/mcpbridge/pkg/registry"
	"github.com/axonlabs/mcpbridge/pkg/supervisor"
	"github.com/axonlabs/mcpbridge/pkg/transport"
)

// Version identifies the bridge to backends during the initialize handshake.
const Version = "0.3.0"

// Option configures a Bridge.
type Option func(*Bridge)

// WithHooks sets the chat-layer callbacks for dispatch progress.
func WithHooks(hooks dispatcher.Hooks) Option {
	return func(b *Bridge) {
		b.hooks = hooks
	}
}

// WithMetricsRegisterer enables prometheus collectors on reg.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(b *Bridge) {
		b.metrics = metrics.New(reg)
	}
}

// Bridge owns one supervisor per configured backend.
type Bridge struct {
	cfg         *config.Config
	registry    *registry.ToolRegistry
	supervisors map[string]*supervisor.Supervisor
	dispatcher  *dispatcher.Dispatcher
	hooks       dispatcher.Hooks
	metrics     *metrics.Metrics
}

// New builds a bridge from a processed configuration.
func New(cfg *config.Config, opts ...Option) (*Bridge, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	b := &Bridge{
		cfg:         cfg,
		registry:    registry.NewToolRegistry(),
		supervisors: make(map[string]*supervisor.Supervisor, len(cfg.Backends)),
	}

	for _, opt := range opts {
		opt(b)
	}

	info := jsonrpc.ClientInfo{Name: "mcpbridge", Version: Version}

	for name, backendCfg := range cfg.Backends {
		canonical := registry.CanonicalBackend(name)
		factory, err := peerFactory(backendCfg)
		if err != nil {
			return nil, fmt.Errorf("backend %q: %w", name, err)
		}
		b.supervisors[canonical] = supervisor.New(backendCfg, factory, b.registry.Update, info)
	}

	b.dispatcher = dispatcher.New(b.resolveBackend, b.registry, b.hooks, b.metrics)
	return b, nil
}

func peerFactory(cfg *config.BackendConfig) (supervisor.PeerFactory, error) {
	switch cfg.Transport {
	case config.TransportStdio:
		return func() transport.Peer {
			return transport.NewStdioPeer(transport.StdioConfig{
				Backend:     cfg.Name,
				Command:     cfg.Command,
				Args:        cfg.Args,
				Env:         cfg.Env,
				ReadyMarker: cfg.ReadyMarker,
			})
		}, nil
	case config.TransportHTTP:
		return func() transport.Peer {
			return transport.NewHTTPPeer(transport.HTTPConfig{
				Backend:    cfg.Name,
				BaseURL:    cfg.URL,
				MaxRetries: cfg.MaxHTTPRetries,
			})
		}, nil
	default:
		return nil, fmt.Errorf("unsupported transport %q", cfg.Transport)
	}
}

func (b *Bridge) resolveBackend(name string) (dispatcher.Backend, bool) {
	sup, ok := b.supervisors[name]
	return sup, ok
}

// Supervisor returns the supervisor for a backend name or alias.
func (b *Bridge) Supervisor(name string) (*supervisor.Supervisor, bool) {
	sup, ok := b.supervisors[registry.CanonicalBackend(name)]
	return sup, ok
}

// Registry returns the tool registry.
func (b *Bridge) Registry() *registry.ToolRegistry {
	return b.registry
}

// Dispatch executes one instruction; see dispatcher.Dispatch.
func (b *Bridge) Dispatch(ctx context.Context, instr *instruction.Instruction) *dispatcher.ToolResult {
	return b.dispatcher.Dispatch(ctx, instr)
}

// Process handles a complete model response: extract a directive, strip it
// from the visible text, and dispatch it. When no directive is present the
// original text passes through unchanged with a nil result.
func (b *Bridge) Process(ctx context.Context, resp instruction.ModelResponse) (string, *dispatcher.ToolResult) {
	instr, ok := instruction.Extract(resp)
	if !ok {
		return resp.Text, nil
	}
	return instruction.Clean(resp.Text), b.Dispatch(ctx, instr)
}

// ConnectEager connects all backends marked eager, in parallel. Lazy
// backends connect on first dispatch instead.
func (b *Bridge) ConnectEager(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for name, backendCfg := range b.cfg.Backends {
		if !backendCfg.Eager {
			continue
		}
		sup, ok := b.Supervisor(name)
		if !ok {
			continue
		}
		g.Go(func() error {
			if err := sup.Connect(ctx); err != nil {
				return fmt.Errorf("backend %q: %w", sup.Backend(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Connect brings one backend to Ready, lazily creating its connection.
func (b *Bridge) Connect(ctx context.Context, name string) error {
	sup, ok := b.Supervisor(name)
	if !ok {
		return fmt.Errorf("unknown backend %q", name)
	}
	return sup.Connect(ctx)
}

// RefreshCatalog re-queries one backend's tool list.
func (b *Bridge) RefreshCatalog(ctx context.Context, name string) error {
	sup, ok := b.Supervisor(name)
	if !ok {
		return fmt.Errorf("unknown backend %q", name)
	}
	return sup.RefreshCatalog(ctx)
}

// Shutdown stops every supervisor. Pending requests fail before transports
// are dismantled, so no caller is left waiting across exit.
func (b *Bridge) Shutdown(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, sup := range b.supervisors {
		g.Go(func() error {
			return sup.Stop(ctx)
		})
	}
	return g.Wait()
}
