// Package dispatcher validates extracted instructions, routes them to the
// right backend, and shapes outcomes for the chat layer. It is the last line
// of defense: no failure from any stage of resolution or invocation escapes
// as anything but a ToolResult.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/axonlabs/mcpbridge/pkg/instruction"
	"github.com/axonlabs/mcpbridge/pkg/jsonrpc"
	"github.com/axonlabs/mcpbridge/pkg/metrics"
	"github.com/axonlabs/mcpbridge/pkg/registry"
	"github.com/axonlabs/mcpbridge/pkg/supervisor"
	"github.com/axonlabs/mcpbridge/pkg/transport"
)

// Error kinds surfaced in ToolResult for failed dispatches.
const (
	KindSpawnError     = "spawn_error"
	KindConnectTimeout = "connect_timeout"
	KindRequestTimeout = "request_timeout"
	KindPeerClosed     = "peer_closed"
	KindRPCError       = "rpc_error"
	KindMaxAttempts    = "max_attempts"
	KindUnknownBackend = "unknown_backend"
	KindUnknownTool    = "unknown_tool"
	KindError          = "error"
)

// ToolResult is the outcome of one dispatched instruction. It is ephemeral;
// persistence belongs to the chat layer.
type ToolResult struct {
	Success bool          `json:"success"`
	Backend string        `json:"backend"`
	Tool    string        `json:"tool"`
	Summary string        `json:"summary,omitempty"`
	Entries []string      `json:"entries,omitempty"`
	Error   string        `json:"error,omitempty"`
	Kind    string        `json:"kind,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// Backend is the surface the dispatcher needs from a supervised connection.
type Backend interface {
	Connect(ctx context.Context) error
	Call(ctx context.Context, tool string, args map[string]interface{}) (json.RawMessage, error)
	State() supervisor.State
}

// BackendResolver maps a canonical backend name to its connection.
type BackendResolver func(name string) (Backend, bool)

// Hooks let the chat layer render progress and outcome messages.
type Hooks struct {
	OnToolStart  func(backend, tool string)
	OnToolResult func(backend, tool string, result ToolResult)
}

// Dispatcher routes instructions to backends.
type Dispatcher struct {
	resolve  BackendResolver
	registry *registry.ToolRegistry
	hooks    Hooks
	metrics  *metrics.Metrics
}

func New(resolve BackendResolver, reg *registry.ToolRegistry, hooks Hooks, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		resolve:  resolve,
		registry: reg,
		hooks:    hooks,
		metrics:  m,
	}
}

// Dispatch executes one instruction. A nil or incomplete instruction returns
// nil, which callers treat as "pass the original response through". All
// other failures come back as a ToolResult with Success false.
func (d *Dispatcher) Dispatch(ctx context.Context, instr *instruction.Instruction) (result *ToolResult) {
	if !instr.Executable() {
		if instr != nil {
			slog.Debug("discarding incomplete instruction",
				"target", instr.Target,
				"tool", instr.Tool,
			)
		}
		return nil
	}

	target := registry.CanonicalBackend(instr.Target)
	tool := instr.Tool
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic during dispatch", "backend", target, "tool", tool, "panic", r)
			result = d.failure(target, tool, start, KindError, fmt.Errorf("internal error: %v", r))
		}
		if result != nil {
			d.metrics.Observe(target, tool, result.Success, result.Elapsed)
			if d.hooks.OnToolResult != nil {
				d.hooks.OnToolResult(target, tool, *result)
			}
		}
	}()

	if d.hooks.OnToolStart != nil {
		d.hooks.OnToolStart(target, tool)
	}

	backend, ok := d.resolve(target)
	if !ok {
		return d.failure(target, tool, start, KindUnknownBackend,
			fmt.Errorf("unknown backend %q", target))
	}

	// Advisory: a stale or missing catalog never blocks the call.
	if err := d.registry.ValidateParams(target, tool, instr.Params); err != nil {
		slog.Warn("instruction params do not match catalog schema",
			"backend", target,
			"tool", tool,
			"error", err,
		)
	}

	// Lazy connect on first real need.
	if backend.State() != supervisor.StateReady {
		if err := backend.Connect(ctx); err != nil {
			return d.failure(target, tool, start, classify(err), err)
		}
	}

	raw, err := backend.Call(ctx, tool, instr.Params)
	if err != nil {
		return d.failure(target, tool, start, classify(err), err)
	}

	payload := jsonrpc.DecodePayload(raw)
	summary, entries := Shape(payload)

	return &ToolResult{
		Success: true,
		Backend: target,
		Tool:    tool,
		Summary: summary,
		Entries: entries,
		Elapsed: time.Since(start),
	}
}

func (d *Dispatcher) failure(backend, tool string, start time.Time, kind string, err error) *ToolResult {
	slog.Warn("tool dispatch failed",
		"backend", backend,
		"tool", tool,
		"kind", kind,
		"error", err,
	)
	return &ToolResult{
		Success: false,
		Backend: backend,
		Tool:    tool,
		Error:   fmt.Sprintf("%s/%s: %v", backend, tool, err),
		Kind:    kind,
		Elapsed: time.Since(start),
	}
}

// classify maps an error to its user-facing kind.
func classify(err error) string {
	var spawnErr *transport.SpawnError
	if errors.As(err, &spawnErr) {
		return KindSpawnError
	}
	var connectTimeout *supervisor.ConnectTimeoutError
	if errors.As(err, &connectTimeout) {
		return KindConnectTimeout
	}
	var maxAttempts *supervisor.MaxAttemptsError
	if errors.As(err, &maxAttempts) {
		return KindMaxAttempts
	}
	var requestTimeout *jsonrpc.RequestTimeoutError
	if errors.As(err, &requestTimeout) {
		return KindRequestTimeout
	}
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		return KindRPCError
	}
	var notFound *registry.NotFoundError
	if errors.As(err, &notFound) {
		if notFound.Tool != "" {
			return KindUnknownTool
		}
		return KindUnknownBackend
	}
	if errors.Is(err, transport.ErrPeerClosed) {
		return KindPeerClosed
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindRequestTimeout
	}
	return KindError
}
