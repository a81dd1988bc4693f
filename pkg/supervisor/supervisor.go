// Package supervisor drives a backend connection through its state machine:
// Disconnected -> Connecting -> Initializing -> Ready, with bounded
// reconnection and an absorbing Failed state once the retry budget is
// exhausted.
package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/axonlabs/mcpbridge/pkg/config"
	"github.com/axonlabs/mcpbridge/pkg/jsonrpc"
	"github.com/axonlabs/mcpbridge/pkg/transport"
)

// State is the connection state of a backend.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateInitializing
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ConnectTimeoutError is returned when a backend produces neither a
// readiness signal nor a handshake response within the connection timeout.
type ConnectTimeoutError struct {
	Backend string
	Timeout time.Duration
}

func (e *ConnectTimeoutError) Error() string {
	return fmt.Sprintf("backend %q did not become ready within %v", e.Backend, e.Timeout)
}

// MaxAttemptsError is returned once the reconnect budget is exhausted.
// The supervisor stays Failed until ResetAttempts or Stop.
type MaxAttemptsError struct {
	Backend  string
	Attempts int
}

func (e *MaxAttemptsError) Error() string {
	return fmt.Sprintf("backend %q failed after %d connect attempts", e.Backend, e.Attempts)
}

// PeerFactory builds a fresh transport peer for each connection attempt.
type PeerFactory func() transport.Peer

// CatalogFunc receives the backend's tool catalog after a successful
// handshake.
type CatalogFunc func(backend string, tools []jsonrpc.ToolDescriptor)

// readyWaiter is implemented by peers that signal readiness out of band
// (the stdio peer's stderr marker).
type readyWaiter interface {
	WaitReady(ctx context.Context) error
}

type attempt struct {
	done chan struct{}
	err  error
}

// Supervisor owns the single live connection for one backend. Senders always
// observe either a fully live or fully absent peer.
type Supervisor struct {
	cfg       *config.BackendConfig
	newPeer   PeerFactory
	onCatalog CatalogFunc
	info      jsonrpc.ClientInfo

	mu       sync.Mutex
	state    State
	peer     transport.Peer
	inflight *attempt
	attempts int
	lastErr  error
}

// New creates a supervisor for one backend. onCatalog may be nil.
func New(cfg *config.BackendConfig, newPeer PeerFactory, onCatalog CatalogFunc, info jsonrpc.ClientInfo) *Supervisor {
	return &Supervisor{
		cfg:       cfg,
		newPeer:   newPeer,
		onCatalog: onCatalog,
		info:      info,
	}
}

// Backend returns the supervised backend's name.
func (s *Supervisor) Backend() string { return s.cfg.Name }

// State returns the current connection state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError returns the most recent connection failure, if any.
func (s *Supervisor) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Connect drives the backend to Ready. It is idempotent: concurrent calls
// while a connection attempt is in flight wait on that attempt, and calls on
// a Ready supervisor return immediately. Once the attempt budget is spent,
// Connect fails fast with *MaxAttemptsError until ResetAttempts.
func (s *Supervisor) Connect(ctx context.Context) error {
	s.mu.Lock()

	switch s.state {
	case StateReady:
		s.mu.Unlock()
		return nil

	case StateFailed:
		err := &MaxAttemptsError{Backend: s.cfg.Name, Attempts: s.attempts}
		s.mu.Unlock()
		return err

	case StateConnecting, StateInitializing:
		att := s.inflight
		s.mu.Unlock()
		select {
		case <-att.done:
			return att.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// Disconnected: start a new attempt, if budget remains.
	if s.attempts >= s.cfg.MaxConnectAttempts {
		s.state = StateFailed
		err := &MaxAttemptsError{Backend: s.cfg.Name, Attempts: s.attempts}
		s.lastErr = err
		s.mu.Unlock()
		return err
	}

	s.attempts++
	att := &attempt{done: make(chan struct{})}
	s.inflight = att
	s.setStateLocked(StateConnecting)
	s.mu.Unlock()

	err := s.runAttempt(ctx)

	s.mu.Lock()
	s.inflight = nil
	att.err = err
	if err != nil {
		s.lastErr = err
		if s.attempts >= s.cfg.MaxConnectAttempts {
			s.setStateLocked(StateFailed)
		} else {
			s.setStateLocked(StateDisconnected)
		}
	}
	s.mu.Unlock()
	close(att.done)

	return err
}

// runAttempt spawns a peer and performs the readiness wait plus the
// initialize/tools-list handshake. The whole sequence is bounded by the
// backend's connect timeout, independent of the triggering caller.
func (s *Supervisor) runAttempt(ctx context.Context) error {
	connectCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ConnectTimeout)
	defer cancel()

	peer := s.newPeer()

	if err := peer.Start(connectCtx); err != nil {
		return err
	}

	if waiter, ok := peer.(readyWaiter); ok {
		if err := waiter.WaitReady(connectCtx); err != nil {
			_ = peer.Stop(context.Background())
			if connectCtx.Err() != nil {
				return &ConnectTimeoutError{Backend: s.cfg.Name, Timeout: s.cfg.ConnectTimeout}
			}
			return err
		}
	}

	s.mu.Lock()
	s.setStateLocked(StateInitializing)
	s.mu.Unlock()

	params := jsonrpc.InitializeParams{
		ProtocolVersion: "2024-11-05",
		ClientInfo:      s.info,
		Capabilities:    map[string]any{},
	}
	if _, err := peer.Send(connectCtx, jsonrpc.MethodInitialize, params, s.cfg.HandshakeTimeout); err != nil {
		_ = peer.Stop(context.Background())
		if connectCtx.Err() != nil {
			return &ConnectTimeoutError{Backend: s.cfg.Name, Timeout: s.cfg.ConnectTimeout}
		}
		return fmt.Errorf("initialize failed: %w", err)
	}

	s.mu.Lock()
	s.peer = peer
	s.setStateLocked(StateReady)
	s.mu.Unlock()

	go s.watchPeer(peer)

	// Catalog population is advisory; a failure leaves the backend usable.
	if err := s.refreshCatalog(connectCtx, peer); err != nil {
		slog.Warn("failed to populate tool catalog",
			"backend", s.cfg.Name,
			"error", err,
		)
	}

	return nil
}

// RefreshCatalog re-queries tools/list on the live connection. It is a
// silent no-op (warning logged) when the backend is not Ready.
func (s *Supervisor) RefreshCatalog(ctx context.Context) error {
	peer := s.CurrentPeer()
	if peer == nil {
		slog.Warn("cannot refresh catalog: backend not ready", "backend", s.cfg.Name)
		return nil
	}
	return s.refreshCatalog(ctx, peer)
}

func (s *Supervisor) refreshCatalog(ctx context.Context, peer transport.Peer) error {
	raw, err := peer.Send(ctx, jsonrpc.MethodToolsList, map[string]any{}, s.cfg.HandshakeTimeout)
	if err != nil {
		return err
	}

	var list jsonrpc.ToolListResult
	if err := json.Unmarshal(raw, &list); err != nil {
		return fmt.Errorf("failed to parse tools/list result: %w", err)
	}

	if s.onCatalog != nil {
		s.onCatalog(s.cfg.Name, list.Tools)
	}

	slog.Info("tool catalog populated", "backend", s.cfg.Name, "tools", len(list.Tools))
	return nil
}

// watchPeer demotes the supervisor to Disconnected when the live peer dies.
// The death counts against the reconnect budget.
func (s *Supervisor) watchPeer(peer transport.Peer) {
	<-peer.Done()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.peer != peer {
		return
	}
	s.peer = nil
	s.lastErr = transport.ErrPeerClosed
	if s.state == StateReady || s.state == StateInitializing {
		s.setStateLocked(StateDisconnected)
		slog.Warn("backend connection lost", "backend", s.cfg.Name)
	}
}

// CurrentPeer returns the live peer, or nil when the backend is not Ready.
func (s *Supervisor) CurrentPeer() transport.Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return nil
	}
	return s.peer
}

// Call invokes a tool on the Ready connection.
func (s *Supervisor) Call(ctx context.Context, tool string, args map[string]interface{}) (json.RawMessage, error) {
	peer := s.CurrentPeer()
	if peer == nil {
		return nil, fmt.Errorf("backend %q is not ready", s.cfg.Name)
	}
	return peer.Send(ctx, jsonrpc.MethodToolsCall, jsonrpc.CallParams{Name: tool, Arguments: args}, s.cfg.CallTimeout)
}

// Stop tears the connection down. Pending requests fail before the transport
// is dismantled, and the attempt counter resets so a manual reconnect can
// follow.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	peer := s.peer
	s.peer = nil
	s.attempts = 0
	s.lastErr = nil
	s.setStateLocked(StateDisconnected)
	s.mu.Unlock()

	if peer != nil {
		return peer.Stop(ctx)
	}
	return nil
}

// ResetAttempts clears the Failed state so Connect may retry.
func (s *Supervisor) ResetAttempts() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = 0
	if s.state == StateFailed {
		s.setStateLocked(StateDisconnected)
	}
}

func (s *Supervisor) setStateLocked(next State) {
	if s.state == next {
		return
	}
	slog.Debug("connection state changed",
		"backend", s.cfg.Name,
		"from", s.state.String(),
		"to", next.String(),
	)
	s.state = next
}
