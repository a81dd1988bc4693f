package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/axonlabs/mcpbridge/pkg/jsonrpc"
)

const (
	// maxLineSize bounds a single framed message from the backend.
	maxLineSize = 10 * 1024 * 1024

	// gracefulStopWait is how long Stop waits after closing stdin before
	// escalating to SIGTERM, and killWait before SIGKILL.
	gracefulStopWait = 2 * time.Second
	killWait         = time.Second
)

// StdioConfig configures a subprocess peer.
type StdioConfig struct {
	Backend     string
	Command     string
	Args        []string
	Env         map[string]string
	ReadyMarker string
}

// StdioPeer owns one backend subprocess and frames JSON-RPC messages as
// single lines over its standard streams. Standard error is only logged
// and scanned for the readiness marker, never parsed for protocol data.
type StdioPeer struct {
	cfg        StdioConfig
	correlator *jsonrpc.Correlator

	writeMu sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	doneOnce  sync.Once
	stopOnce  sync.Once
}

func NewStdioPeer(cfg StdioConfig) *StdioPeer {
	return &StdioPeer{
		cfg:        cfg,
		correlator: jsonrpc.NewCorrelator(),
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (p *StdioPeer) Kind() string { return KindStdio }

// Done is closed when the subprocess exits or the peer is stopped.
func (p *StdioPeer) Done() <-chan struct{} { return p.done }

// Start launches the backend subprocess and begins demultiplexing its
// output. Fails with *SpawnError if the executable cannot be started.
func (p *StdioPeer) Start(ctx context.Context) error {
	cmd := exec.Command(p.cfg.Command, p.cfg.Args...)
	cmd.Env = os.Environ()
	for k, v := range p.cfg.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &SpawnError{Command: p.cfg.Command, Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &SpawnError{Command: p.cfg.Command, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &SpawnError{Command: p.cfg.Command, Err: err}
	}

	if err := cmd.Start(); err != nil {
		return &SpawnError{Command: p.cfg.Command, Err: err}
	}

	p.cmd = cmd
	p.stdin = stdin

	go p.readLoop(stdout)
	go p.watchStderr(stderr)
	go func() {
		err := cmd.Wait()
		if err != nil {
			slog.Debug("backend process exited", "backend", p.cfg.Backend, "error", err)
		}
		p.markDone()
	}()

	slog.Info("backend process started",
		"backend", p.cfg.Backend,
		"command", p.cfg.Command,
		"pid", cmd.Process.Pid,
	)
	return nil
}

// WaitReady blocks until the readiness marker is observed on stderr, the
// process exits, or ctx is done. Peers without a configured marker are
// considered ready immediately.
func (p *StdioPeer) WaitReady(ctx context.Context) error {
	if p.cfg.ReadyMarker == "" {
		return nil
	}
	select {
	case <-p.ready:
		return nil
	case <-p.done:
		return ErrPeerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send writes one framed request and waits for the correlated response.
func (p *StdioPeer) Send(ctx context.Context, method string, params interface{}, timeout time.Duration) (json.RawMessage, error) {
	select {
	case <-p.done:
		return nil, ErrPeerClosed
	default:
	}

	id := p.correlator.NextID()
	outcome := p.correlator.Track(id, timeout)

	line, err := json.Marshal(jsonrpc.NewRequest(id, method, params))
	if err != nil {
		p.correlator.Reject(id, err)
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	line = append(line, '\n')

	p.writeMu.Lock()
	_, err = p.stdin.Write(line)
	p.writeMu.Unlock()
	if err != nil {
		p.correlator.Reject(id, fmt.Errorf("%w: %v", ErrPeerClosed, err))
		out := <-outcome
		return nil, out.Err
	}

	select {
	case out := <-outcome:
		return out.Result, out.Err
	case <-ctx.Done():
		p.correlator.Reject(id, ctx.Err())
		out := <-outcome
		return out.Result, out.Err
	}
}

// Stop closes stdin to signal graceful shutdown, then escalates to SIGTERM
// and finally SIGKILL if the process lingers. Pending requests are rejected
// before teardown completes.
func (p *StdioPeer) Stop(ctx context.Context) error {
	p.stopOnce.Do(func() {
		p.correlator.FailAll(ErrPeerClosed)

		if p.stdin != nil {
			_ = p.stdin.Close()
		}

		if p.cmd == nil || p.cmd.Process == nil {
			p.markDone()
			return
		}

		select {
		case <-p.done:
			return
		case <-time.After(gracefulStopWait):
		case <-ctx.Done():
		}

		_ = p.cmd.Process.Signal(syscall.SIGTERM)

		select {
		case <-p.done:
			return
		case <-time.After(killWait):
		}

		_ = p.cmd.Process.Kill()
		<-p.done
	})
	return nil
}

// readLoop splits stdout into lines and routes protocol responses to the
// correlator. Lines that fail to parse are discarded without failing the
// connection.
func (p *StdioPeer) readLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var resp jsonrpc.Response
		if err := json.Unmarshal(line, &resp); err != nil {
			slog.Debug("discarding non-protocol output",
				"backend", p.cfg.Backend,
				"line", truncateForLog(string(line)),
			)
			continue
		}

		if resp.ID == nil {
			// Server-initiated notification; the bridge does not consume these.
			slog.Debug("ignoring notification from backend", "backend", p.cfg.Backend)
			continue
		}

		if resp.Error != nil {
			p.correlator.Reject(*resp.ID, resp.Error)
		} else {
			p.correlator.Resolve(*resp.ID, resp.Result)
		}
	}

	p.markDone()
}

// watchStderr logs diagnostic output and fires the readiness signal when the
// configured marker appears.
func (p *StdioPeer) watchStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Text()
		slog.Debug("backend stderr", "backend", p.cfg.Backend, "line", truncateForLog(line))

		if p.cfg.ReadyMarker != "" && strings.Contains(line, p.cfg.ReadyMarker) {
			p.readyOnce.Do(func() { close(p.ready) })
		}
	}
}

func (p *StdioPeer) markDone() {
	p.doneOnce.Do(func() {
		close(p.done)
		p.correlator.FailAll(ErrPeerClosed)
	})
}

func truncateForLog(s string) string {
	const max = 200
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

// startWithPipes wires the peer to caller-provided streams instead of a
// subprocess. Tests use this to exercise the framing and correlation paths.
func (p *StdioPeer) startWithPipes(stdin io.WriteCloser, stdout, stderr io.Reader) {
	p.stdin = stdin
	go p.readLoop(stdout)
	if stderr != nil {
		go p.watchStderr(stderr)
	}
}
