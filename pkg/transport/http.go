package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/axonlabs/mcpbridge/pkg/httpclient"
	"github.com/axonlabs/mcpbridge/pkg/jsonrpc"
)

// HTTPConfig configures an HTTP peer.
type HTTPConfig struct {
	Backend    string
	BaseURL    string
	MaxRetries int
}

// HTTPPeer speaks the REST tool protocol: GET /tools for the catalog and
// POST /tools/{name} for invocation. There is no persistent connection, so
// each request carries a request-scoped random token instead of a
// correlator-issued id.
type HTTPPeer struct {
	cfg    HTTPConfig
	client *httpclient.Client
	done   chan struct{}
}

func NewHTTPPeer(cfg HTTPConfig) *HTTPPeer {
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	return &HTTPPeer{
		cfg: cfg,
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
			httpclient.WithMaxRetries(maxRetries),
			httpclient.WithBaseDelay(time.Second),
		),
		done: make(chan struct{}),
	}
}

func (p *HTTPPeer) Kind() string { return KindHTTP }

func (p *HTTPPeer) Done() <-chan struct{} { return p.done }

// Start validates the base URL. The endpoint itself is probed by WaitReady
// before the connection is considered live.
func (p *HTTPPeer) Start(ctx context.Context) error {
	if _, err := url.Parse(p.cfg.BaseURL); err != nil {
		return &SpawnError{Command: p.cfg.BaseURL, Err: err}
	}
	return nil
}

// WaitReady probes the tools endpoint so a dead or misconfigured URL fails
// the connection attempt instead of surfacing on the first tool call.
func (p *HTTPPeer) WaitReady(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint("/tools"), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := p.client.Do(req)
	if resp != nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("endpoint probe failed: %w", err)
	}
	return nil
}

func (p *HTTPPeer) Stop(ctx context.Context) error {
	select {
	case <-p.done:
	default:
		close(p.done)
	}
	return nil
}

// Send maps the bridge's JSON-RPC methods onto the REST protocol.
func (p *HTTPPeer) Send(ctx context.Context, method string, params interface{}, timeout time.Duration) (json.RawMessage, error) {
	select {
	case <-p.done:
		return nil, ErrPeerClosed
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch method {
	case jsonrpc.MethodInitialize:
		// No handshake on stateless HTTP; liveness is WaitReady's probe.
		return json.RawMessage(`{}`), nil
	case jsonrpc.MethodToolsList:
		return p.listTools(ctx)
	case jsonrpc.MethodToolsCall:
		return p.callTool(ctx, params)
	default:
		return nil, fmt.Errorf("unsupported method %q for http transport", method)
	}
}

func (p *HTTPPeer) listTools(ctx context.Context) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint("/tools"), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tools request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read tools response: %w", err)
	}
	return body, nil
}

// httpToolResponse is the invocation envelope of the REST protocol.
type httpToolResponse struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func (p *HTTPPeer) callTool(ctx context.Context, params interface{}) (json.RawMessage, error) {
	call, ok := params.(jsonrpc.CallParams)
	if !ok {
		return nil, fmt.Errorf("tools/call params must be jsonrpc.CallParams, got %T", params)
	}

	body, err := json.Marshal(call.Arguments)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal arguments: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.endpoint("/tools/"+url.PathEscape(call.Name)), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tool call failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read tool response: %w", err)
	}

	var envelope httpToolResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse tool response: %w", err)
	}

	if !envelope.Success {
		msg := envelope.Error
		if msg == "" {
			msg = "tool call failed"
		}
		return nil, &jsonrpc.RPCError{Code: resp.StatusCode, Message: msg}
	}

	return envelope.Result, nil
}

func (p *HTTPPeer) endpoint(path string) string {
	return strings.TrimRight(p.cfg.BaseURL, "/") + path
}
