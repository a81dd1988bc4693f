// Package transport implements the peers that exchange framed messages with
// a single tool backend: a subprocess peer speaking newline-delimited
// JSON-RPC over stdio, and an HTTP peer speaking the REST tool protocol.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Transport kinds.
const (
	KindStdio = "stdio"
	KindHTTP  = "http"
)

// ErrPeerClosed rejects pending requests when the backend dies or the peer
// is torn down mid-flight.
var ErrPeerClosed = errors.New("peer closed")

// SpawnError indicates the backend process could not be started.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn %q: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// Peer is the live transport for one backend. Implementations must be safe
// for concurrent Send calls.
type Peer interface {
	// Start establishes the transport. For subprocess peers this launches
	// the child process; it fails with *SpawnError if the executable is
	// missing.
	Start(ctx context.Context) error

	// Send issues a request and blocks until the matching response arrives,
	// the timeout elapses, or ctx is canceled.
	Send(ctx context.Context, method string, params interface{}, timeout time.Duration) (json.RawMessage, error)

	// Stop tears the transport down. All pending requests are rejected with
	// ErrPeerClosed before teardown completes.
	Stop(ctx context.Context) error

	// Kind reports the transport kind.
	Kind() string

	// Done is closed once the peer is no longer usable (process exit or
	// explicit stop).
	Done() <-chan struct{}
}
