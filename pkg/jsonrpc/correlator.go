package jsonrpc

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// RequestTimeoutError is returned when a tracked request's deadline elapses
// before a matching response arrives.
type RequestTimeoutError struct {
	ID      int64
	Timeout time.Duration
}

func (e *RequestTimeoutError) Error() string {
	return fmt.Sprintf("request %d timed out after %v", e.ID, e.Timeout)
}

// Outcome is the terminal state of a tracked request: exactly one of Result
// or Err is set.
type Outcome struct {
	Result json.RawMessage
	Err    error
}

type pendingRequest struct {
	ch    chan Outcome
	timer *time.Timer
}

// Correlator assigns request ids and matches responses to outstanding
// requests. Each id is resolved at most once; late or duplicate responses
// are discarded. Safe for concurrent use by the transport read loop and
// multiple callers.
type Correlator struct {
	nextID  atomic.Int64
	mu      sync.Mutex
	pending map[int64]*pendingRequest
}

func NewCorrelator() *Correlator {
	return &Correlator{
		pending: make(map[int64]*pendingRequest),
	}
}

// NextID returns a fresh id, monotonically increasing for this correlator.
func (c *Correlator) NextID() int64 {
	return c.nextID.Add(1)
}

// Track registers a pending request and arms its deadline timer. The caller
// must Track before writing the request to the transport so the read loop
// can never observe a response for an unregistered id.
func (c *Correlator) Track(id int64, timeout time.Duration) <-chan Outcome {
	ch := make(chan Outcome, 1)

	p := &pendingRequest{ch: ch}

	// The entry must be in the map before the timer is armed: a timer that
	// fires against an absent id no-ops, which would leave the entry pending
	// forever once inserted. Arming under the lock also publishes the timer
	// handle to remove.
	c.mu.Lock()
	c.pending[id] = p
	p.timer = time.AfterFunc(timeout, func() {
		c.fail(id, &RequestTimeoutError{ID: id, Timeout: timeout})
	})
	c.mu.Unlock()

	return ch
}

// Resolve completes the request with a result. Unknown or already-resolved
// ids are a no-op.
func (c *Correlator) Resolve(id int64, result json.RawMessage) bool {
	p := c.remove(id)
	if p == nil {
		return false
	}
	p.ch <- Outcome{Result: result}
	return true
}

// Reject completes the request with an error. Unknown or already-resolved
// ids are a no-op.
func (c *Correlator) Reject(id int64, err error) bool {
	return c.fail(id, err)
}

// FailAll rejects every outstanding request with err. Used on peer teardown.
func (c *Correlator) FailAll(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[int64]*pendingRequest)
	c.mu.Unlock()

	for _, p := range pending {
		p.timer.Stop()
		p.ch <- Outcome{Err: err}
	}
}

// PendingCount returns the number of outstanding requests.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Correlator) fail(id int64, err error) bool {
	p := c.remove(id)
	if p == nil {
		return false
	}
	p.ch <- Outcome{Err: err}
	return true
}

func (c *Correlator) remove(id int64) *pendingRequest {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	p.timer.Stop()
	return p
}
