package roomctrl

import (
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Command failure modes surfaced to callers. Server-side rejections carry the
// server-supplied message instead.
var (
	ErrNotConnected   = errors.New("not connected")
	ErrCommandTimeout = errors.New("command timeout")
	ErrConnectionLost = errors.New("connection lost")
)

const defaultAckTimeout = 10 * time.Second

type pendingRequest struct {
	done  chan error
	timer clockwork.Timer
}

// ackTracker correlates outbound commands with their cmd_ack responses by
// requestId. Each registered request either settles via Resolve/Reject or
// times out. Late and duplicate acks are silent no-ops.
type ackTracker struct {
	mu      sync.Mutex
	pending map[string]*pendingRequest
	timeout time.Duration
	clock   clockwork.Clock
}

func newAckTracker(clock clockwork.Clock, timeout time.Duration) *ackTracker {
	if timeout <= 0 {
		timeout = defaultAckTimeout
	}
	return &ackTracker{
		pending: make(map[string]*pendingRequest),
		timeout: timeout,
		clock:   clock,
	}
}

// Register creates a pending entry and starts its timeout. The returned
// channel receives exactly one value: nil on success, the failure otherwise.
func (t *ackTracker) Register(requestID string) <-chan error {
	done := make(chan error, 1)

	t.mu.Lock()
	req := &pendingRequest{done: done}
	req.timer = t.clock.AfterFunc(t.timeout, func() {
		t.settle(requestID, ErrCommandTimeout)
	})
	t.pending[requestID] = req
	t.mu.Unlock()

	return done
}

// Resolve settles a pending request successfully
func (t *ackTracker) Resolve(requestID string) {
	t.settle(requestID, nil)
}

// Reject settles a pending request with an error
func (t *ackTracker) Reject(requestID string, err error) {
	t.settle(requestID, err)
}

// Unregister removes a pending entry without settling it. Used when the
// underlying send fails synchronously and the caller rejects directly.
func (t *ackTracker) Unregister(requestID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if req, ok := t.pending[requestID]; ok {
		req.timer.Stop()
		delete(t.pending, requestID)
	}
}

// RejectAll fails every in-flight request. Called when the connection drops
// so callers get feedback immediately instead of waiting out the timeout.
func (t *ackTracker) RejectAll(err error) {
	t.mu.Lock()
	reqs := t.pending
	t.pending = make(map[string]*pendingRequest)
	t.mu.Unlock()

	for id, req := range reqs {
		req.timer.Stop()
		req.done <- err
		log.Debug().Str("request_id", id).Err(err).Msg("rejected in-flight request")
	}
}

// Len reports the number of in-flight requests
func (t *ackTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *ackTracker) settle(requestID string, err error) {
	t.mu.Lock()
	req, ok := t.pending[requestID]
	if ok {
		req.timer.Stop()
		delete(t.pending, requestID)
	}
	t.mu.Unlock()

	if !ok {
		// Late or duplicate ack - not an error
		return
	}
	req.done <- err
}
