// Package coordinator shapes outbound calls: identical in-flight requests
// share one result, each logical operation keeps a minimum spacing between
// calls, and network-level failures are retried with exponential backoff.
// It is purely a call-shaping layer with no side effects beyond bookkeeping.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/starford/laguz/internal/apperr"
	"github.com/starford/laguz/internal/checksum"
	"github.com/starford/laguz/internal/transport"
)

// Logical operation names used for throttle bookkeeping.
const (
	OpGetNotes   = "getNotes"
	OpGetNote    = "getNote"
	OpCreateNote = "createNote"
	OpUpdateNote = "updateNote"
	OpDeleteNote = "deleteNote"
	OpSearch     = "searchNotes"
)

// DefaultIntervals is the per-operation minimum spacing between calls.
var DefaultIntervals = map[string]time.Duration{
	OpGetNotes:   5 * time.Second,
	OpCreateNote: 3 * time.Second,
	OpUpdateNote: 10 * time.Second,
	OpDeleteNote: 3 * time.Second,
}

// Retry policy for network-level failures. HTTP error responses are never
// retried here, except the one-shot CSRF refresh on a 500.
const (
	maxAttempts = 3
	baseDelay   = time.Second
	maxDelay    = 30 * time.Second
)

// CSRFRefresher re-resolves the rotating CSRF token. Satisfied by
// token.Manager.
type CSRFRefresher interface {
	CSRFToken(ctx context.Context, forceRefresh bool) (string, error)
}

// Request is one logical call to shape. Call receives the CSRF token to
// embed (may be empty) and performs the actual exchange.
type Request struct {
	Operation string
	TargetID  string
	Payload   any

	// Force bypasses throttling for user-initiated refresh actions.
	Force bool

	// NoCSRF skips token resolution for operations that do not mutate.
	NoCSRF bool

	Call func(ctx context.Context, csrfToken string) (*transport.Response, error)
}

// Coordinator deduplicates, throttles and retries requests.
type Coordinator struct {
	tokens    CSRFRefresher
	group     singleflight.Group
	intervals map[string]time.Duration

	mu       sync.Mutex
	lastCall map[string]time.Time

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(max time.Duration) time.Duration
}

// New creates a coordinator with the default throttle intervals.
func New(tokens CSRFRefresher) *Coordinator {
	return &Coordinator{
		tokens:    tokens,
		intervals: DefaultIntervals,
		lastCall:  make(map[string]time.Time),
		now:       time.Now,
		sleep:     sleepCtx,
		jitter:    randomJitter,
	}
}

// Do shapes and executes one request. Callers issuing an identical request
// (same operation, target and payload) while another is still in flight
// receive the first call's outcome instead of a second network call.
func (c *Coordinator) Do(ctx context.Context, req Request) (*transport.Response, error) {
	key := c.dedupKey(req)
	// The throttle runs inside the singleflight func so it only gates calls
	// that would start new network work; callers joining an in-flight call
	// share its outcome instead of being rejected.
	v, err, shared := c.group.Do(key, func() (any, error) {
		if err := c.throttle(req.Operation, req.Force); err != nil {
			return nil, err
		}
		return c.execute(ctx, req)
	})
	if shared {
		slog.Debug("request deduplicated", slog.String("operation", req.Operation), slog.String("key", key))
	}
	if err != nil {
		return nil, err
	}
	return v.(*transport.Response), nil
}

// throttle rejects a call issued before the operation's interval elapsed.
// Rejected calls carry the remaining wait; callers fall back to cached data
// rather than queueing.
func (c *Coordinator) throttle(op string, force bool) error {
	interval, throttled := c.intervals[op]
	if !throttled {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if !force {
		if last, ok := c.lastCall[op]; ok {
			if wait := interval - now.Sub(last); wait > 0 {
				return &apperr.ThrottledError{Operation: op, RetryAfter: wait}
			}
		}
	}
	c.lastCall[op] = now
	return nil
}

func (c *Coordinator) execute(ctx context.Context, req Request) (*transport.Response, error) {
	csrf := ""
	if !req.NoCSRF {
		tok, err := c.tokens.CSRFToken(ctx, false)
		if err == nil {
			csrf = tok
		} else if errors.Is(err, apperr.ErrUnauthorized) {
			return nil, err
		}
		// Other failures: proceed on the fallback path without a token.
	}

	resp, err := c.withRetry(ctx, req, csrf)
	if err == nil {
		return resp, nil
	}

	// A 500 may mean the CSRF token embedded in the path went stale.
	// One forced refresh, one retry, never more.
	var se *transport.StatusError
	if errors.As(err, &se) && se.Status == http.StatusInternalServerError && !req.NoCSRF {
		fresh, terr := c.tokens.CSRFToken(ctx, true)
		if terr == nil && fresh != csrf {
			slog.Debug("retrying after csrf refresh", slog.String("operation", req.Operation))
			return req.Call(ctx, fresh)
		}
	}
	return nil, err
}

// withRetry retries network-level failures up to maxAttempts with
// exponential backoff plus random jitter. HTTP error responses pass through
// untouched.
func (c *Coordinator) withRetry(ctx context.Context, req Request, csrf string) (*transport.Response, error) {
	var lastErr error
	delay := baseDelay
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := req.Call(ctx, csrf)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !transport.IsNetwork(err) {
			return nil, err
		}
		if attempt == maxAttempts {
			break
		}
		wait := delay + c.jitter(delay/2)
		slog.Debug("transient failure, backing off",
			slog.String("operation", req.Operation),
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait))
		if serr := c.sleep(ctx, wait); serr != nil {
			return nil, serr
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
	return nil, lastErr
}

// dedupKey canonicalizes a request into its deduplication key.
func (c *Coordinator) dedupKey(req Request) string {
	payload := ""
	if req.Payload != nil {
		if data, err := json.Marshal(req.Payload); err == nil {
			payload = checksum.Sum(data)
		}
	}
	return req.Operation + "|" + req.TargetID + "|" + payload
}

// SetClock overrides the throttle time source, for tests.
func (c *Coordinator) SetClock(now func() time.Time) {
	c.now = now
}

// SetRetryTiming overrides the backoff sleep and jitter sources, for tests.
func (c *Coordinator) SetRetryTiming(sleep func(ctx context.Context, d time.Duration) error, jitter func(max time.Duration) time.Duration) {
	c.sleep = sleep
	c.jitter = jitter
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
