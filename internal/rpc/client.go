package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/hupe1980/marlmesh/internal/clock"
	"github.com/hupe1980/marlmesh/internal/codec"
	"github.com/hupe1980/marlmesh/logging"
)

const (
	dialTimeout     = 5 * time.Second
	maxResponseSize = 64 * 1024 * 1024
)

// ServiceError is an error reported by the remote handler. It is never
// retried: the request reached the service and was rejected.
type ServiceError struct {
	Action  string
	Code    string
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("service error on %q: %s", e.Action, e.Message)
}

// deliveredError marks a failure after the request was written. The service
// may already have applied it, so it is never retried.
type deliveredError struct{ err error }

func (e *deliveredError) Error() string { return e.err.Error() }
func (e *deliveredError) Unwrap() error { return e.err }

// RetryConfig controls retries of calls that failed to reach the service.
// A call whose request was delivered is not retried, so non-idempotent
// actions such as counter increments apply at most once.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	ShouldRetry    func(error) bool
}

// DefaultRetryConfig retries unavailability for roughly half a minute.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:    8,
	InitialBackoff: 100 * time.Millisecond,
	MaxBackoff:     5 * time.Second,
}

// ClientOptions configures a Client.
type ClientOptions struct {
	Retry  RetryConfig
	Clock  clock.Clock
	Logger logging.Logger
}

// Client calls actions on a Server.
type Client struct {
	socketPath string
	retry      RetryConfig
	clock      clock.Clock
	logger     logging.Logger
}

// NewClient returns a client for the server listening on socketPath.
func NewClient(socketPath string, optFns ...func(o *ClientOptions)) *Client {
	opts := ClientOptions{
		Retry:  DefaultRetryConfig,
		Clock:  clock.Real(),
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Client{
		socketPath: socketPath,
		retry:      opts.Retry,
		clock:      opts.Clock,
		logger:     logging.OrNoOp(opts.Logger),
	}
}

// Call sends action with fields and decodes the response data into result
// (which may be nil). Failures to deliver the request are retried with
// exponential backoff; service errors, lost responses and context
// cancellation are returned at once.
func (c *Client) Call(ctx context.Context, action string, fields map[string]any, result any) error {
	request := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		request[k] = v
	}
	request["action"] = action

	attempts := c.retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := c.retry.InitialBackoff

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := c.send(ctx, request)
		if err == nil {
			if !resp.OK {
				return &ServiceError{Action: action, Code: resp.Code, Message: resp.Error}
			}
			if result != nil && len(resp.Data) > 0 {
				if err := codec.Unmarshal(resp.Data, result); err != nil {
					return fmt.Errorf("decoding response data for %q: %w", action, err)
				}
			}
			return nil
		}

		lastErr = fmt.Errorf("calling %q on %s: %w", action, c.socketPath, err)
		if attempt == attempts || !c.shouldRetry(ctx, err) {
			break
		}

		c.logger.Warn("service unavailable, retrying", "action", action, "attempt", attempt, "backoff", backoff, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.clock.After(backoff):
		}
		backoff *= 2
		if c.retry.MaxBackoff > 0 && backoff > c.retry.MaxBackoff {
			backoff = c.retry.MaxBackoff
		}
	}
	return lastErr
}

func (c *Client) shouldRetry(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var delivered *deliveredError
	if errors.As(err, &delivered) {
		return false
	}
	if c.retry.ShouldRetry != nil {
		return c.retry.ShouldRetry(err)
	}
	return true
}

func (c *Client) send(ctx context.Context, request any) (*Response, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	defer conn.Close()

	// Requests may block server-side (rate limited sampling), so the
	// connection lives as long as ctx does.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}
	if uc, ok := conn.(*net.UnixConn); ok {
		_ = uc.CloseWrite()
	}

	var resp Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&resp); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &deliveredError{err: fmt.Errorf("reading response: %w", err)}
	}
	return &resp, nil
}
