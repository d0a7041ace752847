package rpc

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/marlmesh/internal/clock"
	"github.com/hupe1980/marlmesh/internal/codec"
)

func socketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "rpc")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "s.sock")
}

func startServer(t *testing.T, path string, register func(s *Server)) {
	t.Helper()
	srv := NewServer(path, nil)
	register(srv)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)
}

func TestCallRoundTrip(t *testing.T) {
	path := socketPath(t)
	startServer(t, path, func(s *Server) {
		s.Handle("echo", func(_ context.Context, raw []byte) (any, error) {
			var req struct {
				Value int `cbor:"value"`
			}
			if err := codec.Unmarshal(raw, &req); err != nil {
				return nil, err
			}
			return map[string]int{"value": req.Value * 2}, nil
		})
	})

	client := NewClient(path)
	var out struct {
		Value int `cbor:"value"`
	}
	require.NoError(t, client.Call(context.Background(), "echo", map[string]any{"value": 21}, &out))
	assert.Equal(t, 42, out.Value)
}

func TestServiceErrorCarriesCode(t *testing.T) {
	path := socketPath(t)
	startServer(t, path, func(s *Server) {
		s.Handle("fail", func(context.Context, []byte) (any, error) {
			return nil, WithCode("unknown_variable", errors.New("no such variable"))
		})
	})

	err := NewClient(path).Call(context.Background(), "fail", nil, nil)

	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, "unknown_variable", svcErr.Code)
	assert.Equal(t, "fail", svcErr.Action)
}

func TestUnknownAction(t *testing.T) {
	path := socketPath(t)
	startServer(t, path, func(*Server) {})

	err := NewClient(path).Call(context.Background(), "missing", nil, nil)

	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, "unknown_action", svcErr.Code)
}

func TestDuplicateHandlerPanics(t *testing.T) {
	srv := NewServer("unused", nil)
	srv.Handle("a", func(context.Context, []byte) (any, error) { return nil, nil })
	assert.Panics(t, func() {
		srv.Handle("a", func(context.Context, []byte) (any, error) { return nil, nil })
	})
}

func TestRetriesUnavailableServiceWithBackoff(t *testing.T) {
	path := socketPath(t)
	fake := clock.NewFake(time.Unix(0, 0))

	client := NewClient(path, func(o *ClientOptions) {
		o.Clock = fake
		o.Retry = RetryConfig{MaxAttempts: 3, InitialBackoff: time.Second, MaxBackoff: 2 * time.Second}
	})

	errCh := make(chan error, 1)
	go func() { errCh <- client.Call(context.Background(), "ping", nil, nil) }()

	fake.BlockUntilWaiters(1)
	fake.Advance(time.Second)
	fake.BlockUntilWaiters(1)
	fake.Advance(2 * time.Second)

	err := <-errCh
	require.Error(t, err)
	var svcErr *ServiceError
	assert.False(t, errors.As(err, &svcErr))
}

func TestRetryStopsOnCancelledContext(t *testing.T) {
	path := socketPath(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewClient(path).Call(ctx, "ping", nil, nil)
	assert.Error(t, err)
}

func TestLostResponseIsNotRetried(t *testing.T) {
	path := socketPath(t)
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	// The listener applies every request it reads, then drops the
	// connection without answering.
	var applied atomic.Int32
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			if _, err := io.ReadAll(conn); err == nil {
				applied.Add(1)
			}
			_ = conn.Close()
		}
	}()

	client := NewClient(path, func(o *ClientOptions) {
		o.Retry = RetryConfig{MaxAttempts: 5, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
	})
	err = client.Call(context.Background(), "add_to", map[string]any{"delta": 1}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading response")
	assert.EqualValues(t, 1, applied.Load())
}
