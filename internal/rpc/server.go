// Package rpc implements the request/response protocol used between clients
// and the replay and variable services: one CBOR request per unix socket
// connection, answered by one CBOR Response.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/hupe1980/marlmesh/internal/codec"
	"github.com/hupe1980/marlmesh/logging"
)

const (
	readTimeout    = 30 * time.Second
	writeTimeout   = 10 * time.Second
	maxRequestSize = 64 * 1024 * 1024
)

// HandlerFunc processes the raw CBOR request for one action. The returned
// value is CBOR-encoded into Response.Data.
type HandlerFunc func(ctx context.Context, raw []byte) (any, error)

// Response is the envelope written for every request.
type Response struct {
	OK    bool             `cbor:"ok"`
	Code  string           `cbor:"code,omitempty"`
	Error string           `cbor:"error,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

// CodedError carries a machine readable code across the wire so clients can
// map failures back to sentinel errors.
type CodedError struct {
	Code string
	Err  error
}

func (e *CodedError) Error() string { return e.Err.Error() }
func (e *CodedError) Unwrap() error { return e.Err }

// WithCode tags err with code.
func WithCode(code string, err error) error {
	if err == nil {
		return nil
	}
	return &CodedError{Code: code, Err: err}
}

// Server dispatches socket requests to registered action handlers.
type Server struct {
	socketPath string
	handlers   map[string]HandlerFunc
	logger     logging.Logger

	active sync.WaitGroup
}

// NewServer creates a server that will listen on socketPath.
func NewServer(socketPath string, logger logging.Logger) *Server {
	return &Server{
		socketPath: socketPath,
		handlers:   make(map[string]HandlerFunc),
		logger:     logging.OrNoOp(logger),
	}
}

// Handle registers the handler for action. Registering an action twice panics.
func (s *Server) Handle(action string, handler HandlerFunc) {
	if _, exists := s.handlers[action]; exists {
		panic(fmt.Sprintf("rpc.Server: duplicate handler for action %q", action))
	}
	s.handlers[action] = handler
}

// Serve listens on the configured socket path until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}
	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	defer os.Remove(s.socketPath)
	return s.ServeListener(ctx, ln)
}

// ServeListener accepts connections from ln until ctx is cancelled, then
// waits for in-flight requests to finish.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	s.logger.Info("rpc server listening", "addr", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.active.Add(1)
		go func() {
			defer s.active.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.active.Wait()
	return nil
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

	var raw codec.RawMessage
	if err := codec.NewDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return
		}
		s.writeError(conn, "bad_request", fmt.Sprintf("invalid request: %v", err))
		return
	}

	var header struct {
		Action string `cbor:"action"`
	}
	if err := codec.Unmarshal(raw, &header); err != nil {
		s.writeError(conn, "bad_request", fmt.Sprintf("invalid request: %v", err))
		return
	}
	if header.Action == "" {
		s.writeError(conn, "bad_request", "missing required field: action")
		return
	}

	handler, ok := s.handlers[header.Action]
	if !ok {
		s.writeError(conn, "unknown_action", fmt.Sprintf("unknown action %q", header.Action))
		return
	}

	result, err := handler(ctx, []byte(raw))
	if err != nil {
		s.logger.Debug("action failed", "action", header.Action, "error", err)
		var coded *CodedError
		code := ""
		if errors.As(err, &coded) {
			code = coded.Code
		}
		s.writeError(conn, code, err.Error())
		return
	}

	s.writeSuccess(conn, result)
}

func (s *Server) writeError(conn net.Conn, code, message string) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := codec.NewEncoder(conn).Encode(Response{Code: code, Error: message}); err != nil {
		s.logger.Debug("failed to write error response", "error", err)
	}
}

func (s *Server) writeSuccess(conn net.Conn, result any) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))

	resp := Response{OK: true}
	if result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			s.writeError(conn, "internal", fmt.Sprintf("marshaling response: %v", err))
			return
		}
		resp.Data = data
	}

	if err := codec.NewEncoder(conn).Encode(resp); err != nil {
		s.logger.Debug("failed to write success response", "error", err)
	}
}
