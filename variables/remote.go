package variables

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/marlmesh/internal/codec"
	"github.com/hupe1980/marlmesh/internal/rpc"
)

const (
	actionGet   = "variables.get"
	actionSet   = "variables.set"
	actionAddTo = "variables.add_to"

	codeUnknownVariable  = "unknown_variable"
	codeShapeMismatch    = "shape_mismatch"
	codeInvalidOperation = "invalid_operation"
)

type getRequest struct {
	Names []string `cbor:"names"`
}

type setRequest struct {
	Values Collection `cbor:"values"`
}

type addRequest struct {
	Deltas map[string]Tensor `cbor:"deltas"`
}

// Register exposes the server's get/set/add_to operations on an rpc.Server.
func (s *Server) Register(srv *rpc.Server) {
	srv.Handle(actionGet, func(ctx context.Context, raw []byte) (any, error) {
		var req getRequest
		if err := codec.Unmarshal(raw, &req); err != nil {
			return nil, err
		}
		vars, err := s.GetVariables(ctx, req.Names...)
		if err != nil {
			return nil, coded(err)
		}
		return vars, nil
	})

	srv.Handle(actionSet, func(ctx context.Context, raw []byte) (any, error) {
		var req setRequest
		if err := codec.Unmarshal(raw, &req); err != nil {
			return nil, err
		}
		return nil, coded(s.SetVariables(ctx, req.Values))
	})

	srv.Handle(actionAddTo, func(ctx context.Context, raw []byte) (any, error) {
		var req addRequest
		if err := codec.Unmarshal(raw, &req); err != nil {
			return nil, err
		}
		return nil, coded(s.AddToVariables(ctx, req.Deltas))
	})
}

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrUnknownVariable, codeUnknownVariable},
	{ErrShapeMismatch, codeShapeMismatch},
	{ErrInvalidOperation, codeInvalidOperation},
}

func coded(err error) error {
	if err == nil {
		return nil
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return rpc.WithCode(ec.code, err)
		}
	}
	return err
}

func remoteErr(err error) error {
	var svcErr *rpc.ServiceError
	if !errors.As(err, &svcErr) {
		return err
	}
	for _, ec := range errorCodes {
		if svcErr.Code == ec.code {
			return fmt.Errorf("%w: %s", ec.err, svcErr.Message)
		}
	}
	return err
}

// RemoteSource is a Source reaching a variable server over the socket
// protocol. Unavailability is retried with backoff by the rpc client;
// unknown-variable and shape errors are returned immediately.
type RemoteSource struct {
	rpc *rpc.Client
}

// NewRemoteSource wraps an rpc client.
func NewRemoteSource(c *rpc.Client) *RemoteSource {
	return &RemoteSource{rpc: c}
}

// GetVariables fetches the named variables.
func (r *RemoteSource) GetVariables(ctx context.Context, names ...string) (Collection, error) {
	var out Collection
	if err := r.rpc.Call(ctx, actionGet, map[string]any{"names": names}, &out); err != nil {
		return nil, remoteErr(err)
	}
	return out, nil
}

// SetVariables overwrites variables on the server.
func (r *RemoteSource) SetVariables(ctx context.Context, values Collection) error {
	return remoteErr(r.rpc.Call(ctx, actionSet, map[string]any{"values": values}, nil))
}

// AddToVariables accumulates deltas on the server.
func (r *RemoteSource) AddToVariables(ctx context.Context, deltas map[string]Tensor) error {
	return remoteErr(r.rpc.Call(ctx, actionAddTo, map[string]any{"deltas": deltas}, nil))
}
