package replay

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/marlmesh/internal/codec"
	"github.com/hupe1980/marlmesh/internal/compress"
	"github.com/hupe1980/marlmesh/internal/rpc"
)

const (
	actionInsert           = "replay.insert"
	actionSample           = "replay.sample"
	actionUpdatePriorities = "replay.update_priorities"
	actionInfo             = "replay.info"

	codeUnknownTable      = "unknown_table"
	codeSignatureMismatch = "signature_mismatch"
)

type insertRequest struct {
	Table    string         `cbor:"table"`
	Item     compress.Block `cbor:"item"`
	Priority float64        `cbor:"priority"`
}

type sampleRequest struct {
	Table string `cbor:"table"`
	N     int    `cbor:"n"`
}

type sampleResponse struct {
	Samples compress.Block `cbor:"samples"`
}

type prioritiesRequest struct {
	Table      string             `cbor:"table"`
	Priorities map[uint64]float64 `cbor:"priorities"`
}

type tableRequest struct {
	Table string `cbor:"table"`
}

// Register exposes the server's tables on an rpc.Server.
func (s *Server) Register(srv *rpc.Server) {
	srv.Handle(actionInsert, func(ctx context.Context, raw []byte) (any, error) {
		var req insertRequest
		if err := codec.Unmarshal(raw, &req); err != nil {
			return nil, err
		}
		var item Item
		if err := decodeBlock(req.Item, &item); err != nil {
			return nil, err
		}
		return nil, coded(s.LocalClient().Insert(ctx, req.Table, item, req.Priority))
	})

	srv.Handle(actionSample, func(ctx context.Context, raw []byte) (any, error) {
		var req sampleRequest
		if err := codec.Unmarshal(raw, &req); err != nil {
			return nil, err
		}
		samples, err := s.LocalClient().Sample(ctx, req.Table, req.N)
		if err != nil {
			return nil, coded(err)
		}
		block, err := encodeBlock(samples)
		if err != nil {
			return nil, err
		}
		return sampleResponse{Samples: block}, nil
	})

	srv.Handle(actionUpdatePriorities, func(ctx context.Context, raw []byte) (any, error) {
		var req prioritiesRequest
		if err := codec.Unmarshal(raw, &req); err != nil {
			return nil, err
		}
		return nil, coded(s.LocalClient().UpdatePriorities(ctx, req.Table, req.Priorities))
	})

	srv.Handle(actionInfo, func(ctx context.Context, raw []byte) (any, error) {
		var req tableRequest
		if err := codec.Unmarshal(raw, &req); err != nil {
			return nil, err
		}
		info, err := s.LocalClient().Info(ctx, req.Table)
		return info, coded(err)
	})
}

func coded(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrUnknownTable):
		return rpc.WithCode(codeUnknownTable, err)
	case errors.Is(err, ErrSignatureMismatch):
		return rpc.WithCode(codeSignatureMismatch, err)
	default:
		return err
	}
}

func encodeBlock(v any) (compress.Block, error) {
	data, err := codec.Marshal(v)
	if err != nil {
		return compress.Block{}, err
	}
	return compress.Compress(data, compress.LZ4)
}

func decodeBlock(b compress.Block, v any) error {
	data, err := compress.Decompress(b)
	if err != nil {
		return err
	}
	return codec.Unmarshal(data, v)
}

// RemoteClient reaches a replay Server over the socket protocol. Calls that
// cannot reach the service are retried with backoff by the underlying
// rpc.Client; an insert retried after a lost response may be stored twice.
type RemoteClient struct {
	rpc *rpc.Client
}

// NewRemoteClient wraps an rpc client.
func NewRemoteClient(c *rpc.Client) *RemoteClient {
	return &RemoteClient{rpc: c}
}

func (c *RemoteClient) Insert(ctx context.Context, table string, item Item, priority float64) error {
	block, err := encodeBlock(item)
	if err != nil {
		return err
	}
	return remoteErr(c.rpc.Call(ctx, actionInsert, map[string]any{
		"table":    table,
		"item":     block,
		"priority": priority,
	}, nil))
}

func (c *RemoteClient) Sample(ctx context.Context, table string, n int) ([]Sample, error) {
	var resp sampleResponse
	if err := c.rpc.Call(ctx, actionSample, map[string]any{"table": table, "n": n}, &resp); err != nil {
		return nil, remoteErr(err)
	}
	var samples []Sample
	if err := decodeBlock(resp.Samples, &samples); err != nil {
		return nil, fmt.Errorf("decoding samples: %w", err)
	}
	return samples, nil
}

func (c *RemoteClient) UpdatePriorities(ctx context.Context, table string, priorities map[uint64]float64) error {
	return remoteErr(c.rpc.Call(ctx, actionUpdatePriorities, map[string]any{
		"table":      table,
		"priorities": priorities,
	}, nil))
}

func (c *RemoteClient) Info(ctx context.Context, table string) (TableInfo, error) {
	var info TableInfo
	err := c.rpc.Call(ctx, actionInfo, map[string]any{"table": table}, &info)
	return info, remoteErr(err)
}

func remoteErr(err error) error {
	var svcErr *rpc.ServiceError
	if !errors.As(err, &svcErr) {
		return err
	}
	switch svcErr.Code {
	case codeUnknownTable:
		return fmt.Errorf("%w: %s", ErrUnknownTable, svcErr.Message)
	case codeSignatureMismatch:
		return fmt.Errorf("%w: %s", ErrSignatureMismatch, svcErr.Message)
	default:
		return err
	}
}
