package replay

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/marlmesh/logging"
)

// Client is the narrow interface adders and datasets use to reach replay
// tables, whether hosted in-process or behind a socket.
type Client interface {
	Insert(ctx context.Context, table string, item Item, priority float64) error
	Sample(ctx context.Context, table string, n int) ([]Sample, error)
	UpdatePriorities(ctx context.Context, table string, priorities map[uint64]float64) error
	Info(ctx context.Context, table string) (TableInfo, error)
}

// Options configures a Server.
type Options struct {
	Logger logging.Logger
	// Seed, when non-zero, seeds every table's sampler.
	Seed int64
}

// Server hosts a fixed set of named tables.
type Server struct {
	mu     sync.RWMutex
	tables map[string]*Table
	logger logging.Logger
}

// NewServer creates one table per spec. Table names must be unique.
func NewServer(specs []TableSpec, optFns ...func(o *Options)) (*Server, error) {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	s := &Server{tables: make(map[string]*Table, len(specs)), logger: logging.OrNoOp(opts.Logger)}
	for _, spec := range specs {
		if _, dup := s.tables[spec.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate table name %q", ErrInvalidTable, spec.Name)
		}
		t, err := NewTable(spec)
		if err != nil {
			return nil, err
		}
		if opts.Seed != 0 {
			t.Seed(opts.Seed)
		}
		s.tables[spec.Name] = t
		s.logger.Info("replay table created", "table", spec.Name, "sampler", string(spec.Sampler),
			"remover", string(spec.Remover), "max_size", spec.MaxSize)
	}
	return s, nil
}

// Table returns the named table.
func (s *Server) Table(name string) (*Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, name)
	}
	return t, nil
}

// Tables returns the hosted table names in sorted order.
func (s *Server) Tables() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.tables))
	for name := range s.tables {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Close closes every table, releasing blocked callers.
func (s *Server) Close() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tables {
		t.Close()
	}
}

// LocalClient returns a Client calling the server in-process.
func (s *Server) LocalClient() Client {
	return &localClient{server: s}
}

type localClient struct {
	server *Server
}

func (c *localClient) Insert(ctx context.Context, table string, item Item, priority float64) error {
	t, err := c.server.Table(table)
	if err != nil {
		return err
	}
	_, err = t.Insert(ctx, item, priority)
	return err
}

func (c *localClient) Sample(ctx context.Context, table string, n int) ([]Sample, error) {
	t, err := c.server.Table(table)
	if err != nil {
		return nil, err
	}
	return t.Sample(ctx, n)
}

func (c *localClient) UpdatePriorities(_ context.Context, table string, priorities map[uint64]float64) error {
	t, err := c.server.Table(table)
	if err != nil {
		return err
	}
	t.UpdatePriorities(priorities)
	return nil
}

func (c *localClient) Info(_ context.Context, table string) (TableInfo, error) {
	t, err := c.server.Table(table)
	if err != nil {
		return TableInfo{}, err
	}
	return t.Info(), nil
}
