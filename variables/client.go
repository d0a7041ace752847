package variables

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/hupe1980/marlmesh/core"
	"github.com/hupe1980/marlmesh/logging"
)

// ClientOptions configures executor and trainer clients.
type ClientOptions struct {
	Logger *logging.TrainingLogger
}

func clientLogger(optFns []func(o *ClientOptions), component string) *logging.TrainingLogger {
	opts := ClientOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return opts.Logger.WithComponent(component)
}

// ExecutorClient keeps a stale-tolerant local copy of the variables an
// executor acts with. Every updatePeriod observed steps it starts a
// background fetch; the executor keeps acting on the cached values until the
// fetch lands.
type ExecutorClient struct {
	source  Source
	keys    []string
	period  int64
	counter *core.StepCounter
	logger  *logging.TrainingLogger

	// fetchMu serializes pulls so a slower, older pull never replaces the
	// cache after a newer one.
	fetchMu sync.Mutex

	mu       sync.Mutex
	cache    Collection
	inflight chan struct{}
	lastErr  error

	ctx    context.Context
	cancel context.CancelFunc
}

// NewExecutorClient creates a client for keys, pulling every updatePeriod
// steps. An updatePeriod below 1 pulls on every step.
func NewExecutorClient(source Source, keys []string, updatePeriod int, optFns ...func(o *ClientOptions)) *ExecutorClient {
	if updatePeriod < 1 {
		updatePeriod = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ExecutorClient{
		source:  source,
		keys:    slices.Clone(keys),
		period:  int64(updatePeriod),
		counter: core.NewStepCounter(0),
		logger:  clientLogger(optFns, "executor_variable_client"),
		cache:   Collection{},
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Keys returns the variable names this client tracks.
func (c *ExecutorClient) Keys() []string { return slices.Clone(c.keys) }

// Steps returns the number of observed environment steps.
func (c *ExecutorClient) Steps() int64 { return c.counter.Count() }

// Observe records one environment step and starts a background fetch when
// the update period is reached. It never blocks on the network.
func (c *ExecutorClient) Observe() {
	n, _ := c.counter.Increment()
	if n%c.period == 0 {
		c.Fetch()
	}
}

// Fetch starts a background fetch unless one is already in flight.
func (c *ExecutorClient) Fetch() {
	c.mu.Lock()
	if c.inflight != nil {
		c.mu.Unlock()
		return
	}
	done := make(chan struct{})
	c.inflight = done
	c.mu.Unlock()

	go func() {
		defer close(done)
		c.fetchMu.Lock()
		defer c.fetchMu.Unlock()
		vars, err := c.pull(c.ctx)

		c.mu.Lock()
		defer c.mu.Unlock()
		c.inflight = nil
		c.lastErr = err
		if err == nil {
			c.cache = vars
		}
	}()
}

func (c *ExecutorClient) pull(ctx context.Context) (Collection, error) {
	start := time.Now()
	vars, err := c.source.GetVariables(ctx, c.keys...)
	c.logger.LogVariableSync("pull", c.keys, time.Since(start), err)
	return vars, err
}

// Wait blocks until the in-flight fetch, if any, has completed and returns
// its error.
func (c *ExecutorClient) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.inflight
	c.mu.Unlock()

	if done != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// GetAndWait fetches synchronously, replacing the cache. A background fetch
// already in flight completes first.
func (c *ExecutorClient) GetAndWait(ctx context.Context) error {
	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()
	vars, err := c.pull(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = err
	if err != nil {
		return err
	}
	c.cache = vars
	return nil
}

// Variables returns the cached collection. The returned map is replaced, not
// mutated, by later fetches; callers must not modify it.
func (c *ExecutorClient) Variables() Collection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache
}

// Err returns the error of the last completed fetch.
func (c *ExecutorClient) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Close cancels any in-flight fetch.
func (c *ExecutorClient) Close() { c.cancel() }

// TrainerClient pushes a trainer's updated parameters to the server
// synchronously after every optimisation step.
type TrainerClient struct {
	source Source
	keys   []string
	logger *logging.TrainingLogger

	mu    sync.Mutex
	cache Collection
}

// NewTrainerClient creates a client owning keys.
func NewTrainerClient(source Source, keys []string, optFns ...func(o *ClientOptions)) *TrainerClient {
	return &TrainerClient{
		source: source,
		keys:   slices.Clone(keys),
		logger: clientLogger(optFns, "trainer_variable_client"),
		cache:  Collection{},
	}
}

// Keys returns the variable names this client owns.
func (c *TrainerClient) Keys() []string { return slices.Clone(c.keys) }

// Get refreshes the local copy from the server.
func (c *TrainerClient) Get(ctx context.Context) error {
	start := time.Now()
	vars, err := c.source.GetVariables(ctx, c.keys...)
	c.logger.LogVariableSync("pull", c.keys, time.Since(start), err)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.cache = vars
	c.mu.Unlock()
	return nil
}

// Set pushes values to the server and updates the local copy. Every name
// must be owned by this client.
func (c *TrainerClient) Set(ctx context.Context, values Collection) error {
	for name := range values {
		if !slices.Contains(c.keys, name) {
			return fmt.Errorf("%w: trainer client does not own %q", ErrUnknownVariable, name)
		}
	}

	start := time.Now()
	err := c.source.SetVariables(ctx, values)
	c.logger.LogVariableSync("push", values.Names(), time.Since(start), err)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.cache.Clone()
	for name, v := range values {
		next[name] = v.Clone()
	}
	c.cache = next
	return nil
}

// Add accumulates deltas on the server, typically step counters.
func (c *TrainerClient) Add(ctx context.Context, deltas map[string]Tensor) error {
	return c.source.AddToVariables(ctx, deltas)
}

// Variables returns the local copy; callers must not modify it.
func (c *TrainerClient) Variables() Collection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache
}
