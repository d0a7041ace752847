package core

import (
	"errors"
	"fmt"
	"sync"
)

// ErrLimitReached is returned by StepCounter.Increment once the limit is exceeded.
var ErrLimitReached = errors.New("step limit reached")

// StepCounter is a thread-safe step counter with an optional upper limit.
// Executors use it to schedule variable pulls; trainers use it to bound runs.
type StepCounter struct {
	max   int64
	count int64
	mu    sync.Mutex
}

// NewStepCounter creates a new counter. If max == 0, counting is unlimited.
func NewStepCounter(max int64) *StepCounter {
	return &StepCounter{max: max}
}

// Increment adds one step and returns the new count. It returns
// ErrLimitReached when the increment exceeds the limit.
func (c *StepCounter) Increment() (int64, error) {
	return c.Add(1)
}

// Add adds n steps and returns the new count.
func (c *StepCounter) Add(n int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.count += n
	if c.max > 0 && c.count > c.max {
		return c.count, fmt.Errorf("%w: %d", ErrLimitReached, c.max)
	}

	return c.count, nil
}

// Count returns the current number of steps.
func (c *StepCounter) Count() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.count
}

// Remaining returns how many steps are left before hitting the limit.
func (c *StepCounter) Remaining() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.max == 0 {
		return -1 // unlimited
	}

	return c.max - c.count
}
