package replay

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// TableSpec declares a replay table.
type TableSpec struct {
	Name    string   `yaml:"name" cbor:"name"`
	Sampler Selector `yaml:"sampler" cbor:"sampler"`
	Remover Selector `yaml:"remover" cbor:"remover"`
	MaxSize int      `yaml:"max_size" cbor:"max_size"`

	// MaxTimesSampled removes an item after it was sampled this many times.
	// Zero means unlimited.
	MaxTimesSampled int `yaml:"max_times_sampled" cbor:"max_times_sampled"`

	// PriorityExponent shapes Prioritized sampling; defaults to 1.
	PriorityExponent float64 `yaml:"priority_exponent,omitempty" cbor:"priority_exponent,omitempty"`

	RateLimiter RateLimiterSpec `yaml:"rate_limiter" cbor:"rate_limiter"`
	Signature   Signature       `yaml:"signature,omitempty" cbor:"signature,omitempty"`
}

// Queue reports whether the table consumes items exactly once in order.
func (s TableSpec) Queue() bool {
	return s.Sampler == Fifo && s.Remover == Fifo && s.MaxTimesSampled == 1
}

// Validate enforces the table invariants: a name, positive capacity, valid
// and mutually consistent sampler and remover, and a valid rate limiter.
func (s TableSpec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidTable)
	}
	if s.MaxSize <= 0 {
		return fmt.Errorf("%w: table %q: max_size must be positive, got %d", ErrInvalidTable, s.Name, s.MaxSize)
	}
	if !s.Sampler.Valid() {
		return fmt.Errorf("%w: table %q: unknown sampler %q", ErrInvalidTable, s.Name, s.Sampler)
	}
	if !s.Remover.Valid() {
		return fmt.Errorf("%w: table %q: unknown remover %q", ErrInvalidTable, s.Name, s.Remover)
	}
	if s.Sampler == s.Remover && !s.Queue() {
		return fmt.Errorf("%w: table %q: sampler and remover are both %q; only a fifo queue with max_times_sampled 1 may share a policy",
			ErrInvalidTable, s.Name, s.Sampler)
	}
	if s.MaxTimesSampled < 0 {
		return fmt.Errorf("%w: table %q: negative max_times_sampled", ErrInvalidTable, s.Name)
	}
	if err := s.RateLimiter.Validate(); err != nil {
		return fmt.Errorf("%w: table %q: %v", ErrInvalidTable, s.Name, err)
	}
	return nil
}

// Sample is one sampled item plus sampling metadata.
type Sample struct {
	Key          uint64  `cbor:"key"`
	Item         Item    `cbor:"item"`
	Priority     float64 `cbor:"priority"`
	Probability  float64 `cbor:"probability"`
	TimesSampled int     `cbor:"times_sampled"`
	TableSize    int     `cbor:"table_size"`
}

// TableInfo is a point-in-time view of a table.
type TableInfo struct {
	Name    string `cbor:"name"`
	Size    int    `cbor:"size"`
	MaxSize int    `cbor:"max_size"`
	Inserts int64  `cbor:"inserts"`
	Samples int64  `cbor:"samples"`
	Deletes int64  `cbor:"deletes"`
}

type entry struct {
	key          uint64
	item         Item
	priority     float64
	timesSampled int
}

// Table is an in-memory replay table.
//
// Insert and Sample block while the rate limiter forbids them and return
// early when ctx is done or the table is closed. Items inserted by one
// goroutine keep their relative order.
type Table struct {
	spec TableSpec

	mu      sync.Mutex
	cond    *sync.Cond
	entries []*entry
	inserts int64
	samples int64
	deletes int64
	nextKey uint64
	closed  bool
	rng     *rand.Rand
}

// NewTable validates spec and creates an empty table.
func NewTable(spec TableSpec) (*Table, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if spec.PriorityExponent == 0 {
		spec.PriorityExponent = 1
	}
	t := &Table{
		spec: spec,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	t.cond = sync.NewCond(&t.mu)
	return t, nil
}

// Name returns the table name.
func (t *Table) Name() string { return t.spec.Name }

// Spec returns the table spec.
func (t *Table) Spec() TableSpec { return t.spec }

// Seed makes sampling deterministic.
func (t *Table) Seed(seed int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rng = rand.New(rand.NewSource(seed))
}

// wait blocks until ok holds. t.mu must be held.
func (t *Table) wait(ctx context.Context, ok func() bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ok() {
		return nil
	}
	stop := context.AfterFunc(ctx, func() {
		t.mu.Lock()
		t.cond.Broadcast()
		t.mu.Unlock()
	})
	defer stop()

	for !ok() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if t.closed {
			return ErrTableClosed
		}
		t.cond.Wait()
	}
	return nil
}

// Insert adds item with the given priority, evicting according to the
// remover when the table is full.
func (t *Table) Insert(ctx context.Context, item Item, priority float64) (uint64, error) {
	if err := t.spec.Signature.Check(item); err != nil {
		return 0, fmt.Errorf("table %q: %w", t.spec.Name, err)
	}
	item = item.Clone()

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, ErrTableClosed
	}
	err := t.wait(ctx, func() bool {
		return t.closed || t.spec.RateLimiter.canInsert(len(t.entries), t.inserts, t.samples)
	})
	if err != nil {
		return 0, err
	}
	if t.closed {
		return 0, ErrTableClosed
	}

	if len(t.entries) >= t.spec.MaxSize {
		idx, _ := t.spec.Remover.pick(t.entries, t.spec.PriorityExponent, t.rng)
		t.removeAt(idx)
	}

	t.nextKey++
	t.entries = append(t.entries, &entry{key: t.nextKey, item: item, priority: priority})
	t.inserts++
	t.cond.Broadcast()
	return t.nextKey, nil
}

// SampleOne blocks until the rate limiter allows a sample and returns it.
func (t *Table) SampleOne(ctx context.Context) (Sample, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	err := t.wait(ctx, func() bool {
		return t.closed || t.spec.RateLimiter.canSample(len(t.entries), t.inserts, t.samples)
	})
	if err != nil {
		return Sample{}, err
	}
	if t.closed {
		return Sample{}, ErrTableClosed
	}

	idx, prob := t.spec.Sampler.pick(t.entries, t.spec.PriorityExponent, t.rng)
	e := t.entries[idx]
	e.timesSampled++
	t.samples++

	s := Sample{
		Key:          e.key,
		Item:         e.item.Clone(),
		Priority:     e.priority,
		Probability:  prob,
		TimesSampled: e.timesSampled,
		TableSize:    len(t.entries),
	}

	if t.spec.MaxTimesSampled > 0 && e.timesSampled >= t.spec.MaxTimesSampled {
		t.removeAt(idx)
	}
	t.cond.Broadcast()
	return s, nil
}

// Sample draws n samples, blocking for each as required.
func (t *Table) Sample(ctx context.Context, n int) ([]Sample, error) {
	out := make([]Sample, 0, n)
	for i := 0; i < n; i++ {
		s, err := t.SampleOne(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// UpdatePriorities sets new priorities for the given keys. Keys no longer in
// the table are ignored.
func (t *Table) UpdatePriorities(priorities map[uint64]float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.entries {
		if p, ok := priorities[e.key]; ok {
			e.priority = p
		}
	}
}

// Info returns the current table counters.
func (t *Table) Info() TableInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TableInfo{
		Name:    t.spec.Name,
		Size:    len(t.entries),
		MaxSize: t.spec.MaxSize,
		Inserts: t.inserts,
		Samples: t.samples,
		Deletes: t.deletes,
	}
}

// Close wakes every blocked caller with ErrTableClosed.
func (t *Table) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.cond.Broadcast()
}

func (t *Table) removeAt(i int) {
	copy(t.entries[i:], t.entries[i+1:])
	t.entries[len(t.entries)-1] = nil
	t.entries = t.entries[:len(t.entries)-1]
	t.deletes++
}
