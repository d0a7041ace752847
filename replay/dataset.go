package replay

import (
	"context"
	"errors"
	"sync"

	"github.com/hupe1980/marlmesh/logging"
)

// Batch is a group of samples drawn together.
type Batch struct {
	Keys          []uint64
	Items         []Item
	Priorities    []float64
	Probabilities []float64
}

// Len returns the number of samples in the batch.
func (b Batch) Len() int { return len(b.Items) }

// Field returns the values of field for every item in the batch.
func (b Batch) Field(field string) [][]float64 {
	out := make([][]float64, len(b.Items))
	for i, it := range b.Items {
		out[i] = it[field]
	}
	return out
}

func newBatch(samples []Sample) Batch {
	b := Batch{
		Keys:          make([]uint64, len(samples)),
		Items:         make([]Item, len(samples)),
		Priorities:    make([]float64, len(samples)),
		Probabilities: make([]float64, len(samples)),
	}
	for i, s := range samples {
		b.Keys[i] = s.Key
		b.Items[i] = s.Item
		b.Priorities[i] = s.Priority
		b.Probabilities[i] = s.Probability
	}
	return b
}

// DatasetOptions configures a Dataset.
type DatasetOptions struct {
	BatchSize int
	// PrefetchSize is the number of batches sampled ahead in the background.
	// Zero samples synchronously on Next.
	PrefetchSize int
	Logger       logging.Logger
}

// ErrDatasetClosed is returned by Next after Close.
var ErrDatasetClosed = errors.New("dataset closed")

// Dataset lazily yields batches from one table. It is infinite and cannot be
// rewound; create a new Dataset to restart. Next blocks while the table's rate
// limiter forbids sampling, for example before min_replay_size items exist.
type Dataset struct {
	client    Client
	table     string
	batchSize int
	prefetch  int
	logger    logging.Logger

	startOnce sync.Once
	batches   chan batchResult
	ctx       context.Context
	cancel    context.CancelFunc
}

type batchResult struct {
	batch Batch
	err   error
}

// NewDataset creates a dataset over table.
func NewDataset(client Client, table string, optFns ...func(o *DatasetOptions)) *Dataset {
	opts := DatasetOptions{BatchSize: 1, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dataset{
		client:    client,
		table:     table,
		batchSize: opts.BatchSize,
		prefetch:  opts.PrefetchSize,
		logger:    logging.OrNoOp(opts.Logger),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Table returns the table this dataset samples from.
func (d *Dataset) Table() string { return d.table }

// BatchSize returns the number of samples per batch.
func (d *Dataset) BatchSize() int { return d.batchSize }

// Next returns the next batch.
func (d *Dataset) Next(ctx context.Context) (Batch, error) {
	if d.ctx.Err() != nil {
		return Batch{}, ErrDatasetClosed
	}
	if d.prefetch <= 0 {
		return d.sample(ctx)
	}

	d.startOnce.Do(d.startPrefetch)
	select {
	case <-ctx.Done():
		return Batch{}, ctx.Err()
	case <-d.ctx.Done():
		return Batch{}, ErrDatasetClosed
	case r := <-d.batches:
		return r.batch, r.err
	}
}

func (d *Dataset) sample(ctx context.Context) (Batch, error) {
	samples, err := d.client.Sample(ctx, d.table, d.batchSize)
	if err != nil {
		return Batch{}, err
	}
	return newBatch(samples), nil
}

func (d *Dataset) startPrefetch() {
	d.batches = make(chan batchResult, d.prefetch)
	go func() {
		for {
			b, err := d.sample(d.ctx)
			if d.ctx.Err() != nil {
				return
			}
			if err != nil {
				d.logger.Warn("dataset prefetch failed", "table", d.table, "error", err)
			}
			select {
			case d.batches <- batchResult{batch: b, err: err}:
			case <-d.ctx.Done():
				return
			}
		}
	}()
}

// Close stops background prefetching.
func (d *Dataset) Close() {
	d.cancel()
}
