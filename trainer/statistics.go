package trainer

import (
	"sort"
	"sync"

	"gonum.org/v1/gonum/stat"
)

// Statistics keeps a sliding window of per-step metrics.
type Statistics struct {
	mu      sync.Mutex
	window  int
	last    int64
	history map[string][]float64
}

// NewStatistics keeps the last window values per metric; window <= 0 keeps
// 100.
func NewStatistics(window int) *Statistics {
	if window <= 0 {
		window = 100
	}
	return &Statistics{window: window, history: map[string][]float64{}}
}

// Record adds the metrics of step.
func (s *Statistics) Record(step int64, metrics map[string]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = step
	for name, v := range metrics {
		h := append(s.history[name], v)
		if len(h) > s.window {
			h = h[len(h)-s.window:]
		}
		s.history[name] = h
	}
}

// Summary describes one metric over the window.
type Summary struct {
	Last  float64
	Mean  float64
	Std   float64
	Count int
}

// Step returns the last recorded step.
func (s *Statistics) Step() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Names returns the recorded metric names in sorted order.
func (s *Statistics) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.history))
	for name := range s.history {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Summary summarises metric name; ok is false when it was never recorded.
func (s *Statistics) Summary(name string) (Summary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.history[name]
	if !ok || len(h) == 0 {
		return Summary{}, false
	}
	mean, std := stat.MeanStdDev(h, nil)
	if len(h) < 2 {
		std = 0
	}
	return Summary{Last: h[len(h)-1], Mean: mean, Std: std, Count: len(h)}, true
}
