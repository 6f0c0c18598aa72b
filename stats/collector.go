// Package stats provides a thread-safe windowed accumulator for the
// per-connection 5-second reporter: timing samples, integer gauges, and a
// derived frames-per-second figure.
package stats

import (
	"sort"
	"sync"
	"time"
)

// Sample summarizes one key's accumulated float samples over a window.
type Sample struct {
	Min, Avg, Max, P95 float64
	Count              int
}

// Snapshot is the result of a snapshot-and-reset: per-key timing summaries,
// gauge values, and an optional fps figure derived from the "total_s" series.
type Snapshot struct {
	Samples map[string]Sample
	Gauges  map[string]int64
	FPS     float64
	HasFPS  bool
}

// Collector accumulates samples and gauges under a single mutex; the
// sample volume per reporting window is small enough that a lock-free
// structure would be overkill.
type Collector struct {
	mu         sync.Mutex
	data       map[string][]float64
	gauges     map[string]int64
	windowFrom time.Time
}

func New() *Collector {
	return &Collector{
		data:       make(map[string][]float64),
		gauges:     make(map[string]int64),
		windowFrom: time.Now(),
	}
}

// Add appends a timing/value sample under key.
func (c *Collector) Add(key string, v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = append(c.data[key], v)
}

// Set overwrites a gauge value.
func (c *Collector) Set(key string, v int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gauges[key] = v
}

// Increment adds delta to a gauge (used for monotonically accumulating
// counters like dropped request counts).
func (c *Collector) Increment(key string, delta int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gauges[key] += delta
}

// SnapshotAndReset returns the current window's summary and clears all
// state, restarting the window clock.
func (c *Collector) SnapshotAndReset() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(c.windowFrom).Seconds()

	snap := Snapshot{
		Samples: make(map[string]Sample, len(c.data)),
		Gauges:  make(map[string]int64, len(c.gauges)),
	}

	for key, values := range c.data {
		if len(values) == 0 {
			continue
		}
		snap.Samples[key] = summarize(values)
	}
	for key, v := range c.gauges {
		snap.Gauges[key] = v
	}

	if totalS, ok := snap.Samples["total_s"]; ok && elapsed > 0 {
		snap.FPS = float64(totalS.Count) / elapsed
		snap.HasFPS = true
	}

	c.data = make(map[string][]float64)
	c.gauges = make(map[string]int64)
	c.windowFrom = now

	return snap
}

func summarize(values []float64) Sample {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	min := sorted[0]
	max := sorted[len(sorted)-1]
	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	avg := sum / float64(len(sorted))

	idx := int(float64(len(sorted))*0.95 + 0.5)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	p95 := sorted[idx]

	return Sample{Min: min, Avg: avg, Max: max, P95: p95, Count: len(sorted)}
}
