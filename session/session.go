// Package session wires the decoder pool, depth cache, rolling telemetry,
// and adaptive quality controller into one per-upload container, and tracks
// the set of live sessions.
package session

import (
	"sync"

	"github.com/vdstream/depthstream/decoder"
	"github.com/vdstream/depthstream/depthcache"
	"github.com/vdstream/depthstream/quality"
)

const ema = 0.1

// Config carries the per-session knobs derived from process configuration
// (see package config) that the adaptive controller and pipeline need.
type Config struct {
	InferenceWorkers  int
	ProcessRes        int
	DownsampleFactor  int
	CacheToleranceMs  float64
	CompressDepth     bool
}

// RollingStats holds the EMA-smoothed per-session figures the controller and
// status endpoint read. Zero value is the "no samples yet" state.
type RollingStats struct {
	InferAvgS  float64
	QueueAvgS  float64
	WsSendAvgS float64
	DecodeAvgS float64
	LatencyMs  float64
	DepthFPS   float64
	DropCount  int64
}

func (r RollingStats) copy() RollingStats { return r }

// BufferSnapshot is the read-only view returned for the status endpoint.
type BufferSnapshot struct {
	BufferLength    int
	LastDepthTimeMs *float64
	Telemetry       map[string]float64
	RollingStats    RollingStats
}

// Session is a single uploaded video's live state: its decoder pool, depth
// cache, telemetry, and adaptive controller. store_depth_frame,
// update_telemetry, get_cached_depth, and buffer_snapshot are mutually
// exclusive on mu.
type Session struct {
	ID         string
	SourcePath string
	Metadata   decoder.Metadata
	Config     Config

	pool *decoder.Pool

	mu              sync.Mutex
	cache           *depthcache.Cache
	lastDepthTimeMs *float64
	telemetry       map[string]float64
	stats           RollingStats
	controller      *quality.Controller
}

// New constructs a Session around an already-open decoder pool. The manager
// uses this when it owns the upload's file lifecycle; fixtures and tests
// that build a pool directly (decoder.OpenMemoryPool) can use it too.
func New(id, sourcePath string, meta decoder.Metadata, pool *decoder.Pool, cfg Config, cacheCapacity int) *Session {
	s := &Session{
		ID:         id,
		SourcePath: sourcePath,
		Metadata:   meta,
		Config:     cfg,
		pool:       pool,
		cache:      depthcache.New(cacheCapacity),
		telemetry:  map[string]float64{"quality_process_res": float64(cfg.ProcessRes)},
		controller: quality.New(cfg.ProcessRes),
	}
	return s
}

// Pool exposes the session's decoder pool to the pipeline.
func (s *Session) Pool() *decoder.Pool { return s.pool }

// StoreDepthFrame appends a newly produced depth frame to the cache and
// records its timestamp as the most recent one seen.
func (s *Session) StoreDepthFrame(frame depthcache.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Store(frame)
	ts := frame.TimestampMs
	s.lastDepthTimeMs = &ts
}

// GetCachedDepth looks up a cached frame within toleranceMs of timeMs.
func (s *Session) GetCachedDepth(timeMs, toleranceMs float64, dropOnHit bool) (depthcache.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Get(timeMs, toleranceMs, dropOnHit)
}

// UpdateTelemetry merges metrics into the telemetry map, folds recognized
// keys into the rolling EMAs (alpha = 0.1), accumulates drop counts
// additively, derives depth_fps from total_s samples, and runs the adaptive
// controller.
func (s *Session) UpdateTelemetry(metrics map[string]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range metrics {
		s.telemetry[k] = v
	}

	for key, val := range metrics {
		switch key {
		case "dropped":
			s.stats.DropCount += int64(val)
		case "infer_s":
			s.stats.InferAvgS = emaUpdate(s.stats.InferAvgS, val)
		case "queue_wait_s":
			s.stats.QueueAvgS = emaUpdate(s.stats.QueueAvgS, val)
		case "ws_send_s":
			s.stats.WsSendAvgS = emaUpdate(s.stats.WsSendAvgS, val)
		case "decode_s":
			s.stats.DecodeAvgS = emaUpdate(s.stats.DecodeAvgS, val)
		case "latency_ms":
			s.stats.LatencyMs = emaUpdate(s.stats.LatencyMs, val)
		}
	}

	if totalS, ok := metrics["total_s"]; ok && totalS > 0 {
		s.stats.DepthFPS = emaUpdate(s.stats.DepthFPS, 1.0/totalS)
	}

	newRes, changed := s.controller.Adjust(s.stats.InferAvgS, s.stats.QueueAvgS, s.stats.LatencyMs)
	if changed {
		s.telemetry["quality_process_res"] = float64(newRes)
	}
}

func emaUpdate(current, sample float64) float64 {
	if current == 0 {
		return sample
	}
	return ema*sample + (1-ema)*current
}

// CurrentProcessRes returns the controller's live resolution, the value
// pipeline tasks should use for inference on their next request.
func (s *Session) CurrentProcessRes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.controller.Current()
}

// BufferSnapshot returns a consistent, copied view of the session's buffer
// state for the status endpoint.
func (s *Session) BufferSnapshot() BufferSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	telemetry := make(map[string]float64, len(s.telemetry))
	for k, v := range s.telemetry {
		telemetry[k] = v
	}

	var last *float64
	if s.lastDepthTimeMs != nil {
		v := *s.lastDepthTimeMs
		last = &v
	}

	return BufferSnapshot{
		BufferLength:    s.cache.Len(),
		LastDepthTimeMs: last,
		Telemetry:       telemetry,
		RollingStats:    s.stats.copy(),
	}
}

// Close releases the session's decoder pool. It does not touch files on
// disk; the manager owns the file layout.
func (s *Session) Close() error {
	return s.pool.Close()
}
