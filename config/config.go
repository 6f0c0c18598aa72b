// Package config loads process-wide settings from the environment (and an
// optional .env file), in the spirit of the VIDEO_DEPTH_* variables the
// spec names plus the handful of additional knobs the decoder and pipeline
// packages expose.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Settings is the full set of environment-driven knobs for depthstreamd.
type Settings struct {
	DataRoot      string `envconfig:"VIDEO_DEPTH_DATA_ROOT" default:"tmp/sessions"`
	CacheSize     int    `envconfig:"VIDEO_DEPTH_CACHE" default:"8"`
	ModelID       string `envconfig:"VIDEO_DEPTH_MODEL_ID" default:""`
	ProcessRes    int    `envconfig:"VIDEO_DEPTH_PROCESS_RES" default:"640"`
	InferWorkers  int    `envconfig:"VIDEO_DEPTH_INFER_WORKERS" default:"3"`
	Downsample    int    `envconfig:"VIDEO_DEPTH_DOWNSAMPLE" default:"1"`
	Compression   int    `envconfig:"VIDEO_DEPTH_COMPRESSION" default:"0"`
	CORSOrigins   string `envconfig:"VIDEO_DEPTH_CORS_ORIGINS" default:""`
	ProfileTiming bool   `envconfig:"VIDEO_DEPTH_PROFILE_TIMING" default:"false"`
	LogLevel      string `envconfig:"VIDEO_DEPTH_LOG_LEVEL" default:"info"`

	// Additional knobs the decoder and pipeline packages need a concrete
	// value for: decoder pool sizing, the seek/stream-forward window and
	// scan bound, queue/admission sizing, cache tolerance, reporting, and
	// the HTTP listen address.
	DecoderPoolSize     int     `envconfig:"VIDEO_DEPTH_DECODER_POOL_SIZE" default:"16"`
	StreamWindowMs      float64 `envconfig:"VIDEO_DEPTH_STREAM_WINDOW_MS" default:"1000"`
	MaxScanFrames       int     `envconfig:"VIDEO_DEPTH_MAX_SCAN_FRAMES" default:"360"`
	IntakeQueueSize     int     `envconfig:"VIDEO_DEPTH_INTAKE_QUEUE_SIZE" default:"32"`
	MaxConcurrentTasks  int     `envconfig:"VIDEO_DEPTH_MAX_CONCURRENT_TASKS" default:"16"`
	CacheToleranceMs    float64 `envconfig:"VIDEO_DEPTH_CACHE_TOLERANCE_MS" default:"33"`
	ReportIntervalS     int     `envconfig:"VIDEO_DEPTH_REPORT_INTERVAL_S" default:"5"`
	HTTPAddr            string  `envconfig:"VIDEO_DEPTH_HTTP_ADDR" default:":8088"`
	ClearCacheOverride  bool    `envconfig:"VIDEO_DEPTH_CLEAR_CACHE" default:"false"`
}

// CORSOriginList splits CORSOrigins on commas, trimming whitespace and
// dropping empty entries.
func (s Settings) CORSOriginList() []string {
	if s.CORSOrigins == "" {
		return nil
	}
	parts := strings.Split(s.CORSOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ReportInterval is ReportIntervalS as a time.Duration, for direct use by
// the pipeline reporter.
func (s Settings) ReportInterval() time.Duration {
	return time.Duration(s.ReportIntervalS) * time.Second
}

// CompressDepth reports whether the configured compression level enables
// deflate on the wire payload.
func (s Settings) CompressDepth() bool {
	return s.Compression > 0
}

// Load reads a .env file if present (missing is not an error) and then
// binds Settings from the environment.
func Load() (Settings, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Settings{}, fmt.Errorf("config: load .env: %w", err)
	}

	var s Settings
	if err := envconfig.Process("", &s); err != nil {
		return Settings{}, fmt.Errorf("config: bind environment: %w", err)
	}
	return s, nil
}
