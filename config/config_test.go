package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func clearVideoDepthEnv(t *testing.T) {
	t.Helper()
	for _, env := range os.Environ() {
		for i := 0; i < len(env); i++ {
			if env[i] == '=' {
				if len(env) > 11 && env[:11] == "VIDEO_DEPTH" {
					os.Unsetenv(env[:i])
				}
				break
			}
		}
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearVideoDepthEnv(t)

	s, err := Load()
	require.NoError(t, err)
	require.Equal(t, "tmp/sessions", s.DataRoot)
	require.Equal(t, 8, s.CacheSize)
	require.Equal(t, 640, s.ProcessRes)
	require.Equal(t, 3, s.InferWorkers)
	require.Equal(t, 1, s.Downsample)
	require.Equal(t, 16, s.DecoderPoolSize)
	require.Equal(t, 1000.0, s.StreamWindowMs)
	require.Equal(t, 360, s.MaxScanFrames)
	require.Equal(t, 32, s.IntakeQueueSize)
	require.Equal(t, 16, s.MaxConcurrentTasks)
	require.Equal(t, 33.0, s.CacheToleranceMs)
	require.Equal(t, ":8088", s.HTTPAddr)
	require.Equal(t, 5*time.Second, s.ReportInterval())
	require.False(t, s.CompressDepth())
}

func TestLoadReadsOverriddenEnv(t *testing.T) {
	clearVideoDepthEnv(t)
	os.Setenv("VIDEO_DEPTH_PROCESS_RES", "960")
	os.Setenv("VIDEO_DEPTH_COMPRESSION", "1")
	os.Setenv("VIDEO_DEPTH_CORS_ORIGINS", "https://a.example, https://b.example")
	defer clearVideoDepthEnv(t)

	s, err := Load()
	require.NoError(t, err)
	require.Equal(t, 960, s.ProcessRes)
	require.True(t, s.CompressDepth())
	require.Equal(t, []string{"https://a.example", "https://b.example"}, s.CORSOriginList())
}

func TestCORSOriginListEmptyWhenUnset(t *testing.T) {
	var s Settings
	require.Nil(t, s.CORSOriginList())
}
