package stats

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCollectorSummarizesAndResets(t *testing.T) {
	c := New()
	for _, v := range []float64{0.1, 0.2, 0.3, 0.4, 0.5} {
		c.Add("decode_s", v)
	}
	c.Set("active_tasks", 3)
	c.Increment("dropped_count", 5)
	c.Increment("dropped_count", 2)

	snap := c.SnapshotAndReset()

	sample, ok := snap.Samples["decode_s"]
	require.True(t, ok)
	require.Equal(t, 5, sample.Count)
	require.InDelta(t, 0.1, sample.Min, 1e-9)
	require.InDelta(t, 0.5, sample.Max, 1e-9)
	require.InDelta(t, 0.3, sample.Avg, 1e-9)

	require.Equal(t, int64(3), snap.Gauges["active_tasks"])
	require.Equal(t, int64(7), snap.Gauges["dropped_count"])

	// Reset: a second snapshot sees nothing left over.
	snap2 := c.SnapshotAndReset()
	require.Empty(t, snap2.Samples)
	require.Empty(t, snap2.Gauges)
}

func TestCollectorFPSDerivedFromTotalS(t *testing.T) {
	c := New()
	for i := 0; i < 10; i++ {
		c.Add("total_s", 0.01)
	}
	snap := c.SnapshotAndReset()
	require.True(t, snap.HasFPS)
	require.Greater(t, snap.FPS, 0.0)
}

func TestCollectorNoFPSWithoutTotalSSeries(t *testing.T) {
	c := New()
	c.Add("decode_s", 0.05)
	snap := c.SnapshotAndReset()
	require.False(t, snap.HasFPS)
}
