package depthcache

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vdstream/depthstream/depthcodec"
)

func frameAt(ts float64) Frame {
	return Frame{TimestampMs: ts, Depth: depthcodec.NewDepthMap(2, 2), ZMin: 0, ZMax: 1}
}

func TestCacheNeverExceedsCapacity(t *testing.T) {
	c := New(3)
	for i := 0; i < 10; i++ {
		c.Store(frameAt(float64(i * 100)))
		require.LessOrEqual(t, c.Len(), 3)
	}
	require.Equal(t, 3, c.Len())
}

func TestCacheStoreThenGetRoundTrip(t *testing.T) {
	c := New(8)
	f := frameAt(500)
	c.Store(f)

	got, ok := c.Get(500, 0, false)
	require.True(t, ok)
	require.Equal(t, f.TimestampMs, got.TimestampMs)
}

func TestCacheGetWithinTolerance(t *testing.T) {
	c := New(8)
	c.Store(frameAt(500))

	_, ok := c.Get(520, 33, false)
	require.True(t, ok)

	_, ok = c.Get(600, 33, false)
	require.False(t, ok)
}

func TestCacheDropOnHitDiscardsOlderEntries(t *testing.T) {
	c := New(8)
	c.Store(frameAt(0))
	c.Store(frameAt(100))
	c.Store(frameAt(200))
	c.Store(frameAt(300))

	_, ok := c.Get(205, 33, true)
	require.True(t, ok)
	require.Equal(t, 1, c.Len(), "hit and everything older must be discarded; the newer 300 ms frame stays")
}

func TestCacheGetScansNewestFirst(t *testing.T) {
	c := New(8)
	c.Store(frameAt(100))
	c.Store(frameAt(110)) // equally close match inserted later

	got, ok := c.Get(105, 20, false)
	require.True(t, ok)
	require.Equal(t, float64(110), got.TimestampMs)
}
