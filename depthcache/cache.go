// Package depthcache implements the small per-session ring buffer of
// recently produced depth frames. It is a freshness buffer, not a general
// cache: a hit discards everything at or before it.
package depthcache

import (
	"sync"

	"github.com/vdstream/depthstream/depthcodec"
)

// Frame is a produced depth frame, owned by the cache once stored.
type Frame struct {
	TimestampMs float64
	Depth       depthcodec.DepthMap
	ZMin, ZMax  float32
}

// Cache is a bounded, append-only-until-full ring keyed by frame timestamp.
type Cache struct {
	mu       sync.Mutex
	frames   []Frame
	capacity int
}

// New constructs a cache with the given capacity (default 8 frames).
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = 8
	}
	return &Cache{capacity: capacity}
}

// Store appends frame, evicting the oldest entry first if the cache is at
// capacity.
func (c *Cache) Store(frame Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.frames) >= c.capacity {
		c.frames = c.frames[1:]
	}
	c.frames = append(c.frames, frame)
}

// Get scans from newest to oldest for the first frame within toleranceMs of
// timeMs. When dropOnHit is true, the hit and every older entry are removed
// from the cache (this is a one-shot freshness buffer: the next request is
// almost always a later timestamp).
func (c *Cache) Get(timeMs, toleranceMs float64, dropOnHit bool) (Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for idx := len(c.frames) - 1; idx >= 0; idx-- {
		cached := c.frames[idx]
		delta := cached.TimestampMs - timeMs
		if delta < 0 {
			delta = -delta
		}
		if delta <= toleranceMs {
			if dropOnHit {
				c.frames = c.frames[idx+1:]
			}
			return cached, true
		}
	}
	return Frame{}, false
}

// Len reports the number of frames currently stored.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}
