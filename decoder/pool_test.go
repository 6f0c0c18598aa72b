package decoder

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newFakePool(n int, framesPerDecoder int, stepMs float64) *Pool {
	p := &Pool{}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < n; i++ {
		src := newFakeSource(sequentialTimestamps(framesPerDecoder, stepMs))
		d := newFrameDecoder(src)
		p.decoders = append(p.decoders, d)
		p.free = append(p.free, d)
	}
	return p
}

func TestPoolDecodeAtServesConcurrentRequests(t *testing.T) {
	p := newFakePool(4, 1000, 33.3)

	var wg sync.WaitGroup
	for _, target := range []float64{0, 100, 200, 300, 400, 500} {
		target := target
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, info, err := p.DecodeAt(target)
			require.NoError(t, err)
			require.GreaterOrEqual(t, info.TimeMs, 0.0)
		}()
	}
	wg.Wait()
}

func TestPoolBlocksUntilDecoderFree(t *testing.T) {
	p := newFakePool(1, 1000, 33.3)

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		d := p.acquire(0)
		close(started)
		<-release
		p.release(d)
	}()

	<-started
	done := make(chan struct{})
	go func() {
		p.DecodeAt(0)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("DecodeAt returned while the only decoder was held")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("DecodeAt never unblocked after the decoder was released")
	}
}

func TestPoolPrefersLocalDecoderOverReseeking(t *testing.T) {
	p := newFakePool(2, 1000, 33.3)

	// Warm decoder 0 at time 0, decoder 1 stays cold (never used).
	_, _, err := p.decoders[0].DecodeAt(0)
	require.NoError(t, err)
	p.free = []*FrameDecoder{p.decoders[0], p.decoders[1]}

	d := p.acquire(33) // within decoder 0's stream window
	require.Same(t, p.decoders[0], d)
	p.release(d)
}
