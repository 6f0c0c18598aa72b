package decoder

import "sync"

// Pool maintains N independent decoders over the same source, dispatching
// decode_at requests to whichever free decoder is cheapest to use: one
// already positioned near the requested timestamp, or (failing that) the
// most recently released decoder, to keep "hot" decoders active.
type Pool struct {
	mu        sync.Mutex
	cond      *sync.Cond
	decoders  []*FrameDecoder
	free      []*FrameDecoder
}

// OpenPool opens count independent FrameDecoders over path. count should
// equal the pipeline's max concurrent task count to avoid decoder
// starvation.
func OpenPool(path string, count int) (*Pool, error) {
	if count <= 0 {
		count = 1
	}
	p := &Pool{}
	p.cond = sync.NewCond(&p.mu)

	for i := 0; i < count; i++ {
		d, err := Open(path)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.decoders = append(p.decoders, d)
		p.free = append(p.free, d)
	}
	return p, nil
}

// Metadata peeks at one decoder's (shared) metadata.
func (p *Pool) Metadata() Metadata {
	d := p.acquire(0)
	defer p.release(d)
	return d.Metadata()
}

// DecodeAt blocks until a decoder is free, dispatches the request to it
// (locality preference, then LIFO fallback), and returns it to the free set
// afterward.
func (p *Pool) DecodeAt(timeMs float64) (Frame, FrameInfo, error) {
	d := p.acquire(timeMs)
	defer p.release(d)
	return d.DecodeAt(timeMs)
}

func (p *Pool) acquire(timeMs float64) *FrameDecoder {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.free) == 0 {
		p.cond.Wait()
	}

	for i, d := range p.free {
		if d.ShouldStreamForward(timeMs) {
			p.free = append(p.free[:i], p.free[i+1:]...)
			return d
		}
	}

	// Fallback: pop the most-recently-released decoder (LIFO) to preserve
	// hotness.
	last := len(p.free) - 1
	d := p.free[last]
	p.free = p.free[:last]
	return d
}

func (p *Pool) release(d *FrameDecoder) {
	p.mu.Lock()
	p.free = append(p.free, d)
	p.mu.Unlock()
	p.cond.Signal()
}

// Close releases every decoder in the pool.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var first error
	for _, d := range p.decoders {
		if err := d.Close(); err != nil && first == nil {
			first = err
		}
	}
	p.decoders = nil
	p.free = nil
	return first
}
