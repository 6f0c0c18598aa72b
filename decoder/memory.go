package decoder

import "sync"

// MemoryFrame pairs a decoded Frame with its FrameInfo for NewMemoryDecoder.
type MemoryFrame struct {
	Frame Frame
	Info  FrameInfo
}

// memorySource replays a fixed, in-memory sequence of frames. It exists so
// callers that need real decode_at / pool-dispatch semantics - fixtures,
// smoke tests, other packages' unit tests - can get one without a real
// video file or gocv/OpenCV runtime.
type memorySource struct {
	frames []MemoryFrame
	cursor int
	meta   Metadata
}

func (s *memorySource) readNext() (Frame, FrameInfo, bool) {
	if s.cursor >= len(s.frames) {
		return Frame{}, FrameInfo{}, false
	}
	mf := s.frames[s.cursor]
	s.cursor++
	return mf.Frame, mf.Info, true
}

func (s *memorySource) seekMs(timeMs float64) error {
	idx := 0
	for i, mf := range s.frames {
		if mf.Info.TimeMs <= timeMs {
			idx = i
		} else {
			break
		}
	}
	s.cursor = idx
	return nil
}

func (s *memorySource) metadata() Metadata { return s.meta }
func (s *memorySource) close() error       { return nil }

// NewMemoryDecoder builds a FrameDecoder that replays frames in presentation
// order against the usual seek/stream-forward policy.
func NewMemoryDecoder(meta Metadata, frames []MemoryFrame) *FrameDecoder {
	return newFrameDecoder(&memorySource{frames: frames, meta: meta})
}

// OpenMemoryPool builds a Pool of count independent decoders, each replaying
// its own copy of the same in-memory frame sequence.
func OpenMemoryPool(meta Metadata, frames []MemoryFrame, count int) *Pool {
	if count <= 0 {
		count = 1
	}
	p := &Pool{}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < count; i++ {
		d := NewMemoryDecoder(meta, frames)
		p.decoders = append(p.decoders, d)
		p.free = append(p.free, d)
	}
	return p
}
