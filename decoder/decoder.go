package decoder

import (
	"errors"
	"path/filepath"
)

// Tunable seek/scan parameters, exposed as variables rather than bare
// literals so callers (the config package) can override them via the
// VIDEO_DEPTH_STREAM_WINDOW_MS / VIDEO_DEPTH_MAX_SCAN_FRAMES knobs.
var (
	StreamWindowMs  = 1000.0
	MaxScanFrames   = 360
)

// ErrEndOfStream is returned by DecodeAt when the underlying source is
// exhausted before the call has read any frame.
var ErrEndOfStream = errors.New("decoder: end of stream")

// FrameDecoder is a single stateful decoder: decode_at(time_ms) returns the
// first frame whose presentation time is >= time_ms, or the last frame if
// none, preferring to stream forward from its current position over paying
// for a keyframe seek.
type FrameDecoder struct {
	src              source
	lastFrameTimeMs  *float64
}

func newFrameDecoder(src source) *FrameDecoder {
	return &FrameDecoder{src: src}
}

// Open constructs a FrameDecoder backed by a real gocv.VideoCapture over
// path.
func Open(path string) (*FrameDecoder, error) {
	src, err := openGocvSource(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	return newFrameDecoder(src), nil
}

// Metadata returns the decoder's video metadata.
func (d *FrameDecoder) Metadata() Metadata {
	return d.src.metadata()
}

// ShouldStreamForward reports whether a request for timeMs can be served by
// continuing to decode forward from the current position rather than
// seeking.
func (d *FrameDecoder) ShouldStreamForward(timeMs float64) bool {
	if d.lastFrameTimeMs == nil {
		return false
	}
	delta := timeMs - *d.lastFrameTimeMs
	return delta >= 0 && delta <= StreamWindowMs
}

// DecodeAt implements the seek/stream-forward policy: stream forward when
// the target is within the stream window of the last emitted frame,
// otherwise seek first.
func (d *FrameDecoder) DecodeAt(timeMs float64) (Frame, FrameInfo, error) {
	if timeMs < 0 {
		timeMs = 0
	}
	if !d.ShouldStreamForward(timeMs) {
		if err := d.src.seekMs(timeMs); err != nil {
			return Frame{}, FrameInfo{}, err
		}
		d.lastFrameTimeMs = nil
	}
	return d.advanceTo(timeMs)
}

func (d *FrameDecoder) advanceTo(timeMs float64) (Frame, FrameInfo, error) {
	var (
		frame Frame
		info  FrameInfo
		seen  bool
	)

	for scanned := 0; scanned < MaxScanFrames; scanned++ {
		f, i, ok := d.src.readNext()
		if !ok {
			if seen {
				return frame, info, nil
			}
			return Frame{}, FrameInfo{}, ErrEndOfStream
		}
		frame, info, seen = f, i, true
		d.lastFrameTimeMs = &info.TimeMs

		if info.TimeMs >= timeMs {
			return frame, info, nil
		}
	}
	// MAX_SCAN_FRAMES reached: return the most recently decoded frame
	// regardless, bounding per-call work.
	if seen {
		return frame, info, nil
	}
	return Frame{}, FrameInfo{}, ErrEndOfStream
}

// Close releases the underlying video source.
func (d *FrameDecoder) Close() error {
	return d.src.close()
}
