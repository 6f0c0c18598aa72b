package decoder

import (
	"fmt"

	"gocv.io/x/gocv"
)

// gocvSource drives a single gocv.VideoCapture.
//
// OpenCV's FFmpeg backend does not expose per-frame keyframe flags through
// gocv's public surface, so the only frame we can honestly mark as a
// keyframe is the first one read immediately after a Set(PosMsec, ...) seek
// - the position the backend itself resolved to. Every subsequent
// sequential read is reported as non-keyframe.
type gocvSource struct {
	cap         *gocv.VideoCapture
	mat         gocv.Mat
	rgb         gocv.Mat
	index       int
	nextIsSeek  bool
	meta        Metadata
}

func openGocvSource(path string) (*gocvSource, error) {
	cap, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("decoder: open video capture for %s: %w", path, err)
	}

	width := int(cap.Get(gocv.VideoCaptureFrameWidth))
	height := int(cap.Get(gocv.VideoCaptureFrameHeight))
	fps := cap.Get(gocv.VideoCaptureFPS)
	if fps <= 0 {
		fps = 30.0
	}

	meta := Metadata{Width: width, Height: height, FPS: fps}
	if count := int(cap.Get(gocv.VideoCaptureFrameCount)); count > 0 {
		meta.Frames = &count
		durationMs := float64(count) / fps * 1000.0
		meta.DurationMs = &durationMs
	}

	return &gocvSource{
		cap:  cap,
		mat:  gocv.NewMat(),
		rgb:  gocv.NewMat(),
		meta: meta,
	}, nil
}

func (s *gocvSource) readNext() (Frame, FrameInfo, bool) {
	if ok := s.cap.Read(&s.mat); !ok || s.mat.Empty() {
		return Frame{}, FrameInfo{}, false
	}

	gocv.CvtColor(s.mat, &s.rgb, gocv.ColorBGRToRGB)
	raw := s.rgb.ToBytes()
	buf := make([]byte, len(raw))
	copy(buf, raw)

	timeMs := s.cap.Get(gocv.VideoCapturePosMsec)
	info := FrameInfo{
		TimeMs:   timeMs,
		Index:    s.index,
		KeyFrame: s.nextIsSeek,
	}
	s.nextIsSeek = false
	s.index++

	return Frame{Width: s.rgb.Cols(), Height: s.rgb.Rows(), RGB: buf}, info, true
}

func (s *gocvSource) seekMs(timeMs float64) error {
	s.cap.Set(gocv.VideoCapturePosMsec, timeMs)
	s.nextIsSeek = true
	return nil
}

func (s *gocvSource) metadata() Metadata {
	return s.meta
}

func (s *gocvSource) close() error {
	s.mat.Close()
	s.rgb.Close()
	return s.cap.Close()
}
