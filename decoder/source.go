package decoder

// source abstracts the underlying video I/O primitive a FrameDecoder drives:
// sequential forward reads and a backward seek. Splitting this out from the
// seek/stream-forward policy in FrameDecoder (decoder.go) keeps the policy
// itself testable without a real video file or the gocv/OpenCV runtime - see
// fakeSource in decoder_test.go and gocvSource in source_gocv.go.
type source interface {
	// readNext decodes the next frame in presentation order. ok is false at
	// end of stream.
	readNext() (frame Frame, info FrameInfo, ok bool)
	// seekMs positions the source at or before timeMs, biased to the nearest
	// preceding keyframe so the following readNext calls stream forward from
	// there.
	seekMs(timeMs float64) error
	metadata() Metadata
	close() error
}
