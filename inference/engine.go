// Package inference defines the black-box monocular depth estimation
// primitive the pipeline invokes, plus a runnable reference implementation
// that does not require a GPU or trained weights.
package inference

import (
	"context"

	"github.com/vdstream/depthstream/decoder"
	"github.com/vdstream/depthstream/depthcodec"
)

// Prediction is one inference call's result: a dequantized depth map and
// the z-range it was produced within.
type Prediction struct {
	Depth      depthcodec.DepthMap
	ZMin, ZMax float32
}

// Engine is the process-wide depth model singleton's contract. Implementors
// are expected to internally gate concurrent calls (the "asynchronous
// semaphore of width inference_worker_count" from the concurrency model);
// callers invoke InferDepth freely and rely on the engine to block past its
// configured width.
type Engine interface {
	// InferDepth estimates depth for frame, processing at processRes and
	// producing a depth map sized targetW x targetH.
	InferDepth(ctx context.Context, frame decoder.Frame, processRes, targetW, targetH int) (Prediction, error)

	// InflightCount reports the number of InferDepth calls currently past
	// the gate, for telemetry and status reporting.
	InflightCount() int
}
