package inference

import (
	"context"
	"fmt"
	"image"
	"sync/atomic"

	"gocv.io/x/gocv"
	"golang.org/x/sync/semaphore"

	"github.com/vdstream/depthstream/decoder"
	"github.com/vdstream/depthstream/depthcodec"
)

const (
	defaultZMin float32 = 0.1
	defaultZMax float32 = 10.0
)

// HeuristicEngine is a runnable stand-in for the real depth model the spec
// treats as a black box: it derives a plausible-looking depth map from
// pixel luminance (darker regions read as farther away) rather than running
// a trained monocular depth network, so the rest of the pipeline -
// quantization, caching, the adaptive controller - can be exercised
// end-to-end without a GPU or model weights. Swapping in a real model means
// implementing Engine; nothing else in this package is load-bearing.
type HeuristicEngine struct {
	sem      *semaphore.Weighted
	inflight int64
}

// NewHeuristicEngine constructs an engine gated to workers concurrent
// InferDepth calls (inference_worker_count, default 3).
func NewHeuristicEngine(workers int) *HeuristicEngine {
	if workers <= 0 {
		workers = 3
	}
	return &HeuristicEngine{sem: semaphore.NewWeighted(int64(workers))}
}

// InferDepth blocks until a worker slot is free, downsamples frame to
// processRes for the "compute" step, converts to grayscale, resizes to the
// requested output dimensions, and maps intensity to the heuristic's fixed
// z-range.
func (e *HeuristicEngine) InferDepth(ctx context.Context, frame decoder.Frame, processRes, targetW, targetH int) (Prediction, error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return Prediction{}, fmt.Errorf("inference: acquire worker slot: %w", err)
	}
	atomic.AddInt64(&e.inflight, 1)
	defer func() {
		atomic.AddInt64(&e.inflight, -1)
		e.sem.Release(1)
	}()

	if targetW <= 0 {
		targetW = frame.Width
	}
	if targetH <= 0 {
		targetH = frame.Height
	}

	src, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.RGB)
	if err != nil {
		return Prediction{}, fmt.Errorf("inference: wrap frame bytes: %w", err)
	}
	defer src.Close()

	processed := gocv.NewMat()
	defer processed.Close()
	gocv.Resize(src, &processed, processSize(processRes, frame.Width, frame.Height), 0, 0, gocv.InterpolationLinear)

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(processed, &gray, gocv.ColorRGBToGray)

	out := gocv.NewMat()
	defer out.Close()
	gocv.Resize(gray, &out, image.Pt(targetW, targetH), 0, 0, gocv.InterpolationLinear)

	depth := depthcodec.NewDepthMap(targetW, targetH)
	pixels := out.ToBytes()
	span := defaultZMax - defaultZMin
	for i, px := range pixels {
		if i >= len(depth.Data) {
			break
		}
		depth.Data[i] = defaultZMin + (float32(255-px)/255.0)*span
	}
	depth.Sanitize()

	return Prediction{Depth: depth, ZMin: defaultZMin, ZMax: defaultZMax}, nil
}

// InflightCount reports how many InferDepth calls are currently past the
// semaphore gate.
func (e *HeuristicEngine) InflightCount() int {
	return int(atomic.LoadInt64(&e.inflight))
}

func processSize(processRes, frameW, frameH int) image.Point {
	if processRes <= 0 || frameW <= 0 || frameH <= 0 {
		return image.Pt(frameW, frameH)
	}
	if frameW >= frameH {
		aspect := float64(frameH) / float64(frameW)
		return image.Pt(processRes, int(float64(processRes)*aspect))
	}
	aspect := float64(frameW) / float64(frameH)
	return image.Pt(int(float64(processRes)*aspect), processRes)
}
