package pipeline

import (
	"log"
	"time"

	"github.com/vdstream/depthstream/depthcache"
	"github.com/vdstream/depthstream/depthcodec"
	"github.com/vdstream/depthstream/session"
)

// runTask is the per-request computation: cache lookup, decode-on-miss,
// inference-on-miss, pack, then telemetry. It always delivers exactly one
// result on handle.result, even on panic, so the sender never blocks
// forever waiting for it.
func (c *connection) runTask(sess *session.Session, req clientRequest, handle taskHandle) {
	defer c.wg.Done()
	defer func() { <-c.admission }()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("pipeline: task panic on session %s: %v", c.sessionID, r)
			select {
			case handle.result <- taskResult{err: errTaskPanicked}:
			default:
			}
		}
	}()

	start := time.Now()
	timings := map[string]float64{"queue_wait_s": start.Sub(req.RecvTime).Seconds()}

	frame, err := c.produceDepth(sess, req, timings)
	var packed []byte
	if err == nil {
		packStart := time.Now()
		packed, err = depthcodec.Pack(frame.Depth, frame.TimestampMs, frame.ZMin, frame.ZMax, sess.Config.CompressDepth)
		timings["pack_s"] = time.Since(packStart).Seconds()
	}
	timings["total_s"] = time.Since(start).Seconds()

	for key, v := range timings {
		c.collector.Add(key, v)
	}
	sess.UpdateTelemetry(timings)

	if err != nil {
		log.Printf("pipeline: task error on session %s time_ms=%.1f: %v", c.sessionID, req.TimeMs, err)
		handle.result <- taskResult{err: err}
		return
	}

	handle.result <- taskResult{payload: packed}
}

// produceDepth attempts a cache hit first; on miss it decodes and infers,
// storing the result back into the cache, and records per-stage timings
// into timings as it goes.
func (c *connection) produceDepth(sess *session.Session, req clientRequest, timings map[string]float64) (depthcache.Frame, error) {
	tolerance := sess.Config.CacheToleranceMs
	if cached, ok := sess.GetCachedDepth(req.TimeMs, tolerance, true); ok {
		return cached, nil
	}

	decodeStart := time.Now()
	frame, info, err := sess.Pool().DecodeAt(req.TimeMs)
	timings["decode_s"] = time.Since(decodeStart).Seconds()
	if err != nil {
		return depthcache.Frame{}, err
	}

	downsample := sess.Config.DownsampleFactor
	if downsample <= 0 {
		downsample = 1
	}
	targetW := frame.Width / downsample
	targetH := frame.Height / downsample
	if targetW <= 0 {
		targetW = frame.Width
	}
	if targetH <= 0 {
		targetH = frame.Height
	}

	inferStart := time.Now()
	pred, err := c.engine.InferDepth(c.stopCtx, frame, sess.CurrentProcessRes(), targetW, targetH)
	timings["infer_s"] = time.Since(inferStart).Seconds()
	if err != nil {
		return depthcache.Frame{}, err
	}

	produced := depthcache.Frame{TimestampMs: info.TimeMs, Depth: pred.Depth, ZMin: pred.ZMin, ZMax: pred.ZMax}
	sess.StoreDepthFrame(produced)
	return produced, nil
}
