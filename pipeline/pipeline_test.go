package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/vdstream/depthstream/decoder"
	"github.com/vdstream/depthstream/depthcodec"
	"github.com/vdstream/depthstream/inference"
	"github.com/vdstream/depthstream/session"
	"github.com/vdstream/depthstream/stats"
)

// fakeSocket is an in-memory double for *websocket.Conn satisfying the
// pipeline's socket interface, letting these tests drive the four
// goroutines without a real network connection.
type fakeSocket struct {
	in   chan []byte
	done chan struct{} // closed by Close, unblocking ReadMessage like a real conn

	mu     sync.Mutex
	out    [][]byte
	closed bool
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{in: make(chan []byte, 256), done: make(chan struct{})}
}

func (f *fakeSocket) push(msg []byte) { f.in <- msg }
func (f *fakeSocket) disconnect()     { close(f.in) }

func (f *fakeSocket) ReadMessage() (int, []byte, error) {
	select {
	case msg, ok := <-f.in:
		if !ok {
			return 0, nil, io.EOF
		}
		return websocket.TextMessage, msg, nil
	case <-f.done:
		return 0, nil, errors.New("fakeSocket: read after close")
	}
}

func (f *fakeSocket) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("fakeSocket: write after close")
	}
	cp := append([]byte(nil), data...)
	f.out = append(f.out, cp)
	return nil
}

func (f *fakeSocket) WriteControl(messageType int, data []byte, deadline time.Time) error {
	return nil
}

func (f *fakeSocket) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.done)
	}
	return nil
}

func (f *fakeSocket) outputs() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.out))
	copy(out, f.out)
	return out
}

// fakeEngine is a minimal inference.Engine double: it produces a flat depth
// map of the requested size, optionally after a fixed delay, so tests can
// control pacing without a real model or gocv.
type fakeEngine struct {
	delay time.Duration
	err   error

	mu       sync.Mutex
	inflight int
	calls    int
}

func (e *fakeEngine) InferDepth(ctx context.Context, frame decoder.Frame, processRes, targetW, targetH int) (inference.Prediction, error) {
	e.mu.Lock()
	e.calls++
	e.inflight++
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.inflight--
		e.mu.Unlock()
	}()

	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return inference.Prediction{}, ctx.Err()
		}
	}
	if e.err != nil {
		return inference.Prediction{}, e.err
	}
	return inference.Prediction{Depth: depthcodec.NewDepthMap(targetW, targetH), ZMin: 0, ZMax: 1}, nil
}

func (e *fakeEngine) InflightCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inflight
}

func memFrames(n int, stepMs float64, w, h int) []decoder.MemoryFrame {
	out := make([]decoder.MemoryFrame, n)
	for i := range out {
		out[i] = decoder.MemoryFrame{
			Frame: decoder.Frame{Width: w, Height: h, RGB: make([]byte, w*h*3)},
			Info:  decoder.FrameInfo{TimeMs: float64(i) * stepMs, Index: i},
		}
	}
	return out
}

func newTestSession(t *testing.T, id string, removable bool) *session.Session {
	t.Helper()
	meta := decoder.Metadata{Width: 16, Height: 16, FPS: 30}
	pool := decoder.OpenMemoryPool(meta, memFrames(1200, 1.0, 16, 16), 4)
	cfg := session.Config{InferenceWorkers: 2, ProcessRes: 320, DownsampleFactor: 1, CacheToleranceMs: 33}

	sourcePath := ""
	if removable {
		dir := t.TempDir()
		sourcePath = filepath.Join(dir, "source.mp4")
		require.NoError(t, os.WriteFile(sourcePath, []byte("fixture"), 0o644))
	}
	return session.New(id, sourcePath, meta, pool, cfg, 8)
}

func requestJSON(t *testing.T, timeMs float64) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]float64{"time_ms": timeMs})
	require.NoError(t, err)
	return b
}

func TestPipelineForwardScrubDeliversPayloadsInOrder(t *testing.T) {
	sess := newTestSession(t, "s1", false)
	mgr := session.NewManager(session.ManagerConfig{DataRoot: t.TempDir()})
	mgr.Register(sess)

	sock := newFakeSocket()
	engine := &fakeEngine{}

	done := make(chan struct{})
	go func() {
		run(context.Background(), sock, "s1", mgr, engine, Config{ReportInterval: time.Hour})
		close(done)
	}()

	for i := 0; i < 30; i++ {
		sock.push(requestJSON(t, float64(i)*33))
	}
	time.Sleep(200 * time.Millisecond)
	sock.disconnect()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not shut down after disconnect")
	}

	outputs := sock.outputs()
	require.Len(t, outputs, 30)

	var lastTs uint32
	for i, payload := range outputs {
		_, header, err := depthcodec.Unpack(payload)
		require.NoError(t, err)
		if i > 0 {
			require.GreaterOrEqual(t, header.TimestampMs, lastTs)
		}
		lastTs = header.TimestampMs
	}
}

func TestPipelineRandomScrubPreservesRequestOrder(t *testing.T) {
	sess := newTestSession(t, "s1", false)
	mgr := session.NewManager(session.ManagerConfig{DataRoot: t.TempDir()})
	mgr.Register(sess)

	sock := newFakeSocket()
	engine := &fakeEngine{}

	done := make(chan struct{})
	go func() {
		run(context.Background(), sock, "s1", mgr, engine, Config{ReportInterval: time.Hour})
		close(done)
	}()

	targets := []float64{900, 100, 500, 200}
	for _, ts := range targets {
		sock.push(requestJSON(t, ts))
	}
	time.Sleep(200 * time.Millisecond)
	sock.disconnect()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not shut down after disconnect")
	}

	outputs := sock.outputs()
	require.Len(t, outputs, len(targets))
	for i, payload := range outputs {
		_, header, err := depthcodec.Unpack(payload)
		require.NoError(t, err)
		require.GreaterOrEqual(t, int(header.TimestampMs)+1, int(targets[i]))
	}
}

func TestPipelineOverloadDropsOldestUnderBackpressure(t *testing.T) {
	sess := newTestSession(t, "s1", false)
	mgr := session.NewManager(session.ManagerConfig{DataRoot: t.TempDir()})
	mgr.Register(sess)

	sock := newFakeSocket()
	engine := &fakeEngine{delay: 40 * time.Millisecond}

	done := make(chan struct{})
	go func() {
		run(context.Background(), sock, "s1", mgr, engine, Config{MaxConcurrentTasks: 1, IntakeQueueSize: 4, ReportInterval: time.Hour})
		close(done)
	}()

	for i := 0; i < 80; i++ {
		sock.push(requestJSON(t, float64(i)))
	}
	time.Sleep(300 * time.Millisecond)
	sock.disconnect()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("pipeline did not shut down")
	}

	snap := sess.BufferSnapshot()
	require.Greater(t, snap.RollingStats.DropCount, int64(0))
}

func TestPipelineShutsDownWhenSessionDeletedMidStream(t *testing.T) {
	sess := newTestSession(t, "s1", true)
	mgr := session.NewManager(session.ManagerConfig{DataRoot: t.TempDir()})
	mgr.Register(sess)

	sock := newFakeSocket()
	engine := &fakeEngine{}

	done := make(chan struct{})
	go func() {
		run(context.Background(), sock, "s1", mgr, engine, Config{ReportInterval: time.Hour})
		close(done)
	}()

	sock.push(requestJSON(t, 0))
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, mgr.DeleteSession("s1"))
	sock.push(requestJSON(t, 33))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not shut down after session deletion")
	}
}

func TestRunClosesConnectionOnUnknownSession(t *testing.T) {
	mgr := session.NewManager(session.ManagerConfig{DataRoot: t.TempDir()})
	sock := newFakeSocket()
	engine := &fakeEngine{}

	run(context.Background(), sock, "does-not-exist", mgr, engine, Config{})

	sock.mu.Lock()
	closed := sock.closed
	sock.mu.Unlock()
	require.True(t, closed)
}

func TestProduceDepthCacheHitSkipsDecodeAndInfer(t *testing.T) {
	sess := newTestSession(t, "s1", false)
	c := &connection{engine: &fakeEngine{}, stopCtx: context.Background(), collector: stats.New()}

	req := clientRequest{TimeMs: 500, RecvTime: time.Now()}

	timings1 := map[string]float64{}
	_, err := c.produceDepth(sess, req, timings1)
	require.NoError(t, err)
	require.Contains(t, timings1, "decode_s")
	require.Contains(t, timings1, "infer_s")

	timings2 := map[string]float64{}
	_, err = c.produceDepth(sess, req, timings2)
	require.NoError(t, err)
	require.NotContains(t, timings2, "decode_s")
	require.NotContains(t, timings2, "infer_s")
}
