// Package pipeline runs the four cooperating goroutines that drive one
// streaming connection: a receiver parsing client requests into a
// drop-oldest intake queue, a processor dispatching pipeline tasks under
// admission control, an order-preserving sender, and a periodic reporter.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vdstream/depthstream/inference"
	"github.com/vdstream/depthstream/queue"
	"github.com/vdstream/depthstream/session"
	"github.com/vdstream/depthstream/stats"
)

var errTaskPanicked = errors.New("pipeline: task panicked")

// Config carries the per-connection tunables the pipeline needs beyond what
// the session already holds.
type Config struct {
	MaxConcurrentTasks int
	IntakeQueueSize    int
	ReportInterval     time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentTasks <= 0 {
		c.MaxConcurrentTasks = 16
	}
	if c.IntakeQueueSize <= 0 {
		c.IntakeQueueSize = 32
	}
	if c.ReportInterval <= 0 {
		c.ReportInterval = 5 * time.Second
	}
	return c
}

type clientRequest struct {
	TimeMs   float64
	RTTMs    *float64
	RecvTime time.Time
}

type wireRequest struct {
	TimeMs *float64 `json:"time_ms"`
	RTT    *float64 `json:"rtt"`
}

type taskResult struct {
	payload []byte
	err     error
}

type taskHandle struct {
	result chan taskResult
}

// socket is the subset of *websocket.Conn the pipeline depends on, so tests
// can exercise the goroutine orchestration against an in-memory double.
type socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// connection holds one streaming connection's state: the shared stop
// signal, intake queue, ordered send queue, and admission gate.
type connection struct {
	conn      socket
	sessionID string
	manager   *session.Manager
	engine    inference.Engine
	cfg       Config

	intake    *queue.Dropping[clientRequest]
	sendQueue chan taskHandle
	admission chan struct{}

	stopCtx    context.Context
	stopCancel context.CancelFunc

	collector *stats.Collector

	wg sync.WaitGroup
}

// Run looks up the session and, if present, drives the four-goroutine
// pipeline until the connection ends (client disconnect, write failure, or
// the session vanishing mid-stream). It blocks until shutdown completes.
func Run(ctx context.Context, conn *websocket.Conn, sessionID string, manager *session.Manager, engine inference.Engine, cfg Config) {
	run(ctx, conn, sessionID, manager, engine, cfg)
}

func run(ctx context.Context, conn socket, sessionID string, manager *session.Manager, engine inference.Engine, cfg Config) {
	cfg = cfg.withDefaults()

	if _, ok := manager.Get(sessionID); !ok {
		closeMsg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unknown session")
		_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}

	stopCtx, cancel := context.WithCancel(ctx)
	c := &connection{
		conn:      conn,
		sessionID: sessionID,
		manager:   manager,
		engine:    engine,
		cfg:       cfg,
		intake:    queue.NewDropping[clientRequest](cfg.IntakeQueueSize),
		sendQueue: make(chan taskHandle, cfg.IntakeQueueSize),
		admission: make(chan struct{}, cfg.MaxConcurrentTasks),
		stopCtx:   stopCtx,
		stopCancel: cancel,
		collector:  stats.New(),
	}

	go func() {
		<-stopCtx.Done()
		_ = conn.Close()
	}()

	c.wg.Add(4)
	go c.receiver()
	go c.processor()
	go c.sender()
	go c.reporter()

	c.wg.Wait()
}

func (c *connection) receiver() {
	defer c.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("pipeline: receiver panic on session %s: %v", c.sessionID, r)
		}
		c.stopCancel()
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			log.Printf("pipeline: read error on session %s: %v", c.sessionID, err)
			return
		}

		var req wireRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			// Malformed client message: treated as absent time_ms, ignored.
			continue
		}
		if req.TimeMs == nil {
			continue
		}

		c.intake.Put(clientRequest{TimeMs: *req.TimeMs, RTTMs: req.RTT, RecvTime: time.Now()})
	}
}

func (c *connection) processor() {
	defer c.wg.Done()
	defer close(c.sendQueue)
	defer func() {
		if r := recover(); r != nil {
			log.Printf("pipeline: processor panic on session %s: %v", c.sessionID, r)
		}
		c.stopCancel()
	}()

	for {
		req, ok := c.intake.GetContext(c.stopCtx)
		if !ok {
			return
		}

		sess, ok := c.manager.Get(c.sessionID)
		if !ok {
			log.Printf("pipeline: session %s vanished mid-stream", c.sessionID)
			c.sendError("session no longer exists")
			return
		}

		if dropped := c.intake.DroppedCount(); dropped > 0 {
			c.intake.ResetDroppedCount()
			sess.UpdateTelemetry(map[string]float64{"dropped": float64(dropped)})
			c.collector.Increment("dropped_count", int64(dropped))
		}
		if req.RTTMs != nil {
			sess.UpdateTelemetry(map[string]float64{"latency_ms": clampLatencyMs(*req.RTTMs)})
		}

		select {
		case c.admission <- struct{}{}:
		case <-c.stopCtx.Done():
			return
		}

		handle := taskHandle{result: make(chan taskResult, 1)}
		select {
		case c.sendQueue <- handle:
		case <-c.stopCtx.Done():
			<-c.admission
			return
		}

		c.wg.Add(1)
		go c.runTask(sess, req, handle)
	}
}

func (c *connection) sender() {
	defer c.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("pipeline: sender panic on session %s: %v", c.sessionID, r)
		}
		c.stopCancel()
	}()

	for handle := range c.sendQueue {
		select {
		case <-c.stopCtx.Done():
			return
		default:
		}

		res := <-handle.result
		if res.err != nil {
			continue
		}

		start := time.Now()
		if err := c.conn.WriteMessage(websocket.BinaryMessage, res.payload); err != nil {
			log.Printf("pipeline: write error on session %s: %v", c.sessionID, err)
			return
		}
		sendS := time.Since(start).Seconds()
		c.collector.Add("ws_send_s", sendS)

		if sess, ok := c.manager.Get(c.sessionID); ok {
			sess.UpdateTelemetry(map[string]float64{"ws_send_s": sendS})
		}
	}
}

func (c *connection) reporter() {
	defer c.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("pipeline: reporter panic on session %s: %v", c.sessionID, r)
		}
	}()

	ticker := time.NewTicker(c.cfg.ReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCtx.Done():
			return
		case <-ticker.C:
			snap := c.collector.SnapshotAndReset()
			log.Printf(
				"pipeline: session=%s fps=%.1f queue=%d active=%d drops=%d %s",
				c.sessionID, snap.FPS, c.intake.Len(), len(c.admission), snap.Gauges["dropped_count"],
				formatSamples(snap.Samples),
			)
		}
	}
}

func (c *connection) sendError(message string) {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return
	}
	_ = c.conn.WriteMessage(websocket.TextMessage, payload)
}

func clampLatencyMs(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 10000 {
		return 10000
	}
	return v
}

func formatSamples(samples map[string]stats.Sample) string {
	out := ""
	for _, key := range []string{"queue_wait_s", "decode_s", "infer_s", "pack_s", "ws_send_s", "total_s"} {
		s, ok := samples[key]
		if !ok {
			continue
		}
		out += fmt.Sprintf("%s[avg=%.3f p95=%.3f max=%.3f n=%d] ", key, s.Avg, s.P95, s.Max, s.Count)
	}
	return out
}
