// Package httpapi is the thin HTTP surface around session lifecycle and the
// WebSocket streaming endpoint; the packages it wraps (session, pipeline)
// hold all the actual logic.
package httpapi

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/vdstream/depthstream/inference"
	"github.com/vdstream/depthstream/pipeline"
	"github.com/vdstream/depthstream/session"
)

// Server wires the session manager, inference engine, and pipeline
// configuration into handlers registered on a *http.ServeMux.
type Server struct {
	manager     *session.Manager
	engine      inference.Engine
	pipelineCfg pipeline.Config
	upgrader    websocket.Upgrader
}

// New constructs a Server. corsOrigins, if non-empty, restricts the
// WebSocket upgrade's Origin header to the given allowlist; an empty list
// allows any origin.
func New(manager *session.Manager, engine inference.Engine, pipelineCfg pipeline.Config, corsOrigins []string) *Server {
	allowed := make(map[string]bool, len(corsOrigins))
	for _, o := range corsOrigins {
		allowed[o] = true
	}

	return &Server{
		manager:     manager,
		engine:      engine,
		pipelineCfg: pipelineCfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || len(allowed) == 0 {
					return true
				}
				return allowed[origin]
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Mux builds the registered routes: session CRUD plus the streaming
// upgrade, using Go 1.22's method+path ServeMux patterns.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sessions", s.createSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.deleteSession)
	mux.HandleFunc("GET /api/sessions/{id}/status", s.sessionStatus)
	mux.HandleFunc("GET /api/sessions/{id}/stream", s.streamSession)
	return mux
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	file, _, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing multipart field \"file\"", http.StatusBadRequest)
		return
	}
	defer file.Close()

	sess, err := s.manager.CreateSession(file)
	if err != nil {
		log.Printf("httpapi: create session: %v", err)
		http.Error(w, "failed to create session", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":  sess.ID,
		"width":       sess.Metadata.Width,
		"height":      sess.Metadata.Height,
		"fps":         sess.Metadata.FPS,
		"duration_ms": sess.Metadata.DurationMs,
	})
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.manager.Get(id); !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	if err := s.manager.DeleteSession(id); err != nil {
		log.Printf("httpapi: delete session %s: %v", id, err)
		http.Error(w, "failed to delete session", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) sessionStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, ok := s.manager.Get(id)
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	snap := sess.BufferSnapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":  sess.ID,
		"width":       sess.Metadata.Width,
		"height":      sess.Metadata.Height,
		"fps":         sess.Metadata.FPS,
		"duration_ms": sess.Metadata.DurationMs,
		"config": map[string]any{
			"inference_workers": sess.Config.InferenceWorkers,
			"process_res":       sess.CurrentProcessRes(),
			"downsample_factor": sess.Config.DownsampleFactor,
		},
		"buffer_length":      snap.BufferLength,
		"last_depth_time_ms": snap.LastDepthTimeMs,
		"telemetry":          snap.Telemetry,
		"rolling_stats":      snap.RollingStats,
	})
}

func (s *Server) streamSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("httpapi: ws upgrade for session %s: %v", id, err)
		return
	}
	pipeline.Run(r.Context(), conn, id, s.manager, s.engine, s.pipelineCfg)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("httpapi: encode response: %v", err)
	}
}
