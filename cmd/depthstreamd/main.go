// Command depthstreamd serves on-demand monocular depth for an uploaded
// video: upload a source, then scrub it over a WebSocket and get back
// quantized depth frames.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vdstream/depthstream/config"
	"github.com/vdstream/depthstream/decoder"
	"github.com/vdstream/depthstream/httpapi"
	"github.com/vdstream/depthstream/inference"
	"github.com/vdstream/depthstream/pipeline"
	"github.com/vdstream/depthstream/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	decoder.StreamWindowMs = cfg.StreamWindowMs
	decoder.MaxScanFrames = cfg.MaxScanFrames

	manager := session.NewManager(session.ManagerConfig{
		DataRoot:           cfg.DataRoot,
		PoolSize:           cfg.DecoderPoolSize,
		CacheCapacity:      cfg.CacheSize,
		ClearCacheOverride: cfg.ClearCacheOverride,
		Session: session.Config{
			InferenceWorkers: cfg.InferWorkers,
			ProcessRes:       cfg.ProcessRes,
			DownsampleFactor: cfg.Downsample,
			CacheToleranceMs: cfg.CacheToleranceMs,
			CompressDepth:    cfg.CompressDepth(),
		},
	})

	if err := manager.ClearCache(); err != nil {
		log.Warn().Err(err).Msg("clear cache on startup")
	}

	engine := inference.NewHeuristicEngine(cfg.InferWorkers)

	pipelineCfg := pipeline.Config{
		MaxConcurrentTasks: cfg.MaxConcurrentTasks,
		IntakeQueueSize:    cfg.IntakeQueueSize,
		ReportInterval:     cfg.ReportInterval(),
	}

	server := httpapi.New(manager, engine, pipelineCfg, cfg.CORSOriginList())

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: server.Mux(),
	}

	log.Info().
		Str("addr", cfg.HTTPAddr).
		Str("data_root", cfg.DataRoot).
		Int("process_res", cfg.ProcessRes).
		Int("infer_workers", cfg.InferWorkers).
		Msg("depthstreamd listening")

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown")
	}

	for _, s := range manager.Sessions() {
		if err := s.Close(); err != nil {
			log.Warn().Err(err).Str("session_id", s.ID).Msg("close session decoder pool")
		}
	}
}
