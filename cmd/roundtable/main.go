package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/antoniostano/roundtable/internal/archive"
	"github.com/antoniostano/roundtable/internal/brain"
	"github.com/antoniostano/roundtable/internal/config"
	"github.com/antoniostano/roundtable/internal/httpapi"
	"github.com/antoniostano/roundtable/internal/hub"
	"github.com/antoniostano/roundtable/internal/observability"
	"github.com/antoniostano/roundtable/internal/persona"
	"github.com/antoniostano/roundtable/internal/protocol"
	"github.com/antoniostano/roundtable/internal/scheduler"
	"github.com/antoniostano/roundtable/internal/session"
	"github.com/antoniostano/roundtable/internal/speech"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	archiveStore, err := archive.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("archive store init failed: %v", err)
	}
	defer archiveStore.Close()

	brainAdapter, err := brain.NewAdapter(brain.Config{
		Mode:    cfg.BrainMode,
		HTTPURL: cfg.BrainHTTPURL,
	})
	if err != nil {
		log.Fatalf("brain adapter init failed: %v", err)
	}

	var renderer speech.Renderer
	switch strings.ToLower(strings.TrimSpace(cfg.SpeechProvider)) {
	case "elevenlabs":
		renderer = speech.NewElevenLabsRenderer(speech.ElevenLabsConfig{
			APIKey:       cfg.ElevenLabsAPIKey,
			BaseURL:      cfg.ElevenLabsBaseURL,
			ModelID:      cfg.ElevenLabsTTSModel,
			OutputFormat: cfg.ElevenLabsTTSOutputFormat,
		})
		log.Printf("speech provider: elevenlabs")
	case "none", "mock":
		renderer = speech.NewNoopRenderer()
		log.Printf("speech provider: none (text-only turns)")
	default: // auto
		if cfg.ElevenLabsAPIKey != "" {
			renderer = speech.NewElevenLabsRenderer(speech.ElevenLabsConfig{
				APIKey:       cfg.ElevenLabsAPIKey,
				BaseURL:      cfg.ElevenLabsBaseURL,
				ModelID:      cfg.ElevenLabsTTSModel,
				OutputFormat: cfg.ElevenLabsTTSOutputFormat,
			})
			log.Printf("speech provider: elevenlabs")
		} else {
			renderer = speech.NewNoopRenderer()
			log.Printf("speech provider: none (no elevenlabs key)")
		}
	}

	registry := persona.DefaultPanel()
	store := session.NewStore(cfg.EndedRetention)

	broadcast := hub.New(func(sessionID string) {
		metrics.BroadcastDrops.WithLabelValues(string(protocol.TypeTurnEvent)).Inc()
		log.Printf("session %s: dropped event for slow subscriber", sessionID)
	})

	sched := scheduler.New(
		store,
		registry,
		brainAdapter,
		renderer,
		speech.NewEstimator(cfg.SpeakingRateWPM, cfg.MinSpokenTime),
		archiveStore,
		broadcast,
		metrics,
		scheduler.Config{
			InterTurnGap:      cfg.InterTurnGap,
			ResumeDelay:       cfg.ResumeDelay,
			UserResponseDelay: cfg.UserResponseDelay,
			TranscriptWindow:  cfg.TranscriptWindow,
		},
		nil,
	)

	api := httpapi.New(cfg, store, sched, broadcast, registry, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	store.StartJanitor(runCtx, 5*time.Second)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	// Stop accepting work, then end every running panel so subscribers get a
	// final ended event before the sockets close.
	for _, snap := range store.List() {
		if snap.Status == session.StatusActive || snap.Status == session.StatusPaused {
			if err := sched.End(snap.ID, "server shutting down"); err != nil {
				log.Printf("session %s: shutdown end failed: %v", snap.ID, err)
			}
		}
	}

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
