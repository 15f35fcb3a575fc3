package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"playtest-telemetry-service/internal/analysis"
	"playtest-telemetry-service/internal/analysis/mock"
	"playtest-telemetry-service/internal/analysis/vision"
	"playtest-telemetry-service/internal/config"
	"playtest-telemetry-service/internal/events"
	apihttp "playtest-telemetry-service/internal/http"
	"playtest-telemetry-service/internal/observability"
	"playtest-telemetry-service/internal/observability/logging"
	"playtest-telemetry-service/internal/service/finalize"
	"playtest-telemetry-service/internal/store"
)

func main() {
	cfg := config.Load()

	logging.Init(logging.Config{
		Level:      cfg.Observability.LogLevel,
		Format:     cfg.Observability.LogFormat,
		TimeFormat: time.RFC3339,
	})
	log := logging.WithComponent("main")

	st, err := store.NewStore(cfg.Store.Path)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Store.Path).Msg("failed to open store")
	}
	defer st.Close()

	// Separate topics for verdict events and quality alerts
	publisher := events.New(&events.Config{
		Enabled:       cfg.Kafka.Enabled,
		Brokers:       cfg.Kafka.Brokers,
		TopicVerdicts: cfg.Kafka.TopicVerdicts,
		TopicQuality:  cfg.Kafka.TopicQuality,
		Principal:     cfg.Kafka.Principal,
	})
	defer publisher.Close()

	var analyzer analysis.Analyzer
	switch cfg.Analysis.Provider {
	case "vision":
		analyzer = vision.New(cfg.Analysis.BaseURL, cfg.Analysis.Timeout)
	default:
		analyzer = mock.New()
	}
	log.Info().Str("provider", cfg.Analysis.Provider).Msg("analysis provider selected")

	policy := analysis.DefaultRetryPolicy()
	policy.MaxAttempts = cfg.Analysis.RetryAttempts
	policy.InitialDelay = cfg.Analysis.RetryBaseDelay
	policy.MaxDelay = cfg.Analysis.RetryMaxDelay
	runner := analysis.NewRunner(analyzer, policy, cfg.Analysis.MaxInFlight, logging.WithComponent("analysis"))

	engine := finalize.NewEngine(st, runner, publisher, cfg.Analysis.WindowSec, logging.WithComponent("finalize"))
	handlers := apihttp.NewHandlers(st, engine, cfg.Ingest, logging.WithComponent("http"))

	apiServer := &http.Server{
		Addr:         ":" + cfg.Service.HTTPPort,
		Handler:      apihttp.NewRouter(handlers),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	obsServer := observability.NewServer(cfg.Observability.Addr)
	obsServer.Start()

	go func() {
		log.Info().Str("port", cfg.Service.HTTPPort).Msg("playtest telemetry service started")
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http serve failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("api server shutdown error")
	}
	if err := obsServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("observability server shutdown error")
	}
}
