package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lexiqai/scene-assistant/internal/camera"
	"github.com/lexiqai/scene-assistant/internal/command"
	"github.com/lexiqai/scene-assistant/internal/config"
	"github.com/lexiqai/scene-assistant/internal/detector"
	"github.com/lexiqai/scene-assistant/internal/frontend"
	"github.com/lexiqai/scene-assistant/internal/observability"
	"github.com/lexiqai/scene-assistant/internal/pipeline"
	"github.com/lexiqai/scene-assistant/internal/stt"
	"github.com/lexiqai/scene-assistant/internal/tts"
)

func main() {
	os.Exit(run())
}

// run starts the assistant and blocks until shutdown. Deferred cleanup
// runs before the exit code reaches main.
func run() int {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("camera_url", cfg.CameraURL).
		Str("detector_addr", cfg.DetectorAddr).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Scene Assistant starting")

	// Front ends supply the microphone and play speech
	hub := frontend.NewHub(nil)

	deepgram := stt.NewDeepgramClient(cfg)
	defer deepgram.Close()
	recognizer := stt.NewRecognizer(deepgram, hub, cfg.VADEnergyThreshold)
	if !deepgram.Configured() {
		logger.Warn().Msg("DEEPGRAM_API_KEY not set, voice commands disabled")
	}

	var synthesizer pipeline.Synthesizer
	if cfg.CartesiaAPIKey != "" {
		cartesia := tts.NewCartesiaClient(cfg, hub)
		defer cartesia.Close()
		synthesizer = cartesia
	} else {
		logger.Warn().Msg("CARTESIA_API_KEY not set, sentences are sent as text only")
		synthesizer = tts.NewLogSynthesizer(hub)
	}

	// Camera and detector are owned by the controller from here on
	cam := camera.NewHTTPCamera(cfg)
	det, err := detector.NewGRPCDetector(cfg)
	if err != nil {
		cam.Close()
		logger.Error().Err(err).Msg("Failed to create detector client")
		return 1
	}

	controller := pipeline.NewController(recognizer, synthesizer, cam, det, pipeline.Options{
		ListenMaxDuration: cfg.ListenMaxDuration(),
		TrailingSilence:   cfg.ListenTrailingSilence(),
		CaptureTimeout:    cfg.CameraTimeout(),
		DetectTimeout:     cfg.DetectorTimeout,
		SpeakTimeout:      cfg.SpeakTimeout(),
		Interpreter:       command.NewInterpreter(cfg.CommandExtraPhrases...),
	})
	hub.SetTriggerSink(controller)

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()

	go hub.Forward(runCtx, controller.Subscribe(runCtx))

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := controller.Run(runCtx); err != nil {
			logger.Error().Err(err).Msg("Pipeline controller failed")
		}
	}()

	// Create HTTP server
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", hub.HandleWS)
	mux.HandleFunc("POST /triggers/{name}", hub.HandleTrigger)

	// Health check endpoint
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	checks := map[string]observability.HealthCheckFunc{
		"camera":   cam.HealthCheck,
		"detector": det.HealthCheck,
	}
	if deepgram.Configured() {
		checks["recognizer"] = deepgram.Healthy
	}
	mux.HandleFunc("/ready", observability.ReadinessHandler(checks))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// No read or write timeouts: /ws connections are long lived
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in a goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/ws", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal or a server failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	exitCode := waitForShutdown(quit, serverErr)

	// Stop the pipeline first so camera and detector are released
	stopRun()
	<-runDone
	logger.Info().Int("clients", hub.Clients()).Msg("Disconnecting front ends")
	hub.Close()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
	return exitCode
}

// waitForShutdown blocks until a signal or a server failure and returns
// the process exit code
func waitForShutdown(quit <-chan os.Signal, serverErr <-chan error) int {
	logger := observability.ComponentLogger("server")

	select {
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down server...")
		return 0
	case err := <-serverErr:
		logger.Error().Err(err).Msg("Server failed, shutting down")
		return 1
	}
}
