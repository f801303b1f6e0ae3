package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vantage-cv/vision-console/annotation-engine/internal/annotserver"
	"github.com/vantage-cv/vision-console/annotation-engine/internal/config"
	"github.com/vantage-cv/vision-console/annotation-engine/internal/logger"
	"github.com/vantage-cv/vision-console/annotation-engine/internal/metrics"
	"github.com/vantage-cv/vision-console/annotation-engine/internal/snapshotstore"
)

var (
	configPath  = flag.String("config", "config.yaml", "Config file path")
	httpAddr    = flag.String("http", "", "HTTP server address (overrides config)")
	metricsAddr = flag.String("metrics", "", "Metrics server address (overrides config)")
	infBaseURL  = flag.String("inference", "", "Inference API base URL (overrides config)")
	noStore     = flag.Bool("no-store", false, "Disable the Redis snapshot store")
	logLevel    = flag.String("log-level", "info", "Log level (debug, info, warn, error, silent)")
	logColor    = flag.Bool("log-color", true, "Enable colored log output")
)

func main() {
	flag.Parse()

	level, err := logger.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, *logColor)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("Main", "config %s not loaded (%v), using defaults", *configPath, err)
		cfg = config.Default()
	}
	if *httpAddr != "" {
		cfg.Server.Addr = *httpAddr
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}
	if *infBaseURL != "" {
		cfg.Inference.BaseURL = *infBaseURL
	}

	logger.Info("Main", "Annotation engine starting...")
	logger.Info("Main", "HTTP server: %s", cfg.Server.Addr)
	logger.Info("Main", "Metrics server: %s", cfg.Metrics.Addr)
	logger.Info("Main", "Inference API: %s", cfg.Inference.BaseURL)
	logger.Info("Main", "Log level: %s", level)

	m := metrics.New()

	var store *snapshotstore.Store
	if !*noStore {
		store = snapshotstore.New(cfg, m)
		defer store.Close()
	}

	srv := annotserver.NewServer(cfg, store, m)
	httpServer := &http.Server{
		Addr:        cfg.Server.Addr,
		Handler:     srv.Handler(),
		ReadTimeout: cfg.Server.ReadTimeout,
		// No write timeout: SSE and MJPEG responses stay open.
	}

	go func() {
		logger.Info("Main", "Starting metrics server on %s", cfg.Metrics.Addr)
		if err := m.StartServer(cfg.Metrics.Addr); err != nil {
			logger.Error("Main", "metrics server error: %v", err)
		}
	}()

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Main", "Shutting down...")
	srv.Reconciler().Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("Main", "shutdown error: %v", err)
	}
	logger.Info("Main", "Server stopped")
}
