package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/GoCodeAlone/conveyor"
	"github.com/GoCodeAlone/conveyor/api"
	"github.com/GoCodeAlone/conveyor/config"
	"github.com/GoCodeAlone/conveyor/metrics"
)

var (
	configFile = flag.String("config", "", "Path to service configuration YAML file")
	addr       = flag.String("addr", "", "HTTP listen address (overrides config)")
)

func main() {
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	var cfg *config.Config
	if *configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(*configFile)
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
	} else {
		cfg = config.Default()
		logger.Info("No config file specified, using defaults")
	}
	if *addr != "" {
		cfg.Listen = *addr
	}

	collector := metrics.NewCollector("conveyor")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched, err := conveyor.BuildScheduler(ctx, cfg, logger, collector)
	if err != nil {
		log.Fatalf("Failed to build scheduler: %v", err)
	}

	mux := http.NewServeMux()
	api.NewHandler(sched, collector, cfg.MaxConcurrentRuns).RegisterRoutes(mux)

	server := &http.Server{
		Addr:    cfg.Listen,
		Handler: mux,
	}

	go func() {
		logger.Info("Starting server", "addr", cfg.Listen, "pipeline", sched.Pipeline().Name)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("Shutting down")
	cancel()

	if err := server.Shutdown(context.Background()); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
}
