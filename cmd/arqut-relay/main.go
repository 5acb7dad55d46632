package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tphan267/arqut-relay/apis"
	"github.com/tphan267/arqut-relay/pkg/config"
	"github.com/tphan267/arqut-relay/pkg/logger"
	"github.com/tphan267/arqut-relay/pkg/providers"
	"github.com/tphan267/arqut-relay/pkg/providers/relay"
	"github.com/tphan267/arqut-relay/pkg/providers/telemetry"
	"github.com/tphan267/arqut-relay/pkg/storage"
)

var version = "dev"

func main() {
	var (
		configFile string
		logLevel   string
		noDB       bool
	)
	flag.StringVar(&configFile, "config", "data/config.yaml", "Path to the YAML config file")
	flag.StringVar(&logLevel, "loglevel", "", "Set the log level (debug, info, warn, error)")
	flag.BoolVar(&noDB, "nodb", false, "Keep relay events in memory instead of SQLite")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(version, configFile, logLevel)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger := logger.NewDefault("RELAY")
	appLogger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	appLogger.Info("Starting Arqut signaling relay %s...", version)

	// Initialize storage
	var store storage.Storage
	if !noDB {
		store, err = storage.NewSQLiteStorage(cfg.DBPath, appLogger.WithPrefix("DB"))
		if err != nil {
			log.Fatalf("Failed to initialize storage: %v", err)
		}
		defer store.Close()
	}

	registry := createServiceRegistry(store, appLogger, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := registry.InitializeAll(ctx); err != nil {
		log.Fatalf("Failed to initialize services: %v", err)
	}

	if err := registry.StartRunnable(ctx); err != nil {
		log.Fatalf("Failed to start runnable services: %v", err)
	}

	// Create admin API server
	srv := apis.New(registry, version)

	if err := registry.RegisterAllRoutes(srv.App()); err != nil {
		log.Fatalf("Failed to register service routes: %v", err)
	}

	go func() {
		if err := srv.Start(cfg.APIAddr); err != nil {
			log.Fatalf("Admin API failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down...")

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Admin API shutdown error: %v", err)
	}

	// Relay stops first so its final events reach telemetry
	if err := registry.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Service shutdown error: %v", err)
	}

	appLogger.Info("Relay exited")
}

// createServiceRegistry creates and populates the service registry.
// Telemetry is registered first so it is stopped last.
func createServiceRegistry(store storage.Storage, log *logger.Logger, cfg *config.Config) *providers.Registry {
	registry := providers.NewRegistry(store, log, cfg)

	registry.MustRegister(telemetry.NewService())
	registry.MustRegister(relay.NewService())

	return registry
}
