package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/purestory/whisper-service/internal/api"
	"github.com/purestory/whisper-service/internal/config"
	"github.com/purestory/whisper-service/internal/media"
	"github.com/purestory/whisper-service/internal/storage/sqlite"
	"github.com/purestory/whisper-service/internal/transcription"
	"github.com/purestory/whisper-service/internal/websocket"
	"github.com/purestory/whisper-service/internal/whisper"
	"github.com/purestory/whisper-service/pkg/logger"
)

var (
	// Version is injected at build time
	Version = "dev"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file (optional - will search in configs/ and root directory)")
	flag.Parse()

	// Load configuration with fallback logic
	cfg, err := config.LoadWithFallback(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Create logger
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting whisper-service",
		logger.String("version", Version),
		logger.String("config_path", *configPath),
	)

	// Create SQLite storage for settings and usage metrics
	storage, err := sqlite.NewStorage(cfg.Storage.SQLitePath, log)
	if err != nil {
		log.Error("Failed to create SQLite storage", logger.Error(err))
		os.Exit(1)
	}
	defer storage.Close()
	log.Info("Using SQLite storage", logger.String("path", cfg.Storage.SQLitePath))

	// Create WebSocket server
	wsServer := websocket.NewServer(log)
	go wsServer.Run()

	// Resolve the compute device
	device := whisper.DetectDevice(cfg.Whisper.Device)
	log.Info("Resolved compute device",
		logger.String("preference", cfg.Whisper.Device),
		logger.String("device", string(device)))

	// Create the recognition engine factory and model manager
	factory := whisper.NewFasterWhisperFactory(whisper.FasterWhisperConfig{
		PythonPath:   cfg.Whisper.PythonPath,
		ComputeType:  cfg.Whisper.ComputeType,
		DownloadRoot: cfg.Whisper.DownloadRoot,
	}, log)

	idleTimeout := time.Duration(cfg.Whisper.IdleUnloadMinutes) * time.Minute
	manager := whisper.NewManager(factory, device, storage, wsServer, idleTimeout, log)

	if saved, err := storage.LastModel(); err == nil && saved != "" {
		log.Info("Saved model preference found, loading on first use", logger.String("model", saved))
	}

	// Create the transcription orchestrator
	service := transcription.NewService(manager, storage, storage, wsServer, transcription.Config{
		DefaultModel:   cfg.Whisper.DefaultModel,
		MaxBeamSize:    cfg.Whisper.MaxBeamSize,
		TimeoutSeconds: cfg.Whisper.TranscribeTimeoutSecs,
		LoadTimeout:    time.Duration(cfg.Whisper.LoadTimeoutSecs) * time.Second,
	}, log)

	// Create upload handling components
	store, err := media.NewStore(cfg.Upload.TempDir, log)
	if err != nil {
		log.Error("Failed to create upload store", logger.Error(err))
		os.Exit(1)
	}
	prober := media.NewProber(cfg.Upload.FFprobePath)

	// Create API router
	router := api.NewRouter(manager, service, store, prober, storage, wsServer, cfg, log)

	// --- Setup for multiple HTTP servers ---
	var servers []*http.Server
	allPorts := []int{cfg.Server.Port}
	if len(cfg.Server.AdditionalPorts) > 0 {
		allPorts = append(allPorts, cfg.Server.AdditionalPorts...)
	}

	log.Info("Configured listener ports", logger.Any("ports", allPorts))

	// Start a server for each configured port
	for _, port := range allPorts {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, port)
		server := &http.Server{
			Addr:         addr,
			Handler:      router.Routes(), // All servers use the same main router
			ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
			WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
			IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSecs) * time.Second,
		}
		servers = append(servers, server)

		go func(s *http.Server) {
			log.Info("Starting HTTP server", logger.String("addr", s.Addr))
			if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("HTTP server error on startup", logger.String("addr", s.Addr), logger.Error(err))
			}
		}(server)
	}

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down server...")

	// Shutdown all HTTP servers
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	var wg sync.WaitGroup
	for _, s := range servers {
		wg.Add(1)
		go func(srv *http.Server) {
			defer wg.Done()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error("HTTP server shutdown error", logger.String("addr", srv.Addr), logger.Error(err))
			} else {
				log.Info("HTTP server shutdown complete", logger.String("addr", srv.Addr))
			}
		}(s)
	}
	wg.Wait()

	// Unload the model after the HTTP surface is gone
	log.Info("Unloading model...")
	manager.Close()

	log.Info("Server fully stopped")
}
