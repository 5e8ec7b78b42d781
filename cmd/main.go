/*
Package main is the entry point for the collabsync server.

It is responsible for loading configuration, initializing the global logging system,
wiring the session store, relay and journal archive, starting the hub and the HTTP server,
and gracefully handling operating system interrupt signals (SIGINT, SIGTERM)
to ensure a smooth server shutdown.
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"collabsync/internal/app/archive"
	"collabsync/internal/app/discovery"
	"collabsync/internal/app/hub"
	"collabsync/internal/app/relay"
	"collabsync/internal/app/store"
	"collabsync/internal/configs"
	"collabsync/internal/handler"
	"collabsync/internal/pkg/logx"
)

func main() {
	// Load an optional .env file before reading the environment
	dotenvErr := godotenv.Load()

	// Load configuration from environment variables
	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize global logger
	logx.InitGlobalLogger(cfg.IsDevelopment())
	if dotenvErr != nil {
		logx.Warn("No .env file loaded, using process environment only")
	}
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Str("node_id", cfg.NodeID).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Int("max_participants", cfg.MaxParticipants).
		Bool("require_token", cfg.RequireToken).
		Msg("Configuration loaded successfully")

	// Create a context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(cfg)
	if err != nil {
		logx.Fatal(err, "Failed to open session store")
	}
	defer st.Close()

	rl, err := openRelay(cfg)
	if err != nil {
		logx.Fatal(err, "Failed to connect relay")
	}
	defer rl.Close()

	arc, err := openArchive(cfg)
	if err != nil {
		logx.Fatal(err, "Failed to initialize journal archive")
	}

	// Initialize the session hub
	manager, err := hub.NewManager(hub.Options{
		MaxParticipants:   cfg.MaxParticipants,
		ReplaceDuplicates: cfg.ReplaceDuplicates,
		NodeID:            cfg.NodeID,
		Relay:             rl,
		Store:             st,
		Archive:           arc,
	})
	if err != nil {
		logx.Fatal(err, "Failed to start hub")
	}

	// Setup HTTP server and routes
	router := handler.Router(&handler.AppDeps{Manager: manager, Config: cfg})

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logx.Info(fmt.Sprintf("collabsync server starting on http://localhost%s", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logx.Fatal(err, "Server failed to start")
		}
	}()

	if cfg.MDNSEnabled {
		adv, err := discovery.Advertise("", cfg.Port, cfg.NodeID, "/ws")
		if err != nil {
			logx.Error(err, "mDNS advertisement disabled")
		} else {
			defer adv.Shutdown()
		}
	}

	// Wait for interrupt signal to gracefully shutdown the server with a timeout of 5 seconds.
	<-ctx.Done()
	logx.Info("Received shutdown signal. Starting graceful shutdown...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logx.Error(err, "Server forced to shutdown")
	}

	manager.Shutdown()

	logx.Info("Server gracefully stopped.")
}

func openStore(cfg *configs.AppConfig) (store.Store, error) {
	if cfg.DatabaseDSN == "" {
		logx.Info("DATABASE_URL not set, keeping session metadata in memory")
		return store.NewMemory(), nil
	}
	return store.NewPostgres(cfg.DatabaseDSN)
}

func openRelay(cfg *configs.AppConfig) (relay.Relay, error) {
	if cfg.RedisURL == "" {
		logx.Info("REDIS_URL not set, running as a single node")
		return relay.NewLocal(cfg.NodeID), nil
	}
	return relay.NewRedis(cfg.RedisURL, cfg.NodeID)
}

func openArchive(cfg *configs.AppConfig) (archive.Archiver, error) {
	if !cfg.ArchiveEnabled() {
		logx.Info("S3 settings not set, journal archiving disabled")
		return archive.Noop{}, nil
	}
	return archive.NewS3(archive.Config{
		BucketName:      cfg.S3BucketName,
		Endpoint:        cfg.S3Endpoint,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
	})
}
