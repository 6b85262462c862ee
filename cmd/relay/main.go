package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/gradscan/scan-relay/internal/registry"
	"github.com/gradscan/scan-relay/internal/relay"
	"github.com/gradscan/scan-relay/internal/utils"
	"github.com/gradscan/scan-relay/pkg/file"
)

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Logger()

	fileClient := file.NewFileService()

	config, err := utils.LoadConfig("configs/config.yaml", fileClient)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	pool := utils.NewWorkerPool(8)
	server := relay.NewServer(registry.New(), pool, config.Relay.SweepInterval, log)

	if err := server.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start relay server")
	}

	gin.SetMode(gin.ReleaseMode)
	httpServer := &http.Server{
		Addr:    config.Relay.ListenAddr,
		Handler: server.Routes(),
	}

	go func() {
		log.Info().Str("addr", config.Relay.ListenAddr).Msg("Relay listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Handle graceful shutdown
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	log.Info().Msg("Shutting down gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	if err := server.Stop(); err != nil {
		log.Error().Err(err).Msg("Relay server stop failed")
	}
	pool.Shutdown()
}
