package main

import (
	"pose-relay/internal/app"
	"pose-relay/internal/config"
	"pose-relay/pkg/logger"
)

func main() {
	// Load configuration from config.toml / environment
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration: %v", err)
	}
	logger.SetDebug(cfg.Debug)

	application := app.NewApp(cfg)

	logger.Info("Pose relay starting...")

	if err := application.Run(); err != nil {
		logger.Fatal("Server error: %v", err)
	}
}
