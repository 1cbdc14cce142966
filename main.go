package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"pgrman/cmd"
	"pgrman/internal/config"
	"pgrman/internal/failure"
	"pgrman/internal/logger"
)

// Build information (set by ldflags)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	// Create context that cancels on interrupt
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	// Initialize configuration
	cfg := config.New()

	// Set version information
	cfg.Version = version
	cfg.BuildTime = buildTime
	cfg.GitCommit = gitCommit

	// Initialize logger
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	// Execute command
	err := cmd.Execute(ctx, cfg, log)
	cancel()
	if err != nil {
		log.Error("pgrman failed", "error", err, "kind", failure.KindOf(err).String())
		os.Exit(failure.ExitCode(err))
	}
}
