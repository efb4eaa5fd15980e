package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"auction-lifecycle/internal/app"
	"auction-lifecycle/internal/config"
	"auction-lifecycle/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		utils.Fatal("invalid configuration", map[string]any{"error": err.Error()})
	}
	utils.ConfigureLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		utils.Fatal("failed to initialize", map[string]any{"error": err.Error()})
	}

	utils.Info("starting auction lifecycle service", map[string]any{
		"port":       cfg.Port,
		"db_driver":  cfg.DatabaseDriver,
		"bus_driver": cfg.BusDriver,
	})
	runErr := a.Run(ctx)
	if err := a.Close(); err != nil {
		utils.Warn("error while closing connections", map[string]any{"error": err.Error()})
	}
	if runErr != nil {
		utils.Error("service exited", map[string]any{"error": runErr.Error()})
		os.Exit(1)
	}
	utils.Info("shutdown complete", nil)
}
