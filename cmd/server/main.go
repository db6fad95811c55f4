package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/tendant/chi-demo/app"
	"github.com/tendant/simple-image/pkg/simpleimage/config"
)

func main() {
	help := flag.Bool("help", false, "print the environment variables read at startup")
	flag.Parse()
	if *help {
		fmt.Println(config.EnvUsage("simple-image server\n\nEnvironment variables:"))
		return
	}

	// .env is optional; real environment variables take precedence
	_ = godotenv.Load()

	cfg, err := config.Load(config.WithEnv())
	if err != nil {
		slog.Error("Failed to load configuration", "err", err)
		os.Exit(1)
	}
	logger := cfg.Logger()
	slog.SetDefault(logger)

	ctx := context.Background()
	rt, err := cfg.Build(ctx, logger)
	if err != nil {
		logger.Error("Failed to build service", "err", err)
		os.Exit(1)
	}
	defer rt.Close()

	cleanup, err := cfg.BuildJanitor(rt.Service, logger)
	if err != nil {
		logger.Error("Failed to build cleanup janitor", "err", err)
		os.Exit(1)
	}
	if cleanup != nil {
		if err := cleanup.Start(); err != nil {
			logger.Error("Failed to start cleanup janitor", "err", err)
			os.Exit(1)
		}
		logger.Info("scheduled cleanup enabled", "schedule", cfg.CleanupSchedule, "days_old", cfg.CleanupDays, "next", cleanup.Next())
	}

	server := app.DefaultApp()
	app.RoutesHealthzReady(server.R)
	cfg.MountRoutes(server.R, rt, logger)

	logger.Info("simple-image starting",
		"env", cfg.Environment,
		"database", cfg.DatabaseType,
		"storage", cfg.StorageBackend,
		"delivery_path", cfg.DeliveryPath(),
		"transform_cache", cfg.RedisURL != "",
	)

	server.Run()

	if cleanup != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := cleanup.Stop(stopCtx); err != nil {
			logger.Warn("cleanup janitor did not stop in time", "err", err)
		}
	}
}
