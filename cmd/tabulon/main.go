package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	corecfg "github.com/tabulon-lab/project-tabulon/internal/core/config"
	"github.com/tabulon-lab/project-tabulon/internal/core/storage/postgres"
	"github.com/tabulon-lab/project-tabulon/internal/migrations"
	"github.com/tabulon-lab/project-tabulon/internal/registry"
	"github.com/tabulon-lab/project-tabulon/internal/server"
	"github.com/tabulon-lab/project-tabulon/internal/stream"
	"github.com/tabulon-lab/project-tabulon/internal/streamapi"

	coreagg "github.com/tabulon-lab/project-tabulon/internal/core/aggregation"
)

func main() {
	configPath := flag.String("config", "tabulon.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config",
		"reports", len(cfg.ReportLoading.Reports),
		"chunk_size", cfg.Stream.ChunkSize,
		"cache_enabled", cfg.Stream.Cache.Enabled,
	)

	// 2. Initialize Storage (PostgreSQL)
	dbAdapter, err := postgres.NewAdapter(
		cfg.Database.DSN,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
	)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer dbAdapter.Close()

	// 2.1. Run Database Migrations
	if err := migrations.RunMigrations(dbAdapter.DB(), cfg.Database.AutoMigrate); err != nil {
		slog.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}

	// 3. Report Definitions (parsed and validated by the config loader)
	reportRepo := coreagg.NewStaticReportRepository(cfg.ReportLoading.Reports)

	// 4. Initialize Stream Registry + Sweeper
	streamRegistry := registry.New()
	sweeper := registry.NewSweeper(
		streamRegistry,
		cfg.Stream.SweepIntervalDuration(),
		cfg.Stream.StreamTimeoutDuration(),
	)

	// 5. Page Cache (optional)
	var pageCache *stream.PageCache
	if cfg.Stream.Cache.Enabled {
		pageCache = stream.NewPageCache(cfg.Stream.Cache.Capacity, cfg.Stream.Cache.CacheTTLDuration())
	}

	// 6. Initialize Stream API
	streamSvc := streamapi.NewService(reportRepo, dbAdapter, streamRegistry, pageCache, streamapi.Options{
		ChunkSize:          cfg.Stream.ChunkSize,
		MaxDemand:          cfg.Stream.MaxDemand,
		BufferSize:         cfg.Stream.BufferSize,
		MemoryLimit:        cfg.Stream.MemoryLimitBytes(),
		MaxTransformErrors: cfg.Stream.MaxTransformErrors,
		RetryFetch:         cfg.Stream.RetryFetch,
	})

	// 7. Initialize Server
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), dbAdapter.DB(), streamRegistry, cfg.Server.Mode)
	streamSvc.RegisterRoutes(srv.Engine)

	// 8. Start Services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := sweeper.Start(ctx); err != nil {
			slog.Error("Sweeper stopped with error", "error", err)
		}
	}()

	// Signal handler triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	// HTTP server blocks until ctx is cancelled.
	if err := srv.Run(ctx); err != nil {
		slog.Error("Server stopped with error", "error", err)
	}

	streamSvc.Shutdown()
	slog.Info("Shutdown complete")
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
