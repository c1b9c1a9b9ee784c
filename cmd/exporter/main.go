package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/zgpcy/aws-cost-exporter/internal/awscost"
	"github.com/zgpcy/aws-cost-exporter/internal/collector"
	"github.com/zgpcy/aws-cost-exporter/internal/config"
	"github.com/zgpcy/aws-cost-exporter/internal/logger"
	"github.com/zgpcy/aws-cost-exporter/internal/metrics"
	"github.com/zgpcy/aws-cost-exporter/internal/server"
	"github.com/zgpcy/aws-cost-exporter/internal/version"
	"golang.org/x/time/rate"
)

const (
	// DefaultShutdownTimeout is the maximum time to wait for graceful shutdown
	DefaultShutdownTimeout = 30 * time.Second

	defaultEnvFile = ".env"
)

var (
	configPath = flag.String("config", "config.yaml", "Path to configuration file")
	envFile    = flag.String("env-file", "", "Path to a .env file loaded before the configuration (default: ./.env if present)")
)

func main() {
	flag.Parse()

	if err := loadEnvFile(*envFile); err != nil {
		log.Fatalf("Failed to load env file: %v", err)
	}

	// Load configuration first (need log level from config)
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logger
	logger := logger.NewWithFormat(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	logger.Info("AWS Cost Exporter starting",
		"version", version.Version,
		"git_commit", version.GitCommit,
		"config_path", *configPath)

	logger.Info("Configuration loaded successfully",
		"accounts", len(cfg.Targets),
		"polling_interval_seconds", cfg.PollingInterval,
		"exporter_port", cfg.ExporterPort,
		"metric_name", cfg.MetricName,
		"assumed_role_name", cfg.AssumedRoleName,
		"query_region", cfg.QueryRegion,
		"grouping_enabled", cfg.GroupBy.Enabled,
		"max_concurrent_accounts", cfg.MaxConcurrentAccounts,
		"api_timeout_seconds", cfg.APITimeout)

	if cfg.GroupBy.Enabled {
		logger.Info("Grouping configuration",
			"groups", len(cfg.GroupBy.Groups),
			"merge_minor_cost", cfg.GroupBy.MergeMinorCost.Enabled,
			"merge_threshold", cfg.GroupBy.MergeMinorCost.Threshold)
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Base credentials of the exporter itself, used only to call STS
	logger.Info("Loading AWS credentials")
	baseCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.QueryRegion))
	if err != nil {
		logger.Error("Failed to load AWS configuration", "error", err)
		os.Exit(1)
	}

	schema, err := metrics.SchemaFor(cfg)
	if err != nil {
		logger.Error("Invalid metric label schema", "error", err)
		os.Exit(1)
	}
	logger.Info("Metric schema fixed", "labels", schema.Names())

	// STS and Cost Explorer share one budget
	limiter := rate.NewLimiter(rate.Limit(cfg.APIRateLimit), 1)
	assumer := awscost.NewRoleAssumer(baseCfg, cfg, limiter)
	costClient := awscost.NewCostClient(cfg, limiter, logger)

	sink := metrics.NewGaugeSink(cfg.MetricName, schema)
	costCollector := collector.NewCostCollector(assumer, costClient, sink, cfg, logger)

	registry := prometheus.NewRegistry()
	if err := registry.Register(sink); err != nil {
		logger.Error("Failed to register cost gauge", "error", err)
		os.Exit(1)
	}
	if err := registry.Register(costCollector); err != nil {
		logger.Error("Failed to register collector", "error", err)
		os.Exit(1)
	}
	logger.Info("Collectors registered with Prometheus")

	// Register Go runtime metrics (memory, goroutines, GC stats)
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		logger.Warn("Failed to register Go collector", "error", err)
	}

	// Register process metrics (CPU, memory, file descriptors)
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		logger.Warn("Failed to register process collector", "error", err)
	}

	// Create and start HTTP server
	logger.Info("Creating HTTP server", "port", cfg.ExporterPort)
	srv := server.NewServer(cfg, costCollector, registry, logger)

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start()
	}()

	// Start background refresh
	logger.Info("Starting background cost data refresh")
	go costCollector.StartBackgroundRefresh(ctx)

	// Wait for interrupt signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("Server error", "error", err)
		os.Exit(1)

	case sig := <-shutdown:
		logger.Info("Received shutdown signal, starting graceful shutdown", "signal", sig.String())

		// Cancel background refresh
		cancel()

		// Shutdown server with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error during server shutdown", "error", err)
			// Force shutdown
			os.Exit(1)
		}

		logger.Info("Server stopped gracefully")
	}
}

// loadEnvFile loads path into the process environment without overriding
// variables that are already set. With no path, ./.env is loaded if present.
func loadEnvFile(path string) error {
	if path != "" {
		return godotenv.Load(path)
	}
	if err := godotenv.Load(defaultEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
