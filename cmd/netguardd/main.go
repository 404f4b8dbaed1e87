package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/vietddude/stylelog"

	"github.com/pawtrack/netguard"
	"github.com/pawtrack/netguard/config"
	"github.com/pawtrack/netguard/domain"
	"github.com/pawtrack/netguard/inspect"
	"github.com/pawtrack/netguard/netstate"
	"github.com/pawtrack/netguard/storage"
	"github.com/pawtrack/netguard/storage/pgstore"
	"github.com/pawtrack/netguard/storage/redisstore"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	isDebug := flag.Bool("debug", false, "Enable debug logging")
	flapInterval := flag.Duration("simulate-flap", 0, "Toggle simulated connectivity at this interval (manual testing)")
	flag.Parse()

	_ = godotenv.Load()

	// Load configuration first (before setting up logger)
	cfg, err := config.Load(*configPath)
	if err != nil {
		// Fall back to default logger for config load errors
		stylelog.InitDefault()
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	slogLevel := slog.LevelInfo
	if *isDebug || cfg.Logging.Level == "debug" {
		slogLevel = slog.LevelDebug
	}

	stylelog.InitDefault(
		&tint.Options{
			Level:      slogLevel,
			TimeFormat: time.RFC3339,
		})
	slog.Info("Logger initialized", "level", slogLevel.String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		slog.Error("Failed to open storage backend", "backend", cfg.Storage.Backend, "error", err)
		os.Exit(1)
	}

	monitor := netstate.NewMonitor()

	client, err := netguard.New(ctx,
		netguard.WithStore(store),
		netguard.WithNetworkMonitor(monitor),
		netguard.WithLogger(slog.Default()),
		netguard.WithRetryConfig(cfg.Retry.RetryOptions()),
		netguard.WithHealthConfig(cfg.Breaker.HealthOptions()),
		netguard.WithCacheConfig(cfg.Cache.CacheOptions()),
		netguard.WithQueueConfig(cfg.Queue.QueueOptions()),
	)
	if err != nil {
		slog.Error("Failed to initialize client", "error", err)
		os.Exit(1)
	}

	if *flapInterval > 0 {
		go simulateFlaps(ctx, monitor, *flapInterval)
	}

	server := inspect.NewServer(client, cfg.Server.Port)
	go func() {
		slog.Info("Inspection server listening", "port", cfg.Server.Port)
		if err := server.Start(); err != nil {
			slog.Error("Inspection server stopped", "error", err)
		}
	}()

	// Wait for signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	slog.Info("Received signal, shutting down...", "signal", sig)

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		slog.Error("Error stopping inspection server", "error", err)
	}
	if err := client.Close(); err != nil {
		slog.Error("Error during shutdown", "error", err)
		os.Exit(1)
	}
	if err := store.Close(); err != nil {
		slog.Error("Error closing storage", "error", err)
	}

	slog.Info("netguardd stopped gracefully")
}

// simulateFlaps alternates the connectivity state so queue and drain
// behavior can be exercised without pulling a cable.
func simulateFlaps(ctx context.Context, monitor *netstate.Monitor, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	connected := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			connected = !connected
			state := domain.NetworkState{Connected: connected, Reachable: connected, Type: "wifi"}
			if !connected {
				state.Type = "none"
			}
			slog.Info("Simulated connectivity change", "connected", connected)
			monitor.Set(state)
		}
	}
}

func openStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Backend {
	case "memory":
		return storage.NewMemoryStore(), nil
	case "file":
		return storage.NewFileStore(cfg.Dir)
	case "redis":
		return redisstore.New(cfg.Redis)
	case "postgres":
		return pgstore.New(ctx, cfg.Postgres)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
