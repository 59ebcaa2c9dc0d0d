package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"streamvault/config"
	"streamvault/core"
	"streamvault/gateway"
	"streamvault/observability/logging"
	"streamvault/services/mirror"
	"streamvault/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger := logging.SetupWith("streamvaultd", cfg.ServiceEnv, logging.Options{
		Level: logging.ParseLevel(cfg.LogLevel),
	})

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	node, err := core.NewNode(db, core.NodeConfig{
		AdminAccount:  cfg.AdminAccount,
		AnnualRateBps: cfg.AnnualRateBps,
	}, logger)
	if err != nil {
		logger.Error("Failed to initialise node", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.MirrorPath != "" {
		mirrorDB, err := gorm.Open(sqlite.Open(cfg.MirrorPath), &gorm.Config{})
		if err != nil {
			logger.Error("Failed to open mirror database", slog.Any("error", err))
			os.Exit(1)
		}
		if err := mirror.AutoMigrate(mirrorDB); err != nil {
			logger.Error("Failed to migrate mirror schema", slog.Any("error", err))
			os.Exit(1)
		}
		m := mirror.New(mirrorDB, logger)
		go func() {
			if err := m.Run(ctx, node); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Mirror stopped", slog.Any("error", err))
			}
		}()
	}

	srv := gateway.NewServer(node, gateway.Config{
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	}, logger)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("Gateway listening", "address", cfg.ListenAddress)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Gateway failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Shutdown complete")
}
