package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/splitvault/internal/config"
	"github.com/alfredjeanlab/splitvault/internal/deposits"
	"github.com/alfredjeanlab/splitvault/internal/events"
	"github.com/alfredjeanlab/splitvault/internal/lifecycle"
	"github.com/alfredjeanlab/splitvault/internal/routing"
	"github.com/alfredjeanlab/splitvault/internal/server"
	"github.com/alfredjeanlab/splitvault/internal/store"
	"github.com/alfredjeanlab/splitvault/internal/store/memory"
	"github.com/alfredjeanlab/splitvault/internal/store/postgres"
	"github.com/alfredjeanlab/splitvault/internal/swap"
	"github.com/alfredjeanlab/splitvault/internal/sweeper"
	svsync "github.com/alfredjeanlab/splitvault/internal/sync"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the splitvault server",
	GroupID: "system",
	// Override PersistentPreRunE so no API client is built.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		return serve(cfg, logger)
	},
}

// openStore connects to Postgres when a database URL is configured and
// falls back to the in-memory store otherwise.
func openStore(cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("SPLITVAULT_DATABASE_URL not set, using in-memory store; state is lost on exit")
		return memory.New(), nil
	}
	return postgres.New(cfg.DatabaseURL)
}

// newProvider builds the swap provider chain. Without a provider URL every
// shift is answered in degraded mode.
func newProvider(cfg *config.Config, logger *slog.Logger) swap.Provider {
	if cfg.SwapURL == "" {
		logger.Warn("SPLITVAULT_SWAP_URL not set, swaps run in degraded mode")
		return swap.NewMockProvider()
	}
	primary := swap.NewHTTPProvider(cfg.SwapURL, cfg.SwapSecret, cfg.SwapTimeout)
	if !cfg.SwapDegradedFallback {
		return primary
	}
	return swap.NewFallbackProvider(primary, swap.NewMockProvider(), logger)
}

func newEngine(cfg *config.Config, p swap.Provider, logger *slog.Logger) *routing.Engine {
	return routing.NewEngine(p,
		routing.WithBackoff(routing.Backoff{
			Base:        cfg.RetryBaseDelay,
			Max:         cfg.RetryMaxDelay,
			Jitter:      routing.DefaultBackoff.Jitter,
			MaxAttempts: cfg.RetryMaxAttempts,
		}),
		routing.WithCallTimeout(cfg.SwapTimeout),
		routing.WithLogger(logger),
	)
}

func lifecycleConfig(cfg *config.Config) lifecycle.Config {
	return lifecycle.Config{
		VaultTTL:              cfg.VaultTTL,
		ProposalTTL:           cfg.ProposalTTL,
		AssetDecimals:         cfg.AssetDecimals,
		DefaultDecimals:       config.DefaultDecimals,
		FallbackRefundAddress: cfg.FallbackRefundAddress,
	}
}

// syncDestinations returns the configured snapshot destinations.
func syncDestinations(ctx context.Context, cfg *config.Config, logger *slog.Logger) []svsync.Destination {
	var dests []svsync.Destination
	if cfg.SyncS3Bucket != "" {
		s3Dest, err := svsync.NewS3Destination(ctx, svsync.S3Options{
			Bucket:      cfg.SyncS3Bucket,
			Key:         cfg.SyncS3Key,
			Region:      cfg.SyncS3Region,
			Endpoint:    cfg.SyncS3Endpoint,
			KeepHistory: cfg.SyncS3KeepHistory,
		})
		if err != nil {
			logger.Error("failed to create S3 sync destination", "err", err)
		} else {
			dests = append(dests, s3Dest)
			logger.Info("sync S3 destination enabled", "bucket", cfg.SyncS3Bucket, "key", cfg.SyncS3Key)
		}
	}
	return dests
}

func serve(cfg *config.Config, logger *slog.Logger) error {
	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}

	// Create event publisher. The broadcaster also feeds the SSE stream.
	var publisher events.Publisher
	if cfg.NATSURL != "" {
		pub, err := events.NewNATSPublisher(cfg.NATSURL)
		if err != nil {
			st.Close()
			return err
		}
		publisher = pub
		logger.Info("events enabled", "nats_url", cfg.NATSURL)
	} else {
		publisher = events.NoopPublisher{}
		logger.Info("events disabled (SPLITVAULT_NATS_URL not set)")
	}
	broadcaster := server.NewBroadcaster(publisher)

	// Create domain services.
	engine := newEngine(cfg, newProvider(cfg, logger), logger)
	lc := lifecycle.New(st, engine, broadcaster, lifecycleConfig(cfg), logger)
	sw := sweeper.New(st, lc, cfg.SweepInterval, logger)
	sw.ResumeAfter = cfg.ResumeAfter
	srv := server.New(lc, sw, broadcaster)

	// Start gRPC listener.
	grpcServer, healthServer := server.NewGRPCServer(cfg.AuthToken, logger)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		broadcaster.Close()
		st.Close()
		return err
	}
	go func() {
		logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", "err", err)
		}
	}()

	// Start HTTP server.
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.NewHTTPHandler(cfg.AuthToken),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "err", err)
		}
	}()

	// Start the expiry sweeper.
	if cfg.SweepInterval > 0 {
		sw.Start()
		logger.Info("sweeper started", "interval", cfg.SweepInterval)
	}

	// Start deposit polling if a source is configured.
	var poller *deposits.Poller
	if cfg.DepositSourceURL != "" {
		src := deposits.NewHTTPSource(cfg.DepositSourceURL, cfg.DepositSourceToken, cfg.SwapTimeout)
		poller = deposits.NewPoller(src, lc, cfg.DepositPollInterval, logger)
		poller.Start()
		logger.Info("deposit poller started", "url", cfg.DepositSourceURL, "interval", cfg.DepositPollInterval)
	}

	// Start the deposit subscriber if NATS is available.
	var depositsCancel context.CancelFunc
	if cfg.NATSURL != "" {
		sub, err := events.NewNATSSubscriber(cfg.NATSURL)
		if err != nil {
			logger.Error("failed to create deposit subscriber", "err", err)
		} else {
			handler := deposits.NewHandler(lc, logger)
			var depositsCtx context.Context
			depositsCtx, depositsCancel = context.WithCancel(context.Background())
			go func() {
				if err := handler.StartSubscriber(depositsCtx, sub); err != nil {
					logger.Error("deposit subscriber error", "err", err)
				}
				sub.Close()
			}()
		}
	}

	// Start sync scheduler if any destinations are configured.
	var scheduler *svsync.Scheduler
	if cfg.SyncInterval > 0 {
		if dests := syncDestinations(context.Background(), cfg, logger); len(dests) > 0 {
			scheduler = svsync.NewScheduler(st, dests, cfg.SyncInterval, logger)
			scheduler.Start()
			logger.Info("sync scheduler started", "interval", cfg.SyncInterval)
		}
	}

	logger.Info("splitvault server started",
		"grpc_addr", cfg.GRPCAddr,
		"http_addr", cfg.HTTPAddr,
	)

	// Wait for SIGINT or SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)

	// Graceful shutdown.
	healthServer.Shutdown()

	if depositsCancel != nil {
		depositsCancel()
		logger.Info("deposit subscriber stopped")
	}
	if poller != nil {
		poller.Stop()
		logger.Info("deposit poller stopped")
	}
	sw.Stop()
	logger.Info("sweeper stopped")
	if scheduler != nil {
		scheduler.Stop()
		logger.Info("sync scheduler stopped")
	}

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "err", err)
	}
	logger.Info("HTTP server stopped")

	if err := broadcaster.Close(); err != nil {
		logger.Error("error closing publisher", "err", err)
	}
	if err := st.Close(); err != nil {
		logger.Error("error closing store", "err", err)
	}

	logger.Info("shutdown complete")
	return nil
}
