// commsd runs the communication core: the resilient API client, the
// persistent event stream and the ops server.
//
// Usage: go run ./cmd/commsd --config configs/commsd.example.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/api"
	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/config"
	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/database"
	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/deadletter"
	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/events"
	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/healthcheck"
	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/logging"
	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/metrics"
	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/ops"
	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/stream"
	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/version"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "configs/commsd.example.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	zl, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer zl.Sync()

	logger := logging.Slog(zl)
	slog.SetDefault(logger)

	logger.Info("starting commsd", append(version.Attrs(), "config", *configPath)...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("commsd failed", "error", err)
		os.Exit(1)
	}
	logger.Info("commsd stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	client, err := api.NewClient(*cfg, api.WithLogger(logger), api.WithMetrics(m))
	if err != nil {
		return fmt.Errorf("create api client: %w", err)
	}
	logger.Info("api client ready",
		"base_url", cfg.API.BaseURL,
		"endpoints", client.Endpoints(),
	)

	src := ops.Sources{API: client, Gatherer: reg}

	// Dead-letter storage is optional.
	var recorder *deadletter.Recorder
	if cfg.DeadLetter.Enabled {
		db := cfg.DeadLetter.Database
		logger.Info("connecting to dead-letter database",
			"host", db.Host,
			"port", db.Port,
			"database", db.Name,
		)
		pool, err := database.Connect(ctx, db)
		if err != nil {
			return fmt.Errorf("connect dead-letter database: %w", err)
		}
		defer pool.Close()

		store := deadletter.NewStore(pool, cfg.DeadLetter.Table)
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		recorder = deadletter.NewRecorder(store, cfg.DeadLetter.BufferSize,
			deadletter.WithLogger(logger),
			deadletter.WithMetrics(m),
		)
		src.DeadLetters = recorder
		src.Database = pool
	}

	router := events.NewRouter(cfg.Stream.EventTypes, logger, events.WithMetrics(m))
	mgr := stream.NewManager(cfg.Stream, router,
		stream.WithLogger(logger),
		stream.WithMetrics(m),
		stream.WithDeadLetters(deadLetterSink(recorder, m, logger)),
	)
	src.Stream = mgr

	checker := healthcheck.New(cfg.Health, client,
		healthcheck.WithLogger(logger),
		healthcheck.WithMetrics(m),
	)
	src.Health = checker

	// The recorder and stream outlive the signal so shutdown can drain the
	// stream into the recorder. Start order: recorder before the stream.
	bg := context.WithoutCancel(ctx)
	if recorder != nil {
		if err := recorder.Start(bg); err != nil {
			return err
		}
	}
	if err := mgr.Start(bg); err != nil {
		return err
	}
	if err := checker.Start(ctx); err != nil {
		return err
	}

	if _, err := router.Subscribe(events.TypeConnectionLost, func(ev events.Event) error {
		logger.Error("event stream lost", "payload", string(ev.Data))
		return nil
	}); err != nil {
		return err
	}

	server := ops.NewServer(src, cfg.Metrics.Path, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.ListenAndServe(gctx, fmt.Sprintf(":%d", cfg.Metrics.Port))
	})

	if cfg.Stream.URL != "" && cfg.Stream.Token != "" {
		g.Go(func() error {
			if err := mgr.Connect(gctx, cfg.Stream.Token); err != nil && !errors.Is(err, context.Canceled) {
				// Reconnection continues in the background.
				logger.Warn("initial stream connect failed", "error", err)
			}
			return nil
		})
	} else {
		logger.Info("event stream disabled: stream.url or stream.token not set")
	}

	logger.Info("commsd running",
		"ops_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
	)

	err = g.Wait()

	logger.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Stop order matters: the stream drains into the recorder.
	shutdownErr := errors.Join(
		checker.Stop(shutdownCtx),
		mgr.Disconnect(shutdownCtx),
		mgr.Stop(shutdownCtx),
	)
	if recorder != nil {
		shutdownErr = errors.Join(shutdownErr, recorder.Stop(shutdownCtx))
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return shutdownErr
}
