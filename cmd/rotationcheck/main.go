package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/wajuabolarin/proxywatch/pkg"
)

const (
	defaultMetricsAddr = ":7879"
	observeTimeout     = 10 * time.Second
	rotationTimeout    = 30 * time.Second
)

func main() {
	cfg, err := pkg.LoadConfig()
	if err != nil {
		logger := pkg.NewLogger(os.Stderr, "info")
		level.Error(logger).Log("msg", "failed to load configuration", "err", err)
		os.Exit(1)
	}
	logger := pkg.NewLogger(os.Stderr, cfg.LogLevel)

	if err := cfg.ValidateRotation(); err != nil {
		level.Error(logger).Log("msg", "invalid configuration", "err", err)
		os.Exit(1)
	}
	// the monitor owns the shared default port
	if cfg.MetricsAddr == pkg.DefaultMetricsAddr {
		cfg.MetricsAddr = defaultMetricsAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	level.Info(logger).Log("msg", "starting rotation check", "interval", cfg.RotationInterval)
	if err := run(ctx, cfg, logger); err != nil {
		level.Error(logger).Log("msg", "rotation check stopped", "err", err)
		os.Exit(1)
	}
	level.Info(logger).Log("msg", "rotation check stopped")
}

func run(ctx context.Context, cfg *pkg.Config, logger log.Logger) error {
	registry := prometheus.NewRegistry()
	metrics := pkg.NewRotationMetrics(registry)
	server := pkg.NewMetricsServer(cfg.MetricsAddr, registry, logger)

	var journal pkg.Journal = pkg.NopJournal{}
	if cfg.JournalDriver != "" {
		db, err := pkg.OpenJournalDB(cfg.JournalDriver, cfg.JournalDSN)
		if err != nil {
			return err
		}
		repo := pkg.NewRotationEventRepository(db)
		level.Info(logger).Log("msg", "rotation journal enabled", "driver", cfg.JournalDriver)
		if last, err := repo.Recent(ctx, 1); err != nil {
			level.Warn(logger).Log("msg", "failed to read rotation journal", "err", err)
		} else if len(last) == 1 {
			level.Info(logger).Log("msg", "last journaled rotation", "status", last[0].Status, "new_ip", last[0].NewIP, "checked_at", last[0].CheckedAt)
		}
		journal = repo
	}

	checkObserver, err := pkg.NewProxyIPObserver(cfg.CheckURL, cfg.EgressProxyURL, observeTimeout)
	if err != nil {
		return err
	}
	watchObserver, err := pkg.NewProxyIPObserver(cfg.WatchURL, cfg.EgressProxyURL, observeTimeout)
	if err != nil {
		return err
	}
	rotator := pkg.NewRotationClient(cfg.RotationURL, cfg.RotationUUID, &http.Client{Timeout: rotationTimeout})

	verifier := pkg.NewRotationVerifier(checkObserver, rotator, journal, metrics, logger)
	watcher := pkg.NewWatcher(watchObserver, metrics, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.ListenAndServe)
	g.Go(func() error {
		<-gctx.Done()
		return server.Shutdown(context.Background())
	})
	g.Go(func() error {
		return ignoreStop(ctx, watcher.Run(gctx, cfg.WatchInterval))
	})
	g.Go(func() error {
		return ignoreStop(ctx, verifier.Run(gctx, cfg.RotationInterval))
	})
	return g.Wait()
}

// ignoreStop drops the loop error caused by a shutdown signal.
func ignoreStop(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}
