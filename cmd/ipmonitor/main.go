package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/wajuabolarin/proxywatch/pkg"
)

func main() {
	cfg, err := pkg.LoadConfig()
	if err != nil {
		logger := pkg.NewLogger(os.Stderr, "info")
		level.Error(logger).Log("msg", "failed to load configuration", "err", err)
		os.Exit(1)
	}
	logger := pkg.NewLogger(os.Stderr, cfg.LogLevel)

	if err := cfg.ValidateMonitor(); err != nil {
		level.Error(logger).Log("msg", "invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		level.Error(logger).Log("msg", "ip monitor stopped", "err", err)
		os.Exit(1)
	}
	level.Info(logger).Log("msg", "ip monitor stopped")
}

func run(ctx context.Context, cfg *pkg.Config, logger log.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := pkg.NewProbeMetrics(registry)
	server := pkg.NewMetricsServer(cfg.MetricsAddr, registry, logger)

	inventory := pkg.NewInventoryClient(cfg.InventoryURL, cfg.InventoryAPIKey, cfg.AgentID, pkg.NewInventoryHTTPClient())
	prober := pkg.NewProber(cfg.EchoURL, cfg.ProbeTimeout, metrics, logger)

	// the metrics endpoint is up before the inventory is queried
	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.ListenAndServe)
	g.Go(func() error {
		<-gctx.Done()
		return server.Shutdown(context.Background())
	})
	g.Go(func() error {
		targets, err := pkg.NewBindResolver(inventory).Resolve(gctx, cfg.Topology, cfg.NodeID)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		level.Info(logger).Log("msg", "resolved bind targets", "topology", cfg.Topology, "node_id", cfg.NodeID, "count", len(targets))
		for _, t := range targets {
			level.Debug(logger).Log("msg", "bind target", "local_ip", t.Address, "server_name", t.Label, "bind", t.Group)
		}

		err = pkg.RunEvery(gctx, cfg.ProbeInterval, func(ctx context.Context) {
			prober.ProbeAll(ctx, targets)
		})
		// a shutdown signal is a clean stop
		if ctx.Err() != nil {
			return nil
		}
		return err
	})
	return g.Wait()
}
