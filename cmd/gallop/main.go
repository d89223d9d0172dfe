// Command gallop serves HTTP/1.1 requests through the gallop parser and
// prefix router.
//
// Usage:
//
//	gallop -config gallop.json
//	gallop -metrics-addr :9090
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yourusername/gallop/pkg/gallop/config"
	"github.com/yourusername/gallop/pkg/gallop/router"
	"github.com/yourusername/gallop/pkg/gallop/server"
)

func main() {
	configPath := flag.String("config", "", "Path to a JSON config file")
	metricsAddr := flag.String("metrics-addr", "", "Serve /metrics on this address (overrides the config)")
	flag.Parse()

	if err := run(*configPath, *metricsAddr); err != nil {
		fmt.Fprintf(os.Stderr, "gallop: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, metricsAddr string) error {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
	}
	if metricsAddr != "" {
		cfg.MetricsAddr = metricsAddr
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logger.Sync()
	log := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	routes := router.NewTable(lookupHandler(log.Named("handler")), log.Named("router"))
	if cfg.RoutesFile != "" {
		if err := routes.Load(cfg.RoutesFile); err != nil {
			return err
		}
	} else if err := routes.Apply(defaultRoutes); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv := server.New(server.Config{
		Addr:            cfg.Addr,
		ReadTimeout:     cfg.ReadTimeout.Std(),
		WriteTimeout:    cfg.WriteTimeout.Std(),
		ShutdownTimeout: cfg.ShutdownTimeout.Std(),
		ReadBufferSize:  cfg.ReadBufferSize,
		MaxConns:        cfg.MaxConns,
		Limits:          cfg.Limits,
		Logger:          log.Named("server"),
		Metrics:         server.NewMetrics(reg),
	}, routes)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx)
	})

	if cfg.WatchRoutes && cfg.RoutesFile != "" {
		g.Go(func() error {
			return routes.Watch(gctx, cfg.RoutesFile)
		})
	}

	if cfg.MetricsAddr != "" {
		ms := &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: metricsMux(reg),
		}
		g.Go(func() error {
			log.Infow("metrics listening", "addr", cfg.MetricsAddr)
			if err := ms.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Std())
			defer cancel()
			return ms.Shutdown(sctx)
		})
	}

	err = g.Wait()
	log.Infow("stopped", "err", err)
	return err
}

func metricsMux(reg *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return mux
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(cfg.Level())
	return zc.Build()
}
