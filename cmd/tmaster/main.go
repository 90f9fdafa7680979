package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"tmaster/internal/config"
	"tmaster/internal/controller"
	"tmaster/internal/eventloop"
	"tmaster/internal/handler"
	"tmaster/internal/hub"
	"tmaster/internal/loader"
	"tmaster/internal/logging"
	"tmaster/internal/master"
	"tmaster/internal/metrics"
	"tmaster/internal/repository/sqlite"
	"tmaster/internal/server"
	"tmaster/internal/service"
	"tmaster/internal/watcher"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "tmaster: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = pflag.String("config", "", "Path to config file (default: search standard locations)")
		addr       = pflag.String("addr", "", "Controller listen address")
		dbPath     = pflag.String("db", "", "SQLite state store path")
		topoFile   = pflag.String("topology", "", "Topology definition file")
		logLevel   = pflag.String("log-level", "", "Log level (debug, info, warn, error)")
		watch      = pflag.Bool("watch", false, "Reload the topology definition when the file changes")
	)
	pflag.Parse()

	cfg, cfgSource, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	cfg.ApplyEnv()
	pflag.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Controller.Addr = *addr
		case "db":
			cfg.Database.Path = *dbPath
		case "topology":
			cfg.Topology.DefinitionFile = *topoFile
		case "log-level":
			cfg.Logging.Level = *logLevel
		case "watch":
			cfg.Topology.Watch = *watch
		}
	})
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, syncLogs, err := logging.New(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer syncLogs()

	if cfgSource != "" {
		logger.Info("Loaded config", "path", cfgSource)
	}
	logger.Info("Starting tmaster", "config", cfg.Summary())

	def, err := loader.LoadYAML(cfg.Topology.DefinitionFile)
	if err != nil {
		return fmt.Errorf("load topology definition: %w", err)
	}

	repo, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer repo.Close()
	logger.Info("State store opened", "path", cfg.Database.Path)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(reg)

	bus := service.NewEventBus()
	events := make(chan service.Event, 100)
	bus.Subscribe(events)
	sseHub := hub.New(logger)

	loop := eventloop.New(logger)
	tm := master.New(repo, bus, loop, master.Options{
		StateWriteTimeout: cfg.Master.StateWriteTimeout.Duration(),
	}, logger)
	if err := tm.Initialize(ctx, def); err != nil {
		return fmt.Errorf("initialize topology: %w", err)
	}

	opts := server.DefaultOptions(cfg.Controller.Addr)
	opts.ReadHeaderTimeout = cfg.Controller.ReadHeaderTimeout.Duration()
	opts.WriteTimeout = cfg.Controller.WriteTimeout.Duration()
	opts.Middleware = []func(http.Handler) http.Handler{
		handler.Recover(logger),
		handler.CORS(cfg.Controller.CORSOrigins),
		handler.Logger(logger),
		handler.RequireToken(cfg.Controller.AuthTokenHash, logger, "/health", "/metrics"),
	}

	ctrl, err := controller.New(tm, loop, opts, logger)
	if err != nil {
		return fmt.Errorf("create controller: %w", err)
	}

	for pattern, h := range handler.NewTopologyHandler(tm, logger).Routes() {
		ctrl.Mount(pattern, h)
	}
	ctrl.Mount("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	ctrl.Mount("/events", sseHub)

	// The loop outlives the listener so requests accepted before shutdown
	// still get their replies
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loop.Run(loopCtx) })
	g.Go(func() error { return sseHub.Run(gctx) })
	g.Go(func() error { return sseHub.Forward(gctx, events) })

	if cfg.Topology.Watch {
		w := watcher.New(cfg.Topology.DefinitionFile, func() {
			reloadDefinition(gctx, tm, cfg.Topology.DefinitionFile, logger)
		}, logger)
		g.Go(func() error { return w.Watch(gctx) })
	}

	if err := ctrl.Start(); err != nil {
		stop()
		stopLoop()
		_ = g.Wait()
		return fmt.Errorf("start controller: %w", err)
	}
	logger.Info("Controller listening", "addr", cfg.Controller.Addr)

	g.Go(func() error {
		<-gctx.Done()
		defer stopLoop()
		return shutdown(ctrl, cfg.Controller.ShutdownTimeout.Duration(), logger)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Server stopped")
	return nil
}

func loadConfig(path string) (*config.Config, string, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

func reloadDefinition(ctx context.Context, tm *master.Master, path string, logger logr.Logger) {
	def, err := loader.LoadYAML(path)
	if err != nil {
		logger.Error(err, "Ignoring invalid topology definition", "path", path)
		return
	}
	if err := tm.Reload(ctx, def); err != nil {
		logger.Error(err, "Failed to reload topology definition", "path", path)
	}
}

func shutdown(ctrl *controller.Controller, timeout time.Duration, logger logr.Logger) error {
	logger.Info("Shutting down controller")
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ctrl.Close(ctx); err != nil {
		return fmt.Errorf("controller shutdown: %w", err)
	}
	return nil
}
