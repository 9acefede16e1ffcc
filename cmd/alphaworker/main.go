package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/r973356237/AlphaWorker/internal/analyzer"
	"github.com/r973356237/AlphaWorker/internal/brain"
	"github.com/r973356237/AlphaWorker/internal/cache"
	"github.com/r973356237/AlphaWorker/internal/config"
	"github.com/r973356237/AlphaWorker/internal/generator"
	"github.com/r973356237/AlphaWorker/internal/logger"
	"github.com/r973356237/AlphaWorker/internal/monitor"
	"github.com/r973356237/AlphaWorker/internal/scheduler"
	"github.com/r973356237/AlphaWorker/internal/simulator"
	"github.com/r973356237/AlphaWorker/internal/store"
)

// App bundles the worker components for one process
type App struct {
	cfg       *config.Config
	log       logger.Logger
	client    *brain.Client
	cache     cache.Cacher
	store     *store.Store
	metrics   *monitor.Collector
	simulator *simulator.Simulator
	server    *monitor.Server
}

func main() {
	var (
		configFile = flag.String("config", "", "Configuration file path (YAML)")
		mode       = flag.String("mode", "run", "Mode: generate, simulate, run, analyze, correlation")
		resultFile = flag.String("file", "", "Result CSV to analyze (default: newest)")
		reportFile = flag.String("report", "", "Analysis report output path (default: dated file in data dir)")
	)
	flag.Parse()

	// Local .env files are optional
	_ = godotenv.Load()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger.Init(cfg.Logging)
	appLog := logger.GetGlobalLogger().WithField("app", cfg.App.Name)

	app, err := newApp(cfg, appLog)
	if err != nil {
		appLog.Fatal("failed to initialize", "error", err)
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if app.server != nil {
		app.server.Start()
	}

	if cfg.Scheduler.Enabled {
		err = app.runScheduled(ctx, *mode)
	} else {
		err = app.runMode(ctx, *mode, *resultFile, *reportFile)
	}

	if app.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if serr := app.server.Shutdown(shutdownCtx); serr != nil {
			appLog.Warn("monitor server shutdown failed", "error", serr)
		}
	}

	if err != nil && ctx.Err() == nil {
		appLog.Fatal("run failed", "mode", *mode, "error", err)
	}
	if ctx.Err() != nil {
		appLog.Info("interrupted, queue state saved for resume")
	}
}

func newApp(cfg *config.Config, log logger.Logger) (*App, error) {
	client, err := brain.NewClient(&cfg.Brain, log)
	if err != nil {
		return nil, err
	}

	catalogCache, err := cache.New(&cache.Config{
		Enabled:  cfg.Cache.Enabled,
		Addr:     cfg.Cache.Addr,
		Password: cfg.Cache.Password,
		DB:       cfg.Cache.DB,
		PoolSize: cfg.Cache.PoolSize,
	})
	if err != nil {
		log.Warn("cache backend unavailable, using in-memory fallback", "error", err)
		catalogCache, _ = cache.New(nil)
	}

	st := store.New(cfg.Files)
	metrics := monitor.NewCollector()
	sim := simulator.New(client, st, cfg.Simulation, metrics, log)

	app := &App{
		cfg:       cfg,
		log:       log,
		client:    client,
		cache:     catalogCache,
		store:     st,
		metrics:   metrics,
		simulator: sim,
	}

	if cfg.Monitor.Enabled {
		app.server = monitor.NewServer(cfg.Monitor, metrics, sim.Status, log)
	}
	return app, nil
}

// Close releases long-lived resources
func (a *App) Close() {
	if a.cache != nil {
		a.cache.Close()
	}
}

func (a *App) runMode(ctx context.Context, mode, resultFile, reportFile string) error {
	switch mode {
	case "generate":
		return a.generate(ctx)
	case "simulate":
		return a.simulate(ctx)
	case "run":
		if err := a.generate(ctx); err != nil {
			return err
		}
		return a.simulate(ctx)
	case "analyze":
		return a.analyze(resultFile, reportFile)
	case "correlation":
		return a.correlation(ctx)
	default:
		return fmt.Errorf("unknown mode: %s", mode)
	}
}

func (a *App) generate(ctx context.Context) error {
	gen := generator.New(a.client, a.cache, a.cfg.Cache.TTL, a.cfg.Generator, a.store, a.metrics, a.log)
	count, err := gen.Run(ctx)
	if err != nil {
		return err
	}
	a.log.Info("expression generation finished", "alphas", count)
	return nil
}

func (a *App) simulate(ctx context.Context) error {
	return a.simulator.Run(ctx)
}

func (a *App) analyze(resultFile, reportFile string) error {
	path := resultFile
	if path == "" {
		latest, err := a.store.LatestResultFile()
		if err != nil {
			return err
		}
		path = latest
	}

	alphas, err := a.store.ReadResults(path)
	if err != nil {
		return err
	}

	now := time.Now()
	if reportFile == "" {
		reportFile = filepath.Join(a.cfg.Files.Dir, fmt.Sprintf("analysis_report_%s.md", now.Format("20060102")))
	}

	f, err := os.Create(reportFile)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer f.Close()

	if err := analyzer.WriteReport(f, filepath.Base(path), alphas, now); err != nil {
		return err
	}
	a.log.Info("analysis report written", "alphas", len(alphas), "report", reportFile)
	return nil
}

func (a *App) correlation(ctx context.Context) error {
	watchPath := filepath.Join(a.cfg.Files.Dir, a.cfg.Files.WatchListMD)
	f, err := os.Open(watchPath)
	if err != nil {
		return fmt.Errorf("failed to open watch list %s: %w", watchPath, err)
	}
	defer f.Close()

	sweep := analyzer.NewCorrelationSweep(a.client, a.store, time.Second, a.log)
	return sweep.Run(ctx, f)
}

// runScheduled keeps the process alive and fires the requested mode on
// the configured cron schedule
func (a *App) runScheduled(ctx context.Context, mode string) error {
	sched := scheduler.New(a.log)

	taskType := scheduler.TaskType(mode)
	switch taskType {
	case scheduler.TaskTypeGenerate, scheduler.TaskTypeSimulate, scheduler.TaskTypeRun,
		scheduler.TaskTypeAnalyze, scheduler.TaskTypeCorrelation:
	default:
		return fmt.Errorf("unknown mode: %s", mode)
	}

	sched.RegisterHandler(taskType, scheduler.TaskHandlerFunc(func(taskCtx context.Context) error {
		return a.runMode(taskCtx, mode, "", "")
	}))
	if err := sched.AddTask(taskType, a.cfg.Scheduler.Schedule); err != nil {
		return err
	}

	sched.Start(ctx)
	defer sched.Stop()

	a.log.Info("scheduler started", "mode", mode, "schedule", a.cfg.Scheduler.Schedule)
	<-ctx.Done()
	return ctx.Err()
}
